package idx

import (
	"errors"

	"github.com/eunmann/idxgo/pkg/membudget"
)

var (
	// ErrFileOpen indicates the IDX file could not be opened for reading.
	ErrFileOpen = errors.New("cannot open idx file")
	// ErrMalformedHeader indicates a short or otherwise unusable header.
	ErrMalformedHeader = errors.New("malformed idx header")
	// ErrUnknownType indicates an unrecognized element type tag.
	ErrUnknownType = errors.New("unknown idx element type")
	// ErrTruncatedPayload indicates fewer payload bytes than the header declares.
	ErrTruncatedPayload = errors.New("truncated idx payload")
	// ErrIndexOutOfRange indicates an index outside the current dimension.
	ErrIndexOutOfRange = errors.New("index out of range")
	// ErrOverIndexed indicates an index applied to a scalar view.
	ErrOverIndexed = errors.New("index past last dimension")
	// ErrNotScalar indicates a scalar read on a view that still spans a sub-array.
	ErrNotScalar = errors.New("view is not a scalar")
	// ErrBudgetExceeded indicates the payload does not fit the memory budget.
	ErrBudgetExceeded = membudget.ErrBudgetExceeded
)
