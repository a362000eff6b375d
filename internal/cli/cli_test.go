package cli

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/eunmann/idxgo/pkg/idx"
	"github.com/eunmann/idxgo/pkg/membudget"
	"github.com/eunmann/idxgo/pkg/memdiag"
	"github.com/eunmann/idxgo/pkg/s3fetch"
	"github.com/rs/zerolog"
)

// captureStdout redirects command output for the duration of the test.
func captureStdout(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	saved := stdout
	stdout = &buf
	t.Cleanup(func() { stdout = saved })
	return &buf
}

func writeIDX(t *testing.T, name string, h idx.Header, payload []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, append(idx.EncodeHeader(h), payload...), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

// sampleIDX is the 2x3 ubyte dataset 10..60.
func sampleIDX(t *testing.T) string {
	return writeIDX(t, "sample.idx", idx.Header{Type: idx.UnsignedByte, Dims: []uint32{2, 3}}, []byte{10, 20, 30, 40, 50, 60})
}

func TestRunNoArgs(t *testing.T) {
	err := Run(context.Background(), nil)
	if err == nil {
		t.Fatal("expected error with no args")
	}
	if !strings.Contains(err.Error(), "usage") {
		t.Errorf("expected usage message, got: %v", err)
	}
}

func TestRunUnknownCommand(t *testing.T) {
	err := Run(context.Background(), []string{"unknown"})
	if err == nil {
		t.Fatal("expected error with unknown command")
	}
	if !strings.Contains(err.Error(), "unknown command") {
		t.Errorf("expected 'unknown command' error, got: %v", err)
	}
}

func TestInfo(t *testing.T) {
	out := captureStdout(t)
	path := sampleIDX(t)

	if err := Run(context.Background(), []string{"info", "--mem-budget", "1MiB", path}); err != nil {
		t.Fatalf("info: %v", err)
	}

	for _, want := range []string{
		path,
		"type:     ubyte",
		"rank:     2",
		"shape:    2x3",
		"rows:     2",
		"columns:  3",
		"elements: 6",
		"payload:  6 bytes",
	} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("info output missing %q:\n%s", want, out.String())
		}
	}
}

func TestInfoMissingFile(t *testing.T) {
	err := Run(context.Background(), []string{"info", filepath.Join(t.TempDir(), "nope.idx")})
	if !errors.Is(err, idx.ErrFileOpen) {
		t.Errorf("err = %v, want ErrFileOpen", err)
	}
}

func TestDump(t *testing.T) {
	path := sampleIDX(t)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"whole dataset", nil, "0a 14 1e\n28 32 3c\n"},
		{"one row", []string{"--index", "1"}, "28 32 3c\n"},
		{"one element", []string{"--index", "1,2"}, "3c\n"},
		{"decimal", []string{"--decimal", "--index", "0"}, "10 20 30\n"},
		{"limit", []string{"--limit", "1"}, "0a 14 1e\n"},
		{"mmap", []string{"--mmap", "--index", "0, 1"}, "14\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := captureStdout(t)
			args := append([]string{"dump"}, tt.args...)
			if err := Run(context.Background(), append(args, path)); err != nil {
				t.Fatalf("dump: %v", err)
			}
			if out.String() != tt.want {
				t.Errorf("output = %q, want %q", out.String(), tt.want)
			}
		})
	}
}

func TestDumpWideElements(t *testing.T) {
	out := captureStdout(t)
	path := writeIDX(t, "shorts.idx", idx.Header{Type: idx.Short, Dims: []uint32{2}}, []byte{0x01, 0x02, 0xFF, 0xFE})

	if err := Run(context.Background(), []string{"dump", path}); err != nil {
		t.Fatalf("dump: %v", err)
	}
	if want := "0102 fffe\n"; out.String() != want {
		t.Errorf("output = %q, want %q", out.String(), want)
	}
}

func TestDumpErrors(t *testing.T) {
	captureStdout(t)
	path := sampleIDX(t)

	tests := []struct {
		name string
		args []string
		want error
	}{
		{"out of range", []string{"dump", "--index", "2", path}, idx.ErrIndexOutOfRange},
		{"negative", []string{"dump", "--index", "-1", path}, idx.ErrIndexOutOfRange},
		{"over indexed", []string{"dump", "--index", "0,0,0", path}, idx.ErrOverIndexed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := Run(context.Background(), tt.args); !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}

	if err := Run(context.Background(), []string{"dump", "--index", "a", path}); err == nil {
		t.Error("expected error for non-numeric index")
	}
}

func TestExport(t *testing.T) {
	out := captureStdout(t)
	dest := filepath.Join(t.TempDir(), "sample.parquet")

	if err := Run(context.Background(), []string{"export", "--out", dest, sampleIDX(t)}); err != nil {
		t.Fatalf("export: %v", err)
	}
	if !strings.Contains(out.String(), "wrote 2 rows") {
		t.Errorf("unexpected output: %q", out.String())
	}
	if _, err := os.Stat(dest); err != nil {
		t.Errorf("parquet file not written: %v", err)
	}
}

func TestExportMissingOut(t *testing.T) {
	err := Run(context.Background(), []string{"export", "data.idx"})
	if err == nil || !strings.Contains(err.Error(), "--out") {
		t.Errorf("expected '--out' error, got: %v", err)
	}
}

func TestOverlap(t *testing.T) {
	out := captureStdout(t)
	h := idx.Header{Type: idx.UnsignedByte, Dims: []uint32{3, 2}}
	train := writeIDX(t, "train.idx", h, []byte{1, 1, 2, 2, 3, 3})
	test := writeIDX(t, "test.idx", h, []byte{3, 3, 9, 9, 1, 1})

	if err := Run(context.Background(), []string{"overlap", "--list", train, test}); err != nil {
		t.Fatalf("overlap: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want 3:\n%s", len(lines), out.String())
	}
	if !strings.HasPrefix(lines[0], "2 of 3 rows") {
		t.Errorf("summary = %q", lines[0])
	}
	if lines[1] != "0" || lines[2] != "2" {
		t.Errorf("rows = %v, want [0 2]", lines[1:])
	}
}

func TestOverlapArgs(t *testing.T) {
	if err := Run(context.Background(), []string{"overlap", "only-one.idx"}); err == nil {
		t.Error("expected error with a single dataset")
	}
}

func TestDups(t *testing.T) {
	out := captureStdout(t)
	h := idx.Header{Type: idx.UnsignedByte, Dims: []uint32{6, 2}}
	path := writeIDX(t, "labels.idx", h, []byte{1, 1, 2, 2, 1, 1, 3, 3, 2, 2, 1, 1})

	if err := Run(context.Background(), []string{"dups", "--list", path}); err != nil {
		t.Fatalf("dups: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 4 {
		t.Fatalf("got %d lines, want 4:\n%s", len(lines), out.String())
	}
	if !strings.HasPrefix(lines[0], "3 of 6 rows") || !strings.HasSuffix(lines[0], "(3 distinct)") {
		t.Errorf("summary = %q", lines[0])
	}
	if got := strings.Join(lines[1:], ","); got != "2,4,5" {
		t.Errorf("rows = %s, want 2,4,5", got)
	}
}

func TestDupsNone(t *testing.T) {
	out := captureStdout(t)
	if err := Run(context.Background(), []string{"dups", "--list", sampleIDX(t)}); err != nil {
		t.Fatalf("dups: %v", err)
	}
	if got := strings.TrimSpace(out.String()); !strings.HasPrefix(got, "0 of 2 rows") || strings.Contains(got, "\n") {
		t.Errorf("output = %q, want a single zero-count line", got)
	}
}

func TestDupsArgs(t *testing.T) {
	if err := Run(context.Background(), []string{"dups"}); err == nil {
		t.Error("expected error without a dataset")
	}
}

func TestFinishLogsPeakHeap(t *testing.T) {
	prev := zerolog.GlobalLevel()
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	t.Cleanup(func() { zerolog.SetGlobalLevel(prev) })

	g := &globalFlags{
		tracker: memdiag.NewTracker(memdiag.Config{Enabled: true, LogInterval: time.Hour}, zerolog.Nop()),
	}
	g.tracker.Start()
	g.tracker.SetPhase("dump")

	var buf bytes.Buffer
	g.finish(zerolog.New(&buf))

	if !strings.Contains(buf.String(), `"peak_heap_bytes":`) {
		t.Errorf("peak heap not logged: %s", buf.String())
	}
}

func TestFetchMissingOut(t *testing.T) {
	err := Run(context.Background(), []string{"fetch", "s3://bucket/key"})
	if err == nil || !strings.Contains(err.Error(), "--out") {
		t.Errorf("expected '--out' error, got: %v", err)
	}
}

type staticObjects map[string][]byte

func (s staticObjects) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := s[aws.ToString(in.Key)]
	if !ok {
		return nil, errors.New("no such key")
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func TestFetchPrintsLocalFiles(t *testing.T) {
	out := captureStdout(t)
	dir := t.TempDir()
	labels := append(idx.EncodeHeader(idx.Header{Type: idx.UnsignedByte, Dims: []uint32{2}}), 7, 2)
	client := s3fetch.NewClientWithAPI(staticObjects{"mnist/labels-idx1-ubyte": labels})

	err := fetch(context.Background(), client, s3fetch.FetchConfig{
		URIs:   []string{"s3://bucket/mnist/labels-idx1-ubyte"},
		OutDir: dir,
	})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if want := filepath.Join(dir, "labels-idx1-ubyte") + "\n"; out.String() != want {
		t.Errorf("output = %q, want %q", out.String(), want)
	}
}

func TestDetermineMemoryBudgetCLI(t *testing.T) {
	budget, err := determineMemoryBudget("4GiB")
	if err != nil {
		t.Fatalf("determineMemoryBudget error: %v", err)
	}
	if budget.Total() != 4*1024*1024*1024 {
		t.Errorf("Total() = %d, want %d", budget.Total(), 4*1024*1024*1024)
	}
	if budget.Source() != membudget.BudgetSourceCLI {
		t.Errorf("Source() = %s, want %s", budget.Source(), membudget.BudgetSourceCLI)
	}
}

func TestDetermineMemoryBudgetEnv(t *testing.T) {
	t.Setenv(membudget.EnvVar, "2GiB")

	budget, err := determineMemoryBudget("")
	if err != nil {
		t.Fatalf("determineMemoryBudget error: %v", err)
	}
	if budget.Total() != 2*1024*1024*1024 {
		t.Errorf("Total() = %d, want %d", budget.Total(), 2*1024*1024*1024)
	}
	if budget.Source() != membudget.BudgetSourceEnv {
		t.Errorf("Source() = %s, want %s", budget.Source(), membudget.BudgetSourceEnv)
	}

	budget, err = determineMemoryBudget("8GiB")
	if err != nil {
		t.Fatalf("determineMemoryBudget error: %v", err)
	}
	if budget.Source() != membudget.BudgetSourceCLI {
		t.Errorf("flag should override env, got source %s", budget.Source())
	}
}

func TestDetermineMemoryBudgetInvalid(t *testing.T) {
	_, err := determineMemoryBudget("invalid")
	if err == nil || !strings.Contains(err.Error(), "--mem-budget") {
		t.Errorf("expected '--mem-budget' in error, got: %v", err)
	}

	t.Setenv(membudget.EnvVar, "badvalue")
	_, err = determineMemoryBudget("")
	if err == nil || !strings.Contains(err.Error(), membudget.EnvVar) {
		t.Errorf("expected %q in error, got: %v", membudget.EnvVar, err)
	}
}

func TestInfoBudgetExceeded(t *testing.T) {
	err := Run(context.Background(), []string{"info", "--mem-budget", "4", sampleIDX(t)})
	if !errors.Is(err, idx.ErrBudgetExceeded) {
		t.Errorf("err = %v, want ErrBudgetExceeded", err)
	}
}
