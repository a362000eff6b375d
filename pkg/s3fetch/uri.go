package s3fetch

import (
	"errors"
	"fmt"
	"path"
	"strings"
)

// ErrInvalidURI is returned for locations that do not name an S3 object.
var ErrInvalidURI = errors.New("invalid S3 URI")

const uriScheme = "s3://"

// IsS3URI reports whether location uses the s3:// scheme.
func IsS3URI(location string) bool {
	return strings.HasPrefix(location, uriScheme)
}

// ParseS3URI parses an S3 URI (s3://bucket/key) into bucket and key components.
func ParseS3URI(uri string) (bucket, key string, err error) {
	if !IsS3URI(uri) {
		return "", "", fmt.Errorf("%w: %q must start with s3://", ErrInvalidURI, uri)
	}

	rest := strings.TrimPrefix(uri, uriScheme)
	parts := strings.SplitN(rest, "/", 2)
	if parts[0] == "" {
		return "", "", fmt.Errorf("%w: %q is missing a bucket name", ErrInvalidURI, uri)
	}

	bucket = parts[0]
	if len(parts) == 2 {
		key = parts[1]
	}

	return bucket, key, nil
}

// ParseObjectURI is ParseS3URI for URIs that must name a single object.
func ParseObjectURI(uri string) (bucket, key string, err error) {
	bucket, key, err = ParseS3URI(uri)
	if err != nil {
		return "", "", err
	}
	if key == "" || strings.HasSuffix(key, "/") {
		return "", "", fmt.Errorf("%w: %q does not name an object", ErrInvalidURI, uri)
	}
	return bucket, key, nil
}

// localName converts an S3 key to a safe local filename.
func localName(key string) string {
	return path.Base(key)
}
