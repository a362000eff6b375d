package s3fetch

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// fakeS3 serves whole objects from memory and counts requests per object.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	calls   map[string]int
}

func newFakeS3(objects map[string][]byte) *fakeS3 {
	return &fakeS3{objects: objects, calls: make(map[string]int)}
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	name := aws.ToString(in.Bucket) + "/" + aws.ToString(in.Key)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[name]++

	data, ok := f.objects[name]
	if !ok {
		return nil, &types.NoSuchKey{Message: aws.String(name)}
	}
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(data)),
		ContentLength: aws.Int64(int64(len(data))),
	}, nil
}

func (f *fakeS3) callCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}
