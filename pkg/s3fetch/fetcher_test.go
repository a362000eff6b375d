package s3fetch

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/eunmann/idxgo/pkg/idx"
)

func labelsFile(labels ...byte) []byte {
	h := idx.Header{Type: idx.UnsignedByte, Dims: []uint32{uint32(len(labels))}}
	return append(idx.EncodeHeader(h), labels...)
}

func TestFetchAll(t *testing.T) {
	objects := map[string][]byte{
		"bucket/mnist/train-labels-idx1-ubyte":   labelsFile(5, 0, 4, 1),
		"bucket/mnist/t10k-labels-idx1-ubyte.gz": []byte("not really gzip"),
		"other/t10k-images-idx3-ubyte":           labelsFile(9),
	}
	fake := newFakeS3(objects)
	client := NewClientWithAPI(fake)
	outDir := t.TempDir()

	cfg := FetchConfig{
		URIs: []string{
			"s3://bucket/mnist/train-labels-idx1-ubyte",
			"s3://bucket/mnist/t10k-labels-idx1-ubyte.gz",
			"s3://other/t10k-images-idx3-ubyte",
		},
		OutDir:      outDir,
		Concurrency: 2,
	}

	res, err := FetchAll(context.Background(), client, cfg)
	if err != nil {
		t.Fatalf("FetchAll: %v", err)
	}
	if res.Downloaded != 3 || res.Skipped != 0 {
		t.Errorf("downloaded=%d skipped=%d, want 3 and 0", res.Downloaded, res.Skipped)
	}

	wantFiles := []string{
		filepath.Join(outDir, "train-labels-idx1-ubyte"),
		filepath.Join(outDir, "t10k-labels-idx1-ubyte.gz"),
		filepath.Join(outDir, "t10k-images-idx3-ubyte"),
	}
	var wantBytes int64
	for i, want := range wantFiles {
		if res.LocalFiles[i] != want {
			t.Errorf("LocalFiles[%d] = %s, want %s", i, res.LocalFiles[i], want)
		}
	}
	for _, data := range objects {
		wantBytes += int64(len(data))
	}
	if res.Bytes != wantBytes {
		t.Errorf("Bytes = %d, want %d", res.Bytes, wantBytes)
	}

	got, err := os.ReadFile(wantFiles[0])
	if err != nil {
		t.Fatalf("read fetched file: %v", err)
	}
	if !bytes.Equal(got, objects["bucket/mnist/train-labels-idx1-ubyte"]) {
		t.Error("fetched file content mismatch")
	}

	if leftover, _ := filepath.Glob(filepath.Join(outDir, tmpDirPattern)); len(leftover) != 0 {
		t.Errorf("temp dirs left after fetch: %v", leftover)
	}
}

func TestFetchAll_KeepsUnrelatedTmpDir(t *testing.T) {
	client := NewClientWithAPI(newFakeS3(map[string][]byte{"bucket/a-idx1-ubyte": labelsFile(1)}))
	outDir := t.TempDir()
	userFile := filepath.Join(outDir, ".tmp", "notes.txt")
	if err := os.MkdirAll(filepath.Dir(userFile), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(userFile, []byte("keep"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	_, err := FetchAll(context.Background(), client, FetchConfig{
		URIs:   []string{"s3://bucket/a-idx1-ubyte"},
		OutDir: outDir,
	})
	if err != nil {
		t.Fatalf("FetchAll: %v", err)
	}
	if _, err := os.Stat(userFile); err != nil {
		t.Errorf("existing .tmp content was removed: %v", err)
	}
}

func TestFetchAll_RemovesStaleTmpDirs(t *testing.T) {
	client := NewClientWithAPI(newFakeS3(map[string][]byte{"bucket/a-idx1-ubyte": labelsFile(1)}))
	outDir := t.TempDir()
	stale := filepath.Join(outDir, ".idxfetch-123")
	if err := os.MkdirAll(stale, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(stale, "a-idx1-ubyte.tmp"), []byte{0, 0}, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	_, err := FetchAll(context.Background(), client, FetchConfig{
		URIs:   []string{"s3://bucket/a-idx1-ubyte"},
		OutDir: outDir,
	})
	if err != nil {
		t.Fatalf("FetchAll: %v", err)
	}
	if _, err := os.Stat(stale); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("stale tmp dir still present: %v", err)
	}
}

func TestFetchAll_SkipsUppercaseCompressedExt(t *testing.T) {
	fake := newFakeS3(map[string][]byte{"bucket/train-labels.GZ": []byte("compressed")})
	client := NewClientWithAPI(fake)
	cfg := FetchConfig{
		URIs:   []string{"s3://bucket/train-labels.GZ"},
		OutDir: t.TempDir(),
	}
	ctx := context.Background()

	if _, err := FetchAll(ctx, client, cfg); err != nil {
		t.Fatalf("first fetch: %v", err)
	}
	res, err := FetchAll(ctx, client, cfg)
	if err != nil {
		t.Fatalf("second fetch: %v", err)
	}
	if res.Skipped != 1 {
		t.Errorf("Skipped = %d, want 1", res.Skipped)
	}
	if n := fake.callCount("bucket/train-labels.GZ"); n != 1 {
		t.Errorf("GetObject calls = %d, want 1", n)
	}
}

func TestFetchAll_SkipsCompleteFiles(t *testing.T) {
	objects := map[string][]byte{
		"bucket/a-idx1-ubyte":    labelsFile(1, 2, 3),
		"bucket/b-idx1-ubyte.gz": []byte("compressed"),
	}
	fake := newFakeS3(objects)
	client := NewClientWithAPI(fake)
	cfg := FetchConfig{
		URIs:   []string{"s3://bucket/a-idx1-ubyte", "s3://bucket/b-idx1-ubyte.gz"},
		OutDir: t.TempDir(),
	}
	ctx := context.Background()

	if _, err := FetchAll(ctx, client, cfg); err != nil {
		t.Fatalf("first fetch: %v", err)
	}

	res, err := FetchAll(ctx, client, cfg)
	if err != nil {
		t.Fatalf("second fetch: %v", err)
	}
	if res.Skipped != 2 || res.Downloaded != 0 {
		t.Errorf("downloaded=%d skipped=%d, want 0 and 2", res.Downloaded, res.Skipped)
	}
	if n := fake.callCount("bucket/a-idx1-ubyte"); n != 1 {
		t.Errorf("GetObject calls = %d, want 1", n)
	}

	cfg.Force = true
	res, err = FetchAll(ctx, client, cfg)
	if err != nil {
		t.Fatalf("forced fetch: %v", err)
	}
	if res.Downloaded != 2 {
		t.Errorf("forced downloaded = %d, want 2", res.Downloaded)
	}
	if n := fake.callCount("bucket/a-idx1-ubyte"); n != 2 {
		t.Errorf("GetObject calls after force = %d, want 2", n)
	}
}

func TestFetchAll_RefetchesTruncatedFile(t *testing.T) {
	full := labelsFile(1, 2, 3, 4)
	client := NewClientWithAPI(newFakeS3(map[string][]byte{"bucket/labels-idx1-ubyte": full}))
	outDir := t.TempDir()
	local := filepath.Join(outDir, "labels-idx1-ubyte")

	if err := os.WriteFile(local, full[:len(full)-2], 0o644); err != nil {
		t.Fatalf("write partial file: %v", err)
	}

	res, err := FetchAll(context.Background(), client, FetchConfig{
		URIs:              []string{"s3://bucket/labels-idx1-ubyte"},
		OutDir:            outDir,
		RequestsPerSecond: 100,
	})
	if err != nil {
		t.Fatalf("FetchAll: %v", err)
	}
	if res.Downloaded != 1 {
		t.Errorf("Downloaded = %d, want 1", res.Downloaded)
	}

	got, err := os.ReadFile(local)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, full) {
		t.Error("truncated file was not replaced")
	}
}

func TestFetchAll_MissingObject(t *testing.T) {
	client := NewClientWithAPI(newFakeS3(nil))
	outDir := t.TempDir()

	_, err := FetchAll(context.Background(), client, FetchConfig{
		URIs:   []string{"s3://bucket/missing-idx1-ubyte"},
		OutDir: outDir,
	})
	if err == nil {
		t.Fatal("expected error for missing object")
	}
	if _, err := os.Stat(filepath.Join(outDir, "missing-idx1-ubyte")); !errors.Is(err, os.ErrNotExist) {
		t.Error("no file should be left for a failed download")
	}
}

func TestFetchAll_InvalidPlan(t *testing.T) {
	client := NewClientWithAPI(newFakeS3(nil))

	tests := []struct {
		name string
		uris []string
	}{
		{"not s3", []string{"/tmp/file.idx"}},
		{"prefix only", []string{"s3://bucket/prefix/"}},
		{"dot dot key", []string{"s3://bucket/.."}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FetchAll(context.Background(), client, FetchConfig{URIs: tt.uris, OutDir: t.TempDir()})
			if !errors.Is(err, ErrInvalidURI) {
				t.Errorf("err = %v, want ErrInvalidURI", err)
			}
		})
	}

	_, err := FetchAll(context.Background(), client, FetchConfig{
		URIs:   []string{"s3://a/x/data.idx", "s3://b/y/data.idx"},
		OutDir: t.TempDir(),
	})
	if err == nil {
		t.Error("expected error for colliding local names")
	}
}
