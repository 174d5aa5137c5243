package objectstore

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

type fakeAPI struct {
	listResp    *s3.ListObjectsV2Output
	listErr     error
	headResp    *s3.HeadObjectOutput
	headErr     error
	getResp     *s3.GetObjectOutput
	getErr      error
	deleteCalls []*s3.DeleteObjectsInput
	deleteErr   error
	copyErr     error
}

func (f *fakeAPI) ListObjectsV2(_ context.Context, _ *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	return f.listResp, f.listErr
}
func (f *fakeAPI) HeadObject(_ context.Context, _ *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	return f.headResp, f.headErr
}
func (f *fakeAPI) GetObject(_ context.Context, _ *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	return f.getResp, f.getErr
}
func (f *fakeAPI) DeleteObjects(_ context.Context, in *s3.DeleteObjectsInput, _ ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error) {
	f.deleteCalls = append(f.deleteCalls, in)
	return &s3.DeleteObjectsOutput{}, f.deleteErr
}
func (f *fakeAPI) CopyObject(_ context.Context, _ *s3.CopyObjectInput, _ ...func(*s3.Options)) (*s3.CopyObjectOutput, error) {
	return &s3.CopyObjectOutput{}, f.copyErr
}

func TestList_SkipsDirectoryMarkersAndComputesHasMore(t *testing.T) {
	api := &fakeAPI{listResp: &s3.ListObjectsV2Output{
		Contents: []types.Object{
			{Key: aws.String("a")},
			{Key: aws.String("dir/")},
			{Key: aws.String("b")},
			{Key: aws.String("c")},
		},
	}}
	g := NewWithClient(api, nil, "bucket", 1<<20)

	page, err := g.List(context.Background(), "", "", 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(page.Keys) != 2 || !page.HasMore {
		t.Fatalf("expected 2 keys and HasMore, got %+v", page)
	}
	if page.Cursor != page.Keys[len(page.Keys)-1] {
		t.Fatalf("expected cursor to be last returned key")
	}
}

func TestGetWithSizeCheck_RejectsOversize(t *testing.T) {
	api := &fakeAPI{headResp: &s3.HeadObjectOutput{ContentLength: aws.Int64(100)}}
	g := NewWithClient(api, nil, "bucket", 10)

	if _, err := g.GetWithSizeCheck(context.Background(), "key"); err == nil {
		t.Fatal("expected oversize error")
	}
}

func TestGetWithSizeCheck_HeadError(t *testing.T) {
	api := &fakeAPI{headErr: errors.New("not found")}
	g := NewWithClient(api, nil, "bucket", 10)
	if _, err := g.GetWithSizeCheck(context.Background(), "key"); err == nil {
		t.Fatal("expected error")
	}
}

func TestDeleteBatch_Chunks(t *testing.T) {
	api := &fakeAPI{}
	g := NewWithClient(api, nil, "bucket", 10)

	keys := make([]string, 2500)
	for i := range keys {
		keys[i] = "key"
	}
	if err := g.DeleteBatch(context.Background(), keys); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(api.deleteCalls) != 3 {
		t.Fatalf("expected 3 chunked DeleteObjects calls, got %d", len(api.deleteCalls))
	}
	if len(api.deleteCalls[0].Delete.Objects) != 1000 || len(api.deleteCalls[2].Delete.Objects) != 500 {
		t.Fatalf("unexpected chunk sizes")
	}
}

func TestDeleteBatch_Error(t *testing.T) {
	api := &fakeAPI{deleteErr: errors.New("fail")}
	g := NewWithClient(api, nil, "bucket", 10)
	if err := g.DeleteBatch(context.Background(), []string{"a"}); err == nil {
		t.Fatal("expected error")
	}
}

func TestCopyPrefix_Empty(t *testing.T) {
	api := &fakeAPI{listResp: &s3.ListObjectsV2Output{}}
	g := NewWithClient(api, nil, "bucket", 10)
	if err := g.CopyPrefix(context.Background(), "src/", "dst/", 4); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestGet_ReturnsBody(t *testing.T) {
	api := &fakeAPI{getResp: &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader("hello"))}}
	g := NewWithClient(api, nil, "bucket", 10)

	got, err := g.Get(context.Background(), "key")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(got) != "hello" {
		t.Fatalf("got %q, want hello", got)
	}
}

func TestGet_Error(t *testing.T) {
	api := &fakeAPI{getErr: errors.New("not found")}
	g := NewWithClient(api, nil, "bucket", 10)
	if _, err := g.Get(context.Background(), "key"); err == nil {
		t.Fatal("expected error")
	}
}

func TestCount_DrainsAllPages(t *testing.T) {
	api := &fakeAPI{listResp: &s3.ListObjectsV2Output{
		Contents: []types.Object{
			{Key: aws.String("a")},
			{Key: aws.String("dir/")},
			{Key: aws.String("b")},
		},
	}}
	g := NewWithClient(api, nil, "bucket", 10)

	n, err := g.Count(context.Background(), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 2 {
		t.Fatalf("count = %d, want 2 (directory marker excluded)", n)
	}
}

func TestDelete_SingleKey(t *testing.T) {
	api := &fakeAPI{}
	g := NewWithClient(api, nil, "bucket", 10)

	if err := g.Delete(context.Background(), "key"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(api.deleteCalls) != 1 || len(api.deleteCalls[0].Delete.Objects) != 1 {
		t.Fatalf("expected one delete call with one object, got %+v", api.deleteCalls)
	}
}

func TestDelete_Error(t *testing.T) {
	api := &fakeAPI{deleteErr: errors.New("fail")}
	g := NewWithClient(api, nil, "bucket", 10)
	if err := g.Delete(context.Background(), "key"); err == nil {
		t.Fatal("expected error")
	}
}

type fakeUploader struct {
	input *s3.PutObjectInput
	err   error
}

func (f *fakeUploader) Upload(_ context.Context, in *s3.PutObjectInput, _ ...func(*manager.Uploader)) (*manager.UploadOutput, error) {
	f.input = in
	return &manager.UploadOutput{}, f.err
}

func TestPut_ThreadsContentType(t *testing.T) {
	up := &fakeUploader{}
	g := NewWithClient(nil, up, "bucket", 10)

	if err := g.Put(context.Background(), "key", []byte("{}"), "application/json"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if aws.ToString(up.input.ContentType) != "application/json" {
		t.Fatalf("content type = %q, want application/json", aws.ToString(up.input.ContentType))
	}
}

func TestEmptyPrefix(t *testing.T) {
	api := &fakeAPI{listResp: &s3.ListObjectsV2Output{
		Contents: []types.Object{{Key: aws.String("src/a")}},
	}}
	g := NewWithClient(api, nil, "bucket", 10)
	if err := g.EmptyPrefix(context.Background(), "src/"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(api.deleteCalls) != 1 {
		t.Fatalf("expected one delete call, got %d", len(api.deleteCalls))
	}
}
