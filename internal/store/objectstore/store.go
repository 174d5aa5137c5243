// Package objectstore is the object store gateway (§4.B): a single-bucket
// S3 client with cursor-based listing and counting, a raw get and a
// size-guarded download, single and batched delete, a MIME-aware upload,
// prefix copy fanned out with pkg/fn.ParMapResult, and prefix empty through
// the chunked batch delete.
package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/fishysoftware/semantic-pipeline/internal/domain"
	"github.com/fishysoftware/semantic-pipeline/pkg/fn"
)

// sharedHTTPClient pools connections across every Gateway instance.
var sharedHTTPClient = &http.Client{
	Timeout: 60 * time.Second,
	Transport: &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 20,
		IdleConnTimeout:     90 * time.Second,
	},
}

// api is the slice of the generated s3.Client this gateway uses. Mirroring
// it as an interface lets tests inject a fake instead of hitting AWS.
type api interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
	CopyObject(ctx context.Context, params *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
}

// uploaderAPI is the slice of manager.Uploader this gateway uses.
type uploaderAPI interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// Gateway is the sole owner of a single bucket's object operations.
type Gateway struct {
	client   api
	uploader uploaderAPI
	bucket   string

	maxDownloadSizeBytes int64
}

// New builds a Gateway for the given bucket using the default AWS config
// chain (env vars, shared config, instance profile).
func New(ctx context.Context, bucket string, maxDownloadSizeBytes int64) (*Gateway, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("objectstore: load config: %w", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.HTTPClient = sharedHTTPClient
	})
	return &Gateway{
		client:               client,
		uploader:             manager.NewUploader(client),
		bucket:               bucket,
		maxDownloadSizeBytes: maxDownloadSizeBytes,
	}, nil
}

// NewWithClient builds a Gateway around an already-constructed client and
// uploader (or fakes satisfying api/uploaderAPI), bypassing config loading.
// Used by tests.
func NewWithClient(client api, uploader uploaderAPI, bucket string, maxDownloadSizeBytes int64) *Gateway {
	return &Gateway{client: client, uploader: uploader, bucket: bucket, maxDownloadSizeBytes: maxDownloadSizeBytes}
}

// Page is one cursor-bounded slice of a prefix listing.
type Page struct {
	Keys    []string
	HasMore bool
	Cursor  string
}

// List returns up to pageSize keys under prefix strictly after cursor
// (the last full key seen), skipping directory markers. It requests
// pageSize+1 objects and trims the last one to compute HasMore without a
// second round-trip.
func (g *Gateway) List(ctx context.Context, prefix, cursor string, pageSize int) (Page, error) {
	if pageSize <= 0 {
		pageSize = 1000
	}
	startAfter := cursor
	out, err := g.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:     aws.String(g.bucket),
		Prefix:     aws.String(prefix),
		StartAfter: aws.String(startAfter),
		MaxKeys:    aws.Int32(int32(pageSize + 1)),
	})
	if err != nil {
		return Page{}, domain.NewError(domain.KindTransient, "objectstore.List", err)
	}

	keys := make([]string, 0, len(out.Contents))
	for _, obj := range out.Contents {
		key := aws.ToString(obj.Key)
		if strings.HasSuffix(key, "/") {
			continue
		}
		keys = append(keys, key)
	}

	hasMore := len(keys) > pageSize
	if hasMore {
		keys = keys[:pageSize]
	}
	page := Page{Keys: keys, HasMore: hasMore}
	if len(keys) > 0 {
		page.Cursor = keys[len(keys)-1]
	}
	return page, nil
}

// GetWithSizeCheck downloads an object's full content, refusing anything
// larger than maxDownloadSizeBytes before reading the body.
func (g *Gateway) GetWithSizeCheck(ctx context.Context, key string) ([]byte, error) {
	head, err := g.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(g.bucket), Key: aws.String(key)})
	if err != nil {
		return nil, domain.NewError(domain.KindNotFound, "objectstore.GetWithSizeCheck", err)
	}
	if size := aws.ToInt64(head.ContentLength); size > g.maxDownloadSizeBytes {
		return nil, domain.NewError(domain.KindOverload, "objectstore.GetWithSizeCheck",
			fmt.Errorf("object %s is %d bytes, exceeds limit %d", key, size, g.maxDownloadSizeBytes))
	}

	obj, err := g.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(g.bucket), Key: aws.String(key)})
	if err != nil {
		return nil, domain.NewError(domain.KindTransient, "objectstore.GetWithSizeCheck", err)
	}
	defer obj.Body.Close()

	buf := new(bytes.Buffer)
	if _, err := io.Copy(buf, obj.Body); err != nil {
		return nil, domain.NewError(domain.KindTransient, "objectstore.GetWithSizeCheck", err)
	}
	return buf.Bytes(), nil
}

// Get downloads an object's full content with no size guard, for callers
// that already know the object is small (e.g. a just-written artifact).
// GetWithSizeCheck is the guarded counterpart for untrusted-size reads.
func (g *Gateway) Get(ctx context.Context, key string) ([]byte, error) {
	obj, err := g.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(g.bucket), Key: aws.String(key)})
	if err != nil {
		return nil, domain.NewError(domain.KindNotFound, "objectstore.Get", err)
	}
	defer obj.Body.Close()

	buf := new(bytes.Buffer)
	if _, err := io.Copy(buf, obj.Body); err != nil {
		return nil, domain.NewError(domain.KindTransient, "objectstore.Get", err)
	}
	return buf.Bytes(), nil
}

// Count drains every page under prefix and returns how many keys matched.
// Callers needing the keys themselves should use List/ListAll instead of
// paying for a count separately.
func (g *Gateway) Count(ctx context.Context, prefix string) (int, error) {
	keys, err := g.listAllKeys(ctx, prefix)
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}

// Put uploads content to key via the multipart-capable uploader, tagging it
// with contentType. Get returns only the body, not the stored content type.
func (g *Gateway) Put(ctx context.Context, key string, body []byte, contentType string) error {
	_, err := g.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(g.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return domain.NewError(domain.KindTransient, "objectstore.Put", err)
	}
	return nil
}

// Delete removes a single key. DeleteBatch is the chunked counterpart for
// removing many keys in one call.
func (g *Gateway) Delete(ctx context.Context, key string) error {
	_, err := g.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
		Bucket: aws.String(g.bucket),
		Delete: &types.Delete{Objects: []types.ObjectIdentifier{{Key: aws.String(key)}}},
	})
	if err != nil {
		return domain.NewError(domain.KindTransient, "objectstore.Delete", err)
	}
	return nil
}

// DeleteBatch removes every key in keys, chunking into groups of at most
// 1000 to respect s3.DeleteObjects's request limit.
func (g *Gateway) DeleteBatch(ctx context.Context, keys []string) error {
	for _, chunk := range fn.Chunk(keys, 1000) {
		objs := make([]types.ObjectIdentifier, len(chunk))
		for i, k := range chunk {
			objs[i] = types.ObjectIdentifier{Key: aws.String(k)}
		}
		_, err := g.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(g.bucket),
			Delete: &types.Delete{Objects: objs},
		})
		if err != nil {
			return domain.NewError(domain.KindTransient, "objectstore.DeleteBatch", err)
		}
	}
	return nil
}

// ListAll fully drains a prefix across pages, exported for callers (the
// scanner's existing-batch-artifact read) that need the complete key set
// rather than one cursor-bounded page.
func (g *Gateway) ListAll(ctx context.Context, prefix string) ([]string, error) {
	return g.listAllKeys(ctx, prefix)
}

// listAllKeys fully drains a prefix across pages, used by CopyPrefix and
// EmptyPrefix which both need the complete key set before fanning out.
func (g *Gateway) listAllKeys(ctx context.Context, prefix string) ([]string, error) {
	var all []string
	cursor := ""
	for {
		page, err := g.List(ctx, prefix, cursor, 1000)
		if err != nil {
			return nil, err
		}
		all = append(all, page.Keys...)
		if !page.HasMore {
			break
		}
		cursor = page.Cursor
	}
	return all, nil
}

// CopyPrefix copies every object under srcPrefix to the same relative path
// under dstPrefix, fanned out with pkg/fn.ParMap.
func (g *Gateway) CopyPrefix(ctx context.Context, srcPrefix, dstPrefix string, parallelism int) error {
	keys, err := g.listAllKeys(ctx, srcPrefix)
	if err != nil {
		return err
	}
	results := fn.ParMapResult(keys, parallelism, func(key string) fn.Result[struct{}] {
		dstKey := dstPrefix + strings.TrimPrefix(key, srcPrefix)
		_, err := g.client.CopyObject(ctx, &s3.CopyObjectInput{
			Bucket:     aws.String(g.bucket),
			CopySource: aws.String(g.bucket + "/" + key),
			Key:        aws.String(dstKey),
		})
		if err != nil {
			return fn.Err[struct{}](domain.NewError(domain.KindTransient, "objectstore.CopyPrefix", err))
		}
		return fn.Ok(struct{}{})
	})
	for _, r := range results {
		if _, err := r.Unwrap(); err != nil {
			return err
		}
	}
	return nil
}

// EmptyPrefix deletes every object under prefix.
func (g *Gateway) EmptyPrefix(ctx context.Context, prefix string) error {
	keys, err := g.listAllKeys(ctx, prefix)
	if err != nil {
		return err
	}
	return g.DeleteBatch(ctx, keys)
}
