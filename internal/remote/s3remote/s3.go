// Package s3remote is a remote.Backend on an S3-compatible object store.
//
// Each tenant is one zstd-compressed JSON snapshot object. Writes are
// conditional on the ETag that was read, so two writers racing on the same
// tenant cannot lose each other's records: the loser gets common.ErrSync and
// retries against the fresh snapshot.
package s3remote

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/klauspost/compress/zstd"

	"github.com/dmitrijs2005/gophvault/internal/common"
	"github.com/dmitrijs2005/gophvault/internal/remote"
)

// ObjectAPI is the subset of *s3.Client the backend uses.
type ObjectAPI interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type Config struct {
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string
}

var loadDefaultAWSConfig = config.LoadDefaultConfig

// Open builds an S3 client for cfg. A static key pair is used when given,
// otherwise the default credential chain applies.
func Open(ctx context.Context, cfg Config) (*Backend, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("%w: s3 bucket is required", common.ErrInvalidInput)
	}
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := loadDefaultAWSConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: aws config: %v", common.ErrSync, err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return New(client, cfg.Bucket, cfg.Prefix), nil
}

type snapshot struct {
	Seq     int64           `json:"seq"`
	Records []remote.Record `json:"records"`
}

type Backend struct {
	client ObjectAPI
	bucket string
	prefix string

	// mu serializes writers in this process; ETags cover the rest.
	mu sync.Mutex
}

func New(client ObjectAPI, bucket, prefix string) *Backend {
	return &Backend{client: client, bucket: bucket, prefix: prefix}
}

func (b *Backend) objectKey(tenantID string) string {
	return b.prefix + "tenants/" + url.PathEscape(tenantID) + "/snapshot.json.zst"
}

// load returns the tenant snapshot and its ETag; a missing object is an
// empty snapshot with an empty ETag.
func (b *Backend) load(ctx context.Context, tenantID string) (*snapshot, string, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.objectKey(tenantID)),
	})
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return &snapshot{}, "", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("%w: get snapshot: %v", common.ErrSync, err)
	}
	defer out.Body.Close()

	dec, err := zstd.NewReader(out.Body)
	if err != nil {
		return nil, "", fmt.Errorf("%w: zstd reader: %v", common.ErrSyncCorruption, err)
	}
	defer dec.Close()

	var snap snapshot
	if err := json.NewDecoder(dec).Decode(&snap); err != nil {
		return nil, "", fmt.Errorf("%w: decode snapshot: %v", common.ErrSyncCorruption, err)
	}
	return &snap, aws.ToString(out.ETag), nil
}

func (b *Backend) store(ctx context.Context, tenantID string, snap *snapshot, etag string) error {
	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(enc).Encode(snap); err != nil {
		_ = enc.Close()
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}

	in := &s3.PutObjectInput{
		Bucket:      aws.String(b.bucket),
		Key:         aws.String(b.objectKey(tenantID)),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/zstd"),
	}
	if etag == "" {
		in.IfNoneMatch = aws.String("*")
	} else {
		in.IfMatch = aws.String(etag)
	}
	_, err = b.client.PutObject(ctx, in)
	if isPreconditionFailed(err) {
		return fmt.Errorf("%w: snapshot changed concurrently", common.ErrSync)
	}
	if err != nil {
		return fmt.Errorf("%w: put snapshot: %v", common.ErrSync, err)
	}
	return nil
}

func isPreconditionFailed(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.ErrorCode() {
	case "PreconditionFailed", "ConditionalRequestConflict":
		return true
	}
	return false
}

func (b *Backend) Push(ctx context.Context, tenantID string, recs []remote.Record) (remote.PushResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	snap, etag, err := b.load(ctx, tenantID)
	if err != nil {
		return remote.PushResult{}, err
	}
	byID := make(map[string]int, len(snap.Records))
	for i := range snap.Records {
		byID[snap.Records[i].ID()] = i
	}

	var res remote.PushResult
	for _, r := range recs {
		id := r.ID()
		var stored *remote.Record
		if i, ok := byID[id]; ok {
			stored = &snap.Records[i]
		}
		if !remote.Supersedes(stored, &r) {
			res.Skipped = append(res.Skipped, id)
			continue
		}
		snap.Seq++
		r.Seq = snap.Seq
		if i, ok := byID[id]; ok {
			snap.Records[i] = r
		} else {
			byID[id] = len(snap.Records)
			snap.Records = append(snap.Records, r)
		}
		res.Accepted++
	}
	if res.Accepted == 0 {
		return res, nil
	}
	if err := b.store(ctx, tenantID, snap, etag); err != nil {
		return remote.PushResult{}, err
	}
	return res, nil
}

func (b *Backend) Pull(ctx context.Context, tenantID, cursor string, limit int) (remote.Batch, error) {
	after, err := remote.ParseCursor(cursor)
	if err != nil {
		return remote.Batch{}, err
	}
	snap, _, err := b.load(ctx, tenantID)
	if err != nil {
		return remote.Batch{}, err
	}
	var out []remote.Record
	for _, r := range snap.Records {
		if r.Seq > after {
			out = append(out, r)
		}
	}
	slices.SortFunc(out, func(a, b remote.Record) int { return cmp.Compare(a.Seq, b.Seq) })
	return remote.Page(out, after, remote.Limit(limit)), nil
}

func (b *Backend) Close() error { return nil }

var _ remote.Backend = (*Backend)(nil)
