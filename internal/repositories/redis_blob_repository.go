package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBlobRepository implements BlobRepository on Redis. Each upload is
// a hash under a single key so the TTL covers the bytes and the
// metadata together.
type RedisBlobRepository struct {
	client *redis.Client
}

// NewRedisBlobRepository creates a new Redis-backed blob repository
func NewRedisBlobRepository(client *redis.Client) *RedisBlobRepository {
	return &RedisBlobRepository{client: client}
}

const uploadKeyPrefix = "upload:"

// DefaultUploadTTL is how long a staged upload survives without being
// consumed by a job.
const DefaultUploadTTL = 1 * time.Hour

// Put stores the upload under its ref with the given TTL
func (r *RedisBlobRepository) Put(ctx context.Context, upload *Upload, ttl time.Duration) error {
	if upload.Ref == "" {
		return NewBlobRepositoryError("put_upload", "", nil, "upload ref is required")
	}
	if len(upload.Data) == 0 {
		return NewBlobRepositoryError("put_upload", upload.Ref, nil, "upload data is empty")
	}
	if ttl <= 0 {
		ttl = DefaultUploadTTL
	}

	key := uploadKeyPrefix + upload.Ref
	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, key,
		"filename", upload.Filename,
		"mime_type", upload.MIMEType,
		"data", upload.Data)
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return NewBlobRepositoryError("put_upload", upload.Ref, err, "")
	}
	return nil
}

// Get retrieves an upload by ref
func (r *RedisBlobRepository) Get(ctx context.Context, ref string) (*Upload, error) {
	values, err := r.client.HGetAll(ctx, uploadKeyPrefix+ref).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, NewBlobRepositoryError("get_upload", ref, err, "")
	}
	if len(values) == 0 {
		return nil, UploadNotFoundError(ref)
	}

	return &Upload{
		Ref:      ref,
		Filename: values["filename"],
		MIMEType: values["mime_type"],
		Data:     []byte(values["data"]),
	}, nil
}

// Delete removes an upload once consumed
func (r *RedisBlobRepository) Delete(ctx context.Context, ref string) error {
	if err := r.client.Del(ctx, uploadKeyPrefix+ref).Err(); err != nil {
		return NewBlobRepositoryError("delete_upload", ref, err, "")
	}
	return nil
}

// Ping checks the blob store connection
func (r *RedisBlobRepository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
