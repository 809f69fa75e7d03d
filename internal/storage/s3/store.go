// Package s3 serves schema documents from an S3-compatible bucket.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/ragsql/ragsql/internal/config"
	"github.com/ragsql/ragsql/internal/storage"
)

type bucketClient interface {
	Put(ctx context.Context, bucket, key string, reader io.Reader, size int64, contentType string) (storage.ObjectInfo, error)
	Get(ctx context.Context, bucket, key string) (io.ReadCloser, error)
	Stat(ctx context.Context, bucket, key string) (storage.ObjectInfo, error)
	List(ctx context.Context, bucket, prefix string) ([]storage.ObjectInfo, error)
	BucketExists(ctx context.Context, bucket string) (bool, error)
}

// Store maps caller keys into an optional prefix inside one bucket. Keys
// returned to callers never carry the prefix.
type Store struct {
	client bucketClient
	bucket string
	keys   keyspace
}

type Option func(*openOptions)

type openOptions struct {
	verifyBucket bool
}

// VerifyBucket makes Open fail when the bucket is missing or unreachable.
func VerifyBucket() Option {
	return func(o *openOptions) { o.verifyBucket = true }
}

func Open(ctx context.Context, cfg config.ObjectStoreConfig, opts ...Option) (*Store, error) {
	var options openOptions
	for _, opt := range opts {
		opt(&options)
	}
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, errors.New("object store endpoint is required")
	}
	client, err := dialMinio(cfg)
	if err != nil {
		return nil, err
	}
	store, err := NewWithClient(cfg.Bucket, cfg.Prefix, client)
	if err != nil {
		return nil, err
	}
	if options.verifyBucket {
		if err := store.HealthCheck(ctx); err != nil {
			return nil, err
		}
	}
	return store, nil
}

func NewWithClient(bucket, prefix string, client bucketClient) (*Store, error) {
	if client == nil {
		return nil, errors.New("object store client is required")
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errors.New("object store bucket is required")
	}
	return &Store{client: client, bucket: bucket, keys: newKeyspace(prefix)}, nil
}

// Put uploads a document, guessing the content type from the extension
// when none is given. The API only reads; demo tooling seeds with Put.
func (s *Store) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) (storage.ObjectInfo, error) {
	full, err := s.keys.resolve(key)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	if contentType == "" {
		contentType = documentContentType(full)
	}
	info, err := s.client.Put(ctx, s.bucket, full, body, size, contentType)
	if err != nil {
		return storage.ObjectInfo{}, fmt.Errorf("put %s: %w", s.uri(full), err)
	}
	info.Key = s.keys.strip(info.Key)
	return info, nil
}

func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	full, err := s.keys.resolve(key)
	if err != nil {
		return nil, err
	}
	body, err := s.client.Get(ctx, s.bucket, full)
	if err != nil {
		return nil, s.wrap("get", full, err)
	}
	return body, nil
}

func (s *Store) Stat(ctx context.Context, key string) (storage.ObjectInfo, error) {
	full, err := s.keys.resolve(key)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	info, err := s.client.Stat(ctx, s.bucket, full)
	if err != nil {
		return storage.ObjectInfo{}, s.wrap("stat", full, err)
	}
	info.Key = s.keys.strip(info.Key)
	return info, nil
}

// List returns objects under prefix ordered by key. Folder placeholders are
// skipped.
func (s *Store) List(ctx context.Context, prefix string) ([]storage.ObjectInfo, error) {
	scope, err := s.keys.scope(prefix)
	if err != nil {
		return nil, err
	}
	objects, err := s.client.List(ctx, s.bucket, scope)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", s.uri(scope), err)
	}
	out := make([]storage.ObjectInfo, 0, len(objects))
	for _, object := range objects {
		if strings.HasSuffix(object.Key, "/") {
			continue
		}
		object.Key = s.keys.strip(object.Key)
		out = append(out, object)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *Store) HealthCheck(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %q: %w", s.bucket, err)
	}
	if !exists {
		return fmt.Errorf("bucket %q does not exist", s.bucket)
	}
	return nil
}

func (s *Store) wrap(op, full string, err error) error {
	if errors.Is(err, storage.ErrObjectNotFound) {
		return storage.ErrObjectNotFound
	}
	return fmt.Errorf("%s %s: %w", op, s.uri(full), err)
}

func (s *Store) uri(key string) string {
	return "s3://" + s.bucket + "/" + key
}

func documentContentType(key string) string {
	switch strings.ToLower(path.Ext(key)) {
	case ".json":
		return "application/json"
	case ".yaml", ".yml":
		return "application/yaml"
	default:
		return "application/octet-stream"
	}
}

type keyspace struct {
	prefix string
}

func newKeyspace(prefix string) keyspace {
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return keyspace{}
	}
	if cleaned := path.Clean(prefix); cleaned != "." {
		return keyspace{prefix: cleaned}
	}
	return keyspace{}
}

// resolve rejects empty keys and anything escaping the prefix.
func (k keyspace) resolve(key string) (string, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(key), "/")
	if trimmed == "" {
		return "", errors.New("object key is required")
	}
	cleaned := path.Clean(trimmed)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("invalid object key %q", key)
	}
	return k.join(cleaned), nil
}

// scope turns a listing prefix into a bucket prefix. A trailing slash on
// the input is kept so "schemas/" does not match "schemas-old/".
func (k keyspace) scope(prefix string) (string, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(prefix), "/")
	if trimmed == "" {
		if k.prefix == "" {
			return "", nil
		}
		return k.prefix + "/", nil
	}
	full, err := k.resolve(trimmed)
	if err != nil {
		return "", err
	}
	if strings.HasSuffix(trimmed, "/") {
		full += "/"
	}
	return full, nil
}

func (k keyspace) join(key string) string {
	if k.prefix == "" {
		return key
	}
	return k.prefix + "/" + key
}

func (k keyspace) strip(key string) string {
	if k.prefix == "" {
		return key
	}
	return strings.TrimPrefix(key, k.prefix+"/")
}
