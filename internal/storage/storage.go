package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

// DefaultMaxDocumentBytes bounds a schema document fetched from an object
// store.
const DefaultMaxDocumentBytes int64 = 8 << 20

var (
	ErrObjectNotFound = errors.New("object not found")
	ErrObjectTooLarge = errors.New("object too large")
)

type ObjectInfo struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	ETag         string    `json:"etag,omitempty"`
	ContentType  string    `json:"content_type,omitempty"`
	LastModified time.Time `json:"last_modified"`
}

// DocumentStore is the read side of an object store holding schema
// documents.
type DocumentStore interface {
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Stat(ctx context.Context, key string) (ObjectInfo, error)
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
}

// ReadDocument stats and downloads key, refusing objects larger than
// maxBytes. A non-positive maxBytes uses DefaultMaxDocumentBytes.
func ReadDocument(ctx context.Context, store DocumentStore, key string, maxBytes int64) ([]byte, ObjectInfo, error) {
	if store == nil {
		return nil, ObjectInfo{}, errors.New("document store is required")
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxDocumentBytes
	}

	info, err := store.Stat(ctx, key)
	if err != nil {
		return nil, ObjectInfo{}, err
	}
	if info.Size > maxBytes {
		return nil, info, fmt.Errorf("%w: %q is %d bytes, limit %d", ErrObjectTooLarge, key, info.Size, maxBytes)
	}

	reader, err := store.Get(ctx, key)
	if err != nil {
		return nil, info, err
	}
	defer func() { _ = reader.Close() }()

	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(reader, maxBytes+1))
	if err != nil {
		return nil, info, fmt.Errorf("read object %q: %w", key, err)
	}
	if n > maxBytes {
		return nil, info, fmt.Errorf("%w: %q exceeds %d bytes", ErrObjectTooLarge, key, maxBytes)
	}
	return buf.Bytes(), info, nil
}
