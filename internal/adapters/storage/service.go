// Package storage provides S3-compatible object storage for published
// ruleset snapshots. The archive keeps an immutable copy of every version
// outside the database so a snapshot can be audited or restored.
package storage

import (
	"context"
	"io"
)

// Archive defines the object storage operations the rules module needs.
type Archive interface {
	// EnsureBucketExists creates the bucket if it doesn't exist.
	EnsureBucketExists(ctx context.Context, bucket string) error

	// PutSnapshot stores a serialized snapshot and returns its object key.
	PutSnapshot(ctx context.Context, bucket string, version int, body []byte) (string, error)

	// GetSnapshot downloads a snapshot body by object key.
	// The caller is responsible for closing the returned io.ReadCloser.
	GetSnapshot(ctx context.Context, bucket, key string) (io.ReadCloser, error)
}

// Config defines the configuration interface for storage.
type Config interface {
	GetMinIOEndpoint() string
	GetMinIOAccessKey() string
	GetMinIOSecretKey() string
	GetMinIOUseSSL() bool
	IsMinIOEnabled() bool
}
