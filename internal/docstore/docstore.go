// Package docstore persists downloaded disclosure documents as opaque blobs.
package docstore

import "context"

// Store is the blob interface the orchestrator writes documents through.
type Store interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
}
