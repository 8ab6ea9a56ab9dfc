// Package blob stores panel images and hands back publicly readable URLs.
package blob

import "context"

// Store persists an immutable blob under the given key and returns its
// public URL. Implementations must bound their own upload time; a failed
// Put aborts the caller's whole write.
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
}
