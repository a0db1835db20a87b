// Package blob stores and retrieves enrolled face images. image_ref values
// are opaque references resolved through the Store that issued them
// (s3://bucket/tenant/face_id for s3blob, mem://tenant/face_id for memblob).
package blob

import "context"

// Store is the face-image blob port.
type Store interface {
	// Put uploads raw and returns the image_ref to persist alongside the
	// enrolled face.
	Put(ctx context.Context, tenantID, faceID string, raw []byte) (imageRef string, err error)
	// Get fetches the raw bytes for a previously stored imageRef.
	Get(ctx context.Context, imageRef string) ([]byte, error)
	// Delete removes the object backing imageRef. Deleting an
	// already-absent object is not an error.
	Delete(ctx context.Context, imageRef string) error
}
