package hoard

import (
	"context"
	"errors"
	"time"

	"github.com/hoardlabs/hoard/retry"
)

// signedURLBackdate is how far into the past signed URLs are valid from,
// absorbing clock skew between the signer and the backend.
const signedURLBackdate = 5 * time.Minute

// DownloadURLOptions describe a signed download URL request.
type DownloadURLOptions struct {
	// Life is how long past now the URL stays valid.
	Life time.Duration

	// Filename is the suggested download filename. It is sanitized before
	// being pinned into the Content-Disposition header.
	Filename string

	// ContentType is pinned into the response's Content-Type header.
	ContentType string
}

// BlobRef is a lazily-resolved handle to one piece of content, identified by
// (realm, hash). Obtaining a handle never touches the backend; existence is
// checked per operation.
type BlobRef interface {
	// Realm returns the handle's tenant partition key.
	Realm() string

	// Hash returns the content hash the handle addresses.
	Hash() Hash

	// Exists reports whether the object is stored. Tombstoned objects
	// report false.
	Exists(ctx context.Context) (bool, error)

	// Size returns the object's size in bytes. Fails with
	// *NoSuchBlobError or *DeletedBlobError when absent.
	Size(ctx context.Context) (int64, error)

	// Open returns a seekable read stream over the object. Fails with
	// *NoSuchBlobError or *DeletedBlobError when absent. Subsequent reads
	// run under ctx unless WithStreamContext overrides it.
	Open(ctx context.Context, opts ...OpenOption) (*ReadStream, error)

	// DownloadURL mints a time-boxed read-only signed URL carrying an
	// attachment Content-Disposition with the sanitized filename.
	DownloadURL(ctx context.Context, opts DownloadURLOptions) (string, error)
}

// blobRef is the single-backend BlobRef.
type blobRef struct {
	store *BlobStore
	hash  Hash
}

var _ BlobRef = (*blobRef)(nil)

func (r *blobRef) Realm() string { return r.store.realm }
func (r *blobRef) Hash() Hash    { return r.hash }

func (r *blobRef) Exists(ctx context.Context) (bool, error) {
	return retry.Val(ctx, r.store.retry, "blob exists", func(ctx context.Context) (bool, error) {
		return r.store.c.Persistent.Exists(ctx, r.store.key(r.hash))
	})
}

func (r *blobRef) Size(ctx context.Context) (int64, error) {
	props, err := retry.Val(ctx, r.store.retry, "blob props", func(ctx context.Context) (Props, error) {
		return r.store.c.Persistent.Props(ctx, r.store.key(r.hash))
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return 0, r.store.notFoundError(ctx, r.hash)
		}
		return 0, err
	}
	return props.Size, nil
}

func (r *blobRef) Open(ctx context.Context, opts ...OpenOption) (*ReadStream, error) {
	size, err := r.Size(ctx)
	if err != nil {
		return nil, err
	}
	return newReadStream(ctx, r.store.c.Persistent, r.store.key(r.hash), size, r.store.retry, opts), nil
}

func (r *blobRef) DownloadURL(ctx context.Context, opts DownloadURLOptions) (string, error) {
	// The handle is lazy, so surface absence (and tombstones) here rather
	// than handing out a URL that will 404.
	if _, err := r.Size(ctx); err != nil {
		return "", err
	}
	ascii, utf8Form := sanitizeFilename(opts.Filename)
	now := r.store.now()
	return r.store.c.Persistent.SignedURL(r.store.key(r.hash), SignedURLOptions{
		Start:              now.Add(-signedURLBackdate),
		Expiry:             now.Add(opts.Life),
		Read:               true,
		ContentDisposition: contentDisposition(ascii, utf8Form),
		ContentType:        opts.ContentType,
	})
}
