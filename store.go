package hoard

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/hoardlabs/hoard/retry"
)

// ListBlobsFunc receives one listed object per call. Returning an error
// stops the listing.
type ListBlobsFunc func(h Hash, size int64, lastModified time.Time) error

// ReadOnlyStore is the read surface of a hash-addressed store.
type ReadOnlyStore interface {
	// Blob returns a lazily-resolved handle for the given content hash.
	// The handle does not imply existence.
	Blob(h Hash) BlobRef

	// ListBlobs walks stored objects whose hash starts with the given hex
	// prefix, in ascending hash order per backend side, and returns the
	// number of objects seen.
	ListBlobs(ctx context.Context, hexPrefix string, fn ListBlobsFunc) (int, error)
}

// Store is a content-addressable object store: callers write byte streams,
// the store computes their hash, deduplicates identical content, and serves
// reads by hash.
type Store interface {
	ReadOnlyStore

	// StartWriting begins a streaming write of one object.
	StartWriting(ctx context.Context) *Writer

	// SignedUploadURL mints a write+delete signed URL for an external
	// upload into staging under the given opaque name.
	SignedUploadURL(name string, life time.Duration) (string, error)

	// CommitStaged hashes an externally-uploaded staged object and
	// promotes it to its content address.
	CommitStaged(ctx context.Context, name string) (BlobRef, error)

	// DeleteWithReason writes a tombstone carrying the reason, then
	// deletes the object. Subsequent reads surface the tombstone.
	DeleteWithReason(ctx context.Context, h Hash, reason string) error

	// ArchiveBlob compresses the object into the archive tier. Idempotent.
	ArchiveBlob(ctx context.Context, h Hash) error

	// TryUnArchiveBlob advances the restore of an archived object by one
	// step and reports its current state.
	TryUnArchiveBlob(ctx context.Context, h Hash) (ArchiveState, error)
}

// BlobStore is the single-backend Store implementation.
type BlobStore struct {
	realm string
	c     Containers
	retry retry.Policy
	log   *zap.Logger
	bg    *runner
	grace time.Duration
	now   func() time.Time
}

var _ Store = (*BlobStore)(nil)

// NewStore builds a store over one backend account. realm partitions object
// names so tenants sharing containers cannot collide.
func NewStore(c Containers, realm string, opts ...Option) *BlobStore {
	cfg := newConfig(opts)
	return &BlobStore{
		realm: realm,
		c:     c,
		retry: cfg.retry,
		log:   cfg.log.With(zap.String("realm", realm)),
		bg:    newRunner(cfg.bgLimit, cfg.log),
		grace: cfg.grace,
		now:   cfg.now,
	}
}

// Realm returns the store's tenant partition key.
func (s *BlobStore) Realm() string { return s.realm }

// key is the location key of a content hash within this realm.
func (s *BlobStore) key(h Hash) string {
	return s.realm + "/" + h.String()
}

// Blob implements ReadOnlyStore.
func (s *BlobStore) Blob(h Hash) BlobRef {
	return &blobRef{store: s, hash: h}
}

// ListBlobs implements ReadOnlyStore. Tombstone records are skipped.
//
// Backends list in ascending name order, so a walk that fails partway and is
// retried resumes past the last handled name instead of re-delivering
// objects: fn sees every object at most once.
func (s *BlobStore) ListBlobs(ctx context.Context, hexPrefix string, fn ListBlobsFunc) (int, error) {
	prefix := s.realm + "/" + strings.ToLower(hexPrefix)
	count := 0
	handled := ""
	err := s.retry.Do(ctx, "list blobs", func(ctx context.Context) error {
		return s.c.Persistent.List(ctx, prefix, func(item ListItem) error {
			if handled != "" && item.Name <= handled {
				return nil // replayed by a retried walk
			}
			name, ok := strings.CutPrefix(item.Name, s.realm+"/")
			if !ok || strings.HasSuffix(name, tombstoneSuffix) {
				handled = item.Name
				return nil
			}
			h, err := ParseHash(name)
			if err != nil {
				handled = item.Name // foreign object in the container
				return nil
			}
			if err := fn(h, item.Size, item.LastModified); err != nil {
				return err
			}
			handled = item.Name
			count++
			return nil
		})
	})
	return count, err
}

// SignedUploadURL implements Store.
func (s *BlobStore) SignedUploadURL(name string, life time.Duration) (string, error) {
	now := s.now()
	return s.c.Staging.SignedURL(name, SignedURLOptions{
		Start:  now.Add(-signedURLBackdate),
		Expiry: now.Add(life),
		Write:  true,
		Delete: true,
	})
}

// CommitStaged implements Store. The staged object is re-read through a
// fixed-size buffer to compute its hash; huge objects are never held in
// memory wholesale.
func (s *BlobStore) CommitStaged(ctx context.Context, name string) (BlobRef, error) {
	if _, err := retry.Val(ctx, s.retry, "staged props", func(ctx context.Context) (Props, error) {
		return s.c.Staging.Props(ctx, name)
	}); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("hoard: staged object %q: %w", name, ErrNotFound)
		}
		return nil, err
	}

	hasher := newHasher()
	err := s.retry.Do(ctx, "staged hash", func(ctx context.Context) error {
		hasher.Reset()
		rc, err := s.c.Staging.OpenRange(ctx, name, 0, -1)
		if err != nil {
			return err
		}
		defer rc.Close()
		buf := make([]byte, maxBlockSize)
		_, err = io.CopyBuffer(hasher, rc, buf)
		return err
	})
	if err != nil {
		return nil, err
	}
	h := hashOf(hasher)

	if _, err := s.promoteStaged(ctx, name, h); err != nil {
		return nil, err
	}
	return s.Blob(h), nil
}

// DeleteWithReason implements Store.
func (s *BlobStore) DeleteWithReason(ctx context.Context, h Hash, reason string) error {
	key := s.key(h)
	props, err := retry.Val(ctx, s.retry, "delete props", func(ctx context.Context) (Props, error) {
		return s.c.Persistent.Props(ctx, key)
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// Already tombstoned deletions are idempotent.
			if s.retry.OrFalse(ctx, "tombstone probe", func(ctx context.Context) (bool, error) {
				return s.c.Persistent.Exists(ctx, key+tombstoneSuffix)
			}) {
				return nil
			}
			return &NoSuchBlobError{Realm: s.realm, Hash: h}
		}
		return err
	}

	ts := Tombstone{
		Created: props.Created,
		Deleted: s.now(),
		Reason:  reason,
		Size:    props.Size,
	}
	data, err := ts.marshal()
	if err != nil {
		return fmt.Errorf("hoard: marshal tombstone for %s: %w", key, err)
	}
	if err := s.retry.Do(ctx, "write tombstone", func(ctx context.Context) error {
		return s.c.Persistent.Put(ctx, key+tombstoneSuffix, data)
	}); err != nil {
		return err
	}
	return s.retry.Do(ctx, "delete blob", func(ctx context.Context) error {
		err := s.c.Persistent.Delete(ctx, key)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	})
}

// tombstone fetches the tombstone record for a hash, if any.
func (s *BlobStore) tombstone(ctx context.Context, h Hash) (Tombstone, bool) {
	data, err := retry.Val(ctx, s.retry, "read tombstone", func(ctx context.Context) ([]byte, error) {
		return s.c.Persistent.Get(ctx, s.key(h)+tombstoneSuffix)
	})
	if err != nil {
		return Tombstone{}, false
	}
	ts, err := unmarshalTombstone(data)
	if err != nil {
		s.log.Warn("malformed tombstone", zap.String("hash", h.String()), zap.Error(err))
		return Tombstone{}, false
	}
	return ts, true
}

// notFoundError resolves a backend not-found into the caller-visible error:
// DeletedBlobError when a tombstone exists, NoSuchBlobError otherwise. The
// tombstone lookup runs only on this fallback path.
func (s *BlobStore) notFoundError(ctx context.Context, h Hash) error {
	if ts, ok := s.tombstone(ctx, h); ok {
		return &DeletedBlobError{Realm: s.realm, Hash: h, Tombstone: ts}
	}
	return &NoSuchBlobError{Realm: s.realm, Hash: h}
}

// promoteStaged moves a fully-written staged object to its content address.
// It reports true when an object for the hash already existed, in which case
// the staged copy is discarded (after the grace delay) and the existing
// object is left untouched.
func (s *BlobStore) promoteStaged(ctx context.Context, stagedName string, h Hash) (alreadyExisted bool, err error) {
	dst := s.key(h)
	exists, err := retry.Val(ctx, s.retry, "commit existence check", func(ctx context.Context) (bool, error) {
		return s.c.Persistent.Exists(ctx, dst)
	})
	if err != nil {
		return false, &CommitError{Src: stagedName, Dst: dst, Err: err}
	}
	if exists {
		s.scheduleStagedDelete(stagedName)
		return true, nil
	}

	src, err := CopySource(s.c.Staging, stagedName, s.now())
	if err != nil {
		return false, &CommitError{Src: stagedName, Dst: dst, Err: err}
	}
	if err := s.retry.Do(ctx, "commit copy", func(ctx context.Context) error {
		return s.c.Persistent.StartCopy(ctx, dst, src, CopyOptions{})
	}); err != nil {
		return false, &CommitError{Src: stagedName, Dst: dst, Err: err}
	}
	if err := s.awaitCopy(ctx, s.c.Persistent, dst); err != nil {
		return false, &CommitError{Src: stagedName, Dst: dst, Err: err}
	}
	s.scheduleStagedDelete(stagedName)
	return false, nil
}

// errCopyPending drives the copy-status poll loop.
var errCopyPending = errors.New("hoard: copy still pending")

// awaitCopy polls the destination's copy status until it is terminal.
// Pending status backs off exponentially from 250ms, capped at 120s; a
// terminal non-success state is fatal.
func (s *BlobStore) awaitCopy(ctx context.Context, c Container, name string) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 250 * time.Millisecond
	bo.RandomizationFactor = 0
	bo.Multiplier = 2
	bo.MaxInterval = 120 * time.Second
	bo.MaxElapsedTime = 0

	return backoff.Retry(func() error {
		props, err := retry.Val(ctx, s.retry, "copy status", func(ctx context.Context) (Props, error) {
			return c.Props(ctx, name)
		})
		if err != nil {
			return backoff.Permanent(err)
		}
		switch props.CopyStatus {
		case CopyStatusSuccess, CopyStatusNone:
			return nil
		case CopyStatusPending:
			return errCopyPending
		default:
			return backoff.Permanent(&CopyError{Dst: name, Status: props.CopyStatus})
		}
	}, backoff.WithContext(bo, ctx))
}

// scheduleStagedDelete removes a staged object after the grace delay. The
// delay tolerates a concurrent writer of identical content still referencing
// the staged name.
func (s *BlobStore) scheduleStagedDelete(name string) {
	s.bg.launch("staging cleanup", "cleanup:"+name, s.grace, func(ctx context.Context) error {
		err := s.c.Staging.Delete(ctx, name)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	})
}

// Flush blocks until in-flight background tasks (copy-forward, staging
// cleanup) have finished. Intended for tests and orderly shutdown.
func (s *BlobStore) Flush() {
	s.bg.wait()
}
