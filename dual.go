package hoard

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hoardlabs/hoard/retry"
)

// DualStore reconciles two backend stores during a live migration window:
// reads are served from whichever side has the object, writes always target
// the new side, and serving a read from the old side triggers a background
// copy-forward so the migration converges under its own read traffic.
type DualStore struct {
	old *BlobStore
	new *BlobStore
	log *zap.Logger
}

var _ Store = (*DualStore)(nil)

// NewDualStore wraps an old and a new backend store for migration.
func NewDualStore(old, new *BlobStore) *DualStore {
	return &DualStore{old: old, new: new, log: new.log}
}

// Blob implements ReadOnlyStore. The returned handle decides which side
// serves it at most once, on first use, and caches that decision.
func (d *DualStore) Blob(h Hash) BlobRef {
	return &dualBlobRef{d: d, hash: h}
}

// ListBlobs implements ReadOnlyStore by concatenating both sides. Hashes are
// ascending within one side only; callers must not assume a global order,
// and an object mid-migration can appear on both sides.
func (d *DualStore) ListBlobs(ctx context.Context, hexPrefix string, fn ListBlobsFunc) (int, error) {
	oldCount, err := d.old.ListBlobs(ctx, hexPrefix, fn)
	if err != nil {
		return oldCount, err
	}
	newCount, err := d.new.ListBlobs(ctx, hexPrefix, fn)
	return oldCount + newCount, err
}

// StartWriting implements Store; writes target the new side only.
func (d *DualStore) StartWriting(ctx context.Context) *Writer {
	return d.new.StartWriting(ctx)
}

// SignedUploadURL implements Store on the new side.
func (d *DualStore) SignedUploadURL(name string, life time.Duration) (string, error) {
	return d.new.SignedUploadURL(name, life)
}

// CommitStaged implements Store on the new side.
func (d *DualStore) CommitStaged(ctx context.Context, name string) (BlobRef, error) {
	return d.new.CommitStaged(ctx, name)
}

// DeleteWithReason implements Store. Both sides are covered: any old-side
// copy is deleted too (leaving it would let a later read copy the deleted
// object forward again), and the tombstone always ends up on the new side,
// because that is where reads resolve not-found.
func (d *DualStore) DeleteWithReason(ctx context.Context, h Hash, reason string) error {
	oldErr := d.old.DeleteWithReason(ctx, h, reason)
	var nsb *NoSuchBlobError
	if oldErr != nil && !errors.As(oldErr, &nsb) {
		return oldErr
	}
	newErr := d.new.DeleteWithReason(ctx, h, reason)
	if newErr != nil && errors.As(newErr, &nsb) && oldErr == nil {
		// Only the old side had it. Its tombstone must be mirrored to the
		// new side, or reads would degrade the recorded reason into a
		// plain not-found.
		return d.mirrorTombstone(ctx, h)
	}
	return newErr
}

// mirrorTombstone copies the old side's tombstone record for h onto the new
// side, preserving its creation time, reason and size.
func (d *DualStore) mirrorTombstone(ctx context.Context, h Hash) error {
	data, err := retry.Val(ctx, d.old.retry, "read tombstone", func(ctx context.Context) ([]byte, error) {
		return d.old.c.Persistent.Get(ctx, d.old.key(h)+tombstoneSuffix)
	})
	if err != nil {
		return err
	}
	return d.new.retry.Do(ctx, "mirror tombstone", func(ctx context.Context) error {
		return d.new.c.Persistent.Put(ctx, d.new.key(h)+tombstoneSuffix, data)
	})
}

// ArchiveBlob implements Store on the new side.
func (d *DualStore) ArchiveBlob(ctx context.Context, h Hash) error {
	return d.new.ArchiveBlob(ctx, h)
}

// TryUnArchiveBlob implements Store on the new side.
func (d *DualStore) TryUnArchiveBlob(ctx context.Context, h Hash) (ArchiveState, error) {
	return d.new.TryUnArchiveBlob(ctx, h)
}

// Flush waits for background work (copy-forward, staging cleanup) on both
// sides.
func (d *DualStore) Flush() {
	d.old.Flush()
	d.new.Flush()
}

// dualBlobRef resolves against whichever side has the object. The decision
// is a one-shot memoized computation so its side effect — triggering the
// background copy-forward — happens at most once per handle.
type dualBlobRef struct {
	d    *DualStore
	hash Hash

	once sync.Once
	ref  BlobRef
	err  error
}

var _ BlobRef = (*dualBlobRef)(nil)

func (r *dualBlobRef) Realm() string { return r.d.new.realm }
func (r *dualBlobRef) Hash() Hash    { return r.hash }

func (r *dualBlobRef) resolve(ctx context.Context) (BlobRef, error) {
	r.once.Do(func() {
		r.ref, r.err = r.d.resolveSide(ctx, r.hash)
	})
	return r.ref, r.err
}

func (r *dualBlobRef) Exists(ctx context.Context) (bool, error) {
	ref, err := r.resolve(ctx)
	if err != nil {
		return false, err
	}
	return ref.Exists(ctx)
}

func (r *dualBlobRef) Size(ctx context.Context) (int64, error) {
	ref, err := r.resolve(ctx)
	if err != nil {
		return 0, err
	}
	return ref.Size(ctx)
}

func (r *dualBlobRef) Open(ctx context.Context, opts ...OpenOption) (*ReadStream, error) {
	ref, err := r.resolve(ctx)
	if err != nil {
		return nil, err
	}
	return ref.Open(ctx, opts...)
}

func (r *dualBlobRef) DownloadURL(ctx context.Context, opts DownloadURLOptions) (string, error) {
	ref, err := r.resolve(ctx)
	if err != nil {
		return "", err
	}
	return ref.DownloadURL(ctx, opts)
}

// resolveSide picks the serving side for one object: the new side when it
// holds a fully-copied object, the old side (plus a copy-forward trigger)
// when the new side is absent or holds an unfinished copy.
func (d *DualStore) resolveSide(ctx context.Context, h Hash) (BlobRef, error) {
	props, err := retry.Val(ctx, d.new.retry, "dual resolve", func(ctx context.Context) (Props, error) {
		return d.new.c.Persistent.Props(ctx, d.new.key(h))
	})
	switch {
	case err == nil && (props.CopyStatus == CopyStatusNone || props.CopyStatus == CopyStatusSuccess):
		return d.new.Blob(h), nil
	case err != nil && !errors.Is(err, ErrNotFound):
		return nil, err
	}

	oldExists, err := retry.Val(ctx, d.old.retry, "dual old probe", func(ctx context.Context) (bool, error) {
		return d.old.c.Persistent.Exists(ctx, d.old.key(h))
	})
	if err != nil {
		return nil, err
	}
	if !oldExists {
		// Absent (or half-copied) on new, gone on old: serve new so
		// not-found and tombstone semantics come from the new side.
		return d.new.Blob(h), nil
	}

	d.triggerCopyForward(h)
	return d.old.Blob(h), nil
}

// triggerCopyForward starts a fire-and-forget copy of one object from the
// old side to the new side. Concurrent triggers for the same object collapse
// into one copy; failures are logged and dropped, and the next read simply
// triggers again.
func (d *DualStore) triggerCopyForward(h Hash) {
	dst := d.new.key(h)
	d.new.bg.launch("copy-forward", "copyfwd:"+dst, 0, func(ctx context.Context) error {
		props, err := retry.Val(ctx, d.new.retry, "copy-forward destination probe", func(ctx context.Context) (Props, error) {
			return d.new.c.Persistent.Props(ctx, dst)
		})
		switch {
		case err == nil && (props.CopyStatus == CopyStatusNone || props.CopyStatus == CopyStatusSuccess):
			return nil
		case err == nil && props.CopyStatus == CopyStatusPending:
			// Someone else's copy is in flight; just watch it.
			return d.new.awaitCopy(ctx, d.new.c.Persistent, dst)
		case err == nil:
			// A previous copy died; clear the dead destination and redo.
			if err := d.new.c.Persistent.Delete(ctx, dst); err != nil && !errors.Is(err, ErrNotFound) {
				return err
			}
		case !errors.Is(err, ErrNotFound):
			return err
		}
		src, err := CopySource(d.old.c.Persistent, d.old.key(h), d.new.now())
		if err != nil {
			return err
		}
		if err := d.new.retry.Do(ctx, "copy-forward", func(ctx context.Context) error {
			return d.new.c.Persistent.StartCopy(ctx, dst, src, CopyOptions{})
		}); err != nil {
			return err
		}
		return d.new.awaitCopy(ctx, d.new.c.Persistent, dst)
	})
}
