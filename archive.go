package hoard

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/klauspost/compress/gzip"

	"github.com/hoardlabs/hoard/retry"
)

// ArchiveState is the derived position of an object in the archive
// lifecycle. It is never persisted: each TryUnArchiveBlob call recomputes it
// from backend observations, which keeps the lifecycle self-healing across
// process crashes mid-rehydration.
type ArchiveState int

const (
	// ArchiveDoesNotExist: no persistent, staged, or archived copy exists.
	ArchiveDoesNotExist ArchiveState = iota

	// ArchiveRehydrating: the backend is moving the archived copy to a
	// readable tier; call again later.
	ArchiveRehydrating

	// ArchiveDone: the object is readable at its persistent location.
	ArchiveDone
)

func (s ArchiveState) String() string {
	switch s {
	case ArchiveDoesNotExist:
		return "does-not-exist"
	case ArchiveRehydrating:
		return "rehydrating"
	case ArchiveDone:
		return "done"
	default:
		return fmt.Sprintf("ArchiveState(%d)", int(s))
	}
}

// rehydrateName is the staging location of an archived object being brought
// back. It is deterministic so repeated TryUnArchiveBlob calls converge on
// the same in-progress copy.
func rehydrateName(key string) string {
	return "rehydrate/" + key
}

// ArchiveBlob implements Store: it stream-copies the persistent object
// through a gzip compressor into the archive container under the same key,
// then moves the archive copy to the coldest tier. A blob that already has
// an archive copy is left alone.
func (s *BlobStore) ArchiveBlob(ctx context.Context, h Hash) error {
	key := s.key(h)

	exists, err := retry.Val(ctx, s.retry, "archive existence check", func(ctx context.Context) (bool, error) {
		return s.c.Archive.Exists(ctx, key)
	})
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	src, err := retry.Val(ctx, s.retry, "archive source open", func(ctx context.Context) (io.ReadCloser, error) {
		return s.c.Persistent.OpenRange(ctx, key, 0, -1)
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return s.notFoundError(ctx, h)
		}
		return err
	}
	defer src.Close()

	up := newBlockUploader(ctx, s.c.Archive, key, s.retry)
	gz := gzip.NewWriter(up)
	if _, err := io.Copy(gz, src); err != nil {
		up.abandon()
		return fmt.Errorf("hoard: archive %s: %w", key, err)
	}
	if err := gz.Close(); err != nil {
		up.abandon()
		return fmt.Errorf("hoard: archive %s: %w", key, err)
	}
	if err := up.commit(ctx); err != nil {
		return fmt.Errorf("hoard: archive %s: %w", key, err)
	}

	return s.retry.Do(ctx, "archive set tier", func(ctx context.Context) error {
		return s.c.Archive.SetTier(ctx, key, TierArchive, "")
	})
}

// TryUnArchiveBlob implements Store. The state is recomputed each call from
// three probes in fixed priority: persistent, then the staged rehydrated
// copy, then the archive tier.
func (s *BlobStore) TryUnArchiveBlob(ctx context.Context, h Hash) (ArchiveState, error) {
	key := s.key(h)

	exists, err := retry.Val(ctx, s.retry, "unarchive persistent probe", func(ctx context.Context) (bool, error) {
		return s.c.Persistent.Exists(ctx, key)
	})
	if err != nil {
		return ArchiveDoesNotExist, err
	}
	if exists {
		return ArchiveDone, nil
	}

	staged := rehydrateName(key)
	props, err := retry.Val(ctx, s.retry, "unarchive staging probe", func(ctx context.Context) (Props, error) {
		return s.c.Staging.Props(ctx, staged)
	})
	switch {
	case err == nil:
		if props.CopyStatus == CopyStatusPending || props.RehydratePending || (props.Tier != TierHot && props.Tier != TierUnknown) {
			return ArchiveRehydrating, nil
		}
		if err := s.restoreStaged(ctx, staged, h); err != nil {
			return ArchiveRehydrating, err
		}
		return ArchiveDone, nil
	case !errors.Is(err, ErrNotFound):
		return ArchiveDoesNotExist, err
	}

	archived, err := retry.Val(ctx, s.retry, "unarchive archive probe", func(ctx context.Context) (bool, error) {
		return s.c.Archive.Exists(ctx, key)
	})
	if err != nil {
		return ArchiveDoesNotExist, err
	}
	if !archived {
		return ArchiveDoesNotExist, nil
	}

	src, err := CopySource(s.c.Archive, key, s.now())
	if err != nil {
		return ArchiveDoesNotExist, err
	}
	if err := s.retry.Do(ctx, "unarchive rehydrate copy", func(ctx context.Context) error {
		return s.c.Staging.StartCopy(ctx, staged, src, CopyOptions{
			Tier:              TierHot,
			RehydratePriority: RehydrateHigh,
		})
	}); err != nil {
		return ArchiveDoesNotExist, err
	}
	return ArchiveRehydrating, nil
}

// restoreStaged decompresses a rehydrated archive copy through the normal
// commit path and verifies the recomputed hash. A mismatch is corruption,
// not transience: it fails hard and is never retried.
func (s *BlobStore) restoreStaged(ctx context.Context, staged string, want Hash) error {
	src, err := retry.Val(ctx, s.retry, "restore open", func(ctx context.Context) (io.ReadCloser, error) {
		return s.c.Staging.OpenRange(ctx, staged, 0, -1)
	})
	if err != nil {
		return err
	}
	defer src.Close()

	gz, err := gzip.NewReader(src)
	if err != nil {
		return fmt.Errorf("hoard: restore %s: %w", staged, err)
	}

	w := s.StartWriting(ctx)
	if _, err := io.Copy(w, gz); err != nil {
		w.Abort()
		return fmt.Errorf("hoard: restore %s: %w", staged, err)
	}
	if err := gz.Close(); err != nil {
		w.Abort()
		return fmt.Errorf("hoard: restore %s: %w", staged, err)
	}
	res, err := w.Commit(ctx)
	if err != nil {
		return err
	}
	if res.Hash != want {
		return &HashMismatchError{Name: staged, Want: want, Got: res.Hash}
	}
	s.scheduleStagedDelete(staged)
	return nil
}

// WaitForUnArchive polls TryUnArchiveBlob until the object leaves the
// rehydrating state or ctx is cancelled. Rehydration can take hours; set a
// deadline accordingly.
func (s *BlobStore) WaitForUnArchive(ctx context.Context, h Hash) (ArchiveState, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = 0

	var state ArchiveState
	err := backoff.Retry(func() error {
		var err error
		state, err = s.TryUnArchiveBlob(ctx, h)
		if err != nil {
			return backoff.Permanent(err)
		}
		if state == ArchiveRehydrating {
			return errStillRehydrating
		}
		return nil
	}, backoff.WithContext(bo, ctx))
	return state, err
}

var errStillRehydrating = errors.New("hoard: still rehydrating")
