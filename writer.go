package hoard

import (
	"context"
	"errors"
	"hash"
)

// maxBlockSize is the backend's per-request block limit. Writes are cut into
// blocks of at most this size.
const maxBlockSize = 4 << 20

// uploadConcurrency bounds in-flight block uploads per writer.
const uploadConcurrency = 4

// ErrWriterClosed is returned by Write after Commit or Abort.
var ErrWriterClosed = errors.New("hoard: writer already committed or aborted")

// CommitResult reports the outcome of a streaming write.
type CommitResult struct {
	Hash Hash
	Size int64

	// AlreadyExisted is set when identical content was stored before this
	// write; the existing object (and its metadata) is left untouched.
	AlreadyExisted bool
}

// Writer accepts one byte stream, hashing it incrementally while uploading
// fixed-size blocks to a staging object. Commit promotes the staged object
// to its content address with at-most-one-copy-per-hash semantics.
//
// Writer is not safe for concurrent use, but the block uploads it dispatches
// run concurrently under the hood.
type Writer struct {
	store    *BlobStore
	uploader *blockUploader
	hasher   hash.Hash
	size     int64
	closed   bool
}

// StartWriting implements Store. ctx governs the block uploads dispatched by
// subsequent Write calls.
func (s *BlobStore) StartWriting(ctx context.Context) *Writer {
	name := "upload-" + randomName()
	return &Writer{
		store:    s,
		uploader: newBlockUploader(ctx, s.c.Staging, name, s.retry),
		hasher:   newHasher(),
	}
}

// StagedName returns the opaque staging name of the in-progress upload.
func (w *Writer) StagedName() string { return w.uploader.name }

// Write implements io.Writer. A single write larger than the block limit is
// split into multiple concurrently-uploaded blocks.
func (w *Writer) Write(p []byte) (int, error) {
	if w.closed {
		return 0, ErrWriterClosed
	}
	w.hasher.Write(p) // never fails
	w.size += int64(len(p))
	return w.uploader.Write(p)
}

// Commit finalizes the staged object, computes the content hash, and
// promotes the object to its address. If identical content already exists,
// the staged copy is discarded after a grace delay and the result reports
// AlreadyExisted.
func (w *Writer) Commit(ctx context.Context) (CommitResult, error) {
	if w.closed {
		return CommitResult{}, ErrWriterClosed
	}
	w.closed = true

	if err := w.uploader.commit(ctx); err != nil {
		w.store.scheduleStagedDelete(w.uploader.name)
		return CommitResult{}, err
	}

	h := hashOf(w.hasher)
	alreadyExisted, err := w.store.promoteStaged(ctx, w.uploader.name, h)
	if err != nil {
		return CommitResult{}, err
	}
	return CommitResult{Hash: h, Size: w.size, AlreadyExisted: alreadyExisted}, nil
}

// Abort abandons the write. In-flight block uploads are drained and the
// staged object is deleted after the grace delay; both run as tracked
// background tasks covered by Flush.
func (w *Writer) Abort() {
	if w.closed {
		return
	}
	w.closed = true
	u := w.uploader
	w.store.bg.launch("abort drain", "abort:"+u.name, 0, func(context.Context) error {
		u.abandon()
		w.store.scheduleStagedDelete(u.name)
		return nil
	})
}
