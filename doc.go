// Package hoard is a content-addressable object store built on a remote
// blob-storage backend.
//
// Callers write arbitrary byte streams; the store computes a content hash on
// the fly, deduplicates identical content, and serves reads by hash through
// seekable streams or short-lived signed URLs. Objects live under
// realm-scoped keys so tenants sharing containers cannot collide.
//
// # Writing
//
//	store := hoard.NewStore(containers, "tenant-42")
//	w := store.StartWriting(ctx)
//	io.Copy(w, src)
//	res, err := w.Commit(ctx) // res.Hash addresses the content
//
// Identical content written twice converges to one stored object; the second
// commit reports AlreadyExisted. Browser uploads go through SignedUploadURL
// plus CommitStaged instead.
//
// # Reading
//
//	ref := store.Blob(hash)
//	rs, err := ref.Open(ctx)       // seekable stream
//	url, err := ref.DownloadURL(ctx, hoard.DownloadURLOptions{...})
//
// Absent objects surface as *NoSuchBlobError; objects removed with
// DeleteWithReason surface as *DeletedBlobError carrying the recorded
// tombstone.
//
// # Migration and archiving
//
// NewDualStore wraps an old and a new backend during a live migration:
// reads are served from whichever side has the object while a background
// copy-forward converges the new side. ArchiveBlob and TryUnArchiveBlob move
// cold objects to a compressed archive tier and restore them on demand.
//
// Every remote call is wrapped in the transient-failure policy of the retry
// subpackage. The azureblob subpackage provides the Azure Blob Storage
// backend.
package hoard
