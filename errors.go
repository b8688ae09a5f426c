package hoard

import (
	"errors"
	"fmt"
)

// ErrNotFound is the backend-level sentinel for an absent blob. Container
// implementations return it (possibly wrapped) from Props, Get and OpenRange.
// Store callers see *NoSuchBlobError or *DeletedBlobError instead.
var ErrNotFound = errors.New("hoard: blob not found")

// NoSuchBlobError reports a read of an object that does not exist and has no
// tombstone.
type NoSuchBlobError struct {
	Realm string
	Hash  Hash
}

func (e *NoSuchBlobError) Error() string {
	return fmt.Sprintf("hoard: no such blob %s/%s", e.Realm, e.Hash)
}

// DeletedBlobError reports a read of an object that was deliberately deleted.
// It carries the tombstone so callers can surface the deletion reason.
type DeletedBlobError struct {
	Realm     string
	Hash      Hash
	Tombstone Tombstone
}

func (e *DeletedBlobError) Error() string {
	return fmt.Sprintf("hoard: blob %s/%s deleted at %s: %s",
		e.Realm, e.Hash, e.Tombstone.Deleted.Format("2006-01-02"), e.Tombstone.Reason)
}

// HashMismatchError reports content whose recomputed digest does not match
// the requested one. It indicates corruption, never transience, and is not
// retried.
type HashMismatchError struct {
	Name string // backend location of the offending content
	Want Hash
	Got  Hash
}

func (e *HashMismatchError) Error() string {
	return fmt.Sprintf("hoard: content of %s hashes to %s, want %s", e.Name, e.Got, e.Want)
}

// CopyError reports a server-side copy that reached a terminal non-success
// state.
type CopyError struct {
	Dst    string
	Status CopyStatus
}

func (e *CopyError) Error() string {
	return fmt.Sprintf("hoard: copy to %s ended in state %q", e.Dst, e.Status)
}

// CommitError wraps a failure to promote a staged object to its addressed
// location, carrying both locations for diagnostics.
type CommitError struct {
	Src string
	Dst string
	Err error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("hoard: commit %s -> %s: %v", e.Src, e.Dst, e.Err)
}

func (e *CommitError) Unwrap() error { return e.Err }
