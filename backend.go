package hoard

import (
	"context"
	"io"
	"time"
)

// CopyStatus is the state of a server-side copy as reported by the backend.
type CopyStatus string

// Copy states. The empty string means the object was never a copy target.
const (
	CopyStatusNone    CopyStatus = ""
	CopyStatusPending CopyStatus = "pending"
	CopyStatusSuccess CopyStatus = "success"
	CopyStatusAborted CopyStatus = "aborted"
	CopyStatusFailed  CopyStatus = "failed"
)

// Terminal reports whether the copy has finished, successfully or not.
func (s CopyStatus) Terminal() bool {
	return s != CopyStatusPending
}

// Tier is a backend storage tier.
type Tier string

const (
	TierUnknown Tier = ""
	TierHot     Tier = "hot"
	TierArchive Tier = "archive"
)

// RehydratePriority selects how urgently an archived object is brought back
// to a readable tier.
type RehydratePriority string

const (
	RehydrateStandard RehydratePriority = "standard"
	RehydrateHigh     RehydratePriority = "high"
)

// Props are the backend-reported properties of one object.
type Props struct {
	Size         int64
	Created      time.Time
	LastModified time.Time
	ETag         string
	CopyStatus   CopyStatus
	Tier         Tier

	// RehydratePending is set while the backend is moving the object out
	// of the archive tier.
	RehydratePending bool
}

// ListItem is one entry of a flat container listing.
type ListItem struct {
	Name         string
	Size         int64
	LastModified time.Time
}

// SignedURLOptions describe a time-boxed signed URL for one object.
type SignedURLOptions struct {
	Start  time.Time
	Expiry time.Time

	Read   bool
	Write  bool
	Delete bool

	// ContentDisposition and ContentType, when set, are pinned into the
	// signed URL and override the response headers.
	ContentDisposition string
	ContentType        string
}

// CopyOptions tune a server-side copy.
type CopyOptions struct {
	// Tier, when non-empty, is the destination access tier.
	Tier Tier

	// RehydratePriority, when non-empty, requests rehydration of an
	// archive-tier source.
	RehydratePriority RehydratePriority
}

// Container is one remote blob container. It is the seam between the store
// engine and the storage backend: azureblob implements it against Azure Blob
// Storage, tests implement it in memory.
//
// Every method maps to a single remote call; retry wrapping is the caller's
// concern. Absent objects surface as ErrNotFound from Props, Get and
// OpenRange.
type Container interface {
	// Exists reports whether the named object exists.
	Exists(ctx context.Context, name string) (bool, error)

	// Props returns the properties of the named object.
	Props(ctx context.Context, name string) (Props, error)

	// OpenRange streams length bytes starting at off. length < 0 streams
	// to the end of the object.
	OpenRange(ctx context.Context, name string, off, length int64) (io.ReadCloser, error)

	// Put uploads a small object in one request.
	Put(ctx context.Context, name string, data []byte) error

	// Get downloads a small object wholesale.
	Get(ctx context.Context, name string) ([]byte, error)

	// StageBlock uploads one block of a pending block blob.
	StageBlock(ctx context.Context, name, blockID string, chunk []byte) error

	// CommitBlocks atomically assembles previously staged blocks, in the
	// given order, into the named object.
	CommitBlocks(ctx context.Context, name string, blockIDs []string) error

	// StartCopy begins a server-side copy from srcURL into name. Progress
	// is observed through Props().CopyStatus.
	StartCopy(ctx context.Context, name, srcURL string, opts CopyOptions) error

	// Delete removes the named object. Deleting an absent object returns
	// ErrNotFound.
	Delete(ctx context.Context, name string) error

	// SetTier moves the named object to the given access tier.
	SetTier(ctx context.Context, name string, tier Tier, prio RehydratePriority) error

	// List walks objects with the given name prefix in ascending name
	// order. Returning an error from fn stops the walk.
	List(ctx context.Context, prefix string, fn func(ListItem) error) error

	// SignedURL mints a signed URL for the named object. Fails when the
	// container cannot sign (CanSign is false).
	SignedURL(name string, opts SignedURLOptions) (string, error)

	// CanSign reports whether the container holds credentials able to
	// mint signed URLs.
	CanSign() bool

	// URL returns the object's raw URL, including any ambient SAS token
	// the container was configured with.
	URL(name string) string
}

// CopySource returns a URL usable as a server-side copy source for the named
// object: a fresh short-lived read SAS when the container can sign, the raw
// URL otherwise (SAS-only and public configurations carry access in the URL
// itself).
func CopySource(c Container, name string, now time.Time) (string, error) {
	if !c.CanSign() {
		return c.URL(name), nil
	}
	return c.SignedURL(name, SignedURLOptions{
		Start:  now.Add(-5 * time.Minute),
		Expiry: now.Add(time.Hour),
		Read:   true,
	})
}

// Containers groups the three containers of one backend storage account.
type Containers struct {
	// Persistent holds content-addressed objects.
	Persistent Container

	// Staging holds in-progress uploads and rehydrated archive copies.
	Staging Container

	// Archive holds compressed cold-tier copies.
	Archive Container
}
