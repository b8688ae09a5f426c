package azureblob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/streaming"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/sas"

	"github.com/hoardlabs/hoard"
)

// Container implements hoard.Container over one Azure blob container.
type Container struct {
	client        *container.Client
	cred          *azblob.SharedKeyCredential // nil for SAS-only configurations
	containerName string
}

var _ hoard.Container = (*Container)(nil)

// mapErr folds the backend's really-absent error codes into
// hoard.ErrNotFound while keeping the original response error visible for
// transient classification.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound) {
		return errors.Join(hoard.ErrNotFound, err)
	}
	return err
}

// Exists implements hoard.Container.
func (c *Container) Exists(ctx context.Context, name string) (bool, error) {
	_, err := c.client.NewBlobClient(name).GetProperties(ctx, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Props implements hoard.Container.
func (c *Container) Props(ctx context.Context, name string) (hoard.Props, error) {
	resp, err := c.client.NewBlobClient(name).GetProperties(ctx, nil)
	if err != nil {
		return hoard.Props{}, mapErr(err)
	}
	p := hoard.Props{}
	if resp.ContentLength != nil {
		p.Size = *resp.ContentLength
	}
	if resp.CreationTime != nil {
		p.Created = *resp.CreationTime
	}
	if resp.LastModified != nil {
		p.LastModified = *resp.LastModified
	}
	if resp.ETag != nil {
		p.ETag = string(*resp.ETag)
	}
	if resp.CopyStatus != nil {
		p.CopyStatus = copyStatusFromAzure(*resp.CopyStatus)
	}
	if resp.AccessTier != nil {
		p.Tier = tierFromAzure(*resp.AccessTier)
	}
	p.RehydratePending = resp.ArchiveStatus != nil && *resp.ArchiveStatus != ""
	return p, nil
}

// OpenRange implements hoard.Container. length < 0 streams to the end.
func (c *Container) OpenRange(ctx context.Context, name string, off, length int64) (io.ReadCloser, error) {
	httpRange := blob.HTTPRange{Offset: off}
	if length >= 0 {
		httpRange.Count = length
	}
	resp, err := c.client.NewBlobClient(name).DownloadStream(ctx, &blob.DownloadStreamOptions{
		Range: httpRange,
	})
	if err != nil {
		return nil, mapErr(err)
	}
	return resp.Body, nil
}

// Put implements hoard.Container with a single-request upload.
func (c *Container) Put(ctx context.Context, name string, data []byte) error {
	_, err := c.client.NewBlockBlobClient(name).Upload(ctx, streaming.NopCloser(bytes.NewReader(data)), nil)
	return mapErr(err)
}

// Get implements hoard.Container.
func (c *Container) Get(ctx context.Context, name string) ([]byte, error) {
	rc, err := c.OpenRange(ctx, name, 0, -1)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// StageBlock implements hoard.Container.
func (c *Container) StageBlock(ctx context.Context, name, blockID string, chunk []byte) error {
	_, err := c.client.NewBlockBlobClient(name).StageBlock(ctx, blockID, streaming.NopCloser(bytes.NewReader(chunk)), nil)
	return mapErr(err)
}

// CommitBlocks implements hoard.Container.
func (c *Container) CommitBlocks(ctx context.Context, name string, blockIDs []string) error {
	_, err := c.client.NewBlockBlobClient(name).CommitBlockList(ctx, blockIDs, nil)
	return mapErr(err)
}

// StartCopy implements hoard.Container.
func (c *Container) StartCopy(ctx context.Context, name, srcURL string, opts hoard.CopyOptions) error {
	azOpts := &blob.StartCopyFromURLOptions{}
	if t := tierToAzure(opts.Tier); t != nil {
		azOpts.Tier = t
	}
	if p := rehydratePriorityToAzure(opts.RehydratePriority); p != nil {
		azOpts.RehydratePriority = p
	}
	_, err := c.client.NewBlobClient(name).StartCopyFromURL(ctx, srcURL, azOpts)
	return mapErr(err)
}

// Delete implements hoard.Container.
func (c *Container) Delete(ctx context.Context, name string) error {
	_, err := c.client.NewBlobClient(name).Delete(ctx, nil)
	return mapErr(err)
}

// SetTier implements hoard.Container.
func (c *Container) SetTier(ctx context.Context, name string, tier hoard.Tier, prio hoard.RehydratePriority) error {
	t := tierToAzure(tier)
	if t == nil {
		return fmt.Errorf("azureblob: set tier of %s: unknown tier %q", name, tier)
	}
	opts := &blob.SetTierOptions{}
	if p := rehydratePriorityToAzure(prio); p != nil {
		opts.RehydratePriority = p
	}
	_, err := c.client.NewBlobClient(name).SetTier(ctx, *t, opts)
	return mapErr(err)
}

// List implements hoard.Container. Azure lists flat pages in ascending name
// order already.
func (c *Container) List(ctx context.Context, prefix string, fn func(hoard.ListItem) error) error {
	pager := c.client.NewListBlobsFlatPager(&container.ListBlobsFlatOptions{
		Prefix: to.Ptr(prefix),
	})
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return mapErr(err)
		}
		for _, item := range page.Segment.BlobItems {
			if item.Name == nil {
				continue
			}
			li := hoard.ListItem{Name: *item.Name}
			if item.Properties != nil {
				if item.Properties.ContentLength != nil {
					li.Size = *item.Properties.ContentLength
				}
				if item.Properties.LastModified != nil {
					li.LastModified = *item.Properties.LastModified
				}
			}
			if err := fn(li); err != nil {
				return err
			}
		}
	}
	return nil
}

// SignedURL implements hoard.Container. It needs the account's shared key;
// SAS-only configurations cannot sign.
func (c *Container) SignedURL(name string, opts hoard.SignedURLOptions) (string, error) {
	if c.cred == nil {
		return "", fmt.Errorf("azureblob: container %q holds no shared key, cannot sign URLs", c.containerName)
	}
	perms := sas.BlobPermissions{
		Read:   opts.Read,
		Write:  opts.Write,
		Create: opts.Write,
		Delete: opts.Delete,
	}
	values := sas.BlobSignatureValues{
		Protocol:           sas.ProtocolHTTPSandHTTP, // Azurite and test endpoints speak plain HTTP
		StartTime:          opts.Start.UTC(),
		ExpiryTime:         opts.Expiry.UTC(),
		Permissions:        perms.String(),
		ContainerName:      c.containerName,
		BlobName:           name,
		ContentDisposition: opts.ContentDisposition,
		ContentType:        opts.ContentType,
	}
	qp, err := values.SignWithSharedKey(c.cred)
	if err != nil {
		return "", fmt.Errorf("azureblob: sign URL for %s: %w", name, err)
	}
	return c.client.NewBlobClient(name).URL() + "?" + qp.Encode(), nil
}

// CanSign implements hoard.Container.
func (c *Container) CanSign() bool { return c.cred != nil }

// URL implements hoard.Container. The blob name is percent-encoded in the
// path, which the service treats as equivalent to the raw form. For SAS-only
// configurations the returned URL carries the ambient SAS token.
func (c *Container) URL(name string) string {
	return c.client.NewBlobClient(name).URL()
}

func copyStatusFromAzure(s blob.CopyStatusType) hoard.CopyStatus {
	switch s {
	case blob.CopyStatusTypePending:
		return hoard.CopyStatusPending
	case blob.CopyStatusTypeSuccess:
		return hoard.CopyStatusSuccess
	case blob.CopyStatusTypeAborted:
		return hoard.CopyStatusAborted
	case blob.CopyStatusTypeFailed:
		return hoard.CopyStatusFailed
	default:
		return hoard.CopyStatus(strings.ToLower(string(s)))
	}
}

func tierFromAzure(tier string) hoard.Tier {
	switch strings.ToLower(tier) {
	case "hot", "cool", "cold":
		// Everything readable without rehydration counts as hot here.
		return hoard.TierHot
	case "archive":
		return hoard.TierArchive
	default:
		return hoard.TierUnknown
	}
}

func tierToAzure(tier hoard.Tier) *blob.AccessTier {
	switch tier {
	case hoard.TierHot:
		return to.Ptr(blob.AccessTierHot)
	case hoard.TierArchive:
		return to.Ptr(blob.AccessTierArchive)
	default:
		return nil
	}
}

func rehydratePriorityToAzure(p hoard.RehydratePriority) *blob.RehydratePriority {
	switch p {
	case hoard.RehydrateStandard:
		return to.Ptr(blob.RehydratePriorityStandard)
	case hoard.RehydrateHigh:
		return to.Ptr(blob.RehydratePriorityHigh)
	default:
		return nil
	}
}
