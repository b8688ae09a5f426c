package hoard

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"
)

// memBackend is a registry of in-memory containers that can copy between
// each other, standing in for one storage account.
type memBackend struct {
	mu         sync.Mutex
	containers map[string]*memContainer
	etag       int

	// HoldCopies, when set, leaves every started copy in the pending
	// state until CompleteCopies is called.
	HoldCopies bool

	// Signing controls CanSign of all containers (default true).
	Signing bool

	// OnOp, when set, runs before every container operation; a non-nil
	// return aborts the operation with that error. Used to inject
	// backend failures.
	OnOp func(op, name string) error
}

func newMemBackend() *memBackend {
	return &memBackend{
		containers: make(map[string]*memContainer),
		Signing:    true,
	}
}

// NewContainers returns a fresh persistent/staging/archive triple.
func (b *memBackend) NewContainers() Containers {
	return b.NewContainersPrefixed("")
}

// NewContainersPrefixed returns a container triple with prefixed names, so
// one backend registry can host both sides of a dual-store test (copies
// resolve sources within one registry).
func (b *memBackend) NewContainersPrefixed(prefix string) Containers {
	return Containers{
		Persistent: b.Container(prefix + "persistent"),
		Staging:    b.Container(prefix + "staging"),
		Archive:    b.Container(prefix + "archive"),
	}
}

// Container returns the named container, creating it on first use.
func (b *memBackend) Container(name string) *memContainer {
	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok := b.containers[name]; ok {
		return c
	}
	c := &memContainer{
		backend: b,
		name:    name,
		objects: make(map[string]*memObject),
		blocks:  make(map[string]map[string][]byte),
	}
	b.containers[name] = c
	return c
}

// CompleteCopies finalizes all pending copies across all containers.
func (b *memBackend) CompleteCopies() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range b.containers {
		for _, obj := range c.objects {
			if obj.copyStatus == CopyStatusPending {
				obj.data = obj.pendingData
				obj.pendingData = nil
				obj.copyStatus = CopyStatusSuccess
				obj.rehydratePending = false
			}
		}
	}
}

// FailPendingCopies moves all pending copies to the failed state.
func (b *memBackend) FailPendingCopies() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range b.containers {
		for _, obj := range c.objects {
			if obj.copyStatus == CopyStatusPending {
				obj.pendingData = nil
				obj.copyStatus = CopyStatusFailed
			}
		}
	}
}

func (b *memBackend) nextETag() string {
	b.etag++
	return fmt.Sprintf("etag-%d", b.etag)
}

type memObject struct {
	data             []byte
	pendingData      []byte
	created          time.Time
	modified         time.Time
	etag             string
	copyStatus       CopyStatus
	tier             Tier
	rehydratePending bool
}

// memContainer is one in-memory container.
type memContainer struct {
	backend *memBackend
	name    string
	objects map[string]*memObject
	blocks  map[string]map[string][]byte
}

var _ Container = (*memContainer)(nil)

func (c *memContainer) check(ctx context.Context, op, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.backend.OnOp != nil {
		return c.backend.OnOp(op, name)
	}
	return nil
}

// SetTierOf force-sets an object's tier. Test hook.
func (c *memContainer) SetTierOf(name string, tier Tier) {
	c.backend.mu.Lock()
	defer c.backend.mu.Unlock()
	if obj, ok := c.objects[name]; ok {
		obj.tier = tier
	}
}

// Data returns a copy of an object's content. Test hook.
func (c *memContainer) Data(name string) ([]byte, bool) {
	c.backend.mu.Lock()
	defer c.backend.mu.Unlock()
	obj, ok := c.objects[name]
	if !ok {
		return nil, false
	}
	return bytes.Clone(obj.data), true
}

// Len returns the number of stored objects. Test hook.
func (c *memContainer) Len() int {
	c.backend.mu.Lock()
	defer c.backend.mu.Unlock()
	return len(c.objects)
}

func (c *memContainer) Exists(ctx context.Context, name string) (bool, error) {
	if err := c.check(ctx, "exists", name); err != nil {
		return false, err
	}
	c.backend.mu.Lock()
	defer c.backend.mu.Unlock()
	_, ok := c.objects[name]
	return ok, nil
}

func (c *memContainer) Props(ctx context.Context, name string) (Props, error) {
	if err := c.check(ctx, "props", name); err != nil {
		return Props{}, err
	}
	c.backend.mu.Lock()
	defer c.backend.mu.Unlock()
	obj, ok := c.objects[name]
	if !ok {
		return Props{}, fmt.Errorf("mem container %s/%s: %w", c.name, name, ErrNotFound)
	}
	return Props{
		Size:             int64(len(obj.data)),
		Created:          obj.created,
		LastModified:     obj.modified,
		ETag:             obj.etag,
		CopyStatus:       obj.copyStatus,
		Tier:             obj.tier,
		RehydratePending: obj.rehydratePending,
	}, nil
}

func (c *memContainer) OpenRange(ctx context.Context, name string, off, length int64) (io.ReadCloser, error) {
	if err := c.check(ctx, "open", name); err != nil {
		return nil, err
	}
	c.backend.mu.Lock()
	defer c.backend.mu.Unlock()
	obj, ok := c.objects[name]
	if !ok {
		return nil, fmt.Errorf("mem container %s/%s: %w", c.name, name, ErrNotFound)
	}
	if off < 0 || off > int64(len(obj.data)) {
		return nil, fmt.Errorf("mem container %s/%s: range start %d out of bounds", c.name, name, off)
	}
	end := int64(len(obj.data))
	if length >= 0 && off+length < end {
		end = off + length
	}
	return io.NopCloser(bytes.NewReader(bytes.Clone(obj.data[off:end]))), nil
}

func (c *memContainer) Put(ctx context.Context, name string, data []byte) error {
	if err := c.check(ctx, "put", name); err != nil {
		return err
	}
	c.backend.mu.Lock()
	defer c.backend.mu.Unlock()
	c.putLocked(name, bytes.Clone(data))
	return nil
}

// putLocked stores data under name, preserving creation time on overwrite.
func (c *memContainer) putLocked(name string, data []byte) *memObject {
	now := time.Now()
	obj, ok := c.objects[name]
	if !ok {
		obj = &memObject{created: now, tier: TierHot}
		c.objects[name] = obj
	}
	obj.data = data
	obj.modified = now
	obj.etag = c.backend.nextETag()
	obj.copyStatus = CopyStatusNone
	return obj
}

func (c *memContainer) Get(ctx context.Context, name string) ([]byte, error) {
	if err := c.check(ctx, "get", name); err != nil {
		return nil, err
	}
	c.backend.mu.Lock()
	defer c.backend.mu.Unlock()
	obj, ok := c.objects[name]
	if !ok {
		return nil, fmt.Errorf("mem container %s/%s: %w", c.name, name, ErrNotFound)
	}
	return bytes.Clone(obj.data), nil
}

func (c *memContainer) StageBlock(ctx context.Context, name, blockID string, chunk []byte) error {
	if err := c.check(ctx, "stage", name); err != nil {
		return err
	}
	c.backend.mu.Lock()
	defer c.backend.mu.Unlock()
	staged, ok := c.blocks[name]
	if !ok {
		staged = make(map[string][]byte)
		c.blocks[name] = staged
	}
	staged[blockID] = bytes.Clone(chunk)
	return nil
}

func (c *memContainer) CommitBlocks(ctx context.Context, name string, blockIDs []string) error {
	if err := c.check(ctx, "commit", name); err != nil {
		return err
	}
	c.backend.mu.Lock()
	defer c.backend.mu.Unlock()
	staged := c.blocks[name]
	var data []byte
	for _, id := range blockIDs {
		chunk, ok := staged[id]
		if !ok {
			return fmt.Errorf("mem container %s/%s: unknown block id %q", c.name, name, id)
		}
		data = append(data, chunk...)
	}
	delete(c.blocks, name)
	c.putLocked(name, data)
	return nil
}

func (c *memContainer) StartCopy(ctx context.Context, name, srcURL string, opts CopyOptions) error {
	if err := c.check(ctx, "copy", name); err != nil {
		return err
	}
	c.backend.mu.Lock()
	defer c.backend.mu.Unlock()

	srcContainer, srcName, err := c.backend.resolveLocked(srcURL)
	if err != nil {
		return err
	}
	src, ok := srcContainer.objects[srcName]
	if !ok {
		return fmt.Errorf("mem copy source %s: %w", srcURL, ErrNotFound)
	}

	now := time.Now()
	dst := &memObject{created: now, modified: now, etag: c.backend.nextETag(), tier: TierHot}
	if opts.Tier != TierUnknown {
		dst.tier = opts.Tier
	}
	if c.backend.HoldCopies || src.tier == TierArchive {
		// Rehydrating copies (and explicitly held ones) stay pending
		// until the test completes them.
		dst.copyStatus = CopyStatusPending
		dst.pendingData = bytes.Clone(src.data)
		dst.rehydratePending = src.tier == TierArchive
	} else {
		dst.copyStatus = CopyStatusSuccess
		dst.data = bytes.Clone(src.data)
	}
	c.objects[name] = dst
	return nil
}

func (c *memContainer) Delete(ctx context.Context, name string) error {
	if err := c.check(ctx, "delete", name); err != nil {
		return err
	}
	c.backend.mu.Lock()
	defer c.backend.mu.Unlock()
	if _, ok := c.objects[name]; !ok {
		return fmt.Errorf("mem container %s/%s: %w", c.name, name, ErrNotFound)
	}
	delete(c.objects, name)
	return nil
}

func (c *memContainer) SetTier(ctx context.Context, name string, tier Tier, _ RehydratePriority) error {
	if err := c.check(ctx, "settier", name); err != nil {
		return err
	}
	c.backend.mu.Lock()
	defer c.backend.mu.Unlock()
	obj, ok := c.objects[name]
	if !ok {
		return fmt.Errorf("mem container %s/%s: %w", c.name, name, ErrNotFound)
	}
	obj.tier = tier
	return nil
}

func (c *memContainer) List(ctx context.Context, prefix string, fn func(ListItem) error) error {
	if err := c.check(ctx, "list", prefix); err != nil {
		return err
	}
	c.backend.mu.Lock()
	names := make([]string, 0, len(c.objects))
	for name := range c.objects {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	items := make([]ListItem, 0, len(names))
	for _, name := range names {
		obj := c.objects[name]
		items = append(items, ListItem{
			Name:         name,
			Size:         int64(len(obj.data)),
			LastModified: obj.modified,
		})
	}
	c.backend.mu.Unlock()

	for _, item := range items {
		if err := fn(item); err != nil {
			return err
		}
	}
	return nil
}

func (c *memContainer) SignedURL(name string, opts SignedURLOptions) (string, error) {
	if !c.CanSign() {
		return "", fmt.Errorf("mem container %s: signing disabled", c.name)
	}
	perms := ""
	if opts.Read {
		perms += "r"
	}
	if opts.Write {
		perms += "w"
	}
	if opts.Delete {
		perms += "d"
	}
	url := fmt.Sprintf("%s?sig=fake&sp=%s&st=%d&se=%d",
		c.URL(name), perms, opts.Start.Unix(), opts.Expiry.Unix())
	if opts.ContentDisposition != "" {
		url += "&rscd=" + opts.ContentDisposition
	}
	if opts.ContentType != "" {
		url += "&rsct=" + opts.ContentType
	}
	return url, nil
}

func (c *memContainer) CanSign() bool { return c.backend.Signing }

func (c *memContainer) URL(name string) string {
	return fmt.Sprintf("mem://%s/%s", c.name, name)
}

// resolveLocked maps a mem:// URL back to its container and object name.
// The backend mutex must be held.
func (b *memBackend) resolveLocked(url string) (*memContainer, string, error) {
	rest, ok := strings.CutPrefix(url, "mem://")
	if !ok {
		return nil, "", fmt.Errorf("mem backend: foreign copy source %q", url)
	}
	if i := strings.IndexByte(rest, '?'); i >= 0 {
		rest = rest[:i]
	}
	containerName, objectName, ok := strings.Cut(rest, "/")
	if !ok {
		return nil, "", fmt.Errorf("mem backend: malformed copy source %q", url)
	}
	c, ok := b.containers[containerName]
	if !ok {
		return nil, "", fmt.Errorf("mem backend: unknown container %q in copy source", containerName)
	}
	return c, objectName, nil
}
