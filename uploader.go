package hoard

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"

	"golang.org/x/sync/errgroup"

	"github.com/hoardlabs/hoard/retry"
)

// blockUploader streams bytes of unknown total length into a block blob,
// cutting blocks of at most maxBlockSize and uploading them concurrently.
//
// Block ids are recorded in byte order at dispatch time, before any upload
// is awaited, so the committed assembly order is independent of upload
// completion order.
type blockUploader struct {
	c      Container
	name   string
	policy retry.Policy

	ids     []string
	pending []byte

	g    *errgroup.Group
	gctx context.Context
}

func newBlockUploader(ctx context.Context, c Container, name string, policy retry.Policy) *blockUploader {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(uploadConcurrency)
	return &blockUploader{c: c, name: name, policy: policy, g: g, gctx: gctx}
}

func randomName() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic("hoard: crypto/rand unavailable: " + err.Error())
	}
	return hex.EncodeToString(b[:])
}

// newBlockID returns a random block id. All ids of one staged object must
// have equal encoded length.
func newBlockID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic("hoard: crypto/rand unavailable: " + err.Error())
	}
	return base64.StdEncoding.EncodeToString(b[:])
}

// Write implements io.Writer. A single write larger than the block limit is
// split into multiple concurrently-uploaded blocks.
func (u *blockUploader) Write(p []byte) (int, error) {
	n := len(p)
	for len(p) > 0 {
		if u.pending == nil {
			u.pending = make([]byte, 0, maxBlockSize)
		}
		take := maxBlockSize - len(u.pending)
		if take > len(p) {
			take = len(p)
		}
		u.pending = append(u.pending, p[:take]...)
		p = p[take:]
		if len(u.pending) == maxBlockSize {
			u.dispatch(u.pending)
			u.pending = nil
		}
	}
	// Surface an upload failure early rather than at commit.
	if u.gctx.Err() != nil {
		return 0, u.g.Wait()
	}
	return n, nil
}

// dispatch records the block id in byte order, then uploads the chunk
// concurrently. chunk ownership transfers to the upload goroutine.
func (u *blockUploader) dispatch(chunk []byte) {
	id := newBlockID()
	u.ids = append(u.ids, id)
	u.g.Go(func() error {
		return u.policy.Do(u.gctx, "stage block", func(ctx context.Context) error {
			return u.c.StageBlock(ctx, u.name, id, chunk)
		})
	})
}

// commit flushes the trailing partial block, waits for all uploads, and
// atomically assembles the block list into the named object.
func (u *blockUploader) commit(ctx context.Context) error {
	if len(u.pending) > 0 {
		u.dispatch(u.pending)
		u.pending = nil
	}
	if err := u.g.Wait(); err != nil {
		return err
	}
	return u.policy.Do(ctx, "commit block list", func(ctx context.Context) error {
		return u.c.CommitBlocks(ctx, u.name, u.ids)
	})
}

// abandon waits for in-flight uploads and drops the pending buffer.
func (u *blockUploader) abandon() {
	u.pending = nil
	_ = u.g.Wait()
}
