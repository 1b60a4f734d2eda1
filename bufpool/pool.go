/*
 * Copyright 2025 CloudWeGo Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package bufpool is a small buffer pool built around the buddy allocator.
//
// The pool owns a fixed arena of frames. A frame holds either one
// uncompressed page or is lent to the allocator, which carves it into
// blocks for compressed pages and their descriptors. When the allocator runs
// out of space it calls back into the pool to evict clean compressed pages
// or whole uncompressed pages, and it moves clean compressed pages around
// to merge free blocks.
package bufpool

import (
	"container/list"
	"context"
	"sync"

	"github.com/bytedance/gopkg/lang/dirtmake"
	"github.com/bytedance/gopkg/util/gopool"
	"github.com/bytedance/gopkg/util/xxhash3"
	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"

	"github.com/cloudwego/zbuddy/buddy"
	"github.com/cloudwego/zbuddy/internal/framemem"
)

// Pool is safe for concurrent use.
type Pool struct {
	mu sync.Mutex

	cfg     Config
	log     zerolog.Logger
	arena   *framemem.Arena
	alloc   *buddy.Allocator
	flusher gopool.Pool

	free []buddy.Frame // frames neither holding a page nor lent to alloc
	lent []buddy.Addr  // frames given to alloc by Prefill

	zips  map[PageID]*zpage
	descs map[buddy.Addr]*zpage
	zlru  *list.List // *zpage, most recently used first

	pages map[PageID]*upage
	lru   *list.List // *upage, most recently used first

	stats  Stats
	closed bool

	// busy counts calls that may drop mu while frame memory is in use.
	// Close waits for them before unmapping the arena.
	busy sync.WaitGroup
}

// New creates a pool. cfg may be nil.
func New(cfg *Config) (*Pool, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	arena, err := framemem.New(cfg.Frames, cfg.FrameSize)
	if err != nil {
		return nil, err
	}
	p := &Pool{
		cfg:   *cfg,
		log:   cfg.Logger,
		arena: arena,
		zips:  make(map[PageID]*zpage),
		descs: make(map[buddy.Addr]*zpage),
		zlru:  list.New(),
		pages: make(map[PageID]*upage),
		lru:   list.New(),
	}
	if p.cfg.Flusher == nil {
		p.cfg.Flusher = func(PageID, []byte) error { return nil }
	}
	for k := arena.Len() - 1; k >= 0; k-- {
		base, mem := arena.Frame(k)
		p.free = append(p.free, buddy.Frame{Base: buddy.Addr(base), Mem: mem})
	}
	p.alloc, err = buddy.New(&p.mu, (*bridge)(p), (*directory)(p), cfg.allocatorOptions())
	if err != nil {
		_ = arena.Close()
		return nil, err
	}
	p.flusher = gopool.NewPool("bufpool.flush", int32(cfg.FlushWorkers), gopool.NewConfig())
	p.flusher.SetPanicHandler(func(ctx context.Context, r interface{}) {
		p.log.Error().Interface("panic", r).Msg("bufpool: flusher panicked")
	})
	return p, nil
}

// PutCompressed stores a compressed page image.
func (p *Pool) PutCompressed(id PageID, data []byte) error {
	size := blockSize(headerSize+len(data), p.cfg.BaseSize)
	if size > p.cfg.FrameSize {
		return errors.Wrapf(ErrTooLarge, "page %s of %d bytes", id, len(data))
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.check(); err != nil {
		return err
	}
	if _, ok := p.zips[id]; ok {
		return errors.Wrapf(ErrExists, "page %s", id)
	}
	p.busy.Add(1)
	defer p.busy.Done()

	// Allocate may release the mutex while it evicts, so the id is checked
	// again once both blocks are held.
	zip, err := p.alloc.Allocate(size)
	if err != nil {
		return errors.Wrapf(err, "page %s", id)
	}
	desc, err := p.alloc.Allocate(p.cfg.BaseSize)
	if err != nil {
		p.alloc.Free(zip, size)
		return errors.Wrapf(err, "descriptor of page %s", id)
	}
	if p.closed {
		// Close is waiting for this call, so the arena is still mapped
		p.alloc.Free(desc, p.cfg.BaseSize)
		p.alloc.Free(zip, size)
		return ErrClosed
	}
	if _, ok := p.zips[id]; ok {
		p.alloc.Free(desc, p.cfg.BaseSize)
		p.alloc.Free(zip, size)
		return errors.Wrapf(ErrExists, "page %s", id)
	}

	image := p.alloc.Bytes(zip, size)
	putHeader(image, id)
	copy(image[headerSize:], data)
	z := &zpage{
		id:    id,
		zip:   zip,
		zsize: size,
		n:     len(data),
		sum:   xxhash3.Hash(data),
		desc:  desc,
	}
	r := descRecord{id: id, zip: zip, n: z.n, sum: z.sum}
	r.encode(p.alloc.Bytes(desc, p.cfg.BaseSize))
	if err := p.alloc.SetState(desc, p.cfg.BaseSize, buddy.StateDescriptor); err != nil {
		return err
	}

	z.elem = p.zlru.PushFront(z)
	p.zips[id] = z
	p.descs[desc] = z
	return nil
}

// GetCompressed returns a copy of a compressed page image.
func (p *Pool) GetCompressed(id PageID) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.check(); err != nil {
		return nil, err
	}
	z, ok := p.zips[id]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "page %s", id)
	}
	p.zlru.MoveToFront(z.elem)

	// the descriptor is the authority on where the image is
	r := decodeDescriptor(p.alloc.Bytes(z.desc, p.cfg.BaseSize))
	if r.id != id || r.zip != z.zip {
		return nil, errors.AssertionFailedf("bufpool: descriptor of %s at %#x names %s at %#x, want %#x",
			id, z.desc, r.id, r.zip, z.zip)
	}
	image := p.alloc.Bytes(r.zip, z.zsize)
	if hid, _ := readHeader(image); hid != id {
		return nil, errors.AssertionFailedf("bufpool: block %#x holds page %s, want %s", r.zip, hid, id)
	}
	data := dirtmake.Bytes(r.n, r.n)
	copy(data, image[headerSize:])
	if xxhash3.Hash(data) != r.sum {
		return nil, errors.Newf("bufpool: page %s fails its checksum", id)
	}
	return data, nil
}

func (p *Pool) zpageLocked(id PageID) (*zpage, error) {
	if err := p.check(); err != nil {
		return nil, err
	}
	z, ok := p.zips[id]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "page %s", id)
	}
	return z, nil
}

// Pin keeps a compressed page from being evicted or moved.
func (p *Pool) Pin(id PageID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	z, err := p.zpageLocked(id)
	if err != nil {
		return err
	}
	z.Lock()
	z.pins++
	z.Unlock()
	return nil
}

func (p *Pool) Unpin(id PageID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	z, err := p.zpageLocked(id)
	if err != nil {
		return err
	}
	z.Lock()
	defer z.Unlock()
	if z.pins == 0 {
		return errors.AssertionFailedf("bufpool: page %s is not pinned", id)
	}
	z.pins--
	return nil
}

// MarkDirty flags a compressed page as modified. It stays in place until a
// flush writes it.
func (p *Pool) MarkDirty(id PageID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	z, err := p.zpageLocked(id)
	if err != nil {
		return err
	}
	z.Lock()
	z.dirty = true
	z.gen++
	z.Unlock()
	return p.alloc.SetState(z.zip, z.zsize, buddy.StateDirtyPage)
}

// EvictCompressed drops a clean, unpinned compressed page.
func (p *Pool) EvictCompressed(id PageID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	z, err := p.zpageLocked(id)
	if err != nil {
		return err
	}
	if !z.replaceable() {
		return errors.Wrapf(ErrBusy, "page %s", id)
	}
	p.dropZip(z)
	return nil
}

// dropZip forgets z before freeing its blocks so the allocator cannot find
// it while it coalesces.
func (p *Pool) dropZip(z *zpage) {
	p.zlru.Remove(z.elem)
	delete(p.zips, z.id)
	delete(p.descs, z.desc)
	p.alloc.Free(z.zip, z.zsize)
	p.alloc.Free(z.desc, p.cfg.BaseSize)
	p.stats.CompressedEvictions++
	p.log.Debug().Stringer("page", z.id).Int("size", z.zsize).Msg("bufpool: compressed page dropped")
}

// PutPage stores an uncompressed page in a frame of its own.
func (p *Pool) PutPage(id PageID, data []byte) error {
	if len(data) > p.cfg.FrameSize {
		return errors.Wrapf(ErrTooLarge, "page %s of %d bytes", id, len(data))
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.check(); err != nil {
		return err
	}
	if _, ok := p.pages[id]; ok {
		return errors.Wrapf(ErrExists, "page %s", id)
	}
	fr, ok := (*bridge)(p).AcquireFrame(true)
	if !ok {
		return errors.Wrapf(ErrNoFrame, "page %s", id)
	}
	copy(fr.Mem, data)
	u := &upage{id: id, frame: fr, n: len(data)}
	u.elem = p.lru.PushFront(u)
	p.pages[id] = u
	return nil
}

// PinPage pins an uncompressed page and returns its contents. The slice is
// valid until UnpinPage and may be written meanwhile: pinned pages are
// neither evicted nor copied for a flush.
func (p *Pool) PinPage(id PageID) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.check(); err != nil {
		return nil, err
	}
	u, ok := p.pages[id]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "page %s", id)
	}
	u.pins++
	p.lru.MoveToFront(u.elem)
	return u.frame.Mem[:u.n], nil
}

// UnpinPage releases a pin taken by PinPage; dirty records a modification.
func (p *Pool) UnpinPage(id PageID, dirty bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.check(); err != nil {
		return err
	}
	u, ok := p.pages[id]
	if !ok {
		return errors.Wrapf(ErrNotFound, "page %s", id)
	}
	if u.pins == 0 {
		return errors.AssertionFailedf("bufpool: page %s is not pinned", id)
	}
	u.pins--
	if dirty {
		u.dirty = true
		u.gen++
	}
	return nil
}

func (p *Pool) dropPage(u *upage) {
	p.lru.Remove(u.elem)
	delete(p.pages, u.id)
	p.stats.PageEvictions++
	p.log.Debug().Stringer("page", u.id).Msg("bufpool: page evicted")
}

// Prefill lends up to n free frames to the allocator ahead of demand and
// returns how many it lent.
func (p *Pool) Prefill(n int) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.check(); err != nil {
		return 0, err
	}
	k := 0
	for ; k < n && len(p.free) > 0; k++ {
		fr := p.free[len(p.free)-1]
		if err := p.alloc.RegisterFrame(fr); err != nil {
			return k, err
		}
		p.free = p.free[:len(p.free)-1]
		p.lent = append(p.lent, fr.Base)
	}
	return k, nil
}

// Reclaim takes back the prefilled frames the allocator has not split and
// returns how many came back.
func (p *Pool) Reclaim() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	lent := p.lent[:0]
	for _, base := range p.lent {
		if p.alloc.ReleaseIfWhole(base) {
			n++
			continue
		}
		if _, ok := p.alloc.State(base); ok {
			lent = append(lent, base)
		}
	}
	p.lent = lent
	return n
}

func (p *Pool) check() error {
	if p.closed {
		return ErrClosed
	}
	return nil
}

// Close releases the arena once running writes and allocations are done.
// Slices returned by PinPage become invalid.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	p.busy.Wait()
	return p.arena.Close()
}
