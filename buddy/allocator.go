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

package buddy

import (
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
)

// Allocator hands out power-of-two blocks carved from buffer-pool frames.
type Allocator struct {
	// mu is the buffer-pool mutex. It's owned by the caller and only
	// released by Allocate around TryEvictAnyPage.
	mu     sync.Locker
	bridge EvictionBridge
	dir    Directory // nil disables relocation

	sizes  sizeIndex
	free   freeLists
	frames frameMap
	stats  Stats

	debug              bool
	scrub              bool
	cleanEvictAttempts int
	log                zerolog.Logger
}

// New creates an allocator drawing frames from bridge. dir may be nil, in
// which case live blocks are never moved.
func New(mu sync.Locker, bridge EvictionBridge, dir Directory, o *Options) (*Allocator, error) {
	if o == nil {
		o = DefaultOptions()
	}
	if err := o.validate(); err != nil {
		return nil, err
	}
	if mu == nil || bridge == nil {
		return nil, errors.New("buddy: a mutex and an eviction bridge are required")
	}
	sizes := newSizeIndex(o.BaseSize, o.FrameSize)
	return &Allocator{
		mu:                 mu,
		bridge:             bridge,
		dir:                dir,
		sizes:              sizes,
		free:               newFreeLists(sizes.maxI + 1),
		frames:             newFrameMap(o.FrameSize),
		stats:              Stats{Sizes: make([]SizeStats, sizes.maxI+1)},
		debug:              o.Debug,
		scrub:              o.Scrub,
		cleanEvictAttempts: o.CleanEvictAttempts,
		log:                o.Logger,
	}, nil
}

// Allocate returns a block of size bytes, aligned to size.
//
// It tries, in order: the free lists (splitting larger blocks), a free frame
// from the bridge, evicting clean compressed pages, and evicting a whole page.
// The last step releases the buffer-pool mutex while the bridge works.
// A failure is an error marked with ErrNoSpace.
func (a *Allocator) Allocate(size int) (Addr, error) {
	if !a.sizes.valid(size) {
		return 0, a.fail(errors.Wrapf(ErrBadSize, "allocate %d bytes", size))
	}
	i := a.sizes.indexOf(size)

	for attempt := 0; ; attempt++ {
		if b, ok := a.allocBlock(i); ok {
			return a.handOut(b), nil
		}
		if fr, ok := a.bridge.AcquireFrame(false); ok {
			return a.handOutFrame(fr, i)
		}
		if attempt >= a.cleanEvictAttempts || !a.bridge.TryEvictCleanCompressed(i) {
			break
		}
		a.stats.CleanEvictions++
	}

	a.mu.Unlock()
	fr, err := a.bridge.TryEvictAnyPage()
	a.mu.Lock()

	// the free lists may have been refilled while the mutex was released
	if b, ok := a.allocBlock(i); ok {
		if err == nil {
			a.bridge.ReleaseFrame(fr)
		}
		return a.handOut(b), nil
	}
	if err != nil {
		a.log.Warn().Err(err).Int("size", size).Msg("buddy: out of space")
		return 0, errors.Mark(errors.Wrapf(err, "allocate %d bytes", size), ErrNoSpace)
	}
	a.stats.PageEvictions++
	return a.handOutFrame(fr, i)
}

func (a *Allocator) handOutFrame(fr Frame, i int) (Addr, error) {
	b, err := a.adopt(fr)
	if err != nil {
		return 0, a.fail(err)
	}
	return a.handOut(a.splitDown(b, i)), nil
}

func (a *Allocator) handOut(b block) Addr {
	if a.debug && a.scrub {
		for _, c := range a.bytes(b) {
			if c != scrubByte {
				panic(errors.AssertionFailedf("buddy: free block %#x was written after free", b.addr()))
			}
		}
	}
	b.f.setMark(b.off, a.sizes.baseShift, StatePage, b.i)
	a.stats.Sizes[b.i].Used++
	return b.addr()
}

// Free returns a block obtained from Allocate with the same size. The block
// must not be reachable from anywhere else.
func (a *Allocator) Free(p Addr, size int) {
	b, err := a.blockAt(p, size)
	if err != nil {
		_ = a.fail(err)
		return
	}
	a.stats.Sizes[b.i].Used--
	a.scrubBlock(b)
	b.f.setMark(b.off, a.sizes.baseShift, StateFree, b.i)
	a.freeBlock(b)
}

// blockAt resolves an allocated block.
func (a *Allocator) blockAt(p Addr, size int) (block, error) {
	if !a.sizes.valid(size) {
		return block{}, errors.Wrapf(ErrBadSize, "block %#x of %d bytes", p, size)
	}
	f := a.frames.lookup(p)
	if f == nil {
		return block{}, errors.AssertionFailedf("buddy: %#x is not in a registered frame", p)
	}
	off := int(p - f.base)
	if off&(size-1) != 0 {
		return block{}, errors.AssertionFailedf("buddy: %#x is not aligned to %d", p, size)
	}
	i := a.sizes.indexOf(size)
	m := f.mark(off, a.sizes.baseShift)
	if !m.state.Live() {
		return block{}, errors.AssertionFailedf("buddy: %#x is %s, not an allocated block", p, m.state)
	}
	if int(m.i) != i {
		return block{}, errors.AssertionFailedf("buddy: %#x was allocated with %d bytes, not %d",
			p, a.sizes.sizeOf(int(m.i)), size)
	}
	return block{f: f, off: off, i: i}, nil
}

// RegisterFrame donates a fresh frame. It stays on the free list as a
// single block until it is split or taken back with ReleaseIfWhole.
func (a *Allocator) RegisterFrame(fr Frame) error {
	b, err := a.adopt(fr)
	if err != nil {
		return a.fail(err)
	}
	a.pushFree(b)
	return nil
}

// ReleaseIfWhole returns the frame at base to the bridge if it is one free
// block, and reports whether it did.
func (a *Allocator) ReleaseIfWhole(base Addr) bool {
	if base&a.frames.mask != 0 {
		return false
	}
	f := a.frames.lookup(base)
	if f == nil {
		return false
	}
	n := a.freeNodeOf(block{f: f, off: 0, i: a.sizes.maxI})
	if n == nil {
		return false
	}
	a.free.remove(n)
	a.releaseFrame(f)
	return true
}

// Bytes returns the contents of an allocated block.
func (a *Allocator) Bytes(p Addr, size int) []byte {
	b, err := a.blockAt(p, size)
	if err != nil {
		_ = a.fail(err)
		return nil
	}
	return a.bytes(b)
}

// SetState classifies an allocated block. s must be StatePage,
// StateDirtyPage or StateDescriptor.
func (a *Allocator) SetState(p Addr, size int, s State) error {
	if !s.Live() {
		return a.fail(errors.AssertionFailedf("buddy: cannot set %#x to %s", p, s))
	}
	b, err := a.blockAt(p, size)
	if err != nil {
		return a.fail(err)
	}
	b.f.setMark(b.off, a.sizes.baseShift, s, b.i)
	return nil
}

// State returns the mark of the block starting at p. For StateFree the
// answer is advisory.
func (a *Allocator) State(p Addr) (State, bool) {
	f := a.frames.lookup(p)
	if f == nil {
		return 0, false
	}
	off := int(p - f.base)
	if off&(1<<a.sizes.baseShift-1) != 0 {
		return 0, false
	}
	return f.mark(off, a.sizes.baseShift).state, true
}

// FreeCount returns the length of free list i.
func (a *Allocator) FreeCount(i int) int {
	return a.free.len(i)
}

// FreeBlocks returns the addresses on free list i, head first.
func (a *Allocator) FreeBlocks(i int) []Addr {
	ret := make([]Addr, 0, a.free.len(i))
	a.free.each(i, func(b block) {
		ret = append(ret, b.addr())
	})
	return ret
}

// Frames returns the number of registered frames.
func (a *Allocator) Frames() int {
	return a.frames.len()
}
