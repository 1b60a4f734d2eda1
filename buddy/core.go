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

import "github.com/cockroachdb/errors"

func (a *Allocator) bytes(b block) []byte {
	sz := a.sizes.sizeOf(b.i)
	return b.f.mem[b.off : b.off+sz : b.off+sz]
}

func (a *Allocator) scrubBlock(b block) {
	if !a.scrub {
		return
	}
	p := a.bytes(b)
	for i := range p {
		p[i] = scrubByte
	}
}

func (a *Allocator) pushFree(b block) {
	b.f.setMark(b.off, a.sizes.baseShift, StateFree, b.i)
	a.free.push(b)
}

func (a *Allocator) popFree(i int) (block, bool) {
	return a.free.pop(i)
}

// splitOnce halves b: the right half goes on the free list one index down,
// the left half (same offset as b) is returned.
func (a *Allocator) splitOnce(b block) block {
	b.i--
	a.pushFree(block{f: b.f, off: b.off + a.sizes.sizeOf(b.i), i: b.i})
	return b
}

func (a *Allocator) splitDown(b block, i int) block {
	for b.i > i {
		b = a.splitOnce(b)
	}
	return b
}

// allocBlock pops a block of index i, splitting a larger one if needed.
func (a *Allocator) allocBlock(i int) (block, bool) {
	if b, ok := a.popFree(i); ok {
		return b, true
	}
	if i == a.sizes.maxI {
		return block{}, false
	}
	b, ok := a.allocBlock(i + 1)
	if !ok {
		return block{}, false
	}
	return a.splitOnce(b), true
}

// buddyOf expects b.i < maxI.
func (a *Allocator) buddyOf(b block) block {
	return block{f: b.f, off: b.off ^ a.sizes.sizeOf(b.i), i: b.i}
}

// freeNodeOf returns the free-list node of b, or nil if b is not a free
// block of its index. The FREE mark only short-cuts the list scan.
func (a *Allocator) freeNodeOf(b block) *freeNode {
	m := b.f.mark(b.off, a.sizes.baseShift)
	if m.state != StateFree || int(m.i) != b.i {
		return nil
	}
	return a.free.find(b)
}

// merge joins b with its buddy; both must already be off the free lists.
func (a *Allocator) merge(b, bud block) block {
	lo, hi := b, bud
	if hi.off < lo.off {
		lo, hi = hi, lo
	}
	hi.f.setMark(hi.off, a.sizes.baseShift, StateInternal, 0)
	lo.i++
	return lo
}

// freeBlock coalesces b upward as far as possible, then either pushes the
// result on its free list or, once it covers the frame, releases the frame.
func (a *Allocator) freeBlock(b block) {
	for b.i < a.sizes.maxI {
		bud := a.buddyOf(b)
		if n := a.freeNodeOf(bud); n != nil {
			a.free.remove(n)
			b = a.merge(b, bud)
			continue
		}
		m, ok := a.coalesceByRelocation(b)
		if !ok {
			a.pushFree(b)
			return
		}
		b = m
	}
	a.releaseFrame(b.f)
}

// coalesceByRelocation handles a free block b whose buddy is live. It takes
// the first free block f of the same size and either moves b's buddy into f,
// or moves f's buddy into b. Either way one free pair results and the merged
// block is returned.
func (a *Allocator) coalesceByRelocation(b block) (block, bool) {
	if a.dir == nil {
		return block{}, false
	}
	f, ok := a.popFree(b.i)
	if !ok {
		return block{}, false
	}
	bud := a.buddyOf(b)
	if a.relocate(bud, f) {
		return a.merge(b, bud), true
	}
	fb := a.buddyOf(f)
	if a.relocate(fb, b) {
		return a.merge(f, fb), true
	}
	a.pushFree(f)
	return block{}, false
}

// adopt registers a frame handed over by the bridge and returns it as one
// block of index maxI.
func (a *Allocator) adopt(fr Frame) (block, error) {
	size := a.sizes.sizeOf(a.sizes.maxI)
	if len(fr.Mem) != size {
		return block{}, errors.AssertionFailedf("buddy: frame %#x has %d bytes, want %d", fr.Base, len(fr.Mem), size)
	}
	if fr.Base&a.frames.mask != 0 {
		return block{}, errors.AssertionFailedf("buddy: frame %#x is not aligned to %d", fr.Base, size)
	}
	if a.frames.lookup(fr.Base) != nil {
		return block{}, errors.AssertionFailedf("buddy: frame %#x is already registered", fr.Base)
	}
	f := &frame{
		base:  fr.Base,
		mem:   fr.Mem[:size:size],
		marks: make([]mark, size>>a.sizes.baseShift),
		ext:   fr,
	}
	for i := range f.marks {
		f.marks[i] = mark{state: StateInternal}
	}
	a.frames.register(f)
	a.stats.FramesAcquired++

	b := block{f: f, off: 0, i: a.sizes.maxI}
	a.scrubBlock(b)
	a.log.Debug().Uint64("base", uint64(f.base)).Msg("buddy: frame registered")
	return b, nil
}

func (a *Allocator) releaseFrame(f *frame) {
	a.frames.unregister(f.base)
	a.stats.FramesReleased++
	a.log.Debug().Uint64("base", uint64(f.base)).Msg("buddy: frame released")
	a.bridge.ReleaseFrame(f.ext)
}
