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
	"time"

	"github.com/bytedance/gopkg/util/xxhash3"
	"github.com/cockroachdb/errors"
)

// relocate moves the object in src to the free block dst of the same size.
// On false nothing observable changed: dst is still the caller's free block
// and src still holds the object.
func (a *Allocator) relocate(src, dst block) bool {
	m := src.f.mark(src.off, a.sizes.baseShift)
	if int(m.i) != src.i {
		// src is split into smaller blocks
		return false
	}
	switch m.state {
	case StatePage:
		return a.relocatePage(src, dst)
	case StateDescriptor:
		return a.relocateDescriptor(src, dst)
	case StateDirtyPage:
		// other subsystems may hold its address
		a.stats.Sizes[src.i].Refused++
		return false
	}
	if a.debug {
		panic(errors.AssertionFailedf("buddy: relocating %s block %#x", m.state, src.addr()))
	}
	return false
}

// relocatePage looks the page up by its content key, not by address: a
// directory entry that no longer points at src means the page is gone.
func (a *Allocator) relocatePage(src, dst block) bool {
	start := time.Now()
	image := a.bytes(src)
	key, ok := a.dir.PageKey(image)
	if !ok {
		return false
	}
	r, ok := a.dir.LookupPage(key)
	if !ok || r.Addr() != src.addr() {
		return false
	}

	r.Lock()
	defer r.Unlock()
	if r.Addr() != src.addr() {
		return false
	}
	if !r.Replaceable() {
		a.stats.Sizes[src.i].Refused++
		return false
	}

	dst.f.setMark(dst.off, a.sizes.baseShift, StateHole, dst.i)
	copy(a.bytes(dst), image)
	if !a.dir.SwapPage(key, src.addr(), dst.addr()) {
		a.scrubBlock(dst)
		return false
	}
	a.moved(src, dst, StatePage, start)
	return true
}

// relocateDescriptor does not wait for the descriptor lock: a holder may be
// a flush that still reads the record.
func (a *Allocator) relocateDescriptor(src, dst block) bool {
	start := time.Now()
	r, ok := a.dir.LookupDescriptor(src.addr())
	if !ok {
		return false
	}
	if !r.TryLock() {
		a.stats.Sizes[src.i].Refused++
		return false
	}
	defer r.Unlock()
	if r.Addr() != src.addr() || !r.Replaceable() {
		a.stats.Sizes[src.i].Refused++
		return false
	}

	dst.f.setMark(dst.off, a.sizes.baseShift, StateHole, dst.i)
	a.dir.MoveDescriptor(src.addr(), dst.addr())
	copy(a.bytes(dst), a.bytes(src))
	a.moved(src, dst, StateDescriptor, start)
	return true
}

func (a *Allocator) moved(src, dst block, s State, start time.Time) {
	if a.debug && xxhash3.Hash(a.bytes(src)) != xxhash3.Hash(a.bytes(dst)) {
		panic(errors.AssertionFailedf("buddy: %s %#x changed while moving to %#x", s, src.addr(), dst.addr()))
	}
	dst.f.setMark(dst.off, a.sizes.baseShift, s, dst.i)
	src.f.setMark(src.off, a.sizes.baseShift, StateHole, src.i)
	a.scrubBlock(src)

	st := &a.stats.Sizes[src.i]
	st.Relocated++
	st.RelocatedTime += time.Since(start)
	a.log.Debug().
		Stringer("state", s).
		Uint64("from", uint64(src.addr())).
		Uint64("to", uint64(dst.addr())).
		Int("size", a.sizes.sizeOf(src.i)).
		Msg("buddy: block relocated")
}
