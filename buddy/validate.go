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

// Validate walks every registered frame and free list and checks that
// blocks tile each frame, that free marks agree with free-list membership,
// and that no two free buddies were left unmerged.
func (a *Allocator) Validate() error {
	shift := a.sizes.baseShift
	maxI := a.sizes.maxI
	frameSize := a.sizes.sizeOf(maxI)

	listed := 0
	for i := range a.free.lists {
		var err error
		n := 0
		a.free.each(i, func(b block) {
			n++
			if err != nil {
				return
			}
			if a.frames.lookup(b.addr()) != b.f {
				err = errors.Newf("free block %#x on list %d belongs to no registered frame", b.addr(), i)
				return
			}
			if b.i != i {
				err = errors.Newf("free block %#x of index %d is on list %d", b.addr(), b.i, i)
				return
			}
			if m := b.f.mark(b.off, shift); m.state != StateFree || int(m.i) != i {
				err = errors.Newf("free block %#x on list %d is marked %s/%d", b.addr(), i, m.state, m.i)
			}
		})
		if err != nil {
			return err
		}
		if n != a.free.len(i) {
			return errors.Newf("list %d holds %d blocks but counts %d", i, n, a.free.len(i))
		}
		listed += n
	}

	free := 0
	for _, f := range a.frames.frames {
		for off := 0; off < frameSize; {
			m := f.mark(off, shift)
			if m.state == StateInternal || m.state == StateHole {
				return errors.Newf("frame %#x: offset %d does not start a block (%s)", f.base, off, m.state)
			}
			i := int(m.i)
			if i < 0 || i > maxI {
				return errors.Newf("frame %#x: block at %d has index %d", f.base, off, i)
			}
			size := a.sizes.sizeOf(i)
			if off&(size-1) != 0 || off+size > frameSize {
				return errors.Newf("frame %#x: block at %d of %d bytes is misplaced", f.base, off, size)
			}
			if m.state == StateFree {
				b := block{f: f, off: off, i: i}
				if a.free.find(b) == nil {
					return errors.Newf("frame %#x: block at %d is marked free but not on list %d", f.base, off, i)
				}
				if i < maxI {
					if bud := a.buddyOf(b); a.freeNodeOf(bud) != nil {
						return errors.Newf("frame %#x: free buddies at %d and %d (index %d)", f.base, off, bud.off, i)
					}
				}
				free++
			}
			off += size
		}
	}
	if free != listed {
		return errors.Newf("%d blocks marked free, %d on free lists", free, listed)
	}
	return nil
}
