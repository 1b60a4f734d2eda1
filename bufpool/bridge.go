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

package bufpool

import (
	"github.com/bytedance/gopkg/lang/dirtmake"
	"github.com/cockroachdb/errors"

	"github.com/cloudwego/zbuddy/buddy"
)

// bridge is the pool as seen by the allocator.
type bridge Pool

var _ buddy.EvictionBridge = (*bridge)(nil)

func (b *bridge) AcquireFrame(urgent bool) (buddy.Frame, bool) {
	p := (*Pool)(b)
	if n := len(p.free); n > 0 {
		fr := p.free[n-1]
		p.free = p.free[:n-1]
		return fr, true
	}
	if !urgent {
		return buddy.Frame{}, false
	}
	// only clean pages: the mutex is held and cannot be dropped for a write
	for e := p.lru.Back(); e != nil; e = e.Prev() {
		u := e.Value.(*upage)
		if u.evictable() && !u.dirty {
			p.dropPage(u)
			return u.frame, true
		}
	}
	return buddy.Frame{}, false
}

func (b *bridge) ReleaseFrame(fr buddy.Frame) {
	p := (*Pool)(b)
	p.free = append(p.free, fr)
}

func (b *bridge) TryEvictCleanCompressed(i int) bool {
	p := (*Pool)(b)
	want := p.alloc.SizeOf(i)
	var fallback *zpage
	for e := p.zlru.Back(); e != nil; e = e.Prev() {
		z := e.Value.(*zpage)
		if !z.replaceable() {
			continue
		}
		if z.zsize >= want {
			p.dropZip(z)
			return true
		}
		if fallback == nil {
			fallback = z
		}
	}
	if fallback == nil {
		return false
	}
	// a smaller page may still merge with free neighbours
	p.dropZip(fallback)
	return true
}

// TryEvictAnyPage writes back and evicts the least recently used unpinned
// uncompressed page. It only runs inside PutCompressed, which holds p.busy.
func (b *bridge) TryEvictAnyPage() (buddy.Frame, error) {
	p := (*Pool)(b)
	p.mu.Lock()
	defer p.mu.Unlock()
	for {
		var u *upage
		for e := p.lru.Back(); e != nil; e = e.Prev() {
			if v := e.Value.(*upage); v.evictable() {
				u = v
				break
			}
		}
		if u == nil {
			return buddy.Frame{}, errors.Newf("bufpool: no evictable page: %d resident, %d compressed, %d free frames",
				len(p.pages), len(p.zips), len(p.free))
		}
		if !u.dirty {
			p.dropPage(u)
			return u.frame, nil
		}

		gen := u.gen
		u.ioFix = true
		image := dirtmake.Bytes(u.n, u.n)
		copy(image, u.frame.Mem)
		p.mu.Unlock()
		err := p.cfg.Flusher(u.id, image)
		p.mu.Lock()
		u.ioFix = false
		if err != nil {
			p.stats.FlushErrors++
			return buddy.Frame{}, errors.Wrapf(err, "bufpool: write back page %s", u.id)
		}
		p.stats.Flushes++
		if u.gen == gen {
			u.dirty = false
		}
		// pinned or redirtied meanwhile: look again
	}
}
