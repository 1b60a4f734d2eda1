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
	"encoding/binary"
	"sync"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
)

const (
	testBase  = 1024
	testFrame = 16 * 1024
)

// testBridge hands out heap frames based at testFrame, 2*testFrame, ...
type testBridge struct {
	mu *sync.Mutex

	free      []Frame // returned by AcquireFrame
	evictable []Frame // returned by TryEvictAnyPage

	acquired int
	released []Frame

	cleanVictims func(i int) bool
	onEvictAny   func()
	recycle      bool // released frames go back to free

	evictAnyCalls   int
	unlockedInEvict bool
	cleanEvictCalls int
	nextBase        Addr
}

func newTestBridge(mu *sync.Mutex, frames, evictable int) *testBridge {
	b := &testBridge{mu: mu, nextBase: testFrame}
	for i := 0; i < frames; i++ {
		b.free = append(b.free, b.newFrame())
	}
	for i := 0; i < evictable; i++ {
		b.evictable = append(b.evictable, b.newFrame())
	}
	return b
}

func (b *testBridge) newFrame() Frame {
	f := Frame{Base: b.nextBase, Mem: make([]byte, testFrame)}
	b.nextBase += testFrame
	return f
}

func (b *testBridge) AcquireFrame(urgent bool) (Frame, bool) {
	if len(b.free) == 0 {
		return Frame{}, false
	}
	f := b.free[0]
	b.free = b.free[1:]
	b.acquired++
	return f, true
}

func (b *testBridge) ReleaseFrame(f Frame) {
	b.released = append(b.released, f)
	if b.recycle {
		b.free = append(b.free, f)
	}
}

func (b *testBridge) TryEvictCleanCompressed(i int) bool {
	b.cleanEvictCalls++
	if b.cleanVictims == nil {
		return false
	}
	return b.cleanVictims(i)
}

func (b *testBridge) TryEvictAnyPage() (Frame, error) {
	b.evictAnyCalls++
	if b.mu.TryLock() {
		b.unlockedInEvict = true
		b.mu.Unlock()
	}
	if b.onEvictAny != nil {
		b.onEvictAny()
	}
	if len(b.evictable) == 0 {
		return Frame{}, errors.New("all pages are pinned")
	}
	f := b.evictable[0]
	b.evictable = b.evictable[1:]
	return f, nil
}

type testObject struct {
	sync.Mutex
	key   uint64
	addr  Addr
	size  int
	dirty bool
	pins  int
}

func (o *testObject) Addr() Addr        { return o.addr }
func (o *testObject) Replaceable() bool { return !o.dirty && o.pins == 0 }

// testDirectory reads page keys from the first 8 bytes of an image.
type testDirectory struct {
	pages map[uint64]*testObject
	descs map[Addr]*testObject
}

func newTestDirectory() *testDirectory {
	return &testDirectory{
		pages: make(map[uint64]*testObject),
		descs: make(map[Addr]*testObject),
	}
}

func (d *testDirectory) PageKey(image []byte) (uint64, bool) {
	if len(image) < 8 {
		return 0, false
	}
	k := binary.LittleEndian.Uint64(image)
	return k, k != 0
}

func (d *testDirectory) LookupPage(key uint64) (Resident, bool) {
	o, ok := d.pages[key]
	return o, ok
}

func (d *testDirectory) SwapPage(key uint64, old, new Addr) bool {
	o, ok := d.pages[key]
	if !ok || o.addr != old {
		return false
	}
	o.addr = new
	return true
}

func (d *testDirectory) LookupDescriptor(addr Addr) (Resident, bool) {
	o, ok := d.descs[addr]
	return o, ok
}

func (d *testDirectory) MoveDescriptor(old, new Addr) {
	o := d.descs[old]
	delete(d.descs, old)
	o.addr = new
	d.descs[new] = o
}

func testOptions() *Options {
	o := DefaultOptions()
	o.BaseSize = testBase
	o.FrameSize = testFrame
	o.Debug = true
	return o
}

// newTestAllocator returns an allocator whose buffer-pool mutex is held.
func newTestAllocator(t *testing.T, frames, evictable int, dir Directory, o *Options) (*Allocator, *testBridge) {
	t.Helper()
	if o == nil {
		o = testOptions()
	}
	mu := &sync.Mutex{}
	mu.Lock()
	b := newTestBridge(mu, frames, evictable)
	a, err := New(mu, b, dir, o)
	require.NoError(t, err)
	return a, b
}

func mustAlloc(t *testing.T, a *Allocator, size int) Addr {
	t.Helper()
	p, err := a.Allocate(size)
	require.NoError(t, err)
	return p
}

// putPage allocates a block and stores a clean page image keyed by key.
func putPage(t *testing.T, a *Allocator, d *testDirectory, key uint64, size int) *testObject {
	t.Helper()
	p := mustAlloc(t, a, size)
	fillImage(a.Bytes(p, size), key)
	o := &testObject{key: key, addr: p, size: size}
	d.pages[key] = o
	return o
}

// putDescriptor allocates a block holding a descriptor record.
func putDescriptor(t *testing.T, a *Allocator, d *testDirectory, key uint64, size int) *testObject {
	t.Helper()
	p := mustAlloc(t, a, size)
	fillImage(a.Bytes(p, size), key)
	require.NoError(t, a.SetState(p, size, StateDescriptor))
	o := &testObject{key: key, addr: p, size: size}
	d.descs[p] = o
	return o
}

func fillImage(b []byte, key uint64) {
	binary.LittleEndian.PutUint64(b, key)
	for i := 8; i < len(b); i++ {
		b[i] = byte(key) + byte(i)
	}
}

func checkImage(t *testing.T, b []byte, key uint64) {
	t.Helper()
	want := make([]byte, len(b))
	fillImage(want, key)
	require.Equal(t, want, b)
}

func overlap(p1 Addr, s1 int, p2 Addr, s2 int) bool {
	return p1 < p2+Addr(s2) && p2 < p1+Addr(s1)
}

// snapshot captures the free lists and the frame count.
func snapshot(a *Allocator) ([][]Addr, int) {
	lists := make([][]Addr, a.MaxIndex()+1)
	for i := range lists {
		lists[i] = a.FreeBlocks(i)
	}
	return lists, a.Frames()
}
