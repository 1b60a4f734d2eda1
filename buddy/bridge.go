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

import "sync"

// EvictionBridge is what the allocator needs from the buffer pool and its
// replacement policy.
type EvictionBridge interface {
	// AcquireFrame returns a free FrameSize region. With urgent unset it may
	// return false rather than force an eviction.
	// Called with the buffer-pool mutex held.
	AcquireFrame(urgent bool) (Frame, bool)

	// ReleaseFrame takes back a frame that is one free FrameSize block.
	// Called with the buffer-pool mutex held.
	ReleaseFrame(f Frame)

	// TryEvictCleanCompressed evicts one clean compressed page, preferably
	// one whose block index is >= i, returning its blocks through
	// Allocator.Free.
	// Called with the buffer-pool mutex held; it must not take it again.
	TryEvictCleanCompressed(i int) bool

	// TryEvictAnyPage evicts a page to yield a whole clean frame.
	// Called with the buffer-pool mutex released. The error carries the
	// bridge's diagnostic when nothing could be evicted.
	TryEvictAnyPage() (Frame, error)
}

// Resident is a buffer-pool object stored in an allocator block.
type Resident interface {
	sync.Locker
	TryLock() bool

	// Addr is the block the object occupies now.
	Addr() Addr

	// Replaceable reports whether the object is clean, unpinned and has no
	// I/O pending. Called with the object locked.
	Replaceable() bool
}

// Directory resolves live blocks back to the objects stored in them so the
// allocator can move them. All methods are called with the buffer-pool
// mutex held.
type Directory interface {
	// PageKey derives the directory key from a compressed page image.
	PageKey(image []byte) (uint64, bool)

	// LookupPage returns the page registered under key.
	LookupPage(key uint64) (Resident, bool)

	// SwapPage points the entry of key at new if it still points at old.
	SwapPage(key uint64, old, new Addr) bool

	// LookupDescriptor returns the descriptor stored at addr.
	LookupDescriptor(addr Addr) (Resident, bool)

	// MoveDescriptor rewrites every reference to the descriptor at old.
	MoveDescriptor(old, new Addr)
}
