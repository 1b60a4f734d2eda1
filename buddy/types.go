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

import "fmt"

// Addr is the address of a block. Frame bases are FrameSize aligned and a
// block of size s is s aligned.
type Addr uint64

// Frame is a FrameSize region handed over by the buffer pool.
type Frame struct {
	Base Addr
	Mem  []byte
}

// State classifies the block starting at an address.
type State uint8

const (
	// StateFree is a block sitting on a free list.
	// The mark is advisory: only free-list membership is authoritative.
	StateFree State = iota
	// StatePage holds a clean compressed page.
	StatePage
	// StateDirtyPage holds a compressed page with unwritten changes.
	StateDirtyPage
	// StateDescriptor holds a page descriptor record.
	StateDescriptor
	// StateInternal is allocator bookkeeping: granules inside a larger block.
	StateInternal
	// StateHole is a block in the middle of a relocation.
	StateHole
)

var stateNames = [...]string{
	StateFree:       "FREE",
	StatePage:       "PAGE",
	StateDirtyPage:  "DIRTY_PAGE",
	StateDescriptor: "DESCRIPTOR",
	StateInternal:   "INTERNAL",
	StateHole:       "HOLE",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

// Live reports whether s describes a block owned by a caller.
func (s State) Live() bool {
	return s == StatePage || s == StateDirtyPage || s == StateDescriptor
}

// mark is the per-granule record of the block starting there.
type mark struct {
	state State
	i     int8
}

// frame is the allocator's descriptor of a registered frame.
type frame struct {
	base  Addr
	mem   []byte
	marks []mark // one per BaseSize granule
	ext   Frame
}

func (f *frame) mark(off, shift int) mark {
	return f.marks[off>>shift]
}

func (f *frame) setMark(off, shift int, s State, i int) {
	f.marks[off>>shift] = mark{state: s, i: int8(i)}
}

// block is a typed (frame, offset, index) triple; it becomes an Addr only at
// the API boundary.
type block struct {
	f   *frame
	off int
	i   int
}

func (b block) addr() Addr {
	return b.f.base + Addr(b.off)
}
