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
	"container/list"
	"sync"

	"github.com/cloudwego/zbuddy/buddy"
)

// zpage is a compressed page. Its image lives in an allocator block and its
// descriptor record in another one; both may be moved by the allocator.
//
// Fields are written with both the pool mutex and the page lock held.
type zpage struct {
	sync.Mutex

	id    PageID
	zip   buddy.Addr
	zsize int // block size of zip
	n     int // payload length
	sum   uint64
	desc  buddy.Addr

	pins  int
	dirty bool
	gen   uint64 // bumped by every MarkDirty
	ioFix bool   // a flush holds a copy of the image

	elem *list.Element
}

func (z *zpage) replaceable() bool {
	return z.pins == 0 && !z.dirty && !z.ioFix
}

// pageRef and descRef expose a zpage to the allocator under the two
// addresses it occupies.
type pageRef struct{ *zpage }

func (r pageRef) Addr() buddy.Addr { return r.zip }
func (r pageRef) Replaceable() bool { return r.replaceable() }

type descRef struct{ *zpage }

func (r descRef) Addr() buddy.Addr { return r.desc }
func (r descRef) Replaceable() bool { return r.replaceable() }

// upage is an uncompressed page occupying a whole frame.
type upage struct {
	id    PageID
	frame buddy.Frame
	n     int

	pins  int
	dirty bool
	gen   uint64
	ioFix bool

	elem *list.Element
}

func (u *upage) evictable() bool {
	return u.pins == 0 && !u.ioFix
}
