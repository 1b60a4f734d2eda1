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

import "github.com/cloudwego/zbuddy/buddy"

// directory lets the allocator find the page stored in a block.
type directory Pool

var _ buddy.Directory = (*directory)(nil)

func (d *directory) PageKey(image []byte) (uint64, bool) {
	id, ok := readHeader(image)
	return id.key(), ok
}

func (d *directory) LookupPage(key uint64) (buddy.Resident, bool) {
	z, ok := d.zips[pageIDOf(key)]
	if !ok {
		return nil, false
	}
	return pageRef{z}, true
}

func (d *directory) SwapPage(key uint64, old, new buddy.Addr) bool {
	p := (*Pool)(d)
	z, ok := p.zips[pageIDOf(key)]
	if !ok || z.zip != old {
		return false
	}
	z.zip = new
	setZip(p.alloc.Bytes(z.desc, p.cfg.BaseSize), new)
	return true
}

func (d *directory) LookupDescriptor(addr buddy.Addr) (buddy.Resident, bool) {
	z, ok := d.descs[addr]
	if !ok {
		return nil, false
	}
	return descRef{z}, true
}

func (d *directory) MoveDescriptor(old, new buddy.Addr) {
	z := d.descs[old]
	delete(d.descs, old)
	z.desc = new
	d.descs[new] = z
}
