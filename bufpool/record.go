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
	"encoding/binary"
	"math/bits"
	"strconv"

	"github.com/cloudwego/zbuddy/buddy"
)

// PageID names a page by tablespace and page number.
type PageID struct {
	Space  uint32
	PageNo uint32
}

func (id PageID) String() string {
	return strconv.FormatUint(uint64(id.Space), 10) + ":" + strconv.FormatUint(uint64(id.PageNo), 10)
}

func (id PageID) key() uint64 {
	return uint64(id.Space)<<32 | uint64(id.PageNo)
}

func pageIDOf(key uint64) PageID {
	return PageID{Space: uint32(key >> 32), PageNo: uint32(key)}
}

// A compressed block starts with the page id, followed by the payload.
const headerSize = 8

func putHeader(b []byte, id PageID) {
	binary.BigEndian.PutUint32(b[0:], id.Space)
	binary.BigEndian.PutUint32(b[4:], id.PageNo)
}

func readHeader(b []byte) (PageID, bool) {
	if len(b) < headerSize {
		return PageID{}, false
	}
	return PageID{
		Space:  binary.BigEndian.Uint32(b[0:]),
		PageNo: binary.BigEndian.Uint32(b[4:]),
	}, true
}

// descriptor block layout:
//
//	0  space   u32
//	4  pageno  u32
//	8  zip     u64  address of the compressed block
//	16 len     u32  payload length
//	20 sum     u64  xxhash3 of the payload
const descSize = 28

type descRecord struct {
	id  PageID
	zip buddy.Addr
	n   int
	sum uint64
}

func (r *descRecord) encode(b []byte) {
	putHeader(b, r.id)
	binary.BigEndian.PutUint64(b[8:], uint64(r.zip))
	binary.BigEndian.PutUint32(b[16:], uint32(r.n))
	binary.BigEndian.PutUint64(b[20:], r.sum)
}

func decodeDescriptor(b []byte) descRecord {
	id, _ := readHeader(b)
	return descRecord{
		id:  id,
		zip: buddy.Addr(binary.BigEndian.Uint64(b[8:])),
		n:   int(binary.BigEndian.Uint32(b[16:])),
		sum: binary.BigEndian.Uint64(b[20:]),
	}
}

// setZip rewrites the block address of an encoded record.
func setZip(b []byte, zip buddy.Addr) {
	binary.BigEndian.PutUint64(b[8:], uint64(zip))
}

// blockSize rounds n up to a power of two no smaller than base.
func blockSize(n, base int) int {
	if n <= base {
		return base
	}
	return 1 << bits.Len(uint(n-1))
}
