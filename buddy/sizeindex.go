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

import "math/bits"

// sizeIndex maps block sizes to bucket indexes: bucket i holds BaseSize << i.
type sizeIndex struct {
	baseShift  int // log2(BaseSize)
	frameShift int // log2(FrameSize)
	maxI       int // frameShift - baseShift
}

func newSizeIndex(base, frame int) sizeIndex {
	bs := bits.TrailingZeros(uint(base))
	fs := bits.TrailingZeros(uint(frame))
	return sizeIndex{baseShift: bs, frameShift: fs, maxI: fs - bs}
}

// valid reports whether size is a power of two in [BaseSize, FrameSize].
func (s sizeIndex) valid(size int) bool {
	return size > 0 && size&(size-1) == 0 &&
		size>>s.baseShift != 0 && size>>s.frameShift <= 1
}

// indexOf expects a valid size.
func (s sizeIndex) indexOf(size int) int {
	return bits.TrailingZeros(uint(size)) - s.baseShift
}

func (s sizeIndex) sizeOf(i int) int {
	return 1 << (s.baseShift + i)
}

// IndexOf returns the bucket index for size, or -1 if size is not a power of
// two in [BaseSize, FrameSize].
func (a *Allocator) IndexOf(size int) int {
	if !a.sizes.valid(size) {
		return -1
	}
	return a.sizes.indexOf(size)
}

// SizeOf returns the block size of bucket i.
func (a *Allocator) SizeOf(i int) int {
	return a.sizes.sizeOf(i)
}

// MaxIndex returns the bucket index of a whole frame.
func (a *Allocator) MaxIndex() int {
	return a.sizes.maxI
}
