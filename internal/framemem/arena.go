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

// Package framemem reserves the memory buffer-pool frames live in.
package framemem

import (
	"unsafe"

	"github.com/cockroachdb/errors"
)

// Arena is a contiguous run of frames whose addresses are aligned to the
// frame size.
type Arena struct {
	frameSize int
	n         int

	raw []byte // the whole reservation, one frame larger than mem
	mem []byte
}

// New reserves n frames of frameSize bytes. frameSize must be a power of two.
func New(n, frameSize int) (*Arena, error) {
	if n <= 0 {
		return nil, errors.Newf("framemem: frame count %d must be positive", n)
	}
	if frameSize <= 0 || frameSize&(frameSize-1) != 0 {
		return nil, errors.Newf("framemem: frame size %d is not a power of two", frameSize)
	}
	raw, err := reserve((n + 1) * frameSize)
	if err != nil {
		return nil, errors.Wrapf(err, "framemem: reserve %d frames of %d bytes", n, frameSize)
	}
	start := uintptr(unsafe.Pointer(&raw[0]))
	skip := int(alignUp(start, uintptr(frameSize)) - start)
	end := skip + n*frameSize
	return &Arena{
		frameSize: frameSize,
		n:         n,
		raw:       raw,
		mem:       raw[skip:end:end],
	}, nil
}

func alignUp(p, align uintptr) uintptr {
	return (p + align - 1) &^ (align - 1)
}

// Len returns the number of frames.
func (a *Arena) Len() int { return a.n }

// FrameSize returns the size of each frame.
func (a *Arena) FrameSize() int { return a.frameSize }

// Frame returns the base address and memory of frame k.
func (a *Arena) Frame(k int) (uintptr, []byte) {
	if k < 0 || k >= a.n || a.mem == nil {
		panic(errors.AssertionFailedf("framemem: frame %d out of range [0, %d)", k, a.n))
	}
	off := k * a.frameSize
	b := a.mem[off : off+a.frameSize : off+a.frameSize]
	return uintptr(unsafe.Pointer(&b[0])), b
}

// Close gives the memory back. Frames must not be used afterwards.
func (a *Arena) Close() error {
	if a.raw == nil {
		return nil
	}
	raw := a.raw
	a.raw, a.mem = nil, nil
	return release(raw)
}
