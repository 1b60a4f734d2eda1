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
	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
)

const (
	// DefaultBaseSize is the smallest block handed out (1KB).
	DefaultBaseSize = 1 << 10

	// DefaultFrameSize is the buffer-pool frame size (16KB).
	DefaultFrameSize = 16 << 10

	// maxSizes bounds the number of size classes so marks fit an int8.
	maxSizes = 21

	// scrubByte fills freed blocks when Options.Scrub is set.
	scrubByte = 0xFD
)

// Options ...
type Options struct {
	// BaseSize is the smallest block size. Power of two.
	BaseSize int

	// FrameSize is the size of the frames borrowed from the buffer pool.
	// Power of two, >= BaseSize.
	FrameSize int

	// Debug turns programming errors (double free, wrong size, unknown
	// pointer) into panics and verifies relocated copies.
	Debug bool

	// Scrub fills freed blocks with a pattern. With Debug, the pattern is
	// checked again when the block is handed out.
	Scrub bool

	// CleanEvictAttempts is how many times Allocate asks the bridge to evict
	// a clean compressed page before evicting a whole page.
	CleanEvictAttempts int

	Logger zerolog.Logger
}

// DefaultOptions returns the default values of Options.
func DefaultOptions() *Options {
	return &Options{
		BaseSize:           DefaultBaseSize,
		FrameSize:          DefaultFrameSize,
		CleanEvictAttempts: 1,
		Logger:             zerolog.Nop(),
	}
}

func (o *Options) validate() error {
	if o.BaseSize <= 0 || o.BaseSize&(o.BaseSize-1) != 0 {
		return errors.Newf("BaseSize must be a power of two, got %d", o.BaseSize)
	}
	if o.FrameSize <= 0 || o.FrameSize&(o.FrameSize-1) != 0 {
		return errors.Newf("FrameSize must be a power of two, got %d", o.FrameSize)
	}
	if o.BaseSize > o.FrameSize {
		return errors.Newf("BaseSize (%d) must be <= FrameSize (%d)", o.BaseSize, o.FrameSize)
	}
	if o.FrameSize/o.BaseSize >= 1<<maxSizes {
		return errors.Newf("FrameSize/BaseSize must be < 2^%d, got %d", maxSizes, o.FrameSize/o.BaseSize)
	}
	if o.CleanEvictAttempts < 0 {
		return errors.Newf("CleanEvictAttempts must be >= 0, got %d", o.CleanEvictAttempts)
	}
	return nil
}
