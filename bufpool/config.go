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
	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"

	"github.com/cloudwego/zbuddy/buddy"
)

// Config configures a Pool.
type Config struct {
	// Frames is the number of frames the pool owns. Frames hold either one
	// uncompressed page or blocks of compressed pages.
	Frames int

	FrameSize int
	BaseSize  int

	// CleanEvictAttempts is passed to the allocator: how many clean
	// compressed pages one allocation may evict before it evicts a whole
	// uncompressed page.
	CleanEvictAttempts int

	// FlushWorkers caps the goroutines writing dirty pages.
	FlushWorkers int

	// Flusher writes a page image. It's called without any pool lock held,
	// possibly from several goroutines at once. nil discards the image.
	Flusher func(id PageID, image []byte) error

	Logger zerolog.Logger

	// Debug turns on the allocator's assertions and block scrubbing.
	Debug bool
}

// DefaultConfig returns a pool of 64 frames of 16KB.
func DefaultConfig() *Config {
	return &Config{
		Frames:             64,
		FrameSize:          buddy.DefaultFrameSize,
		BaseSize:           buddy.DefaultBaseSize,
		CleanEvictAttempts: 4,
		FlushWorkers:       4,
		Logger:             zerolog.Nop(),
	}
}

func (c *Config) validate() error {
	if c.Frames <= 0 {
		return errors.Newf("bufpool: Frames %d must be positive", c.Frames)
	}
	if c.FlushWorkers <= 0 {
		return errors.Newf("bufpool: FlushWorkers %d must be positive", c.FlushWorkers)
	}
	if c.BaseSize < descSize {
		return errors.Newf("bufpool: BaseSize %d cannot hold a %d byte descriptor", c.BaseSize, descSize)
	}
	return nil
}

func (c *Config) allocatorOptions() *buddy.Options {
	o := buddy.DefaultOptions()
	o.BaseSize = c.BaseSize
	o.FrameSize = c.FrameSize
	o.CleanEvictAttempts = c.CleanEvictAttempts
	o.Debug = c.Debug
	o.Scrub = c.Debug
	o.Logger = c.Logger
	return o
}
