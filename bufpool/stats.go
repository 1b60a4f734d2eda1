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

	"github.com/cloudwego/zbuddy/buddy"
)

// Stats ...
type Stats struct {
	Alloc buddy.Stats

	FreeFrames      int
	Pages           int
	CompressedPages int

	Flushes             uint64
	FlushErrors         uint64
	PageEvictions       uint64
	CompressedEvictions uint64
}

// Stats returns a snapshot of the counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.stats
	s.Alloc = p.alloc.Stats()
	s.FreeFrames = len(p.free)
	s.Pages = len(p.pages)
	s.CompressedPages = len(p.zips)
	return s
}

// Check verifies the allocator and that every compressed page can be found
// through its descriptor.
func (p *Pool) Check() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.check(); err != nil {
		return err
	}
	if err := p.alloc.Validate(); err != nil {
		return err
	}
	for id, z := range p.zips {
		if p.descs[z.desc] != z {
			return errors.AssertionFailedf("bufpool: page %s: descriptor %#x is not indexed", id, z.desc)
		}
		if r := decodeDescriptor(p.alloc.Bytes(z.desc, p.cfg.BaseSize)); r.id != id || r.zip != z.zip {
			return errors.AssertionFailedf("bufpool: page %s: descriptor names %s at %#x, want %#x", id, r.id, r.zip, z.zip)
		}
		if hid, _ := readHeader(p.alloc.Bytes(z.zip, z.zsize)); hid != id {
			return errors.AssertionFailedf("bufpool: page %s: block %#x holds %s", id, z.zip, hid)
		}
	}
	if len(p.descs) != len(p.zips) {
		return errors.AssertionFailedf("bufpool: %d descriptors for %d pages", len(p.descs), len(p.zips))
	}
	return nil
}
