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
	"context"
	"sync"

	"github.com/bytedance/gopkg/lang/dirtmake"
	"github.com/cockroachdb/errors"

	"github.com/cloudwego/zbuddy/buddy"
)

type flushJob struct {
	id    PageID
	z     *zpage
	u     *upage
	gen   uint64
	image []byte
}

// Flush writes every dirty page through Config.Flusher and marks it clean.
// Images are copied under the pool mutex and written without it; a page
// dirtied again meanwhile stays dirty.
func (p *Pool) Flush(ctx context.Context) error {
	jobs, err := p.collectDirty()
	if err != nil {
		return err
	}
	defer p.busy.Done()

	var wg sync.WaitGroup
	errs := make([]error, len(jobs))
	for k, j := range jobs {
		if err := ctx.Err(); err != nil {
			errs[k] = err
			p.finishFlush(j, err)
			continue
		}
		wg.Add(1)
		p.flusher.CtxGo(ctx, func() {
			err := errors.Newf("bufpool: writing page %s panicked", j.id)
			defer func() {
				errs[k] = err
				p.finishFlush(j, err)
				wg.Done()
			}()
			err = p.cfg.Flusher(j.id, j.image)
		})
	}
	wg.Wait()

	var ret error
	for _, e := range errs {
		ret = errors.CombineErrors(ret, e)
	}
	return ret
}

func (p *Pool) collectDirty() ([]flushJob, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.check(); err != nil {
		return nil, err
	}
	p.busy.Add(1)
	var jobs []flushJob
	for _, z := range p.zips {
		if !z.dirty || z.ioFix {
			continue
		}
		z.Lock()
		z.ioFix = true
		image := dirtmake.Bytes(z.n, z.n)
		copy(image, p.alloc.Bytes(z.zip, z.zsize)[headerSize:])
		jobs = append(jobs, flushJob{id: z.id, z: z, gen: z.gen, image: image})
		z.Unlock()
	}
	for _, u := range p.pages {
		// a pinned page may be under a writer
		if !u.dirty || u.ioFix || u.pins > 0 {
			continue
		}
		u.ioFix = true
		image := dirtmake.Bytes(u.n, u.n)
		copy(image, u.frame.Mem)
		jobs = append(jobs, flushJob{id: u.id, u: u, gen: u.gen, image: image})
	}
	return jobs, nil
}

func (p *Pool) finishFlush(j flushJob, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		p.stats.FlushErrors++
		p.log.Warn().Err(err).Stringer("page", j.id).Msg("bufpool: flush failed")
	} else {
		p.stats.Flushes++
	}

	if u := j.u; u != nil {
		u.ioFix = false
		if err == nil && u.gen == j.gen {
			u.dirty = false
		}
		return
	}

	z := j.z
	z.Lock()
	z.ioFix = false
	clean := err == nil && z.gen == j.gen
	if clean {
		z.dirty = false
	}
	z.Unlock()
	if clean {
		// dirty pages are never moved, so z.zip is where the copy came from
		if err := p.alloc.SetState(z.zip, z.zsize, buddy.StatePage); err != nil {
			p.log.Error().Err(err).Stringer("page", j.id).Msg("bufpool: cannot mark page clean")
		}
	}
}
