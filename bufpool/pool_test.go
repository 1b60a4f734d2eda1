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
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudwego/zbuddy/buddy"
)

func newTestPool(t *testing.T, frames int, mod func(c *Config)) *Pool {
	t.Helper()
	c := DefaultConfig()
	c.Frames = frames
	c.Debug = true
	if mod != nil {
		mod(c)
	}
	p, err := New(c)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func payload(id PageID, n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(id.Space*31+id.PageNo) + byte(i*7)
	}
	return b
}

// recorder is a Flusher that keeps what it was given.
type recorder struct {
	mu      sync.Mutex
	written map[PageID][]byte
	fail    map[PageID]bool
}

func newRecorder() *recorder {
	return &recorder{written: make(map[PageID][]byte), fail: make(map[PageID]bool)}
}

func (r *recorder) flush(id PageID, image []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail[id] {
		return errors.Newf("disk error on %s", id)
	}
	r.written[id] = append([]byte(nil), image...)
	return nil
}

func TestNew(t *testing.T) {
	tests := []struct {
		name string
		mod  func(c *Config)
		ok   bool
	}{
		{"default", func(c *Config) {}, true},
		{"no_frames", func(c *Config) { c.Frames = 0 }, false},
		{"no_workers", func(c *Config) { c.FlushWorkers = 0 }, false},
		{"tiny_base", func(c *Config) { c.BaseSize = 16 }, false},
		{"frame_not_pow2", func(c *Config) { c.FrameSize = 3000 }, false},
		{"base_over_frame", func(c *Config) { c.BaseSize = 4096; c.FrameSize = 2048 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultConfig()
			c.Frames = 4
			tt.mod(c)
			p, err := New(c)
			if !tt.ok {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, 4, p.Stats().FreeFrames)
			assert.NoError(t, p.Close())
		})
	}
}

func TestCompressedRoundTrip(t *testing.T) {
	p := newTestPool(t, 4, nil)
	for k := 0; k < 10; k++ {
		id := PageID{Space: 1, PageNo: uint32(k)}
		require.NoError(t, p.PutCompressed(id, payload(id, 100+300*k)))
	}
	require.NoError(t, p.Check())

	s := p.Stats()
	require.Zero(t, s.CompressedEvictions)
	assert.Equal(t, 10, s.CompressedPages)
	for k := 0; k < 10; k++ {
		id := PageID{Space: 1, PageNo: uint32(k)}
		got, err := p.GetCompressed(id)
		require.NoError(t, err)
		assert.Equal(t, payload(id, 100+300*k), got)
	}

	id := PageID{Space: 1, PageNo: 3}
	assert.True(t, errors.Is(p.PutCompressed(id, []byte("x")), ErrExists))
	_, err := p.GetCompressed(PageID{Space: 2})
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.True(t, errors.Is(p.PutCompressed(PageID{Space: 3}, make([]byte, 16<<10)), ErrTooLarge))

	require.NoError(t, p.EvictCompressed(id))
	_, err = p.GetCompressed(id)
	assert.True(t, errors.Is(err, ErrNotFound))
	require.NoError(t, p.Check())
}

func TestCleanEviction(t *testing.T) {
	p := newTestPool(t, 2, nil)
	const n = 4096 - headerSize
	for k := 0; k < 20; k++ {
		id := PageID{PageNo: uint32(k)}
		require.NoError(t, p.PutCompressed(id, payload(id, n)), "page %d", k)
		require.NoError(t, p.Check())
	}

	s := p.Stats()
	assert.NotZero(t, s.CompressedEvictions)
	assert.NotZero(t, s.Alloc.CleanEvictions)
	assert.Zero(t, s.Alloc.PageEvictions)

	// least recently used pages went first
	_, err := p.GetCompressed(PageID{PageNo: 0})
	assert.True(t, errors.Is(err, ErrNotFound))
	last := PageID{PageNo: 19}
	got, err := p.GetCompressed(last)
	require.NoError(t, err)
	assert.Equal(t, payload(last, n), got)
}

func TestPinnedAndDirtyStay(t *testing.T) {
	rec := newRecorder()
	p := newTestPool(t, 1, func(c *Config) { c.Flusher = rec.flush })
	const n = 4096 - headerSize
	ids := []PageID{{PageNo: 0}, {PageNo: 1}, {PageNo: 2}}
	for _, id := range ids {
		require.NoError(t, p.PutCompressed(id, payload(id, n)))
	}
	require.NoError(t, p.Pin(ids[0]))
	require.NoError(t, p.MarkDirty(ids[1]))
	require.NoError(t, p.MarkDirty(ids[2]))

	extra := PageID{PageNo: 3}
	err := p.PutCompressed(extra, payload(extra, n))
	require.Error(t, err)
	assert.True(t, errors.Is(err, buddy.ErrNoSpace))
	assert.Contains(t, err.Error(), "no evictable page")
	assert.True(t, errors.Is(p.EvictCompressed(ids[0]), ErrBusy))
	assert.True(t, errors.Is(p.EvictCompressed(ids[1]), ErrBusy))
	for _, id := range ids {
		got, err := p.GetCompressed(id)
		require.NoError(t, err)
		assert.Equal(t, payload(id, n), got)
	}
	require.NoError(t, p.Check())

	// once written back the dirty pages can make room
	require.NoError(t, p.Flush(context.Background()))
	assert.Len(t, rec.written, 2)
	assert.Equal(t, payload(ids[1], n), rec.written[ids[1]])
	assert.Equal(t, payload(ids[2], n), rec.written[ids[2]])

	require.NoError(t, p.PutCompressed(extra, payload(extra, n)))
	_, err = p.GetCompressed(ids[0])
	assert.NoError(t, err)
	require.NoError(t, p.Unpin(ids[0]))
	assert.Error(t, p.Unpin(ids[0]))
	require.NoError(t, p.Check())
}

func TestEvictWholePage(t *testing.T) {
	a, b, x := PageID{PageNo: 1}, PageID{PageNo: 2}, PageID{Space: 9}

	t.Run("Clean", func(t *testing.T) {
		p := newTestPool(t, 2, nil)
		require.NoError(t, p.PutPage(a, payload(a, 16<<10)))
		require.NoError(t, p.PutPage(b, payload(b, 16<<10)))
		require.Zero(t, p.Stats().FreeFrames)

		require.NoError(t, p.PutCompressed(x, payload(x, 100)))
		_, err := p.PinPage(a)
		assert.True(t, errors.Is(err, ErrNotFound))
		got, err := p.PinPage(b)
		require.NoError(t, err)
		assert.Equal(t, payload(b, 16<<10), got)

		s := p.Stats()
		assert.Equal(t, uint64(1), s.PageEvictions)
		assert.Equal(t, uint64(1), s.Alloc.PageEvictions)
		assert.Equal(t, uint64(1), s.Alloc.FramesAcquired)
		require.NoError(t, p.Check())
	})

	t.Run("Dirty", func(t *testing.T) {
		rec := newRecorder()
		p := newTestPool(t, 2, func(c *Config) { c.Flusher = rec.flush })
		require.NoError(t, p.PutPage(a, payload(a, 1000)))
		mem, err := p.PinPage(a)
		require.NoError(t, err)
		mem[0] = 0xAA
		require.NoError(t, p.UnpinPage(a, true))
		require.NoError(t, p.PutPage(b, payload(b, 1000)))

		require.NoError(t, p.PutCompressed(x, payload(x, 100)))
		want := payload(a, 1000)
		want[0] = 0xAA
		assert.Equal(t, want, rec.written[a])
		_, err = p.PinPage(a)
		assert.True(t, errors.Is(err, ErrNotFound))
		assert.Equal(t, uint64(1), p.Stats().Flushes)
	})

	t.Run("Pinned", func(t *testing.T) {
		p := newTestPool(t, 2, nil)
		require.NoError(t, p.PutPage(a, payload(a, 1000)))
		require.NoError(t, p.PutPage(b, payload(b, 1000)))
		_, err := p.PinPage(a)
		require.NoError(t, err)
		_, err = p.PinPage(b)
		require.NoError(t, err)

		err = p.PutCompressed(x, payload(x, 100))
		assert.True(t, errors.Is(err, buddy.ErrNoSpace))
		assert.Contains(t, err.Error(), "no evictable page")
		assert.True(t, errors.Is(p.PutPage(x, nil), ErrNoFrame))
	})
}

func TestPutPageReusesCleanFrame(t *testing.T) {
	a, b, c := PageID{PageNo: 1}, PageID{PageNo: 2}, PageID{PageNo: 3}
	p := newTestPool(t, 1, nil)
	require.NoError(t, p.PutPage(a, payload(a, 100)))
	require.NoError(t, p.PutPage(b, payload(b, 100)))
	_, err := p.PinPage(a)
	assert.True(t, errors.Is(err, ErrNotFound))

	// a dirty page is not written back from under the mutex
	_, err = p.PinPage(b)
	require.NoError(t, err)
	require.NoError(t, p.UnpinPage(b, true))
	assert.True(t, errors.Is(p.PutPage(c, nil), ErrNoFrame))
	assert.True(t, errors.Is(p.PutPage(b, nil), ErrExists))
}

func TestFlush(t *testing.T) {
	ids := []PageID{{PageNo: 0}, {PageNo: 1}, {PageNo: 2}, {PageNo: 3}}
	u := PageID{Space: 5}
	setup := func(t *testing.T, rec *recorder) *Pool {
		p := newTestPool(t, 4, func(c *Config) { c.Flusher = rec.flush })
		for _, id := range ids {
			require.NoError(t, p.PutCompressed(id, payload(id, 500)))
		}
		require.NoError(t, p.MarkDirty(ids[1]))
		require.NoError(t, p.MarkDirty(ids[3]))
		require.NoError(t, p.PutPage(u, payload(u, 200)))
		_, err := p.PinPage(u)
		require.NoError(t, err)
		require.NoError(t, p.UnpinPage(u, true))
		return p
	}

	t.Run("Written", func(t *testing.T) {
		rec := newRecorder()
		p := setup(t, rec)
		require.NoError(t, p.Flush(context.Background()))
		assert.Len(t, rec.written, 3)
		assert.Equal(t, payload(ids[1], 500), rec.written[ids[1]])
		assert.Equal(t, payload(ids[3], 500), rec.written[ids[3]])
		assert.Equal(t, payload(u, 200), rec.written[u])
		assert.Equal(t, uint64(3), p.Stats().Flushes)

		// clean again: evictable, and nothing left to write
		require.NoError(t, p.EvictCompressed(ids[1]))
		rec.written = make(map[PageID][]byte)
		require.NoError(t, p.Flush(context.Background()))
		assert.Empty(t, rec.written)
		require.NoError(t, p.Check())
	})

	t.Run("Failed", func(t *testing.T) {
		rec := newRecorder()
		rec.fail[ids[3]] = true
		p := setup(t, rec)
		err := p.Flush(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "disk error")
		assert.True(t, errors.Is(p.EvictCompressed(ids[3]), ErrBusy))
		require.NoError(t, p.EvictCompressed(ids[1]))
		assert.Equal(t, uint64(1), p.Stats().FlushErrors)
	})

	t.Run("Canceled", func(t *testing.T) {
		rec := newRecorder()
		p := setup(t, rec)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := p.Flush(ctx)
		assert.True(t, errors.Is(err, context.Canceled))
		assert.Empty(t, rec.written)
		assert.True(t, errors.Is(p.EvictCompressed(ids[1]), ErrBusy))
	})
}

// TestRelocation churns compressed pages of mixed sizes so the allocator
// moves pages and descriptors, and checks that every page is still found
// through its descriptor with intact contents.
func TestRelocation(t *testing.T) {
	// enough clean evictions per allocation to defragment any frame
	p := newTestPool(t, 4, func(c *Config) { c.CleanEvictAttempts = 64 })
	rnd := rand.New(rand.NewSource(7))
	live := make(map[PageID]int)
	var ids []PageID

	for step := 0; step < 600; step++ {
		switch {
		case len(ids) > 0 && rnd.Intn(3) == 0:
			k := rnd.Intn(len(ids))
			id := ids[k]
			ids = append(ids[:k], ids[k+1:]...)
			err := p.EvictCompressed(id)
			if err != nil {
				// evicted by pressure earlier
				require.True(t, errors.Is(err, ErrNotFound))
			}
			delete(live, id)
		default:
			id := PageID{Space: 1, PageNo: uint32(step)}
			n := 1 + rnd.Intn(3000)
			require.NoError(t, p.PutCompressed(id, payload(id, n)))
			live[id] = n
			ids = append(ids, id)
		}
		require.NoError(t, p.Check(), "step %d", step)
	}

	for id, n := range live {
		got, err := p.GetCompressed(id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, payload(id, n), got)
	}

	var moved uint64
	for _, s := range p.Stats().Alloc.Sizes {
		moved += s.Relocated
	}
	assert.NotZero(t, moved)
}

func TestPrefill(t *testing.T) {
	p := newTestPool(t, 4, nil)
	n, err := p.Prefill(3)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	s := p.Stats()
	assert.Equal(t, 1, s.FreeFrames)
	assert.Equal(t, uint64(3), s.Alloc.FramesAcquired)

	// one prefilled frame gets split, the other two come back
	id := PageID{PageNo: 1}
	require.NoError(t, p.PutCompressed(id, payload(id, 100)))
	assert.Equal(t, 2, p.Reclaim())
	assert.Equal(t, 3, p.Stats().FreeFrames)
	assert.Zero(t, p.Reclaim())

	// once emptied, the split frame goes back by itself
	require.NoError(t, p.EvictCompressed(id))
	s = p.Stats()
	assert.Equal(t, 4, s.FreeFrames)
	assert.Equal(t, uint64(3), s.Alloc.FramesReleased)
	assert.Zero(t, p.Reclaim())
	require.NoError(t, p.Check())
}

func TestClose(t *testing.T) {
	p := newTestPool(t, 1, nil)
	id := PageID{PageNo: 1}
	require.NoError(t, p.PutCompressed(id, payload(id, 10)))
	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	assert.True(t, errors.Is(p.PutCompressed(PageID{}, nil), ErrClosed))
	_, err := p.GetCompressed(id)
	assert.True(t, errors.Is(err, ErrClosed))
	assert.True(t, errors.Is(p.Flush(context.Background()), ErrClosed))
}

func isClosed(p *Pool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// TestCloseDuringWriteBack closes the pool while an allocation is writing
// back a dirty page with the mutex released.
func TestCloseDuringWriteBack(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var written []byte
	flusher := func(id PageID, image []byte) error {
		close(started)
		<-release
		written = append([]byte(nil), image...)
		return nil
	}
	p := newTestPool(t, 1, func(c *Config) { c.Flusher = flusher })

	a, x := PageID{PageNo: 1}, PageID{Space: 9}
	require.NoError(t, p.PutPage(a, payload(a, 1000)))
	_, err := p.PinPage(a)
	require.NoError(t, err)
	require.NoError(t, p.UnpinPage(a, true))

	putErr := make(chan error, 1)
	go func() { putErr <- p.PutCompressed(x, payload(x, 100)) }()
	<-started

	closeErr := make(chan error, 1)
	go func() { closeErr <- p.Close() }()
	require.Eventually(t, func() bool { return isClosed(p) }, time.Second, time.Millisecond)
	select {
	case <-closeErr:
		t.Fatal("Close returned while a page was being written")
	default:
	}

	close(release)
	assert.True(t, errors.Is(<-putErr, ErrClosed))
	require.NoError(t, <-closeErr)
	assert.Equal(t, payload(a, 1000), written)

	// the blocks taken for x went back and the frame with them
	s := p.Stats()
	assert.Equal(t, uint64(1), s.Alloc.FramesAcquired)
	assert.Equal(t, uint64(1), s.Alloc.FramesReleased)
	for i, sz := range s.Alloc.Sizes {
		assert.Zero(t, sz.Used, "index %d", i)
	}
	assert.Zero(t, s.CompressedPages)
}

func oneOf(err error, targets ...error) bool {
	if err == nil {
		return true
	}
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// TestConcurrent runs every pool operation from several goroutines at once.
// Run it with -race.
func TestConcurrent(t *testing.T) {
	rec := newRecorder()
	p := newTestPool(t, 8, func(c *Config) {
		c.Flusher = rec.flush
		c.CleanEvictAttempts = 8
	})

	var wg sync.WaitGroup
	for g := 0; g < 6; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rnd := rand.New(rand.NewSource(int64(g)))
			for step := 0; step < 500; step++ {
				zid := PageID{Space: uint32(g), PageNo: uint32(rnd.Intn(40))}
				uid := PageID{Space: uint32(100 + g), PageNo: uint32(rnd.Intn(4))}
				switch rnd.Intn(7) {
				case 0:
					err := p.PutCompressed(zid, payload(zid, 1+rnd.Intn(3000)))
					assert.True(t, oneOf(err, ErrExists, buddy.ErrNoSpace), "put %s: %v", zid, err)
				case 1:
					err := p.EvictCompressed(zid)
					assert.True(t, oneOf(err, ErrNotFound, ErrBusy), "evict %s: %v", zid, err)
				case 2:
					err := p.MarkDirty(zid)
					assert.True(t, oneOf(err, ErrNotFound), "mark %s: %v", zid, err)
				case 3:
					got, err := p.GetCompressed(zid)
					if assert.True(t, oneOf(err, ErrNotFound), "get %s: %v", zid, err) && err == nil {
						assert.Equal(t, payload(zid, len(got)), got)
					}
				case 4:
					err := p.PutPage(uid, payload(uid, 512))
					assert.True(t, oneOf(err, ErrExists, ErrNoFrame), "put page %s: %v", uid, err)
				case 5:
					mem, err := p.PinPage(uid)
					if !assert.True(t, oneOf(err, ErrNotFound), "pin %s: %v", uid, err) || err != nil {
						continue
					}
					mem[0] = byte(step)
					assert.NoError(t, p.UnpinPage(uid, true))
				case 6:
					assert.NoError(t, p.Flush(context.Background()))
				}
			}
		}()
	}
	wg.Wait()

	require.NoError(t, p.Check())
	require.NoError(t, p.Flush(context.Background()))
	s := p.Stats()
	assert.Zero(t, s.FlushErrors)
	assert.NotZero(t, s.Flushes)
}
