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

// frameMap finds the frame owning an address. Only whole frames are added
// and removed.
type frameMap struct {
	mask   Addr // FrameSize - 1
	frames map[Addr]*frame
}

func newFrameMap(frameSize int) frameMap {
	return frameMap{
		mask:   Addr(frameSize - 1),
		frames: make(map[Addr]*frame),
	}
}

func (m *frameMap) register(f *frame) {
	m.frames[f.base] = f
}

func (m *frameMap) unregister(base Addr) *frame {
	f := m.frames[base]
	delete(m.frames, base)
	return f
}

// lookup aligns p down to its frame base.
func (m *frameMap) lookup(p Addr) *frame {
	return m.frames[p&^m.mask]
}

func (m *frameMap) len() int {
	return len(m.frames)
}
