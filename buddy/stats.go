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

import "time"

// SizeStats are the counters of one size class.
type SizeStats struct {
	// Used is the number of blocks handed out and not freed yet.
	Used uint64
	// Relocated is the number of blocks moved to let a pair merge.
	Relocated uint64
	// RelocatedTime is the time spent moving them.
	RelocatedTime time.Duration
	// Refused counts moves turned down: dirty, pinned or busy objects.
	Refused uint64
}

// Stats ...
type Stats struct {
	Sizes []SizeStats

	FramesAcquired uint64
	FramesReleased uint64
	CleanEvictions uint64
	PageEvictions  uint64
}

// Stats returns a copy of the counters.
func (a *Allocator) Stats() Stats {
	s := a.stats
	s.Sizes = append([]SizeStats(nil), a.stats.Sizes...)
	return s
}
