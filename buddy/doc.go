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

// Package buddy implements a binary buddy allocator for compressed pages
// stored inside the fixed-size frames of a buffer pool.
//
// Frames are borrowed from the buffer pool through an EvictionBridge and are
// carved into power-of-two blocks between BaseSize and FrameSize. Freed blocks
// are merged with their buddies; when a buddy is still live, the allocator
// tries to relocate it (through a Directory) so the pair can merge anyway.
// A frame that becomes wholly free is handed straight back to the bridge.
//
// The allocator does not own a lock. Every exported method except New expects
// the buffer-pool mutex given to New to be held by the caller. Allocate may
// release and re-acquire it while the bridge evicts a page.
package buddy
