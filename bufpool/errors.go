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

import "github.com/cockroachdb/errors"

var (
	ErrNotFound = errors.New("bufpool: page not found")
	ErrExists   = errors.New("bufpool: page already present")
	ErrBusy     = errors.New("bufpool: page is pinned, dirty or under I/O")
	ErrTooLarge = errors.New("bufpool: page does not fit in a frame")
	ErrNoFrame  = errors.New("bufpool: no free frame")
	ErrClosed   = errors.New("bufpool: pool is closed")
)
