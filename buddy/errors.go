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

import "github.com/cockroachdb/errors"

var (
	// ErrNoSpace is returned by Allocate when neither the free lists, the
	// bridge's free frames nor eviction produced a block. Errors carrying a
	// bridge diagnostic are marked with it.
	ErrNoSpace = errors.New("buddy: no space available")

	// ErrBadSize is returned for sizes that are not a power of two in
	// [BaseSize, FrameSize].
	ErrBadSize = errors.New("buddy: invalid block size")
)

// fail reports a programming error: it panics under Debug and returns the
// error otherwise.
func (a *Allocator) fail(err error) error {
	if a.debug {
		panic(err)
	}
	a.log.Error().Err(err).Msg("buddy: programming error")
	return err
}
