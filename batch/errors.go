// Copyright 2026 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package batch

import "fmt"

// ChunkError identifies the chunk that caused a batch to fail. Start and End
// are the chunk's half-open range in the original call list.
type ChunkError struct {
	Err      error
	Chunk    int
	Start    int
	End      int
	Attempts int
}

func (e *ChunkError) Error() string {
	return fmt.Sprintf(
		"batch chunk %d (calls %d-%d) failed after %d attempt(s): %v",
		e.Chunk,
		e.Start,
		e.End-1,
		e.Attempts,
		e.Err,
	)
}

func (e *ChunkError) Unwrap() error {
	return e.Err
}
