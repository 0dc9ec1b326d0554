// Copyright 2026 Poiesic Systems
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


package queue

import "errors"

var (
	// ErrUnknownTask indicates that no task with the given ID exists or its
	// record has expired.
	ErrUnknownTask = errors.New("unknown task")

	// ErrNotInFlight indicates an ack or fail for a task that is not
	// currently leased, typically because its visibility deadline passed
	// and another worker picked it up, or it already reached a terminal
	// state.
	ErrNotInFlight = errors.New("task is not in flight")

	// ErrQueueClosed indicates an operation on a closed queue.
	ErrQueueClosed = errors.New("queue is closed")

	// ErrInvalidMaxAttempts indicates a non-positive retry attempt limit.
	ErrInvalidMaxAttempts = errors.New("max attempts must be positive")
)
