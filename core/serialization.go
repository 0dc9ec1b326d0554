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


package core

import (
	"math"
	"time"

	mus "github.com/mus-format/mus-go"
	"github.com/mus-format/mus-go/ord"
	"github.com/mus-format/mus-go/varint"
)

// MUS serializers for the records persisted in BadgerDB.
// Fields are written in declaration order; timestamps at microsecond
// precision. The record set is small enough to compose these by hand.
var (
	IDMUS    mus.Serializer[ID]            = idMUS{}
	TaskMUS  mus.Serializer[Task]          = taskMUS{}
	ChunkMUS mus.Serializer[DocumentChunk] = chunkMUS{}
)

var (
	float32MUS  = float32Ser{}
	timeMUS     = timeSer{}
	vectorMUS   = ord.NewSliceSer[float32](float32MUS)
	metadataMUS = ord.NewMapSer[string, string](ord.String, ord.String)
	payloadMUS  = payloadSer{}
)

type idMUS struct{}

func (idMUS) Marshal(v ID, bs []byte) int {
	return varint.Uint64.Marshal(uint64(v), bs)
}

func (idMUS) Unmarshal(bs []byte) (ID, int, error) {
	u, n, err := varint.Uint64.Unmarshal(bs)
	return ID(u), n, err
}

func (idMUS) Size(v ID) int {
	return varint.Uint64.Size(uint64(v))
}

func (idMUS) Skip(bs []byte) (int, error) {
	return varint.Uint64.Skip(bs)
}

// float32Ser stores the IEEE 754 bits as a varint.
type float32Ser struct{}

func (float32Ser) Marshal(v float32, bs []byte) int {
	return varint.Uint32.Marshal(math.Float32bits(v), bs)
}

func (float32Ser) Unmarshal(bs []byte) (float32, int, error) {
	u, n, err := varint.Uint32.Unmarshal(bs)
	return math.Float32frombits(u), n, err
}

func (float32Ser) Size(v float32) int {
	return varint.Uint32.Size(math.Float32bits(v))
}

func (float32Ser) Skip(bs []byte) (int, error) {
	return varint.Uint32.Skip(bs)
}

// timeNone marks the zero time.Time, which has no meaningful UnixMicro.
const timeNone = math.MinInt64

type timeSer struct{}

func (timeSer) Marshal(v time.Time, bs []byte) int {
	if v.IsZero() {
		return varint.Int64.Marshal(timeNone, bs)
	}
	return varint.Int64.Marshal(v.UnixMicro(), bs)
}

func (timeSer) Unmarshal(bs []byte) (time.Time, int, error) {
	micro, n, err := varint.Int64.Unmarshal(bs)
	if err != nil || micro == timeNone {
		return time.Time{}, n, err
	}
	return time.UnixMicro(micro).UTC(), n, nil
}

func (timeSer) Size(v time.Time) int {
	if v.IsZero() {
		return varint.Int64.Size(timeNone)
	}
	return varint.Int64.Size(v.UnixMicro())
}

func (timeSer) Skip(bs []byte) (int, error) {
	return varint.Int64.Skip(bs)
}

type payloadSer struct{}

func (payloadSer) Marshal(v TaskPayload, bs []byte) (n int) {
	n = ord.String.Marshal(v.Filename, bs)
	n += ord.String.Marshal(v.DocumentSet, bs[n:])
	n += ord.String.Marshal(v.Query, bs[n:])
	n += varint.Int.Marshal(v.Limit, bs[n:])
	return n
}

func (payloadSer) Unmarshal(bs []byte) (v TaskPayload, n int, err error) {
	var n1 int
	if v.Filename, n, err = ord.String.Unmarshal(bs); err != nil {
		return
	}
	if v.DocumentSet, n1, err = ord.String.Unmarshal(bs[n:]); err != nil {
		return v, n + n1, err
	}
	n += n1
	if v.Query, n1, err = ord.String.Unmarshal(bs[n:]); err != nil {
		return v, n + n1, err
	}
	n += n1
	if v.Limit, n1, err = varint.Int.Unmarshal(bs[n:]); err != nil {
		return v, n + n1, err
	}
	n += n1
	return v, n, nil
}

func (payloadSer) Size(v TaskPayload) int {
	return ord.String.Size(v.Filename) +
		ord.String.Size(v.DocumentSet) +
		ord.String.Size(v.Query) +
		varint.Int.Size(v.Limit)
}

func (s payloadSer) Skip(bs []byte) (int, error) {
	_, n, err := s.Unmarshal(bs)
	return n, err
}

type taskMUS struct{}

func (taskMUS) Marshal(v Task, bs []byte) (n int) {
	n = ord.String.Marshal(v.Id, bs)
	n += ord.String.Marshal(string(v.Kind), bs[n:])
	n += payloadMUS.Marshal(v.Payload, bs[n:])
	n += varint.Int.Marshal(int(v.State), bs[n:])
	n += ord.String.Marshal(v.Result, bs[n:])
	n += ord.String.Marshal(v.Error, bs[n:])
	n += varint.Int.Marshal(v.Attempts, bs[n:])
	n += timeMUS.Marshal(v.EnqueuedAt, bs[n:])
	n += timeMUS.Marshal(v.StartedAt, bs[n:])
	n += timeMUS.Marshal(v.CompletedAt, bs[n:])
	n += timeMUS.Marshal(v.VisibilityDeadline, bs[n:])
	return n
}

func (taskMUS) Unmarshal(bs []byte) (v Task, n int, err error) {
	var n1 int
	if v.Id, n, err = ord.String.Unmarshal(bs); err != nil {
		return
	}
	var kind string
	if kind, n1, err = ord.String.Unmarshal(bs[n:]); err != nil {
		return v, n + n1, err
	}
	n += n1
	v.Kind = TaskKind(kind)
	if v.Payload, n1, err = payloadMUS.Unmarshal(bs[n:]); err != nil {
		return v, n + n1, err
	}
	n += n1
	var state int
	if state, n1, err = varint.Int.Unmarshal(bs[n:]); err != nil {
		return v, n + n1, err
	}
	n += n1
	v.State = TaskState(state)
	if v.Result, n1, err = ord.String.Unmarshal(bs[n:]); err != nil {
		return v, n + n1, err
	}
	n += n1
	if v.Error, n1, err = ord.String.Unmarshal(bs[n:]); err != nil {
		return v, n + n1, err
	}
	n += n1
	if v.Attempts, n1, err = varint.Int.Unmarshal(bs[n:]); err != nil {
		return v, n + n1, err
	}
	n += n1
	if v.EnqueuedAt, n1, err = timeMUS.Unmarshal(bs[n:]); err != nil {
		return v, n + n1, err
	}
	n += n1
	if v.StartedAt, n1, err = timeMUS.Unmarshal(bs[n:]); err != nil {
		return v, n + n1, err
	}
	n += n1
	if v.CompletedAt, n1, err = timeMUS.Unmarshal(bs[n:]); err != nil {
		return v, n + n1, err
	}
	n += n1
	if v.VisibilityDeadline, n1, err = timeMUS.Unmarshal(bs[n:]); err != nil {
		return v, n + n1, err
	}
	n += n1
	return v, n, nil
}

func (taskMUS) Size(v Task) int {
	return ord.String.Size(v.Id) +
		ord.String.Size(string(v.Kind)) +
		payloadMUS.Size(v.Payload) +
		varint.Int.Size(int(v.State)) +
		ord.String.Size(v.Result) +
		ord.String.Size(v.Error) +
		varint.Int.Size(v.Attempts) +
		timeMUS.Size(v.EnqueuedAt) +
		timeMUS.Size(v.StartedAt) +
		timeMUS.Size(v.CompletedAt) +
		timeMUS.Size(v.VisibilityDeadline)
}

func (s taskMUS) Skip(bs []byte) (int, error) {
	_, n, err := s.Unmarshal(bs)
	return n, err
}

type chunkMUS struct{}

func (chunkMUS) Marshal(v DocumentChunk, bs []byte) (n int) {
	n = IDMUS.Marshal(v.Id, bs)
	n += ord.String.Marshal(v.Filename, bs[n:])
	n += ord.String.Marshal(v.DocumentSet, bs[n:])
	n += varint.Int.Marshal(v.Index, bs[n:])
	n += ord.String.Marshal(v.Content, bs[n:])
	n += vectorMUS.Marshal(v.Vector, bs[n:])
	n += metadataMUS.Marshal(v.Metadata, bs[n:])
	n += timeMUS.Marshal(v.InsertedAt, bs[n:])
	n += timeMUS.Marshal(v.UpdatedAt, bs[n:])
	return n
}

func (chunkMUS) Unmarshal(bs []byte) (v DocumentChunk, n int, err error) {
	var n1 int
	if v.Id, n, err = IDMUS.Unmarshal(bs); err != nil {
		return
	}
	if v.Filename, n1, err = ord.String.Unmarshal(bs[n:]); err != nil {
		return v, n + n1, err
	}
	n += n1
	if v.DocumentSet, n1, err = ord.String.Unmarshal(bs[n:]); err != nil {
		return v, n + n1, err
	}
	n += n1
	if v.Index, n1, err = varint.Int.Unmarshal(bs[n:]); err != nil {
		return v, n + n1, err
	}
	n += n1
	if v.Content, n1, err = ord.String.Unmarshal(bs[n:]); err != nil {
		return v, n + n1, err
	}
	n += n1
	if v.Vector, n1, err = vectorMUS.Unmarshal(bs[n:]); err != nil {
		return v, n + n1, err
	}
	n += n1
	if v.Metadata, n1, err = metadataMUS.Unmarshal(bs[n:]); err != nil {
		return v, n + n1, err
	}
	n += n1
	if v.InsertedAt, n1, err = timeMUS.Unmarshal(bs[n:]); err != nil {
		return v, n + n1, err
	}
	n += n1
	if v.UpdatedAt, n1, err = timeMUS.Unmarshal(bs[n:]); err != nil {
		return v, n + n1, err
	}
	n += n1
	return v, n, nil
}

func (chunkMUS) Size(v DocumentChunk) int {
	return IDMUS.Size(v.Id) +
		ord.String.Size(v.Filename) +
		ord.String.Size(v.DocumentSet) +
		varint.Int.Size(v.Index) +
		ord.String.Size(v.Content) +
		vectorMUS.Size(v.Vector) +
		metadataMUS.Size(v.Metadata) +
		timeMUS.Size(v.InsertedAt) +
		timeMUS.Size(v.UpdatedAt)
}

func (s chunkMUS) Skip(bs []byte) (int, error) {
	_, n, err := s.Unmarshal(bs)
	return n, err
}
