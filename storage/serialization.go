// Copyright 2025 The Grimoire Authors
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


package storage

import (
	"time"

	"github.com/grimoiredb/grimoire/core"
	"github.com/mus-format/mus-go/ord"
	"github.com/mus-format/mus-go/raw"
	"github.com/mus-format/mus-go/varint"
)

// VectorPoint is the stored form of one embedded chunk: the mapping, the
// embedding itself, and the staging timestamp used by the orphan sweep.
//
// Generation names the staging pass that wrote the point; only points of
// the committed generation are readable. ContentType and RecordCreatedAt
// are the filter payload evaluated at search time.
type VectorPoint struct {
	Mapping         core.VectorMapping
	Vector          []float32
	Generation      string
	ContentType     string
	RecordCreatedAt time.Time
	CreatedAt       time.Time
}

// CompletionMarker finalizes a set of chunked writes. Consumers treat a
// record's points as safe-to-read only when its marker exists.
type CompletionMarker struct {
	CompletionID string
	Collection   string
	RecordID     core.ID
	ChunkCount   int
	CreatedAt    time.Time
}

// GCMark schedules a record's points for deferred deletion.
type GCMark struct {
	Collection string
	RecordID   core.ID
	MarkedAt   time.Time
}

// CollectionInfo pins a collection's embedding dimensionality.
type CollectionInfo struct {
	Name string
	Dim  int
}

var float32Slice = ord.NewSliceSer[float32](raw.Float32)

// MarshalVectorPoint serializes a VectorPoint to bytes.
func MarshalVectorPoint(p *VectorPoint) []byte {
	recordCreatedAt := p.RecordCreatedAt.UnixMicro()
	createdAt := p.CreatedAt.UnixMicro()
	size := ord.String.Size(p.Mapping.Collection) +
		ord.String.Size(p.Mapping.PointID) +
		ord.String.Size(string(p.Mapping.RecordID)) +
		varint.Int.Size(p.Mapping.Dim) +
		ord.String.Size(p.Mapping.Model) +
		varint.Int.Size(p.Mapping.ChunkSeq) +
		varint.Int.Size(p.Mapping.WordCount) +
		float32Slice.Size(p.Vector) +
		ord.String.Size(p.Generation) +
		ord.String.Size(p.ContentType) +
		varint.Int64.Size(recordCreatedAt) +
		varint.Int64.Size(createdAt)

	bs := make([]byte, size)
	n := ord.String.Marshal(p.Mapping.Collection, bs)
	n += ord.String.Marshal(p.Mapping.PointID, bs[n:])
	n += ord.String.Marshal(string(p.Mapping.RecordID), bs[n:])
	n += varint.Int.Marshal(p.Mapping.Dim, bs[n:])
	n += ord.String.Marshal(p.Mapping.Model, bs[n:])
	n += varint.Int.Marshal(p.Mapping.ChunkSeq, bs[n:])
	n += varint.Int.Marshal(p.Mapping.WordCount, bs[n:])
	n += float32Slice.Marshal(p.Vector, bs[n:])
	n += ord.String.Marshal(p.Generation, bs[n:])
	n += ord.String.Marshal(p.ContentType, bs[n:])
	n += varint.Int64.Marshal(recordCreatedAt, bs[n:])
	varint.Int64.Marshal(createdAt, bs[n:])
	return bs
}

// UnmarshalVectorPoint deserializes a VectorPoint from bytes.
func UnmarshalVectorPoint(bs []byte) (*VectorPoint, error) {
	var (
		p   VectorPoint
		n   int
		err error
	)

	p.Mapping.Collection, n, err = ord.String.Unmarshal(bs)
	if err != nil {
		return nil, err
	}

	var pointID string
	pointID, c, err := ord.String.Unmarshal(bs[n:])
	if err != nil {
		return nil, err
	}
	p.Mapping.PointID = pointID
	n += c

	var recordID string
	recordID, c, err = ord.String.Unmarshal(bs[n:])
	if err != nil {
		return nil, err
	}
	p.Mapping.RecordID = core.ID(recordID)
	n += c

	p.Mapping.Dim, c, err = varint.Int.Unmarshal(bs[n:])
	if err != nil {
		return nil, err
	}
	n += c

	p.Mapping.Model, c, err = ord.String.Unmarshal(bs[n:])
	if err != nil {
		return nil, err
	}
	n += c

	p.Mapping.ChunkSeq, c, err = varint.Int.Unmarshal(bs[n:])
	if err != nil {
		return nil, err
	}
	n += c

	p.Mapping.WordCount, c, err = varint.Int.Unmarshal(bs[n:])
	if err != nil {
		return nil, err
	}
	n += c

	p.Vector, c, err = float32Slice.Unmarshal(bs[n:])
	if err != nil {
		return nil, err
	}
	n += c

	p.Generation, c, err = ord.String.Unmarshal(bs[n:])
	if err != nil {
		return nil, err
	}
	n += c

	p.ContentType, c, err = ord.String.Unmarshal(bs[n:])
	if err != nil {
		return nil, err
	}
	n += c

	recordCreatedAt, c, err := varint.Int64.Unmarshal(bs[n:])
	if err != nil {
		return nil, err
	}
	p.RecordCreatedAt = time.UnixMicro(recordCreatedAt).UTC()
	n += c

	createdAt, _, err := varint.Int64.Unmarshal(bs[n:])
	if err != nil {
		return nil, err
	}
	p.CreatedAt = time.UnixMicro(createdAt).UTC()

	return &p, nil
}

// MarshalCompletionMarker serializes a CompletionMarker to bytes.
func MarshalCompletionMarker(m *CompletionMarker) []byte {
	createdAt := m.CreatedAt.UnixMicro()
	size := ord.String.Size(m.CompletionID) +
		ord.String.Size(m.Collection) +
		ord.String.Size(string(m.RecordID)) +
		varint.Int.Size(m.ChunkCount) +
		varint.Int64.Size(createdAt)

	bs := make([]byte, size)
	n := ord.String.Marshal(m.CompletionID, bs)
	n += ord.String.Marshal(m.Collection, bs[n:])
	n += ord.String.Marshal(string(m.RecordID), bs[n:])
	n += varint.Int.Marshal(m.ChunkCount, bs[n:])
	varint.Int64.Marshal(createdAt, bs[n:])
	return bs
}

// UnmarshalCompletionMarker deserializes a CompletionMarker from bytes.
func UnmarshalCompletionMarker(bs []byte) (*CompletionMarker, error) {
	var m CompletionMarker

	completionID, n, err := ord.String.Unmarshal(bs)
	if err != nil {
		return nil, err
	}
	m.CompletionID = completionID

	collection, c, err := ord.String.Unmarshal(bs[n:])
	if err != nil {
		return nil, err
	}
	m.Collection = collection
	n += c

	recordID, c, err := ord.String.Unmarshal(bs[n:])
	if err != nil {
		return nil, err
	}
	m.RecordID = core.ID(recordID)
	n += c

	m.ChunkCount, c, err = varint.Int.Unmarshal(bs[n:])
	if err != nil {
		return nil, err
	}
	n += c

	createdAt, _, err := varint.Int64.Unmarshal(bs[n:])
	if err != nil {
		return nil, err
	}
	m.CreatedAt = time.UnixMicro(createdAt).UTC()

	return &m, nil
}

// MarshalGCMark serializes a GCMark to bytes.
func MarshalGCMark(g *GCMark) []byte {
	markedAt := g.MarkedAt.UnixMicro()
	size := ord.String.Size(g.Collection) +
		ord.String.Size(string(g.RecordID)) +
		varint.Int64.Size(markedAt)

	bs := make([]byte, size)
	n := ord.String.Marshal(g.Collection, bs)
	n += ord.String.Marshal(string(g.RecordID), bs[n:])
	varint.Int64.Marshal(markedAt, bs[n:])
	return bs
}

// UnmarshalGCMark deserializes a GCMark from bytes.
func UnmarshalGCMark(bs []byte) (*GCMark, error) {
	var g GCMark

	collection, n, err := ord.String.Unmarshal(bs)
	if err != nil {
		return nil, err
	}
	g.Collection = collection

	recordID, c, err := ord.String.Unmarshal(bs[n:])
	if err != nil {
		return nil, err
	}
	g.RecordID = core.ID(recordID)
	n += c

	markedAt, _, err := varint.Int64.Unmarshal(bs[n:])
	if err != nil {
		return nil, err
	}
	g.MarkedAt = time.UnixMicro(markedAt).UTC()

	return &g, nil
}

// MarshalCollectionInfo serializes a CollectionInfo to bytes.
func MarshalCollectionInfo(ci *CollectionInfo) []byte {
	size := ord.String.Size(ci.Name) + varint.Int.Size(ci.Dim)
	bs := make([]byte, size)
	n := ord.String.Marshal(ci.Name, bs)
	varint.Int.Marshal(ci.Dim, bs[n:])
	return bs
}

// UnmarshalCollectionInfo deserializes a CollectionInfo from bytes.
func UnmarshalCollectionInfo(bs []byte) (*CollectionInfo, error) {
	var ci CollectionInfo

	name, n, err := ord.String.Unmarshal(bs)
	if err != nil {
		return nil, err
	}
	ci.Name = name

	ci.Dim, _, err = varint.Int.Unmarshal(bs[n:])
	if err != nil {
		return nil, err
	}

	return &ci, nil
}
