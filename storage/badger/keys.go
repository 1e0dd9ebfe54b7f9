package badger

import (
	"fmt"

	"github.com/grimoiredb/grimoire/core"
)

// Key prefixes for different data types. Record and point IDs are UUID
// strings, so ':' is a safe separator.
const (
	collectionPrefix = "veccol"
	pointPrefix      = "vecpnt"
	completionPrefix = "veccmp"
	gcMarkPrefix     = "vecgc"
)

// makeCollectionKey generates a key for collection metadata.
func makeCollectionKey(name string) []byte {
	return []byte(fmt.Sprintf("%s:%s", collectionPrefix, name))
}

// makePointKey generates a key for one embedded chunk.
// Format: prefix:collection:recordID:generation:chunkSeq
// The generation segment keeps a staging pass's points beside the
// committed set instead of on top of it. Chunk sequences are
// zero-padded so lexicographic order matches numeric order within a
// generation.
func makePointKey(collection string, recordID core.ID, generation string, chunkSeq int) []byte {
	return []byte(fmt.Sprintf("%s:%s:%s:%s:%08d", pointPrefix, collection, recordID, generation, chunkSeq))
}

// makeRecordPointPrefix generates the scan prefix covering all of one
// record's points in a collection, across generations.
func makeRecordPointPrefix(collection string, recordID core.ID) []byte {
	return []byte(fmt.Sprintf("%s:%s:%s:", pointPrefix, collection, recordID))
}

// makeGenerationPrefix generates the scan prefix covering one
// generation of a record's points.
func makeGenerationPrefix(collection string, recordID core.ID, generation string) []byte {
	return []byte(fmt.Sprintf("%s:%s:%s:%s:", pointPrefix, collection, recordID, generation))
}

// makeCollectionPointPrefix generates the scan prefix covering all
// points in a collection.
func makeCollectionPointPrefix(collection string) []byte {
	return []byte(fmt.Sprintf("%s:%s:", pointPrefix, collection))
}

// makeCompletionKey generates the key for a record's completion marker.
func makeCompletionKey(collection string, recordID core.ID) []byte {
	return []byte(fmt.Sprintf("%s:%s:%s", completionPrefix, collection, recordID))
}

// makeCompletionPrefix generates the scan prefix for all completion
// markers in a collection.
func makeCompletionPrefix(collection string) []byte {
	return []byte(fmt.Sprintf("%s:%s:", completionPrefix, collection))
}

// makeGCMarkKey generates the key for a record's GC mark.
func makeGCMarkKey(collection string, recordID core.ID) []byte {
	return []byte(fmt.Sprintf("%s:%s:%s", gcMarkPrefix, collection, recordID))
}
