package ingest

import (
	"fmt"
	"strings"

	"github.com/grimoiredb/grimoire/core"
)

const (
	defaultChunkWords   = 200
	defaultOverlapWords = 40
)

// Chunk is one fixed-size window of a document's words.
type Chunk struct {
	Seq       int
	Text      string
	WordCount int
}

// Chunker splits document text into fixed word-count chunks with
// overlap, so sentences near a boundary appear in both neighbors.
type Chunker struct {
	chunkWords   int
	overlapWords int
}

// NewChunker creates a chunker. Overlap must be smaller than the chunk
// size or the window would never advance.
func NewChunker(chunkWords, overlapWords int) (*Chunker, error) {
	if chunkWords <= 0 {
		return nil, fmt.Errorf("%w: chunk size must be positive", core.ErrValidation)
	}
	if overlapWords < 0 || overlapWords >= chunkWords {
		return nil, fmt.Errorf("%w: overlap must be in [0, chunk size)", core.ErrValidation)
	}
	return &Chunker{chunkWords: chunkWords, overlapWords: overlapWords}, nil
}

// DefaultChunker returns a chunker with the standard window.
func DefaultChunker() *Chunker {
	c, _ := NewChunker(defaultChunkWords, defaultOverlapWords)
	return c
}

// Split breaks text into chunks. Empty or whitespace-only text yields
// no chunks.
func (c *Chunker) Split(text string) []Chunk {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	stride := c.chunkWords - c.overlapWords
	var chunks []Chunk
	for start := 0; start < len(words); start += stride {
		end := start + c.chunkWords
		if end > len(words) {
			end = len(words)
		}
		window := words[start:end]
		chunks = append(chunks, Chunk{
			Seq:       len(chunks),
			Text:      strings.Join(window, " "),
			WordCount: len(window),
		})
		if end == len(words) {
			break
		}
	}
	return chunks
}
