package chunking

import (
	"strconv"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/kirillkom/proposal-rag/internal/core/domain"
)

var chunkNamespace = uuid.MustParse("6f1c9a52-3b7e-4d0a-9a61-2f8e5c4b7d10")

// Splitter cuts documents into chunks of at most ChunkSize tokens; only a
// ChunkSize below the number of pieces one rune is split into can exceed it,
// since a rune is never divided. A chunk is
// shortened back to its last sentence end when that still leaves more than
// MinChunkChars characters. Text is never trimmed or dropped, so the chunks of
// a document minus their overlap concatenate back to the document text.
type Splitter struct {
	ChunkSize     int
	Overlap       int
	MinChunkChars int
	tokenizer     Tokenizer
}

func NewSplitter(tokenizer Tokenizer, chunkSize, overlap, minChunkChars int) *Splitter {
	if tokenizer == nil {
		tokenizer = WordTokenizer{}
	}
	if chunkSize <= 0 {
		chunkSize = 800
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= chunkSize {
		overlap = chunkSize / 4
	}
	if minChunkChars < 0 {
		minChunkChars = 0
	}
	return &Splitter{
		ChunkSize:     chunkSize,
		Overlap:       overlap,
		MinChunkChars: minChunkChars,
		tokenizer:     tokenizer,
	}
}

func (s *Splitter) Tokenizer() string {
	return s.tokenizer.Name()
}

// Split keeps document order and, inside a document, text order.
func (s *Splitter) Split(docs []domain.Document) []domain.Chunk {
	var out []domain.Chunk
	for _, doc := range docs {
		out = append(out, s.SplitDocument(doc)...)
	}
	return out
}

func (s *Splitter) SplitDocument(doc domain.Document) []domain.Chunk {
	text := doc.Text
	pieces := s.tokenizer.Pieces(text)
	if len(pieces) == 0 {
		return nil
	}
	offsets := make([]int, len(pieces)+1)
	for i, p := range pieces {
		offsets[i+1] = offsets[i] + len(p)
	}
	n := len(pieces)

	var (
		out     []domain.Chunk
		start   int
		prevEnd int
	)
	for start < n {
		// floor is the last piece already emitted; every chunk must add text past it.
		floor := start
		overlap := 0
		if len(out) > 0 && start < prevEnd {
			floor = prevEnd
			overlap = offsets[prevEnd] - offsets[start]
		}
		end := start + s.ChunkSize
		if end > n {
			end = n
		}
		if end < n {
			end = s.sentenceEnd(text, pieces, offsets, start, floor, end)
		}
		end = alignEnd(text, offsets, floor, end)
		if end-start > s.ChunkSize && start < floor {
			// The cut moved forward to a rune boundary: give up overlap instead.
			start = alignStart(text, offsets, end-s.ChunkSize, floor)
			overlap = offsets[floor] - offsets[start]
		}

		out = append(out, s.newChunk(doc, len(out), text[offsets[start]:offsets[end]], end-start, overlap))

		if end >= n {
			break
		}
		next := end - s.Overlap
		if next <= start {
			next = start + 1
		}
		next = alignStart(text, offsets, next, end)
		prevEnd = end
		start = next
	}
	return out
}

// sentenceEnd backs off to the last piece ending a sentence as long as the
// chunk stays longer than MinChunkChars.
func (s *Splitter) sentenceEnd(text string, pieces []string, offsets []int, start, floor, end int) int {
	for k := end; k > start+1 && k > floor; k-- {
		if !endsSentence(pieces[k-1]) {
			continue
		}
		if utf8.RuneCountInString(text[offsets[start]:offsets[k]]) > s.MinChunkChars {
			return k
		}
		break
	}
	return end
}

func (s *Splitter) newChunk(doc domain.Document, index int, text string, tokens, overlap int) domain.Chunk {
	meta := domain.CopyMetadata(doc.Metadata)
	meta[domain.MetaChunkIndex] = strconv.Itoa(index)
	id := uuid.NewSHA1(chunkNamespace, []byte(doc.Source()+"\x00"+strconv.Itoa(index)+"\x00"+text))
	return domain.Chunk{
		ID:           id.String(),
		Index:        index,
		Text:         text,
		Tokens:       tokens,
		OverlapBytes: overlap,
		Metadata:     meta,
	}
}

// alignEnd moves a cut that falls inside a multi-byte rune, which byte-level
// BPE pieces can produce, to the nearest rune boundary.
func alignEnd(text string, offsets []int, floor, end int) int {
	for k := end; k > floor; k-- {
		if isRuneBoundary(text, offsets[k]) {
			return k
		}
	}
	for k := end + 1; k < len(offsets); k++ {
		if isRuneBoundary(text, offsets[k]) {
			return k
		}
	}
	return len(offsets) - 1
}

func alignStart(text string, offsets []int, next, end int) int {
	for k := next; k < end; k++ {
		if isRuneBoundary(text, offsets[k]) {
			return k
		}
	}
	return end
}

func isRuneBoundary(text string, off int) bool {
	return off >= len(text) || utf8.RuneStart(text[off])
}
