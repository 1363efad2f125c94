package chunking

import (
	"fmt"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

const (
	TokenizerCL100K = "cl100k_base"
	TokenizerWord   = "word"
)

// Tokenizer splits text into pieces whose concatenation is exactly the input.
type Tokenizer interface {
	Name() string
	Pieces(text string) []string
}

func NewTokenizer(name string) (Tokenizer, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", TokenizerCL100K:
		return NewBPETokenizer(TokenizerCL100K)
	case TokenizerWord:
		return WordTokenizer{}, nil
	default:
		return nil, fmt.Errorf("unknown tokenizer %q", name)
	}
}

var loaderOnce sync.Once

// BPETokenizer uses tiktoken encodings with the embedded offline BPE ranks,
// so no network access is needed at runtime.
type BPETokenizer struct {
	name string
	enc  *tiktoken.Tiktoken
}

func NewBPETokenizer(encoding string) (*BPETokenizer, error) {
	loaderOnce.Do(func() {
		tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
	})
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("load encoding %s: %w", encoding, err)
	}
	return &BPETokenizer{name: encoding, enc: enc}, nil
}

func (t *BPETokenizer) Name() string {
	return t.name
}

func (t *BPETokenizer) Pieces(text string) []string {
	if text == "" {
		return nil
	}
	ids := t.enc.EncodeOrdinary(text)
	pieces := make([]string, 0, len(ids))
	total := 0
	for _, id := range ids {
		piece := t.enc.Decode([]int{id})
		pieces = append(pieces, piece)
		total += len(piece)
	}
	if total != len(text) || strings.Join(pieces, "") != text {
		return WordTokenizer{}.Pieces(text)
	}
	return pieces
}

// WordTokenizer treats every word together with its trailing whitespace as
// one token. Leading whitespace forms its own token.
type WordTokenizer struct{}

func (WordTokenizer) Name() string {
	return TokenizerWord
}

func (WordTokenizer) Pieces(text string) []string {
	var pieces []string
	start := 0
	inSpace := true
	for i, r := range text {
		space := unicode.IsSpace(r)
		if !space && inSpace && i > start {
			pieces = append(pieces, text[start:i])
			start = i
		}
		inSpace = space
	}
	if start < len(text) {
		pieces = append(pieces, text[start:])
	}
	return pieces
}

func endsSentence(piece string) bool {
	piece = strings.TrimRight(piece, " \t")
	if piece == "" {
		return false
	}
	r, _ := utf8.DecodeLastRuneInString(piece)
	switch r {
	case '.', '?', '!', '\n':
		return true
	}
	return false
}
