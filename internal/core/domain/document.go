package domain

const (
	MetaSource     = "source"
	MetaFileName   = "file_name"
	MetaExtension  = "extension"
	MetaFormat     = "format"
	MetaPageNumber = "page_number"
	MetaSheet      = "sheet"
	MetaTitle      = "title"
	MetaChunkIndex = "chunk_index"
)

// Document is normalized text extracted from a resource. It is never persisted,
// only the chunks derived from it are.
type Document struct {
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata"`
}

func (d Document) Source() string {
	return d.Metadata[MetaSource]
}

// Chunk is a token-bounded slice of a document's text. OverlapBytes is the
// length of the prefix repeated from the previous chunk of the same document.
type Chunk struct {
	ID           string            `json:"id"`
	Index        int               `json:"index"`
	Text         string            `json:"text"`
	Tokens       int               `json:"tokens"`
	OverlapBytes int               `json:"overlap_bytes"`
	Metadata     map[string]string `json:"metadata"`
}

// NewText returns the part of the chunk that does not repeat the previous chunk.
func (c Chunk) NewText() string {
	if c.OverlapBytes <= 0 || c.OverlapBytes > len(c.Text) {
		return c.Text
	}
	return c.Text[c.OverlapBytes:]
}

func CopyMetadata(src map[string]string) map[string]string {
	out := make(map[string]string, len(src)+1)
	for k, v := range src {
		out[k] = v
	}
	return out
}
