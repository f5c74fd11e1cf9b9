package domain

import "time"

// Chunk is the persisted unit of retrievable content. A chunk is inserted
// without embeddings first; vectors are attached in a second phase once the
// embedding collaborator has produced them. After that the row is never
// mutated; it only disappears when its parent document is deleted.
type Chunk struct {
	ID         int64     `json:"id"`
	DocumentID string    `json:"document_id"`
	ChunkIndex int       `json:"chunk_index"`
	Heading    string    `json:"heading,omitempty"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"created_at"`
}

// ChunkMetadata attributes a retrieved chunk back to its source document.
// Fixed shape on purpose: the layers above must not depend on ad-hoc map keys.
type ChunkMetadata struct {
	ChunkID    int64     `json:"chunk_id"`
	SourceFile string    `json:"source_file"`
	FileType   string    `json:"file_type"`
	Heading    string    `json:"heading,omitempty"`
	Preview    string    `json:"preview"`
	CreatedAt  time.Time `json:"created_at"`
}

const previewLength = 150

// Preview truncates chunk content for metadata attribution.
func Preview(content string) string {
	runes := []rune(content)
	if len(runes) <= previewLength {
		return content
	}
	return string(runes[:previewLength]) + "..."
}
