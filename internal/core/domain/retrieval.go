package domain

// RetrievedChunk is a raw nearest-neighbour hit from the chunk store:
// similarity straight from the distance conversion, before any recency blend.
type RetrievedChunk struct {
	Content    string        `json:"content"`
	Similarity float64       `json:"similarity"`
	Metadata   ChunkMetadata `json:"metadata"`
}

// ScoredChunk is the transient per-retrieval result: raw similarity, the
// recency contribution and the blended final score, plus the query variant
// that surfaced it. Never persisted outside the query cache.
type ScoredChunk struct {
	Content       string        `json:"content"`
	RawSimilarity float64       `json:"raw_similarity"`
	RecencyBoost  float64       `json:"recency_boost"`
	FinalScore    float64       `json:"final_score"`
	SourceVariant string        `json:"source_variant,omitempty"`
	Metadata      ChunkMetadata `json:"metadata"`
}

type Answer struct {
	Text    string        `json:"text"`
	Sources []ScoredChunk `json:"sources"`
}
