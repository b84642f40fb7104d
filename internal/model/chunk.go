package model

// Chunk is a contiguous slice of a document's extracted text. It has no
// identity outside the chunk list of its document.
type Chunk struct {
	Index   int    `json:"index"`
	Content string `json:"content"`
}
