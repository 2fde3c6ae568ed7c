package knowledge

import "time"

// Entry is one indexed unit of knowledge. Entries are written once at ingest
// time and only ever read by the query pipeline.
type Entry struct {
	ID        string
	Content   string
	Category  string
	Source    string
	Keywords  []string
	Embedding []float32
	CreatedAt time.Time
}

// SearchResult is a read-only projection of an Entry plus the similarity
// score assigned by the vector search.
type SearchResult struct {
	Entry
	Score float32
}

// Filters narrows a search by payload equality. Zero values mean no filter.
type Filters struct {
	Category string
	Source   string
}
