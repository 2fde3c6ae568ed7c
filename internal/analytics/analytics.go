// Package analytics keeps in-memory feedback and query statistics. The
// recorder is an injected collaborator with an explicit lifecycle rather
// than package-level state, so the pipeline stays testable without globals.
package analytics

import (
	"sort"
	"sync"
	"time"
)

// FeedbackKind is a thumbs-up/down rating on a response.
type FeedbackKind string

const (
	FeedbackPositive FeedbackKind = "positive"
	FeedbackNegative FeedbackKind = "negative"
)

// Feedback is one recorded rating.
type Feedback struct {
	Response  string       `json:"response"`
	Kind      FeedbackKind `json:"feedback"`
	Timestamp time.Time    `json:"timestamp"`
}

// FeedbackStats summarizes recorded feedback.
type FeedbackStats struct {
	SatisfactionRate float64    `json:"satisfaction_rate"`
	TotalResponses   int        `json:"total_responses"`
	RecentFeedback   []Feedback `json:"recent_feedback"`
}

// QueryCount is a query with its occurrence count.
type QueryCount struct {
	Query string `json:"query"`
	Count int    `json:"count"`
}

// QueryTrends summarizes recent query volume.
type QueryTrends struct {
	QueriesPerHour float64 `json:"queries_per_hour"`
	TotalQueries   int     `json:"total_queries"`
}

// Recorder collects feedback and query history. Safe for concurrent use.
type Recorder struct {
	mu       sync.Mutex
	feedback []Feedback
	queries  []queryRecord

	// now is overridable in tests.
	now func() time.Time
}

type queryRecord struct {
	query string
	at    time.Time
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{now: time.Now}
}

// RecordFeedback stores one rating.
func (r *Recorder) RecordFeedback(response string, kind FeedbackKind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.feedback = append(r.feedback, Feedback{
		Response:  response,
		Kind:      kind,
		Timestamp: r.now(),
	})
}

// RecordQuery stores one processed query.
func (r *Recorder) RecordQuery(query string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queries = append(r.queries, queryRecord{query: query, at: r.now()})
}

// FeedbackStats returns the satisfaction rate, total count, and the five
// most recent ratings.
func (r *Recorder) FeedbackStats() FeedbackStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.feedback) == 0 {
		return FeedbackStats{RecentFeedback: []Feedback{}}
	}

	positive := 0
	for _, f := range r.feedback {
		if f.Kind == FeedbackPositive {
			positive++
		}
	}

	recent := make([]Feedback, len(r.feedback))
	copy(recent, r.feedback)
	sort.SliceStable(recent, func(i, j int) bool {
		return recent[i].Timestamp.After(recent[j].Timestamp)
	})
	if len(recent) > 5 {
		recent = recent[:5]
	}

	return FeedbackStats{
		SatisfactionRate: float64(positive) / float64(len(r.feedback)),
		TotalResponses:   len(r.feedback),
		RecentFeedback:   recent,
	}
}

// PopularQueries returns the most frequent queries, up to limit, ordered by
// descending count with alphabetical tie-breaking.
func (r *Recorder) PopularQueries(limit int) []QueryCount {
	r.mu.Lock()
	defer r.mu.Unlock()

	counts := make(map[string]int)
	for _, q := range r.queries {
		counts[q.query]++
	}

	out := make([]QueryCount, 0, len(counts))
	for q, n := range counts {
		out = append(out, QueryCount{Query: q, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Query < out[j].Query
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Trends returns query volume over the trailing 24 hours.
func (r *Recorder) Trends() QueryTrends {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.queries) == 0 {
		return QueryTrends{}
	}

	cutoff := r.now().Add(-24 * time.Hour)
	recent := 0
	for _, q := range r.queries {
		if q.at.After(cutoff) {
			recent++
		}
	}

	return QueryTrends{
		QueriesPerHour: float64(recent) / 24,
		TotalQueries:   len(r.queries),
	}
}

// Reset discards all recorded feedback and query history.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.feedback = nil
	r.queries = nil
}
