package storage

import (
	"context"
	"time"

	"ebpfhollow/histogram"
)

// SectionRecord is one persisted section total.
type SectionRecord struct {
	ID        int64     // auto-increment primary key (mostly for internal use)
	Timestamp time.Time // timestamp of the metrics document
	Source    string    // report file the document was converted from
	Section   string    // section title, e.g. "Packet Drop Rate"
	Unit      string
	Total     int64
	Buckets   int // number of non-zero buckets
}

// AggregateRecord is one persisted aggregate counter.
type AggregateRecord struct {
	Timestamp time.Time
	Key       string
	Value     string // numbers are stored in their decimal form
	Numeric   bool
}

// Store abstracts a persistence back-end for metrics documents.
type Store interface {
	// Save stores all sections and aggregates of a document in a single
	// transaction. Either all rows are written or none.
	Save(ctx context.Context, doc *histogram.Document) error

	// Query returns section records for a given section between the time
	// range. If section is empty the call returns records for all sections.
	// The returned slice is sorted by Timestamp ascending.
	Query(ctx context.Context, section string, from, to time.Time) ([]SectionRecord, error)

	// Aggregates returns aggregate records between the time range, sorted
	// by Timestamp then Key.
	Aggregates(ctx context.Context, from, to time.Time) ([]AggregateRecord, error)

	// Close releases any resources (e.g. DB connections).
	Close() error
}
