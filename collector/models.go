package collector

import "time"

// Report is the raw text produced by one collection cycle.
type Report struct {
	Source      string    // collector that produced it, e.g. "tracer" or "sample"
	Text        []byte    // histogram report as printed by the tracer
	CollectedAt time.Time // when the collection finished
	Fallback    bool      // true when the data is the bundled sample, not a live trace
}

// NewReport stamps a report with the current time.
func NewReport(source string, text []byte, fallback bool) *Report {
	return &Report{
		Source:      source,
		Text:        text,
		CollectedAt: time.Now(),
		Fallback:    fallback,
	}
}
