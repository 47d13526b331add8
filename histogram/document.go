package histogram

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"ebpfhollow/fsutil"
)

var (
	// ErrMissingMetrics marks JSON that lacks the mandatory "metrics" key.
	ErrMissingMetrics = errors.New("no 'metrics' key found in JSON data")
	// ErrNoMetrics marks a well-formed document without a single section.
	ErrNoMetrics = errors.New("document has empty metrics data")
)

// ValidateJSON checks the raw shape of a metrics document: a JSON object
// with a "metrics" object.
func ValidateJSON(raw []byte) error {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	m, ok := top["metrics"]
	if !ok {
		return ErrMissingMetrics
	}
	m = bytes.TrimSpace(m)
	if len(m) == 0 || m[0] != '{' {
		return fmt.Errorf("%w: 'metrics' is not an object", ErrMissingMetrics)
	}
	return nil
}

// Validate reports whether the document can be used downstream.
func (d *Document) Validate() error {
	if d.Metrics == nil {
		return ErrMissingMetrics
	}
	if len(d.Metrics) == 0 {
		return ErrNoMetrics
	}
	return nil
}

// Decode parses and shape-checks a JSON metrics document.
func Decode(raw []byte) (*Document, error) {
	if err := ValidateJSON(raw); err != nil {
		return nil, err
	}
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode metrics document: %w", err)
	}
	return &doc, nil
}

// Load reads a metrics document from disk.
func Load(path string) (*Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	doc, err := Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return doc, nil
}

// Save writes the document as JSON, atomically.
func (d *Document) Save(path string, pretty bool) error {
	var (
		raw []byte
		err error
	)
	if pretty {
		raw, err = json.MarshalIndent(d, "", "  ")
	} else {
		raw, err = json.Marshal(d)
	}
	if err != nil {
		return fmt.Errorf("encode metrics document: %w", err)
	}
	return fsutil.WriteFileAtomic(path, raw, 0o644)
}

// ConvertFile turns the report at in into a document written to out. A
// report that already is a valid metrics document is passed through.
func ConvertFile(in, out string, pretty bool, log *zap.Logger) (*Document, error) {
	if log == nil {
		log = zap.NewNop()
	}
	raw, err := os.ReadFile(in)
	if err != nil {
		return nil, fmt.Errorf("read report %s: %w", in, err)
	}
	doc := FromReport(raw, filepath.Base(in), time.Now(), log)
	if err := doc.Save(out, pretty); err != nil {
		return nil, err
	}
	return doc, nil
}

// FromReport builds a document from report bytes: decoded as is when the
// report already is a metrics document, parsed as histogram text otherwise.
func FromReport(raw []byte, source string, now time.Time, log *zap.Logger) *Document {
	if trimmed := bytes.TrimSpace(raw); len(trimmed) > 0 && trimmed[0] == '{' {
		doc, err := Decode(trimmed)
		if err == nil {
			log.Info("report is already a metrics document", zap.String("file", source))
			return doc
		}
		log.Warn("report looks like JSON but is not a metrics document", zap.String("file", source), zap.Error(err))
	}
	return Parse(string(raw), source, now, log)
}

// SectionSummary is a one-line description of a section, used by the
// validate and diagnose commands.
type SectionSummary struct {
	Name    string
	Total   int64
	Points  int
	NonZero int
	Unit    string
}

// Summarize describes every section in name order.
func (d *Document) Summarize() []SectionSummary {
	out := make([]SectionSummary, 0, len(d.Metrics))
	for _, name := range d.Names() {
		s := d.Metrics[name]
		out = append(out, SectionSummary{
			Name:    name,
			Total:   s.Total,
			Points:  len(s.Data),
			NonZero: s.NonZero(),
			Unit:    s.Unit(),
		})
	}
	return out
}
