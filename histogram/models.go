package histogram

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
)

// Document is the interchange format between the converter, the renderer,
// the publisher and the history store.
type Document struct {
	Metadata   Metadata           `json:"metadata"`
	Metrics    map[string]Section `json:"metrics"`
	Aggregates map[string]Value   `json:"aggregates,omitempty"`
}

// Metadata identifies where and when a document was produced.
type Metadata struct {
	Timestamp  string `json:"timestamp"`
	SourceFile string `json:"source_file"`
}

// Section is one histogram of the tracer report.
type Section struct {
	Data  []Bucket `json:"data"`
	Total int64    `json:"total"`
}

// Bucket is a single log2 bucket.
type Bucket struct {
	Range Range  `json:"range"`
	Count int64  `json:"count"`
	Unit  string `json:"unit"`
}

// Range holds the bucket exponents and the values they stand for.
type Range struct {
	Lower      int       `json:"lower"`
	Upper      int       `json:"upper"`
	LowerValue Magnitude `json:"lower_value"`
	UpperValue Magnitude `json:"upper_value"`
}

// NewDocument returns an empty, valid-shaped document.
func NewDocument(timestamp, source string) *Document {
	return &Document{
		Metadata: Metadata{Timestamp: timestamp, SourceFile: source},
		Metrics:  make(map[string]Section),
	}
}

// Names returns the section names in lexical order.
func (d *Document) Names() []string {
	names := make([]string, 0, len(d.Metrics))
	for name := range d.Metrics {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Unit returns the unit of the section, "count" when it has no buckets.
func (s Section) Unit() string {
	for _, b := range s.Data {
		if b.Unit != "" {
			return b.Unit
		}
	}
	return "count"
}

// NonZero counts buckets with a positive count.
func (s Section) NonZero() int {
	n := 0
	for _, b := range s.Data {
		if b.Count > 0 {
			n++
		}
	}
	return n
}

// Sum recomputes the total from the buckets, saturating at math.MaxInt64.
func (s Section) Sum() int64 {
	var total int64
	for _, b := range s.Data {
		if b.Count > math.MaxInt64-total {
			return math.MaxInt64
		}
		total += b.Count
	}
	return total
}

// Magnitude is a bucket bound: a decimal when it fits in 64 bits, else a
// "2^N" style expression so nothing overflows or loses precision.
type Magnitude struct {
	Value uint64
	Expr  string
}

func (m Magnitude) String() string {
	if m.Expr != "" {
		return m.Expr
	}
	return strconv.FormatUint(m.Value, 10)
}

func (m Magnitude) MarshalJSON() ([]byte, error) {
	if m.Expr != "" {
		return json.Marshal(m.Expr)
	}
	return strconv.AppendUint(nil, m.Value, 10), nil
}

func (m *Magnitude) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		*m = Magnitude{}
		return json.Unmarshal(data, &m.Expr)
	}
	v, err := strconv.ParseUint(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("bucket bound %s: %w", data, err)
	}
	*m = Magnitude{Value: v}
	return nil
}

// Value is an aggregate entry: an integer count, or the raw text when the
// tracer printed something that is not a number.
type Value struct {
	Int    int64
	Text   string
	IsText bool
}

// IntValue builds a numeric aggregate.
func IntValue(n int64) Value { return Value{Int: n} }

// TextValue builds a textual aggregate.
func TextValue(s string) Value { return Value{Text: s, IsText: true} }

func (v Value) String() string {
	if v.IsText {
		return v.Text
	}
	return strconv.FormatInt(v.Int, 10)
}

func (v Value) MarshalJSON() ([]byte, error) {
	if v.IsText {
		return json.Marshal(v.Text)
	}
	return strconv.AppendInt(nil, v.Int, 10), nil
}

func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = TextValue(s)
		return nil
	}
	if n, err := strconv.ParseInt(string(data), 10, 64); err == nil {
		*v = IntValue(n)
		return nil
	}
	// floats, booleans, null: keep the literal
	*v = TextValue(string(data))
	return nil
}
