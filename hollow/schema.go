package hollow

import (
	"time"

	"ebpfhollow/histogram"
)

// Payload is the document shape accepted by the producer: a static type
// schema followed by a single MetricsState record.
type Payload struct {
	Types map[string]TypeDef `json:"types"`
	Data  PayloadData        `json:"data"`
}

// TypeDef lists the fields of one schema type.
type TypeDef struct {
	Fields map[string]string `json:"fields"`
}

type PayloadData struct {
	MetricsState []MetricsState `json:"MetricsState"`
}

type MetricsState struct {
	Timestamp  string                     `json:"timestamp"`
	Source     string                     `json:"source"`
	Metrics    map[string]Metric          `json:"metrics"`
	Aggregates map[string]histogram.Value `json:"aggregates"`
}

type Metric struct {
	Name    string         `json:"name"`
	Total   int64          `json:"total"`
	Unit    string         `json:"unit"`
	Buckets []MetricBucket `json:"buckets"`
}

type MetricBucket struct {
	Lower int   `json:"lower"`
	Upper int   `json:"upper"`
	Count int64 `json:"count"`
}

// Schema returns the fixed type declarations sent with every payload.
func Schema() map[string]TypeDef {
	return map[string]TypeDef{
		"MetricsState": {Fields: map[string]string{
			"timestamp":  "String",
			"source":     "String",
			"metrics":    "Map<String, Metric>",
			"aggregates": "Map<String, Integer>",
		}},
		"Metric": {Fields: map[string]string{
			"name":    "String",
			"total":   "Integer",
			"unit":    "String",
			"buckets": "List<MetricBucket>",
		}},
		"MetricBucket": {Fields: map[string]string{
			"lower": "Integer",
			"upper": "Integer",
			"count": "Integer",
		}},
	}
}

// Convert wraps a metrics document into the producer schema.
func Convert(doc *histogram.Document) *Payload {
	state := MetricsState{
		Timestamp:  doc.Metadata.Timestamp,
		Source:     doc.Metadata.SourceFile,
		Metrics:    make(map[string]Metric, len(doc.Metrics)),
		Aggregates: make(map[string]histogram.Value, len(doc.Aggregates)),
	}
	if state.Timestamp == "" {
		state.Timestamp = time.Now().Format(time.RFC3339Nano)
	}
	if state.Source == "" {
		state.Source = "unknown"
	}

	for name, sec := range doc.Metrics {
		buckets := make([]MetricBucket, 0, len(sec.Data))
		for _, b := range sec.Data {
			buckets = append(buckets, MetricBucket{
				Lower: b.Range.Lower,
				Upper: b.Range.Upper,
				Count: b.Count,
			})
		}
		state.Metrics[name] = Metric{
			Name:    name,
			Total:   sec.Total,
			Unit:    sec.Unit(),
			Buckets: buckets,
		}
	}
	for k, v := range doc.Aggregates {
		state.Aggregates[k] = v
	}

	return &Payload{
		Types: Schema(),
		Data:  PayloadData{MetricsState: []MetricsState{state}},
	}
}
