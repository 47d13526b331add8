package histogram

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// AggregateTitle heads the flat key/value block at the end of a report.
const AggregateTitle = "Aggregate Counts"

// ErrCountOverflow marks a bucket count beyond int64; the bucket is kept
// with its count clamped to math.MaxInt64.
var ErrCountOverflow = errors.New("bucket count overflows int64")

// maxExactExponent is the largest exponent whose 2^N still fits a uint64.
const maxExactExponent = 63

var (
	titleLine  = regexp.MustCompile(`^\s*([A-Za-z][A-Za-z \t]*?)\s*:\s*$`)
	bucketLine = regexp.MustCompile(`(\d+)\s*->\s*(\d+)\s*:\s*(\d+)`)
)

// unitRules maps title keywords to units; first match wins.
var unitRules = []struct {
	keyword string
	unit    string
}{
	{"time", "ns"},
	{"cpu", "cores"},
	{"memory", "bytes"},
	{"drop", "count"},
	{"traffic", "packets"},
	{"packet", "packets"},
	{"error", "errors"},
}

// UnitFor infers the unit of a section from its title.
func UnitFor(title string) string {
	lower := strings.ToLower(title)
	for _, r := range unitRules {
		if strings.Contains(lower, r.keyword) {
			return r.unit
		}
	}
	return "count"
}

type rawSection struct {
	title string
	body  []string
}

// Parse converts a tracer report into a Document. Malformed sections are
// logged and skipped; a report with nothing usable yields an empty metrics
// map, which Validate reports as ErrNoMetrics.
func Parse(content, sourceFile string, now time.Time, log *zap.Logger) *Document {
	if log == nil {
		log = zap.NewNop()
	}
	doc := NewDocument(now.Format(time.RFC3339Nano), sourceFile)

	lines := strings.Split(strings.ReplaceAll(content, "\r\n", "\n"), "\n")
	sections, aggregateLines := split(lines)

	for _, sec := range sections {
		body := strings.Join(sec.body, "\n")
		if strings.Contains(body, "No data") ||
			(strings.Contains(strings.ToLower(body), "error") && !strings.Contains(body, "|")) {
			log.Info("skipping section, no data available", zap.String("section", sec.title))
			continue
		}

		unit := UnitFor(sec.title)
		var buckets []Bucket
		for _, line := range sec.body {
			b, ok, err := parseBucket(line, unit)
			if errors.Is(err, ErrCountOverflow) {
				log.Warn("bucket count clamped", zap.String("section", sec.title), zap.String("line", line), zap.Int64("count", b.Count))
			} else if err != nil {
				log.Warn("skipping bucket line", zap.String("section", sec.title), zap.String("line", line), zap.Error(err))
				continue
			}
			if ok {
				buckets = append(buckets, b)
			}
		}
		if len(buckets) == 0 {
			log.Info("no data points found", zap.String("section", sec.title))
			continue
		}
		s := Section{Data: buckets}
		s.Total = s.Sum()
		doc.Metrics[sec.title] = s
		log.Debug("parsed section", zap.String("section", sec.title), zap.Int("points", len(buckets)))
	}

	if aggregateLines != nil {
		if agg := parseAggregates(aggregateLines); len(agg) > 0 {
			doc.Aggregates = agg
			log.Debug("parsed aggregate counts", zap.Int("items", len(agg)))
		}
	}
	return doc
}

// split cuts the report into titled sections and the aggregate block. A
// section body ends at a blank line or at the next title line; the
// aggregate block runs to the end of the report.
func split(lines []string) ([]rawSection, []string) {
	var (
		sections  []rawSection
		current   *rawSection
		aggregate []string
		inAgg     bool
	)
	flush := func() {
		if current != nil {
			sections = append(sections, *current)
			current = nil
		}
	}
	for _, line := range lines {
		if inAgg {
			aggregate = append(aggregate, line)
			continue
		}
		if m := titleLine.FindStringSubmatch(line); m != nil {
			flush()
			title := strings.TrimSpace(m[1])
			if title == AggregateTitle {
				inAgg = true
				aggregate = []string{}
				continue
			}
			current = &rawSection{title: title}
			continue
		}
		if strings.TrimSpace(line) == "" {
			flush()
			continue
		}
		if current != nil {
			current.body = append(current.body, line)
		}
	}
	flush()
	return sections, aggregate
}

// parseBucket parses "lower -> upper : count |***|". ok is false for lines
// that are not bucket lines at all. A count beyond int64 is clamped and
// reported as ErrCountOverflow with ok still true.
func parseBucket(line, unit string) (Bucket, bool, error) {
	if !strings.Contains(line, "->") || !strings.Contains(line, "|") {
		return Bucket{}, false, nil
	}
	m := bucketLine.FindStringSubmatch(line)
	if m == nil {
		return Bucket{}, false, nil
	}
	lower, err := strconv.Atoi(m[1])
	if err != nil {
		return Bucket{}, false, fmt.Errorf("lower exponent: %w", err)
	}
	upper, err := strconv.Atoi(m[2])
	if err != nil {
		return Bucket{}, false, fmt.Errorf("upper exponent: %w", err)
	}
	var overflow error
	count, err := strconv.ParseInt(m[3], 10, 64)
	if errors.Is(err, strconv.ErrRange) {
		count, overflow = math.MaxInt64, ErrCountOverflow
	} else if err != nil {
		return Bucket{}, false, fmt.Errorf("count: %w", err)
	}
	return Bucket{
		Range: Range{
			Lower:      lower,
			Upper:      upper,
			LowerValue: LowerBound(lower),
			UpperValue: UpperBound(upper),
		},
		Count: count,
		Unit:  unit,
	}, true, overflow
}

// LowerBound is 2^e, 0 for the zero bucket.
func LowerBound(e int) Magnitude {
	switch {
	case e <= 0:
		return Magnitude{}
	case e > maxExactExponent:
		return Magnitude{Expr: fmt.Sprintf("2^%d", e)}
	default:
		return Magnitude{Value: uint64(1) << uint(e)}
	}
}

// UpperBound is 2^e - 1, 0 for the zero bucket.
func UpperBound(e int) Magnitude {
	switch {
	case e <= 0:
		return Magnitude{}
	case e > maxExactExponent:
		return Magnitude{Expr: fmt.Sprintf("2^%d-1", e)}
	default:
		return Magnitude{Value: uint64(1)<<uint(e) - 1}
	}
}

func parseAggregates(lines []string) map[string]Value {
	agg := make(map[string]Value)
	for _, line := range lines {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if key == "" {
			continue
		}
		if n, err := strconv.ParseInt(value, 10, 64); err == nil {
			agg[key] = IntValue(n)
		} else {
			agg[key] = TextValue(value)
		}
	}
	return agg
}
