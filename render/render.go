// Package render draws the PNG charts for a metrics document and keeps the
// dashboard's *_latest.png files current.
package render

import (
	"fmt"
	"image/color"
	"io"
	"math"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"ebpfhollow/fsutil"
	"ebpfhollow/histogram"
)

var (
	barColor     = color.RGBA{R: 0x1f, G: 0x77, B: 0xb4, A: 0xff}
	summaryColor = color.RGBA{R: 0x2c, G: 0xa0, B: 0x2c, A: 0xff}
	aggColor     = color.RGBA{R: 0xff, G: 0x7f, B: 0x0e, A: 0xff}
)

// Renderer writes charts into a directory. The zero value is usable.
type Renderer struct {
	Width  vg.Length
	Height vg.Length
	Log    *zap.Logger
}

// New returns a renderer with the default 12x7 inch canvas.
func New(log *zap.Logger) *Renderer {
	return &Renderer{Width: 12 * vg.Inch, Height: 7 * vg.Inch, Log: log}
}

// Render draws every chart for doc into dir and returns the files written.
// createLatest also refreshes the *_latest.png copies.
func (r *Renderer) Render(doc *histogram.Document, dir, stamp string, createLatest bool) ([]string, error) {
	log := r.logger()
	var written []string

	for _, name := range doc.Names() {
		sec := doc.Metrics[name]
		if sec.NonZero() == 0 {
			log.Debug("skipping chart for section without data", zap.String("section", name))
			continue
		}
		p, err := sectionPlot(name, sec, doc.Metadata.SourceFile)
		if err != nil {
			return written, fmt.Errorf("chart %q: %w", name, err)
		}
		path := filepath.Join(dir, ChartFile(CleanName(name), stamp))
		if err := r.save(p, path); err != nil {
			return written, err
		}
		log.Debug("created chart", zap.String("section", name), zap.String("file", path))
		written = append(written, path)
	}

	if len(doc.Metrics) > 1 {
		p, err := summaryPlot(doc)
		if err != nil {
			return written, fmt.Errorf("summary chart: %w", err)
		}
		path := filepath.Join(dir, ChartFile("summary", stamp))
		if err := r.save(p, path); err != nil {
			return written, err
		}
		written = append(written, path)
	}

	if p, ok, err := aggregatesPlot(doc.Aggregates); err != nil {
		return written, fmt.Errorf("aggregates chart: %w", err)
	} else if ok {
		path := filepath.Join(dir, ChartFile("aggregates", stamp))
		if err := r.save(p, path); err != nil {
			return written, err
		}
		written = append(written, path)
	}

	log.Info("created visualizations", zap.Int("count", len(written)), zap.String("dir", dir))

	if createLatest && len(written) > 0 {
		if _, err := UpdateLatest(dir, stamp, log); err != nil {
			return written, err
		}
	}
	return written, nil
}

func (r *Renderer) logger() *zap.Logger {
	if r.Log == nil {
		return zap.NewNop()
	}
	return r.Log
}

func (r *Renderer) size() (vg.Length, vg.Length) {
	w, h := r.Width, r.Height
	if w <= 0 {
		w = 12 * vg.Inch
	}
	if h <= 0 {
		h = 7 * vg.Inch
	}
	return w, h
}

func (r *Renderer) save(p *plot.Plot, path string) error {
	w, h := r.size()
	return savePNG(p, w, h, path)
}

func savePNG(p *plot.Plot, w, h vg.Length, path string) error {
	wt, err := p.WriterTo(w, h, "png")
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return fsutil.WriteAtomic(path, 0o644, func(out io.Writer) error {
		_, err := wt.WriteTo(out)
		return err
	})
}

// BucketLabel renders a bucket range for an axis tick.
func BucketLabel(lower, upper int) string {
	if upper == lower+1 {
		if lower > 20 {
			return fmt.Sprintf("2^%d", lower)
		}
		return humanize.Comma(int64(1) << lower)
	}
	if lower > 20 || upper > 20 {
		return fmt.Sprintf("2^%d-2^%d", lower, upper-1)
	}
	hi := int64(0)
	if upper > 0 {
		hi = int64(1) << (upper - 1)
	}
	return humanize.Comma(int64(1)<<lower) + "-" + humanize.Comma(hi)
}

// AxisLabel picks the x axis label from keywords in the section title.
func AxisLabel(title, unit string) string {
	t := strings.ToLower(title)
	switch {
	case strings.Contains(t, "time"):
		return fmt.Sprintf("Time (%s)", unit)
	case strings.Contains(t, "cpu"):
		return fmt.Sprintf("CPU Usage (%s)", unit)
	case strings.Contains(t, "memory"):
		return fmt.Sprintf("Memory Size (%s)", unit)
	case strings.Contains(t, "traffic"), strings.Contains(t, "packet"):
		return fmt.Sprintf("Packet Count (%s)", unit)
	case strings.Contains(t, "error"):
		return fmt.Sprintf("Error Count (%s)", unit)
	case strings.Contains(t, "drop"):
		return fmt.Sprintf("Drop Count (%s)", unit)
	default:
		return fmt.Sprintf("Value Range (%s)", unit)
	}
}

func withSource(label, source string) string {
	if source == "" {
		return label
	}
	return label + "\nData source: " + source
}

func sectionPlot(title string, sec histogram.Section, source string) (*plot.Plot, error) {
	values := make(plotter.Values, len(sec.Data))
	labels := make([]string, len(sec.Data))
	for i, b := range sec.Data {
		values[i] = float64(b.Count)
		labels[i] = BucketLabel(b.Range.Lower, b.Range.Upper)
	}

	p := plot.New()
	p.Title.Text = "eBPF Metrics - " + title
	p.X.Label.Text = withSource(AxisLabel(title, sec.Unit()), source)
	p.Y.Label.Text = "Frequency (count)"
	p.Y.Min = 0
	p.Add(valueGrid())

	bars, err := plotter.NewBarChart(values, vg.Points(30))
	if err != nil {
		return nil, err
	}
	bars.Color = barColor
	bars.LineStyle.Width = 0
	p.Add(bars)
	p.NominalX(labels...)
	p.X.Tick.Label.Rotation = math.Pi / 4
	p.X.Tick.Label.XAlign = draw.XRight
	p.X.Tick.Label.YAlign = draw.YCenter

	vl, err := valueLabels(values, false)
	if err != nil {
		return nil, err
	}
	p.Add(vl)
	p.Y.Max = headroom(values)
	return p, nil
}

type ranked struct {
	name  string
	total int64
}

func summaryPlot(doc *histogram.Document) (*plot.Plot, error) {
	rows := make([]ranked, 0, len(doc.Metrics))
	for name, sec := range doc.Metrics {
		rows = append(rows, ranked{name: name, total: sec.Total})
	}
	// largest on top: the nominal Y axis grows upwards
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].total != rows[j].total {
			return rows[i].total < rows[j].total
		}
		return rows[i].name > rows[j].name
	})

	values := make(plotter.Values, len(rows))
	names := make([]string, len(rows))
	for i, row := range rows {
		values[i] = float64(row.total)
		names[i] = row.name
	}

	p := plot.New()
	p.Title.Text = "eBPF Metrics Summary"
	p.X.Label.Text = withSource("Total Events (count)", doc.Metadata.SourceFile)
	p.Y.Label.Text = "Metrics Categories"
	p.X.Min = 0
	p.Add(valueGrid())

	bars, err := plotter.NewBarChart(values, vg.Points(20))
	if err != nil {
		return nil, err
	}
	bars.Horizontal = true
	bars.Color = summaryColor
	bars.LineStyle.Width = 0
	p.Add(bars)
	p.NominalY(names...)

	vl, err := valueLabels(values, true)
	if err != nil {
		return nil, err
	}
	p.Add(vl)
	p.X.Max = headroom(values)
	return p, nil
}

// aggregatesPlot charts the numeric aggregates; text values are left out.
func aggregatesPlot(aggs map[string]histogram.Value) (*plot.Plot, bool, error) {
	keys := make([]string, 0, len(aggs))
	for k, v := range aggs {
		if !v.IsText {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return nil, false, nil
	}
	sort.Strings(keys)

	values := make(plotter.Values, len(keys))
	for i, k := range keys {
		values[i] = float64(aggs[k].Int)
	}

	p := plot.New()
	p.Title.Text = "eBPF Aggregate Metrics"
	p.X.Label.Text = "Metric"
	p.Y.Label.Text = "Count"
	p.Y.Min = 0
	p.Add(valueGrid())

	bars, err := plotter.NewBarChart(values, vg.Points(30))
	if err != nil {
		return nil, false, err
	}
	bars.Color = aggColor
	bars.LineStyle.Width = 0
	p.Add(bars)
	p.NominalX(keys...)
	p.X.Tick.Label.Rotation = math.Pi / 4
	p.X.Tick.Label.XAlign = draw.XRight
	p.X.Tick.Label.YAlign = draw.YCenter

	vl, err := valueLabels(values, false)
	if err != nil {
		return nil, false, err
	}
	p.Add(vl)
	p.Y.Max = headroom(values)
	return p, true, nil
}

// valueLabels prints each value at the tip of its bar.
func valueLabels(values plotter.Values, horizontal bool) (*plotter.Labels, error) {
	xys := make(plotter.XYs, len(values))
	text := make([]string, len(values))
	for i, v := range values {
		if horizontal {
			xys[i] = plotter.XY{X: v, Y: float64(i)}
		} else {
			xys[i] = plotter.XY{X: float64(i), Y: v}
		}
		text[i] = humanize.Comma(int64(v))
	}
	l, err := plotter.NewLabels(plotter.XYLabels{XYs: xys, Labels: text})
	if err != nil {
		return nil, err
	}
	for i := range l.TextStyle {
		if horizontal {
			l.TextStyle[i].XAlign = draw.XLeft
			l.TextStyle[i].YAlign = draw.YCenter
		} else {
			l.TextStyle[i].XAlign = draw.XCenter
			l.TextStyle[i].YAlign = draw.YBottom
		}
	}
	if horizontal {
		l.Offset = vg.Point{X: vg.Points(3)}
	} else {
		l.Offset = vg.Point{Y: vg.Points(3)}
	}
	return l, nil
}

// headroom leaves space above the tallest bar for its label.
func headroom(values plotter.Values) float64 {
	max := 0.0
	for _, v := range values {
		max = math.Max(max, v)
	}
	if max == 0 {
		return 1
	}
	return max * 1.1
}

func valueGrid() *plotter.Grid {
	g := plotter.NewGrid()
	g.Vertical.Color = nil
	g.Horizontal.Color = color.Gray{Y: 0xdd}
	return g
}
