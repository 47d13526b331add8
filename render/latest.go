package render

import (
	"encoding/hex"
	"fmt"
	"image/color"
	"path/filepath"

	"go.uber.org/zap"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"ebpfhollow/fsutil"
)

// placeholderHex is a transparent 1x1 PNG.
const placeholderHex = "89504e470d0a1a0a0000000d49484452000000010000000108060000001f15c489" +
	"0000000b4944415478da636000020000050001e9fadcd80000000049454e44ae426082"

var placeholderPNG = mustHex(placeholderHex)

func mustHex(s string) []byte {
	b, err := hex.DecodeString(s)
	if err != nil {
		panic(err)
	}
	return b
}

// PlaceholderPNG returns the canned image served for charts that do not exist yet.
func PlaceholderPNG() []byte {
	return append([]byte(nil), placeholderPNG...)
}

// UpdateLatest copies every <category>_<stamp>.png to <category>_latest.png,
// appending an update marker so the bytes change even when the chart does not.
// It returns the number of files refreshed.
func UpdateLatest(dir, stamp string, log *zap.Logger) (int, error) {
	if log == nil {
		log = zap.NewNop()
	}
	trailer := fmt.Sprintf("\n<!-- Updated: %s -->", stamp)
	updated := 0
	for _, c := range Categories {
		src := filepath.Join(dir, ChartFile(c.Name, stamp))
		if !fsutil.Exists(src) {
			continue
		}
		dst := filepath.Join(dir, LatestFile(c.Name))
		if err := fsutil.CopyWithTrailer(src, dst, trailer); err != nil {
			return updated, fmt.Errorf("update %s: %w", LatestFile(c.Name), err)
		}
		log.Debug("updated dashboard visualization", zap.String("file", dst))
		updated++
	}
	log.Info("updated dashboard visualizations", zap.Int("count", updated), zap.String("stamp", stamp))
	return updated, nil
}

// SeedPlaceholders writes a "waiting" banner for every category that has no
// latest chart yet. Existing charts are left alone.
func SeedPlaceholders(dir string, log *zap.Logger) (int, error) {
	if log == nil {
		log = zap.NewNop()
	}
	created := 0
	for _, c := range Categories {
		path := filepath.Join(dir, LatestFile(c.Name))
		if fsutil.Exists(path) {
			continue
		}
		if err := writeBanner(path, fmt.Sprintf("Waiting for %s data...", c.Title)); err != nil {
			log.Warn("failed to draw placeholder, using blank image", zap.String("file", path), zap.Error(err))
			if err := fsutil.WriteFileAtomic(path, placeholderPNG, 0o644); err != nil {
				return created, err
			}
		}
		created++
	}
	if created > 0 {
		log.Info("created placeholder images", zap.Int("count", created), zap.String("dir", dir))
	}
	return created, nil
}

func writeBanner(path, msg string) error {
	p := plot.New()
	p.HideAxes()
	p.X.Min, p.X.Max = 0, 1
	p.Y.Min, p.Y.Max = 0, 1
	p.BackgroundColor = color.RGBA{R: 0xf8, G: 0xf8, B: 0xf8, A: 0xff}

	l, err := plotter.NewLabels(plotter.XYLabels{
		XYs:    plotter.XYs{{X: 0.5, Y: 0.5}},
		Labels: []string{msg},
	})
	if err != nil {
		return err
	}
	l.TextStyle[0].Font.Size = vg.Points(20)
	l.TextStyle[0].Color = color.Gray{Y: 0x66}
	l.TextStyle[0].XAlign = draw.XCenter
	l.TextStyle[0].YAlign = draw.YCenter
	p.Add(l)

	// 800x400 px at the default 96 dpi
	return savePNG(p, 600, 300, path)
}
