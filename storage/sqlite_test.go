package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ebpfhollow/histogram"
)

func newStore(t *testing.T) *SQLite {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "history.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func docAt(ts time.Time, drops int64) *histogram.Document {
	doc := histogram.NewDocument(ts.Format(time.RFC3339Nano), "metrics_"+ts.Format("20060102_150405")+".txt")
	doc.Metrics["Packet Drop Rate"] = histogram.Section{
		Data:  []histogram.Bucket{{Range: histogram.Range{Lower: 0, Upper: 1}, Count: drops, Unit: "count"}},
		Total: drops,
	}
	doc.Metrics["Cpu Usage"] = histogram.Section{
		Data:  []histogram.Bucket{{Range: histogram.Range{Lower: 0, Upper: 1}, Count: 3, Unit: "cores"}},
		Total: 3,
	}
	doc.Aggregates = map[string]histogram.Value{
		"Packet Drop Rate": histogram.IntValue(drops),
		"Status":           histogram.TextValue("n/a"),
	}
	return doc
}

func TestSaveAndQuery(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	t0 := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

	require.NoError(t, s.Save(ctx, docAt(t0, 5)))
	require.NoError(t, s.Save(ctx, docAt(t0.Add(time.Minute), 7)))

	all, err := s.Query(ctx, "", time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Len(t, all, 4)

	drops, err := s.Query(ctx, "Packet Drop Rate", time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, drops, 2)
	assert.Equal(t, int64(5), drops[0].Total)
	assert.Equal(t, int64(7), drops[1].Total)
	assert.Equal(t, "count", drops[0].Unit)
	assert.Equal(t, 1, drops[0].Buckets)
	assert.True(t, drops[0].Timestamp.Equal(t0))
	assert.Equal(t, "metrics_20250314_090000.txt", drops[0].Source)

	later, err := s.Query(ctx, "Packet Drop Rate", t0.Add(30*time.Second), time.Time{})
	require.NoError(t, err)
	require.Len(t, later, 1)
	assert.Equal(t, int64(7), later[0].Total)
}

func TestAggregates(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	t0 := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	require.NoError(t, s.Save(ctx, docAt(t0, 5)))

	aggs, err := s.Aggregates(ctx, time.Time{}, t0)
	require.NoError(t, err)
	require.Len(t, aggs, 2)
	assert.Equal(t, AggregateRecord{Timestamp: t0, Key: "Packet Drop Rate", Value: "5", Numeric: true}, aggs[0])
	assert.Equal(t, AggregateRecord{Timestamp: t0, Key: "Status", Value: "n/a", Numeric: false}, aggs[1])

	none, err := s.Aggregates(ctx, t0.Add(time.Second), time.Time{})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestReopenKeepsHistory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	s, err := NewSQLite(path, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, s.Save(context.Background(), docAt(time.Now(), 1)))
	require.NoError(t, s.Close())

	s, err = NewSQLite(path, zap.NewNop())
	require.NoError(t, err)
	defer s.Close()
	recs, err := s.Query(context.Background(), "", time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Len(t, recs, 2)
}
