package hollow

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ebpfhollow/histogram"
)

type recordedCall struct {
	Method string
	Path   string
	Auth   string
	Body   map[string]any
}

type fakeProducer struct {
	mu     sync.Mutex
	calls  []recordedCall
	failOn string // path suffix that answers 500
}

func (f *fakeProducer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raw, _ := io.ReadAll(r.Body)
	var body map[string]any
	_ = json.Unmarshal(raw, &body)

	f.mu.Lock()
	f.calls = append(f.calls, recordedCall{Method: r.Method, Path: r.URL.Path, Auth: r.Header.Get("Authorization"), Body: body})
	f.mu.Unlock()

	if f.failOn != "" && len(r.URL.Path) >= len(f.failOn) && r.URL.Path[len(r.URL.Path)-len(f.failOn):] == f.failOn {
		http.Error(w, "boom", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	switch r.URL.Path {
	case "/api/status":
		_, _ = w.Write([]byte(`{"status":"RUNNING"}`))
	case "/api/datasets":
		_, _ = w.Write([]byte(`[{"name":"ebpf_metrics","version":1700000000000}]`))
	default:
		_, _ = w.Write([]byte(`{"ok":true}`))
	}
}

func (f *fakeProducer) Calls() []recordedCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordedCall(nil), f.calls...)
}

func sampleDoc() *histogram.Document {
	doc := histogram.NewDocument("2025-03-14T09:26:53Z", "metrics_20250314_092653.txt")
	doc.Metrics["Packet Drop Rate"] = histogram.Section{
		Data: []histogram.Bucket{{
			Range: histogram.Range{Lower: 0, Upper: 1, UpperValue: histogram.Magnitude{Value: 1}},
			Count: 5,
			Unit:  "count",
		}},
		Total: 5,
	}
	doc.Aggregates = map[string]histogram.Value{"Packet Drop Rate": histogram.IntValue(5)}
	return doc
}

func TestConvert(t *testing.T) {
	p := Convert(sampleDoc())

	require.Contains(t, p.Types, "MetricsState")
	require.Contains(t, p.Types, "Metric")
	require.Contains(t, p.Types, "MetricBucket")
	require.Len(t, p.Data.MetricsState, 1)

	st := p.Data.MetricsState[0]
	assert.Equal(t, "2025-03-14T09:26:53Z", st.Timestamp)
	assert.Equal(t, "metrics_20250314_092653.txt", st.Source)
	assert.Equal(t, Metric{
		Name:    "Packet Drop Rate",
		Total:   5,
		Unit:    "count",
		Buckets: []MetricBucket{{Lower: 0, Upper: 1, Count: 5}},
	}, st.Metrics["Packet Drop Rate"])
	assert.Equal(t, histogram.IntValue(5), st.Aggregates["Packet Drop Rate"])
}

func TestConvertDefaults(t *testing.T) {
	p := Convert(&histogram.Document{Metrics: map[string]histogram.Section{}})
	st := p.Data.MetricsState[0]
	assert.Equal(t, "unknown", st.Source)
	assert.NotEmpty(t, st.Timestamp)
	assert.NotNil(t, st.Aggregates)
}

func TestRemotePublishSequence(t *testing.T) {
	fp := &fakeProducer{}
	srv := httptest.NewServer(fp)
	defer srv.Close()

	client := NewClient(srv.URL+"/", "secret", 5*time.Second, zap.NewNop())
	pub := NewRemotePublisher(client, "ebpf_metrics", zap.NewNop())
	pub.Clock = func() time.Time { return time.UnixMilli(1700000000123) }

	file := filepath.Join(t.TempDir(), "metrics_1_hollow.json")
	res, err := Deliver(context.Background(), pub, sampleDoc(), file)
	require.NoError(t, err)
	assert.Equal(t, int64(1700000000123), res.Version)
	assert.Equal(t, "remote", res.Mode)

	calls := fp.Calls()
	require.Len(t, calls, 3)
	assert.Equal(t, http.MethodPost, calls[0].Method)
	assert.Equal(t, "/api/datasets/ebpf_metrics/versions", calls[0].Path)
	assert.Equal(t, "ANNOUNCING", calls[0].Body["status"])
	assert.Equal(t, float64(1700000000123), calls[0].Body["version"])

	assert.Equal(t, http.MethodPost, calls[1].Method)
	assert.Equal(t, "/api/datasets/ebpf_metrics/versions/1700000000123/data", calls[1].Path)
	assert.Contains(t, calls[1].Body, "types")
	assert.Contains(t, calls[1].Body, "data")

	assert.Equal(t, http.MethodPut, calls[2].Method)
	assert.Equal(t, "/api/datasets/ebpf_metrics/versions/1700000000123/status", calls[2].Path)
	assert.Equal(t, "PUBLISHED", calls[2].Body["status"])

	for _, c := range calls {
		assert.Equal(t, "Bearer secret", c.Auth)
	}

	_, err = LoadPayload(file)
	require.NoError(t, err)
}

func TestRemotePublishAbortsOnFailure(t *testing.T) {
	fp := &fakeProducer{failOn: "/data"}
	srv := httptest.NewServer(fp)
	defer srv.Close()

	pub := NewRemotePublisher(NewClient(srv.URL, "", 5*time.Second, nil), "ebpf_metrics", zap.NewNop())
	_, err := Deliver(context.Background(), pub, sampleDoc(), filepath.Join(t.TempDir(), "x_hollow.json"))
	require.Error(t, err)

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusInternalServerError, se.Code)
	assert.Len(t, fp.Calls(), 2, "the version must not be published after a failed upload")
	assert.Empty(t, fp.Calls()[0].Auth)
}

func TestRemotePublishTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	pub := NewRemotePublisher(NewClient(url, "", time.Second, nil), "ebpf_metrics", zap.NewNop())
	_, err := Deliver(context.Background(), pub, sampleDoc(), filepath.Join(t.TempDir(), "x_hollow.json"))
	require.Error(t, err)
}

func TestDryRunAndLocalNeverCallProducer(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	localDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(localDir, ProducerScript), []byte("#!/bin/sh\n"), 0o755))

	for _, pub := range []Publisher{
		&DryRunPublisher{Log: zap.NewNop()},
		&LocalPublisher{LocalDir: localDir, Log: zap.NewNop()},
		&LocalPublisher{LocalDir: filepath.Join(localDir, "missing"), Log: zap.NewNop()},
	} {
		t.Run(pub.Mode(), func(t *testing.T) {
			file := filepath.Join(t.TempDir(), "metrics_1_hollow.json")
			res, err := Deliver(context.Background(), pub, sampleDoc(), file)
			require.NoError(t, err)
			assert.Equal(t, file, res.File)
			assert.Zero(t, res.Version)

			p, err := LoadPayload(file)
			require.NoError(t, err)
			require.Len(t, p.Data.MetricsState, 1)
			assert.Equal(t, int64(5), p.Data.MetricsState[0].Metrics["Packet Drop Rate"].Total)
		})
	}
	assert.Zero(t, hits.Load())
}

func TestPayloadFileFor(t *testing.T) {
	assert.Equal(t, "/tmp/x/metrics_1_hollow.json", PayloadFileFor("/tmp/x/metrics_1.json"))
	assert.Equal(t, "metrics_hollow.json", PayloadFileFor("metrics"))
}

func TestCheckConnectivity(t *testing.T) {
	fp := &fakeProducer{}
	srv := httptest.NewServer(fp)
	defer srv.Close()

	res, err := CheckConnectivity(context.Background(), NewClient(srv.URL, "", time.Second, nil), 1, 0)
	require.NoError(t, err)
	assert.Equal(t, "RUNNING", res.Status)
	require.NoError(t, res.DatasetsErr)
	require.Len(t, res.Datasets, 1)
	assert.Equal(t, "ebpf_metrics", res.Datasets[0].Name)
}

func TestCheckConnectivityRetries(t *testing.T) {
	var n atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/status" && n.Add(1) < 3 {
			http.Error(w, "starting", http.StatusServiceUnavailable)
			return
		}
		if r.URL.Path == "/api/datasets" {
			http.Error(w, "nope", http.StatusForbidden)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	res, err := CheckConnectivity(context.Background(), NewClient(srv.URL, "", time.Second, nil), 3, time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "Unknown", res.Status)
	assert.Error(t, res.DatasetsErr)
	assert.Equal(t, int32(3), n.Load())

	n.Store(-100)
	_, err = CheckConnectivity(context.Background(), NewClient(srv.URL, "", time.Second, nil), 2, time.Millisecond)
	require.Error(t, err)
}
