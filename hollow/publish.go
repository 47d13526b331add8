package hollow

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"ebpfhollow/fsutil"
	"ebpfhollow/histogram"
)

// ProducerScript is the helper of a hollow-local checkout that loads a
// wrapped document into the local store.
const ProducerScript = "run_producer.sh"

// Publisher delivers a wrapped document that has already been saved to file.
type Publisher interface {
	Publish(ctx context.Context, payload *Payload, file string) (*Result, error)
	Mode() string
}

// Result describes a successful delivery.
type Result struct {
	Mode    string
	File    string
	Version int64  // remote mode only
	Remote  string // sftp mode only
}

// Deliver converts doc, writes the wrapped document to file and hands it
// to p. The file is written in every mode.
func Deliver(ctx context.Context, p Publisher, doc *histogram.Document, file string) (*Result, error) {
	payload := Convert(doc)
	if err := SavePayload(file, payload); err != nil {
		return nil, err
	}
	return p.Publish(ctx, payload, file)
}

// SavePayload writes the wrapped document as indented JSON.
func SavePayload(path string, payload *Payload) error {
	raw, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("encode hollow payload: %w", err)
	}
	return fsutil.WriteFileAtomic(path, raw, 0o644)
}

// LoadPayload reads a wrapped document back.
func LoadPayload(path string) (*Payload, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return &p, nil
}

// PayloadFileFor names the wrapped file next to a metrics document:
// metrics_X.json -> metrics_X_hollow.json.
func PayloadFileFor(docPath string) string {
	ext := filepath.Ext(docPath)
	return strings.TrimSuffix(docPath, ext) + "_hollow.json"
}

// RemotePublisher pushes to the producer API: announce, upload, publish.
// Any failing step aborts the whole publish; nothing is retried.
type RemotePublisher struct {
	Client  *Client
	Dataset string
	Clock   func() time.Time
	Log     *zap.Logger
}

func NewRemotePublisher(client *Client, dataset string, log *zap.Logger) *RemotePublisher {
	return &RemotePublisher{Client: client, Dataset: dataset, Clock: time.Now, Log: log}
}

func (r *RemotePublisher) Mode() string { return "remote" }

func (r *RemotePublisher) Publish(ctx context.Context, payload *Payload, file string) (*Result, error) {
	version := r.Clock().UnixMilli()
	log := r.Log.With(zap.String("producer", r.Client.BaseURL), zap.String("dataset", r.Dataset), zap.Int64("version", version))
	log.Info("pushing to Hollow producer")

	if err := r.Client.Announce(ctx, r.Dataset, version); err != nil {
		return nil, fmt.Errorf("announce dataset: %w", err)
	}
	if err := r.Client.PublishData(ctx, r.Dataset, version, payload); err != nil {
		return nil, fmt.Errorf("publish data: %w", err)
	}
	if err := r.Client.PublishVersion(ctx, r.Dataset, version); err != nil {
		return nil, fmt.Errorf("publish version: %w", err)
	}

	log.Info("dataset version published")
	return &Result{Mode: r.Mode(), File: file, Version: version}, nil
}

// LocalPublisher leaves the wrapped file for a hollow-local producer and
// tells the operator how to load it.
type LocalPublisher struct {
	LocalDir string // hollow-local checkout
	Log      *zap.Logger
}

func (l *LocalPublisher) Mode() string { return "local" }

func (l *LocalPublisher) Publish(_ context.Context, _ *Payload, file string) (*Result, error) {
	script := filepath.Join(l.LocalDir, ProducerScript)
	if fsutil.Exists(script) {
		l.Log.Info("local Hollow producer detected; to publish this data run the producer script",
			zap.String("dir", l.LocalDir),
			zap.String("command", script+" "+file))
	} else {
		l.Log.Warn("local Hollow producer not found; install hollow-local to publish this file",
			zap.String("dir", l.LocalDir),
			zap.String("file", file))
	}
	return &Result{Mode: l.Mode(), File: file}, nil
}

// DryRunPublisher only keeps the wrapped file.
type DryRunPublisher struct {
	Log *zap.Logger
}

func (d *DryRunPublisher) Mode() string { return "dry-run" }

func (d *DryRunPublisher) Publish(_ context.Context, _ *Payload, file string) (*Result, error) {
	d.Log.Info("dry run, not pushing to Hollow producer", zap.String("file", file))
	return &Result{Mode: d.Mode(), File: file}, nil
}
