// Package recorder persists session traces: per-turn screenshot and
// decision files on disk, and the thought journal in PostgreSQL. Recording
// failures are logged and never interrupt the session.
package recorder

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// TraceRecorder writes one screenshot and one decision document per turn
// under <tracesPath>/<traceName>/.
type TraceRecorder struct {
	dir    string
	logger *zap.Logger
}

func NewTraceRecorder(tracesPath, traceName string, logger *zap.Logger) (*TraceRecorder, error) {
	dir := filepath.Join(tracesPath, traceName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create trace directory %s: %w", dir, err)
	}
	return &TraceRecorder{
		dir:    dir,
		logger: logger.Named("recorder"),
	}, nil
}

// Dir returns the directory traces are written to.
func (r *TraceRecorder) Dir() string { return r.dir }

// RecordTurn persists the turn's screenshot (decoded from base64 JPEG) and
// its decision document. Both writes are best-effort.
func (r *TraceRecorder) RecordTurn(turn int, screenshotB64 string, decision any) {
	var g errgroup.Group

	g.Go(func() error {
		if screenshotB64 == "" {
			return nil
		}
		img, err := base64.StdEncoding.DecodeString(screenshotB64)
		if err != nil {
			return fmt.Errorf("failed to decode screenshot: %w", err)
		}
		if err := os.WriteFile(r.turnPath(turn, "jpeg"), img, 0o644); err != nil {
			return fmt.Errorf("failed to write screenshot trace: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		doc, err := json.MarshalIndent(decision, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode decision: %w", err)
		}
		if err := os.WriteFile(r.turnPath(turn, "json"), doc, 0o644); err != nil {
			return fmt.Errorf("failed to write decision trace: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		r.logger.Warn("Trace recording incomplete", zap.Int("turn", turn), zap.Error(err))
	}
}

func (r *TraceRecorder) turnPath(turn int, ext string) string {
	return filepath.Join(r.dir, fmt.Sprintf("%04d.%s", turn, ext))
}
