// Package report persists run summaries to blob storage under
// runs/<run-id>/summary.json.
package report

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"

	"variantcore/internal/blob"
	"variantcore/internal/metrics"
)

const (
	runsPrefix  = "runs/"
	summaryName = "summary.json"
)

// AssemblySummary reports the pipeline outcome for one assembly.
type AssemblySummary struct {
	Assembly        string `json:"assembly"`
	Processed       int    `json:"processed"`
	MergeCandidates int    `json:"mergeCandidates"`
	Merged          int    `json:"merged"`
	MergeSkipped    int    `json:"mergeSkipped"`
	SplitCandidates int    `json:"splitCandidates"`
	Split           int    `json:"split"`
	Reclustered     int    `json:"reclustered"`
	Unclustered     int    `json:"unclustered"`
	Deprecated      int    `json:"deprecated,omitempty"`
	Retained        int    `json:"retained,omitempty"`
}

// Summary is the document written once per run.
type Summary struct {
	RunID      string            `json:"runId"`
	Command    string            `json:"command"`
	StartedAt  time.Time         `json:"startedAt"`
	FinishedAt time.Time         `json:"finishedAt"`
	Assemblies []AssemblySummary `json:"assemblies"`
	Counters   map[string]int64  `json:"counters"`
	Anomalies  []string          `json:"anomalies,omitempty"`
}

// NewRunID returns a sortable, unique run id.
func NewRunID(now time.Time) string {
	return now.UTC().Format("20060102T150405Z") + "-" + uuid.NewString()[:8]
}

// Key returns the blob key of a run's summary.
func Key(runID string) string {
	return runsPrefix + runID + "/" + summaryName
}

// CounterValues converts a counter snapshot to its JSON form.
func CounterValues(c *metrics.Counters) map[string]int64 {
	out := make(map[string]int64)
	if c == nil {
		return out
	}
	for m, v := range c.Snapshot() {
		out[string(m)] = v
	}
	return out
}

// AnomalyMessages flattens an aggregated anomaly error into sorted messages.
func AnomalyMessages(err error) []string {
	if err == nil {
		return nil
	}
	var merr *multierror.Error
	var msgs []string
	if errors.As(err, &merr) {
		for _, e := range merr.Errors {
			msgs = append(msgs, e.Error())
		}
	} else {
		msgs = []string{err.Error()}
	}
	sort.Strings(msgs)
	return msgs
}

// Writer stores and reads run summaries.
type Writer struct {
	store  blob.Store
	logger logrus.FieldLogger
}

// NewWriter returns a Writer over store.
func NewWriter(store blob.Store, logger logrus.FieldLogger) *Writer {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Writer{store: store, logger: logger.WithField("component", "report")}
}

// Write stores s. Writing the same run twice fails with blob.ErrExists.
func (w *Writer) Write(ctx context.Context, s Summary) (blob.Info, error) {
	if strings.TrimSpace(s.RunID) == "" {
		return blob.Info{}, fmt.Errorf("report without run id")
	}
	sort.Slice(s.Assemblies, func(i, j int) bool { return s.Assemblies[i].Assembly < s.Assemblies[j].Assembly })
	payload, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return blob.Info{}, fmt.Errorf("encode report %s: %w", s.RunID, err)
	}
	info, err := w.store.Put(ctx, Key(s.RunID), bytes.NewReader(payload), blob.PutOptions{
		ContentType: "application/json",
		Metadata:    map[string]string{"command": s.Command},
	})
	if err != nil {
		return blob.Info{}, fmt.Errorf("write report %s: %w", s.RunID, err)
	}
	w.logger.WithFields(logrus.Fields{
		"run":       s.RunID,
		"key":       info.Key,
		"driver":    w.store.Driver(),
		"anomalies": len(s.Anomalies),
	}).Info("run report written")
	return info, nil
}

// Read loads the summary of runID.
func (w *Writer) Read(ctx context.Context, runID string) (Summary, error) {
	_, rc, err := w.store.Get(ctx, Key(runID))
	if err != nil {
		return Summary{}, fmt.Errorf("read report %s: %w", runID, err)
	}
	defer rc.Close()
	var s Summary
	if err := json.NewDecoder(rc).Decode(&s); err != nil {
		return Summary{}, fmt.Errorf("decode report %s: %w", runID, err)
	}
	return s, nil
}

// Runs lists the run ids with a stored summary, oldest first.
func (w *Writer) Runs(ctx context.Context) ([]string, error) {
	infos, err := w.store.List(ctx, runsPrefix)
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	var ids []string
	for _, info := range infos {
		rest := strings.TrimPrefix(info.Key, runsPrefix)
		id, name, ok := strings.Cut(rest, "/")
		if ok && name == summaryName {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Delete removes the summary of runID and reports whether one was stored.
func (w *Writer) Delete(ctx context.Context, runID string) (bool, error) {
	removed, err := w.store.Delete(ctx, Key(runID))
	if err != nil {
		return false, fmt.Errorf("delete report %s: %w", runID, err)
	}
	if removed {
		w.logger.WithFields(logrus.Fields{"run": runID, "driver": w.store.Driver()}).Info("run report deleted")
	}
	return removed, nil
}
