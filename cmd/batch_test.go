package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/docflow/internal/fetcher"
	"github.com/sells-group/docflow/internal/model"
)

func docs(ids ...string) []model.Document {
	out := make([]model.Document, len(ids))
	for i, id := range ids {
		out[i] = model.Document{ID: id, FileName: id + ".pdf", TemplateID: "invoice"}
	}
	return out
}

func decided(doc model.Document, d model.RoutingDecision) *model.RunContext {
	rc := model.NewRunContext("run-"+doc.ID, doc, time.Now())
	rc.RoutingDecision = d
	return rc
}

func TestProcessBatch_CountsOutcomes(t *testing.T) {
	process := func(_ context.Context, doc model.Document) (*model.RunContext, error) {
		switch doc.ID {
		case "d2":
			return nil, errors.New("persist: disk full")
		case "d3":
			rc := decided(doc, "")
			rc.Fail(model.StepLayoutExtraction, errors.New("extractor down"))
			return rc, nil
		case "d4":
			return decided(doc, model.RoutingFullReview), nil
		default:
			return decided(doc, model.RoutingAutoApprove), nil
		}
	}

	stats, err := processBatch(context.Background(), docs("d1", "d2", "d3", "d4", "d5"), 0, 2, process)
	require.NoError(t, err)
	assert.Equal(t, 5, stats.Total)
	assert.Equal(t, int64(3), stats.Succeeded)
	assert.Equal(t, int64(1), stats.Failed)
	assert.Equal(t, int64(1), stats.Errored)
	assert.Equal(t, 2, stats.Decisions[model.RoutingAutoApprove])
	assert.Equal(t, 1, stats.Decisions[model.RoutingFullReview])
}

func TestProcessBatch_AppliesLimit(t *testing.T) {
	var calls atomic.Int32
	process := func(_ context.Context, doc model.Document) (*model.RunContext, error) {
		calls.Add(1)
		return decided(doc, model.RoutingQuickReview), nil
	}

	stats, err := processBatch(context.Background(), docs("a", "b", "c", "d"), 2, 4, process)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, int32(2), calls.Load())
}

func TestProcessBatch_RespectsConcurrency(t *testing.T) {
	var running, peak atomic.Int32
	process := func(_ context.Context, doc model.Document) (*model.RunContext, error) {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		running.Add(-1)
		return decided(doc, model.RoutingAutoApprove), nil
	}

	_, err := processBatch(context.Background(), docs("a", "b", "c", "d", "e", "f"), 0, 2, process)
	require.NoError(t, err)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestProcessBatch_Empty(t *testing.T) {
	stats, err := processBatch(context.Background(), nil, 10, 2, nil)
	require.NoError(t, err)
	assert.Zero(t, stats.Total)
}

func TestLoadDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b-002.pdf"), []byte("%PDF-1.7 b"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a-001.png"), []byte("\x89PNG a"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested"), 0o755))

	got, err := loadDirectory(dir, "invoice", "dhl")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a-001", got[0].ID)
	assert.Equal(t, "a-001.png", got[0].FileName)
	assert.Equal(t, "b-002", got[1].ID)
	assert.Equal(t, "invoice", got[1].TemplateID)
	assert.Equal(t, "dhl", got[1].CompanyID)
	assert.Equal(t, []byte("%PDF-1.7 b"), got[1].Content)
}

func TestLoadDocument_GeneratesID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scan.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF"), 0o644))

	doc, err := loadDocument(path, "invoice", "", "")
	require.NoError(t, err)
	assert.NotEmpty(t, doc.ID)
	assert.Equal(t, "scan.pdf", doc.FileName)
	assert.False(t, doc.UploadedAt.IsZero())

	_, err = loadDocument(filepath.Join(t.TempDir(), "missing.pdf"), "invoice", "", "")
	assert.Error(t, err)
}

type fetchFunc func(ctx context.Context, rawURL string) (*fetcher.Download, error)

func (f fetchFunc) Fetch(ctx context.Context, rawURL string) (*fetcher.Download, error) {
	return f(ctx, rawURL)
}

func TestFetchDocument(t *testing.T) {
	f := fetchFunc(func(_ context.Context, rawURL string) (*fetcher.Download, error) {
		if rawURL != "https://files.example.com/a.pdf" {
			return nil, errors.New("not found")
		}
		return &fetcher.Download{URL: rawURL, FileName: "a.pdf", MimeType: "application/pdf", Content: []byte("%PDF")}, nil
	})

	doc, err := fetchDocument(context.Background(), f, "https://files.example.com/a.pdf", "invoice", "dhl", "d-9")
	require.NoError(t, err)
	assert.Equal(t, "d-9", doc.ID)
	assert.Equal(t, "a.pdf", doc.FileName)
	assert.Equal(t, "application/pdf", doc.MimeType)
	assert.Equal(t, "https://files.example.com/a.pdf", doc.SourceURI)
	assert.Equal(t, "dhl", doc.CompanyID)

	_, err = fetchDocument(context.Background(), f, "https://files.example.com/b.pdf", "invoice", "", "")
	assert.Error(t, err)
}

func TestSummarize(t *testing.T) {
	rc := decided(model.Document{ID: "d1"}, model.RoutingQuickReview)
	rc.OverallConfidence = 0.85
	rc.MappedFields["invoice_number"] = model.MappedField{TargetField: "invoice_number", Value: "INV-1"}
	rc.UnmappedFields = []model.UnmappedField{{FieldName: "total_amount", Reason: model.UnmappedNoMatch}}

	s := summarize(rc)
	assert.Equal(t, "d1", s.DocumentID)
	assert.Equal(t, model.DocumentStatusPendingReview, s.Status)
	assert.Equal(t, 1, s.Mapped)
	assert.Equal(t, 1, s.Unmapped)
	assert.InDelta(t, 0.85, s.Confidence, 1e-9)
}
