package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/docflow/internal/model"
)

var (
	batchLimit    int
	batchTemplate string
	batchCompany  string
)

var batchCmd = &cobra.Command{
	Use:   "batch <dir>",
	Short: "Process every document in a directory concurrently",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx, "batch")
		if err != nil {
			return err
		}
		defer env.Close()

		docs, err := loadDirectory(args[0], batchTemplate, batchCompany)
		if err != nil {
			return err
		}

		stats, err := processBatch(ctx, docs, batchLimit, cfg.Batch.MaxConcurrentDocuments, env.Processor.Process)
		if err != nil {
			return err
		}
		if stats.Errored > 0 {
			return eris.Errorf("batch: %d of %d documents could not be persisted", stats.Errored, stats.Total)
		}
		return nil
	},
}

func init() {
	batchCmd.Flags().IntVar(&batchLimit, "limit", 100, "max number of documents to process")
	batchCmd.Flags().StringVar(&batchTemplate, "template", "", "document template id (required)")
	batchCmd.Flags().StringVar(&batchCompany, "company", "", "known issuer company id for every document")
	_ = batchCmd.MarkFlagRequired("template")
	rootCmd.AddCommand(batchCmd)
}

// loadDirectory reads every regular file of dir in name order. The file
// name without extension becomes the document id.
func loadDirectory(dir, templateID, companyID string) ([]model.Document, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, eris.Wrapf(err, "read directory %s", dir)
	}
	var docs []model.Document
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		name := e.Name()
		id := name[:len(name)-len(filepath.Ext(name))]
		doc, err := loadDocument(filepath.Join(dir, name), templateID, companyID, id)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// processFunc runs and persists one document.
type processFunc func(ctx context.Context, doc model.Document) (*model.RunContext, error)

// batchStats counts batch outcomes. Failed runs were persisted as failed;
// errored documents could not be persisted at all.
type batchStats struct {
	Total     int
	Succeeded int64
	Failed    int64
	Errored   int64
	Decisions map[model.RoutingDecision]int
}

// processBatch applies limit, then runs documents concurrently. Each run is
// isolated; one document failing never aborts the rest.
func processBatch(ctx context.Context, docs []model.Document, limit, concurrency int, process processFunc) (batchStats, error) {
	stats := batchStats{Decisions: make(map[model.RoutingDecision]int)}
	if len(docs) == 0 {
		zap.L().Info("no documents found")
		return stats, nil
	}

	if limit > 0 && len(docs) > limit {
		docs = docs[:limit]
	}
	stats.Total = len(docs)

	zap.L().Info("processing batch",
		zap.Int("documents", len(docs)),
		zap.Int("concurrency", concurrency),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(concurrency, 1))

	var succeeded, failed, errored atomic.Int64
	decisions := make([]model.RoutingDecision, len(docs))

	for i, doc := range docs {
		g.Go(func() error {
			log := zap.L().With(zap.String("document_id", doc.ID))

			rc, err := process(gctx, doc)
			if err != nil {
				errored.Add(1)
				log.Error("document not persisted", zap.Error(err))
				return nil
			}
			if rc.Failed() {
				failed.Add(1)
				log.Warn("document failed", zap.String("error", rc.Error))
				return nil
			}

			succeeded.Add(1)
			decisions[i] = rc.RoutingDecision
			log.Info("document processed",
				zap.String("routing_decision", string(rc.RoutingDecision)),
				zap.Float64("confidence", rc.OverallConfidence),
			)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return stats, eris.Wrap(err, "batch processing")
	}

	for _, d := range decisions {
		if d != "" {
			stats.Decisions[d]++
		}
	}
	stats.Succeeded, stats.Failed, stats.Errored = succeeded.Load(), failed.Load(), errored.Load()

	zap.L().Info("batch complete",
		zap.Int("total", stats.Total),
		zap.Int64("succeeded", stats.Succeeded),
		zap.Int64("failed", stats.Failed),
		zap.Int64("errored", stats.Errored),
	)
	return stats, nil
}
