package main

import (
	"context"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/docflow/internal/catalog"
	"github.com/sells-group/docflow/internal/confidence"
	"github.com/sells-group/docflow/internal/fetcher"
	"github.com/sells-group/docflow/internal/mapping"
	"github.com/sells-group/docflow/internal/model"
	"github.com/sells-group/docflow/internal/pipeline"
	"github.com/sells-group/docflow/internal/resilience"
	"github.com/sells-group/docflow/internal/routing"
	"github.com/sells-group/docflow/internal/ruletest"
	"github.com/sells-group/docflow/internal/stage"
	"github.com/sells-group/docflow/internal/stage/remote"
	"github.com/sells-group/docflow/internal/store"
	"github.com/sells-group/docflow/internal/textlayer"
)

// storeEnv holds the store and the resolver caching its rules. It is enough
// for the rule, resolve, ruletest and migrate commands.
type storeEnv struct {
	Store    store.Store
	Resolver *mapping.Resolver
}

// Close releases the store.
func (e *storeEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// Tester builds a rule regression tester over the store.
func (e *storeEnv) Tester() *ruletest.Tester {
	return ruletest.NewTester(e.Store, e.Store,
		ruletest.WithMaxRegressionRate(cfg.RuleTest.MaxRegressionRate),
		ruletest.WithSampleSize(cfg.RuleTest.SampleSize),
	)
}

// initStoreEnv validates the config for mode, opens and migrates the store.
// Callers should defer env.Close().
func initStoreEnv(ctx context.Context, mode string) (*storeEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return &storeEnv{Store: st, Resolver: mapping.NewResolver(st)}, nil
}

// pipelineEnv adds the orchestrator and its collaborators, for the process,
// batch and serve commands.
type pipelineEnv struct {
	*storeEnv
	Registry  *pipeline.Registry
	Processor *pipeline.Processor
	Extractor *remote.Client
	Fetcher   *fetcher.HTTPFetcher
}

// initPipeline sets up the store, the extractor client and the catalog, and
// builds the orchestrator. Callers should defer env.Close().
func initPipeline(ctx context.Context, mode string) (*pipelineEnv, error) {
	se, err := initStoreEnv(ctx, mode)
	if err != nil {
		return nil, err
	}

	cat, err := catalog.Load(cfg.Catalog.Path)
	if err != nil {
		se.Close()
		return nil, err
	}

	agg, err := confidence.NewAggregator(confidence.Options{
		Method:            confidence.Method(cfg.Confidence.Method),
		CriticalFields:    cfg.Confidence.CriticalFields,
		CriticalThreshold: cfg.Confidence.CriticalThreshold,
		Weights:           cfg.Confidence.Weights,
	}, cfg.Routing.QuickReviewThreshold)
	if err != nil {
		se.Close()
		return nil, err
	}

	engine, err := routing.NewEngine(routing.Thresholds{
		AutoApprove: cfg.Routing.AutoApproveThreshold,
		QuickReview: cfg.Routing.QuickReviewThreshold,
	})
	if err != nil {
		se.Close()
		return nil, err
	}

	reg, err := pipeline.RegistryFromConfig(cfg.Pipeline)
	if err != nil {
		se.Close()
		return nil, err
	}

	extractor := newExtractor()
	execs := stage.Executors(stage.Deps{
		Catalog:      cat,
		Resolver:     se.Resolver,
		Extractor:    extractor,
		Terms:        se.Store,
		Aggregator:   agg,
		Engine:       engine,
		MaxFileBytes: stage.DefaultMaxFileBytes,
		Now:          time.Now,
	})

	orch, err := pipeline.NewOrchestrator(reg, execs,
		pipeline.WithBackoff(cfg.Pipeline.RetryInitialBackoff(), cfg.Pipeline.RetryMaxBackoff()),
	)
	if err != nil {
		se.Close()
		return nil, err
	}

	var procOpts []pipeline.ProcessorOption
	text, err := textlayer.New(cfg.TextLayer)
	if err != nil {
		se.Close()
		return nil, err
	}
	if text != nil {
		procOpts = append(procOpts, pipeline.WithTextReader(text))
	}

	zap.L().Info("pipeline ready",
		zap.Int("steps", len(reg.Enabled())),
		zap.String("store", cfg.Store.Driver),
		zap.String("catalog", cfg.Catalog.Path),
		zap.String("text_layer", cfg.TextLayer.Provider),
	)

	return &pipelineEnv{
		storeEnv:  se,
		Registry:  reg,
		Processor: pipeline.NewProcessor(orch, se.Store, procOpts...),
		Extractor: extractor,
		Fetcher:   fetcher.New(cfg.Fetch),
	}, nil
}

func newExtractor() *remote.Client {
	breaker := resilience.DefaultBreakerConfig()
	if cfg.Extractor.BreakerTrips > 0 {
		breaker.Trips = cfg.Extractor.BreakerTrips
	}
	if cfg.Extractor.BreakerCooldownSecs > 0 {
		breaker.Cooldown = time.Duration(cfg.Extractor.BreakerCooldownSecs) * time.Second
	}
	timeout := time.Duration(cfg.Extractor.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	return remote.NewClient(cfg.Extractor.BaseURL, cfg.Extractor.Key,
		remote.WithHTTPClient(&http.Client{Timeout: timeout}),
		remote.WithRateLimit(cfg.Extractor.RateLimit, cfg.Extractor.RateBurst),
		remote.WithBreaker(breaker),
	)
}

// mappingKey builds a resolver key from command flags.
func mappingKey(templateID, companyID, formatID string) mapping.Key {
	return mapping.Key{TemplateID: templateID, CompanyID: companyID, FormatID: formatID}
}

// runSummary is the printed outcome of one document run.
type runSummary struct {
	DocumentID      string                `json:"document_id"`
	RunID           string                `json:"run_id"`
	Status          model.DocumentStatus  `json:"status"`
	RoutingDecision model.RoutingDecision `json:"routing_decision,omitempty"`
	Confidence      float64               `json:"confidence"`
	Mapped          int                   `json:"mapped"`
	Unmapped        int                   `json:"unmapped"`
	Warnings        []string              `json:"warnings,omitempty"`
	Error           string                `json:"error,omitempty"`
}

func summarize(rc *model.RunContext) runSummary {
	return runSummary{
		DocumentID:      rc.Document.ID,
		RunID:           rc.RunID,
		Status:          rc.Status(),
		RoutingDecision: rc.RoutingDecision,
		Confidence:      rc.OverallConfidence,
		Mapped:          len(rc.MappedFields),
		Unmapped:        len(rc.UnmappedFields),
		Warnings:        rc.Warnings,
		Error:           rc.Error,
	}
}
