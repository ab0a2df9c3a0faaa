package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/caseprobe/discovery-cli/internal/resilience"
	"github.com/caseprobe/discovery-cli/internal/scope"
	"github.com/caseprobe/discovery-cli/internal/store"
	"github.com/caseprobe/discovery-cli/pkg/blob"
	"github.com/caseprobe/discovery-cli/pkg/searchidx"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "discovery.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initBlob returns nil when no object store is configured; the pipeline
// then skips archive fetching, attachment upload, and body offload.
func initBlob() (blob.Client, error) {
	if cfg.Blob.Endpoint == "" {
		return nil, nil
	}
	return blob.New(blob.Config{
		Endpoint:  cfg.Blob.Endpoint,
		AccessKey: cfg.Blob.AccessKey,
		SecretKey: cfg.Blob.SecretKey,
		UseSSL:    cfg.Blob.UseSSL,
	})
}

func initIndexer() searchidx.Indexer {
	if !cfg.Search.Enabled || cfg.Search.BaseURL == "" {
		return searchidx.Noop{}
	}
	retry := resilience.FromRetryConfig(
		cfg.Retry.MaxAttempts, cfg.Retry.InitialBackoffMs, cfg.Retry.MaxBackoffMs,
		cfg.Retry.Multiplier, cfg.Retry.JitterFraction,
	)
	retry.OnRetry = resilience.RetryLogger("searchidx", "index_document")
	return searchidx.NewClient(cfg.Search.BaseURL, cfg.Search.Index, searchidx.WithRetryConfig(retry))
}

func initGate() (*scope.Gate, error) {
	matcher, err := scope.LoadTermsFile(cfg.Scope.TermsFile, cfg.Scope.CurrentTerms, cfg.Scope.ExcludedTerms)
	if err != nil {
		return nil, err
	}
	classifier := scope.NewPatternClassifier(cfg.Scope.ExcludedTerms)
	return scope.NewGate(matcher, classifier, cfg.Scope.SpamFilter), nil
}
