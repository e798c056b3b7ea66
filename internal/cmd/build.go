package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/dativo-io/recourse/internal/audit"
	"github.com/dativo-io/recourse/internal/config"
	"github.com/dativo-io/recourse/internal/enrich"
	"github.com/dativo-io/recourse/internal/hitl"
	"github.com/dativo-io/recourse/internal/llm"
	"github.com/dativo-io/recourse/internal/memory"
	"github.com/dativo-io/recourse/internal/pipeline"
	"github.com/dativo-io/recourse/internal/resolution"
	"github.com/dativo-io/recourse/internal/retrieval"
	"github.com/dativo-io/recourse/internal/tools"
	"github.com/dativo-io/recourse/internal/triage"
)

// appRuntime bundles everything run and serve need: the assembled pipeline
// plus the stores that outlive a single case.
type appRuntime struct {
	cfg      *config.Config
	pipeline *pipeline.Pipeline
	memory   *memory.Store
	audit    *audit.Store
	index    *retrieval.Index
}

// Close releases the stores in reverse construction order.
func (r *appRuntime) Close() {
	if r.index != nil {
		_ = r.index.Close()
	}
	if r.audit != nil {
		_ = r.audit.Close()
	}
	if r.memory != nil {
		_ = r.memory.Close()
	}
}

// buildRuntime loads configuration and wires the full case pipeline:
// Mistral provider, mock tool registry, policy retrieval index, the three
// agents, and the memory and audit stores.
func buildRuntime(ctx context.Context) (*appRuntime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.EnsureDataDir(); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}
	cfg.WarnIfDefaultKeys()

	if cfg.MistralAPIKey == "" {
		return nil, fmt.Errorf("RECOURSE_MISTRAL_API_KEY is not set (or mistral_api_key in recourse.config.yaml)")
	}
	provider := llm.NewMistralProvider(cfg.MistralAPIKey, cfg.MistralBase, time.Duration(cfg.LLMTimeoutSec)*time.Second)

	registry, err := tools.NewRegistry(ctx)
	if err != nil {
		return nil, fmt.Errorf("initializing tool registry: %w", err)
	}

	index, err := retrieval.NewIndex(cfg.IndexDBPath())
	if err != nil {
		return nil, fmt.Errorf("opening policy index: %w", err)
	}

	memStore, err := memory.NewStore(cfg.MemoryDBPath())
	if err != nil {
		_ = index.Close()
		return nil, fmt.Errorf("opening memory store: %w", err)
	}

	audStore, err := audit.NewStore(cfg.AuditDBPath(), cfg.SigningKey)
	if err != nil {
		_ = memStore.Close()
		_ = index.Close()
		return nil, fmt.Errorf("opening audit store: %w", err)
	}

	thresholds := hitl.Thresholds{
		AmountThreshold:        cfg.HITLAmountThreshold,
		LowConfidence:          cfg.HITLLowConfidence,
		RecentCompensationGate: cfg.HITLRecentCompensation,
	}
	voucher := resolution.VoucherParams{
		Rate:           cfg.VoucherRate,
		Min:            cfg.VoucherMin,
		Max:            cfg.VoucherMax,
		TaperThreshold: cfg.VoucherTaperThreshold,
		TaperFactor:    cfg.VoucherTaperFactor,
		Floor:          cfg.VoucherFloor,
	}

	pipe := pipeline.New(
		triage.New(provider, cfg.MistralModel),
		enrich.New(provider, cfg.MistralModel, registry, index),
		resolution.New(provider, cfg.MistralModel, registry, thresholds, voucher),
		memStore,
		audStore,
	)

	return &appRuntime{
		cfg:      cfg,
		pipeline: pipe,
		memory:   memStore,
		audit:    audStore,
		index:    index,
	}, nil
}
