package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/strandlabs/strand/internal/activity"
	"github.com/strandlabs/strand/internal/agent"
	"github.com/strandlabs/strand/internal/approval"
	"github.com/strandlabs/strand/internal/conversation"
	"github.com/strandlabs/strand/internal/model"
	"github.com/strandlabs/strand/internal/observability"
	"github.com/strandlabs/strand/internal/orchestrator"
	anthropicprovider "github.com/strandlabs/strand/internal/providers/anthropic"
	"github.com/strandlabs/strand/internal/tools"
	"github.com/strandlabs/strand/internal/tools/files"
)

// memoryStorePath selects the in-process backends.
const memoryStorePath = ":memory:"

// buildOrchestrator wires stores, registry, approval, and the model provider
// from config. The returned cleanup closes everything the orchestrator owns.
func buildOrchestrator(cfg *Config, prompt approval.PromptFunc) (*orchestrator.Orchestrator, func(context.Context) error, error) {
	debug := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})

	tracer, shutdownTracer := observability.NewTracer(observability.TraceConfig{
		ServiceName:    "strand",
		ServiceVersion: version,
		Endpoint:       cfg.Tracing.Endpoint,
		SamplingRate:   cfg.Tracing.SamplingRate,
		EnableInsecure: cfg.Tracing.Insecure,
	})

	log, err := openActivityLog(cfg, debug)
	if err != nil {
		return nil, nil, err
	}

	store, err := openConversationStore(cfg)
	if err != nil {
		log.Close()
		return nil, nil, err
	}

	registry := tools.NewRegistry(log, debug)
	if err := registry.Register("fs", files.New(files.Config{Workspace: cfg.Workspace})); err != nil {
		log.Close()
		store.Close()
		return nil, nil, fmt.Errorf("register fs tool: %w", err)
	}

	approver := approval.NewPolicyEngine(effectivePolicy(&cfg.Approval))
	if prompt != nil {
		approver.SetPrompt(prompt)
	}

	o, err := orchestrator.New(orchestrator.Config{
		DefaultRole:   cfg.Engine.DefaultRole,
		HistoryLimit:  cfg.Engine.HistoryLimit,
		MaxIterations: cfg.Engine.MaxIterations,
	}, orchestrator.Deps{
		Activity: log,
		Store:    store,
		Registry: registry,
		Approver: approver,
		Sessions: sessionFactory(cfg),
		Debug:    debug,
		Metrics:  observability.NewMetrics(prometheus.DefaultRegisterer),
		Tracer:   tracer,
	})
	if err != nil {
		log.Close()
		store.Close()
		return nil, nil, err
	}

	cleanup := func(ctx context.Context) error {
		closeErr := o.Close()
		if err := shutdownTracer(ctx); err != nil && closeErr == nil {
			closeErr = err
		}
		return closeErr
	}
	return o, cleanup, nil
}

// sessionFactory builds Anthropic sessions per role, honoring the role's
// default model.
func sessionFactory(cfg *Config) orchestrator.SessionFactory {
	return func(role agent.RoleDefinition) (model.Session, error) {
		return anthropicprovider.NewSession(anthropicprovider.Config{
			APIKey:    cfg.Model.APIKey,
			BaseURL:   cfg.Model.BaseURL,
			Model:     role.DefaultModel,
			MaxTokens: cfg.Model.MaxTokens,
		})
	}
}

func openActivityLog(cfg *Config, debug *observability.Logger) (activity.Log, error) {
	if cfg.Storage.ActivityDB == memoryStorePath {
		return activity.NewMemoryLog(debug), nil
	}
	log, err := activity.NewSQLiteLog(cfg.Storage.ActivityDB, debug)
	if err != nil {
		return nil, fmt.Errorf("open activity log: %w", err)
	}
	return log, nil
}

func openConversationStore(cfg *Config) (conversation.Store, error) {
	if cfg.Storage.ConversationDB == memoryStorePath {
		return conversation.NewMemoryStore(), nil
	}
	store, err := conversation.NewSQLiteStore(cfg.Storage.ConversationDB)
	if err != nil {
		return nil, fmt.Errorf("open conversation store: %w", err)
	}
	return store, nil
}

// effectivePolicy falls back to the default policy when the config carries no
// approval rules at all.
func effectivePolicy(p *approval.Policy) *approval.Policy {
	if len(p.Allowlist) == 0 && len(p.Denylist) == 0 && len(p.RequirePrompt) == 0 && !p.DefaultAllow {
		return approval.DefaultPolicy()
	}
	return p
}
