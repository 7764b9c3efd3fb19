package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"chat2edit/internal/eval"
	"chat2edit/internal/llm"
	"chat2edit/internal/prompt"
	"chat2edit/internal/provider"
	"chat2edit/internal/session"
	"chat2edit/internal/store"
)

// app is everything a command needs, built from cfg.
type app struct {
	store     *store.Store
	provider  provider.Provider
	client    *llm.TracingClient
	fulfiller *session.Fulfiller
	service   *session.Service
	watcher   *provider.ExemplarWatcher
}

// exemplarSource is implemented by providers built on provider.Base.
type exemplarSource interface {
	ExemplarSet() *provider.ExemplarSet
}

// openStore opens only the store, for commands that never call the model.
func openStore(ctx context.Context) (*store.Store, error) {
	return store.Open(ctx, cfg.Store.Driver, cfg.Store.DatabasePath)
}

// openProvider builds the configured provider.
func openProvider() (provider.Provider, error) {
	return provider.New(cfg.Provider.Name, provider.Options{
		Functions:        cfg.Provider.Functions,
		Locale:           cfg.Agent.Locale,
		ExemplarsDir:     cfg.Provider.ExemplarsDir,
		InferenceURL:     cfg.Provider.Inference.BaseURL,
		InferenceTimeout: cfg.GetInferenceTimeout(),
	})
}

// openApp wires store, provider, model client and the turn service.
// needLLM=false skips credential checks for commands that only read.
func openApp(ctx context.Context, needLLM bool) (*app, error) {
	if needLLM {
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
	}

	p, err := openProvider()
	if err != nil {
		return nil, err
	}

	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}
	a := &app{store: st, provider: p}

	var client llm.Client = unconfiguredClient{}
	if needLLM {
		client, err = llm.NewClient(ctx, cfg.LLM, cfg.GetLLMTimeout())
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("failed to create LLM client: %w", err)
		}
	}
	a.client = llm.NewTracingClient(client)

	evaluator := eval.New(p, eval.WithStatementTimeout(cfg.GetStatementTimeout()))
	fcfg := session.FulfillConfig{
		MaxPromptAttempts:  cfg.Agent.MaxPromptAttempts,
		OmitExemplarsAfter: cfg.Agent.OmitExemplarsAfter,
		Locale:             cfg.Agent.Locale,
	}
	if cfg.Agent.UseHelperPrompt {
		fcfg.HelperPrompt = cfg.Agent.HelperPrompt
		if fcfg.HelperPrompt == "" {
			fcfg.HelperPrompt = prompt.DefaultHelperPrompt
		}
	}
	a.fulfiller = session.NewFulfiller(a.client, evaluator, fcfg, metrics)
	a.service = session.NewService(st, a.fulfiller, cfg.Agent.MaxHistoryCycles, metrics)

	if cfg.Provider.WatchExemplars && cfg.Provider.ExemplarsDir != "" {
		if src, ok := p.(exemplarSource); ok {
			if err := a.watchExemplars(ctx, src.ExemplarSet()); err != nil {
				logger.Warn("Exemplar hot reload disabled", zap.Error(err))
			}
		}
	}

	logger.Debug("App ready",
		zap.String("provider", p.Name()),
		zap.String("llm", cfg.LLM.Provider),
		zap.String("store", st.Path()))
	return a, nil
}

func (a *app) watchExemplars(ctx context.Context, set *provider.ExemplarSet) error {
	w, err := provider.NewExemplarWatcher(cfg.Provider.ExemplarsDir, set)
	if err != nil {
		return err
	}
	w.OnReload = func(err error) {
		if err != nil {
			logger.Warn("Exemplar reload failed", zap.Error(err))
			return
		}
		logger.Info("Exemplars reloaded", zap.String("dir", cfg.Provider.ExemplarsDir))
	}
	if err := w.Start(ctx); err != nil {
		return err
	}
	a.watcher = w
	return nil
}

// Close releases the store and stops the exemplar watcher.
func (a *app) Close() error {
	if a.watcher != nil {
		a.watcher.Stop()
	}
	return a.store.Close()
}

// unconfiguredClient stands in for the model in read-only commands.
type unconfiguredClient struct{}

func (unconfiguredClient) Generate(context.Context, []string) (string, error) {
	return "", fmt.Errorf("%w: this command does not call the model", llm.ErrNoAPIKey)
}
