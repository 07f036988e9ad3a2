package cmd

import (
	"context"

	"github.com/jmgilman/outcap/internal/config"
	"github.com/jmgilman/outcap/internal/prompt"
	"github.com/jmgilman/outcap/internal/runner"
)

type contextKey string

const (
	configKey   contextKey = "config"
	loaderKey   contextKey = "loader"
	managerKey  contextKey = "manager"
	prompterKey contextKey = "prompter"
)

// WithConfig adds the config to the context.
func WithConfig(ctx context.Context, cfg *config.Config) context.Context {
	return context.WithValue(ctx, configKey, cfg)
}

// ConfigFromContext retrieves the config from context.
func ConfigFromContext(ctx context.Context) *config.Config {
	cfg, ok := ctx.Value(configKey).(*config.Config)
	if !ok {
		return nil
	}
	return cfg
}

// WithLoader adds the config loader to the context.
func WithLoader(ctx context.Context, loader *config.Loader) context.Context {
	return context.WithValue(ctx, loaderKey, loader)
}

// LoaderFromContext retrieves the config loader from context.
func LoaderFromContext(ctx context.Context) *config.Loader {
	loader, ok := ctx.Value(loaderKey).(*config.Loader)
	if !ok {
		return nil
	}
	return loader
}

// WithManager adds the run manager to the context.
func WithManager(ctx context.Context, mgr *runner.Manager) context.Context {
	return context.WithValue(ctx, managerKey, mgr)
}

// ManagerFromContext retrieves the run manager from context.
func ManagerFromContext(ctx context.Context) *runner.Manager {
	mgr, ok := ctx.Value(managerKey).(*runner.Manager)
	if !ok {
		return nil
	}
	return mgr
}

// WithPrompter adds the prompter to the context.
func WithPrompter(ctx context.Context, p prompt.Prompter) context.Context {
	return context.WithValue(ctx, prompterKey, p)
}

// PrompterFromContext retrieves the prompter from context.
func PrompterFromContext(ctx context.Context) prompt.Prompter {
	p, ok := ctx.Value(prompterKey).(prompt.Prompter)
	if !ok {
		return nil
	}
	return p
}
