package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"slices"

	"github.com/spf13/viper"

	"github.com/abdul-hamid-achik/agentd/internal/agent"
	"github.com/abdul-hamid-achik/agentd/internal/approval"
	"github.com/abdul-hamid-achik/agentd/internal/config"
	ctxmgr "github.com/abdul-hamid-achik/agentd/internal/context"
	"github.com/abdul-hamid-achik/agentd/internal/llm"
	"github.com/abdul-hamid-achik/agentd/internal/logging"
	"github.com/abdul-hamid-achik/agentd/internal/secrets"
	"github.com/abdul-hamid-achik/agentd/internal/store"
	"github.com/abdul-hamid-achik/agentd/internal/tools"
	"github.com/abdul-hamid-achik/agentd/internal/toolserver"
	"github.com/abdul-hamid-achik/agentd/internal/ui"
)

// calibrationSamples is how many provider calls tune the token estimator.
const calibrationSamples = 50

type app struct {
	settings *config.Config
	log      *logging.Logger
	agent    *agent.Agent
	store    store.Store
	out      *ui.Renderer

	closers []func() error
}

// close releases resources in reverse order of acquisition.
func (a *app) close() {
	for _, fn := range slices.Backward(a.closers) {
		if err := fn(); err != nil {
			a.log.Warn("shutdown", logging.Error(err))
		}
	}
	a.closers = nil
}

func (a *app) onClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

func wireApp(ctx context.Context, v *viper.Viper, stdout, stderr io.Writer) (*app, error) {
	logCfg := logging.ConfigFromEnv()
	if v.GetBool("debug") {
		logCfg = logCfg.WithDebugMode(true)
	}
	if level := v.GetString("log-level"); level != "" {
		logCfg = logCfg.WithLevel(logging.ParseLevel(level))
	}
	log, err := logging.New(logCfg)
	if err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}

	a := &app{log: log, out: ui.NewRenderer(stdout)}
	a.onClose(log.Close)

	if err := a.build(ctx, v, stderr); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) build(ctx context.Context, v *viper.Viper, stderr io.Writer) error {
	cfg, err := config.Load(v.GetString("config"))
	if err != nil {
		return err
	}
	if model := v.GetString("model"); model != "" {
		cfg.Provider.DefaultModel = model
	}
	a.settings = cfg
	log := a.log

	provider := secretsProvider(cfg)

	client, err := newLLMClient(ctx, cfg, provider, ui.NewSpinner(stderr), log)
	if err != nil {
		return err
	}

	manager := ctxmgr.NewManager(cfg.Context, log).WithCalibrator(ctxmgr.NewTokenCalibrator(calibrationSamples))
	fastModel := cfg.GetModel(config.TierFast)

	var summarizer *ctxmgr.Summarizer
	if cfg.Summarizer.Enabled {
		summarizer = ctxmgr.NewSummarizer(client, fastModel, cfg.Summarizer, log)
	}
	var classifier *agent.Classifier
	if cfg.Classifier.Enabled {
		classifier = agent.NewClassifier(client, fastModel, cfg.Classifier.MaxTokens, log)
	}

	st, db, err := openStore(ctx, cfg, provider)
	if err != nil {
		return err
	}
	a.store = st
	a.onClose(st.Close)

	gate, err := a.openGate(ctx, cfg, provider, db)
	if err != nil {
		return err
	}

	supervisor := toolserver.NewSupervisor(
		cfg.ToolServers,
		toolserver.NewFactory(provider, cfg.ResolvePath),
		toolserver.NewMCPConnector(Version, log),
		tools.NewRegistry(log),
		cfg.Agent.ToolTimeout,
		log,
	)
	a.onClose(func() error {
		supervisor.Close()
		return nil
	})

	a.agent = agent.New(agent.Config{
		LLM:        client,
		Tools:      supervisor,
		Store:      st,
		Gate:       gate,
		Settings:   cfg,
		Classifier: classifier,
		Context:    manager,
		Summarizer: summarizer,
		Log:        log,
	})
	return nil
}

// secretsProvider reads rotated credentials from the secrets directory
// first, then the values the process started with, then the environment.
func secretsProvider(cfg *config.Config) secrets.Provider {
	startup := secrets.NewMemoryStore(map[string]string{
		secrets.KeyAnthropicAPIKey:       cfg.APIKey,
		secrets.KeyAnthropicAccessToken:  cfg.AuthToken,
		secrets.KeyAnthropicRefreshToken: cfg.RefreshToken,
	})
	return secrets.NewChainStore(
		secrets.NewFileStore(cfg.Secrets.Dir),
		secrets.NewChainStore(startup, secrets.EnvStore{}),
	)
}

func newLLMClient(ctx context.Context, cfg *config.Config, provider secrets.Provider, spinner *ui.Spinner, log *logging.Logger) (llm.LLMClient, error) {
	creds := llm.Credentials{APIKey: cfg.APIKey}
	opts := []llm.RetryingOption{llm.WithWaitCallback(spinner.Wait)}

	if cfg.Provider.AuthMethod == config.AuthOAuth {
		token, err := secrets.Lookup(ctx, provider, secrets.KeyAnthropicAccessToken)
		if err != nil {
			return nil, fmt.Errorf("read access token: %w", err)
		}
		creds.AuthToken = token

		refresh, err := secrets.Lookup(ctx, provider, secrets.KeyAnthropicRefreshToken)
		if err != nil {
			return nil, fmt.Errorf("read refresh token: %w", err)
		}
		if refresh != "" {
			opts = append(opts, llm.WithRefresher(
				llm.NewOAuthRefresher(provider, log),
				func(accessToken string) llm.LLMClient {
					return llm.NewClient(cfg.Provider, llm.Credentials{AuthToken: accessToken}, log)
				},
			))
		}
	}

	if cfg.Retry.EnableRateLimiting {
		opts = append(opts, llm.WithTokenBucket(
			llm.NewTokenBucket(cfg.Retry.TokensPerMinute, spinner.Wait),
			llm.NewTokenEstimator(cfg.Context.CharsPerToken),
		))
	}

	return llm.NewRetryingClient(
		llm.NewClient(cfg.Provider, creds, log),
		llm.PolicyFromConfig(cfg.Retry, false),
		log,
		opts...,
	), nil
}

// openStore returns the configured store and, for MySQL, the pool so the
// approval store can share it.
func openStore(ctx context.Context, cfg *config.Config, provider secrets.Provider) (store.Store, *sql.DB, error) {
	switch cfg.Storage.Driver {
	case "", "memory":
		return store.NewMemoryStore(), nil, nil
	case "mysql":
		dsn, err := secrets.Lookup(ctx, provider, cfg.Storage.DSNSecret)
		if err != nil {
			return nil, nil, fmt.Errorf("read mysql dsn: %w", err)
		}
		db, err := store.OpenMySQL(ctx, dsn, cfg.Storage)
		if err != nil {
			return nil, nil, err
		}
		st := store.NewMySQLStore(db)
		if err := st.InitSchema(ctx); err != nil {
			_ = st.Close()
			return nil, nil, err
		}
		return st, db, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}

func (a *app) openGate(ctx context.Context, cfg *config.Config, provider secrets.Provider, db *sql.DB) (*approval.Gate, error) {
	var requests approval.Store
	switch cfg.Approvals.Store {
	case "", "memory":
		a.log.Debug("approval requests are kept in memory and lost on exit")
		requests = approval.NewMemoryStore()
	case "mysql":
		if db == nil {
			return nil, fmt.Errorf("approvals.store mysql requires storage.driver mysql")
		}
		ms := approval.NewMySQLStore(db)
		if err := ms.InitSchema(ctx); err != nil {
			return nil, err
		}
		requests = ms
	case "redis":
		password, err := secrets.Lookup(ctx, provider, cfg.Approvals.RedisPassword)
		if err != nil {
			return nil, fmt.Errorf("read redis password: %w", err)
		}
		rs, err := approval.NewRedisStore(ctx, approval.RedisConfig{
			Address:   cfg.Approvals.RedisAddr,
			Password:  password,
			DB:        cfg.Approvals.RedisDB,
			KeyPrefix: cfg.Approvals.RedisKeyPrefix,
		})
		if err != nil {
			return nil, err
		}
		a.onClose(rs.Close)
		requests = rs
	default:
		return nil, fmt.Errorf("unknown approval store %q", cfg.Approvals.Store)
	}

	var notifier approval.Notifier
	switch cfg.Approvals.Notifier {
	case "", "log":
	case "amqp":
		url, err := secrets.Lookup(ctx, provider, cfg.Approvals.AMQPURLSecret)
		if err != nil {
			return nil, fmt.Errorf("read amqp url: %w", err)
		}
		n, err := approval.NewAMQPNotifier(approval.AMQPConfig{URL: url, Queue: cfg.Approvals.AMQPQueue})
		if err != nil {
			return nil, err
		}
		a.onClose(n.Close)
		notifier = n
	default:
		return nil, fmt.Errorf("unknown approval notifier %q", cfg.Approvals.Notifier)
	}

	return approval.NewGate(requests, notifier, a.log), nil
}
