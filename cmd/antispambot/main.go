package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	log "github.com/sirupsen/logrus"

	"github.com/iamwavecut/antispambot/internal/activity"
	"github.com/iamwavecut/antispambot/internal/adapters"
	"github.com/iamwavecut/antispambot/internal/adapters/capjs"
	"github.com/iamwavecut/antispambot/internal/adapters/llm/gemini"
	"github.com/iamwavecut/antispambot/internal/adapters/llm/openai"
	"github.com/iamwavecut/antispambot/internal/adapters/llm/workersai"
	"github.com/iamwavecut/antispambot/internal/bot"
	"github.com/iamwavecut/antispambot/internal/config"
	"github.com/iamwavecut/antispambot/internal/handlers/admin"
	"github.com/iamwavecut/antispambot/internal/handlers/moderation"
	"github.com/iamwavecut/antispambot/internal/i18n"
	"github.com/iamwavecut/antispambot/internal/infra"
	"github.com/iamwavecut/antispambot/internal/infrastructure/telegram"
	"github.com/iamwavecut/antispambot/internal/lifecycle"
	"github.com/iamwavecut/antispambot/internal/observability"
	"github.com/iamwavecut/antispambot/internal/verification"
	"github.com/iamwavecut/antispambot/internal/web"
)

const (
	shutdownTimeout     = 30 * time.Second
	executableCheckTick = 5 * time.Second
)

func main() {
	log.SetFormatter(&config.NbFormatter{})
	log.SetOutput(os.Stdout)

	cfg, err := config.Load()
	if err != nil {
		log.WithField("error", err.Error()).Fatal("cant load config")
	}
	log.SetLevel(log.Level(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.WithField("error", err.Error()).Error("bot stopped")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config) error {
	entry := log.WithField("object", "main").WithField("method", "run")

	shutdownObservability, err := observability.Init(ctx)
	if err != nil {
		return fmt.Errorf("init observability: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownObservability(flushCtx); err != nil {
			entry.WithField("error", err.Error()).Warn("cant flush observability")
		}
	}()

	botAPI, err := api.NewBotAPI(cfg.TelegramAPIToken)
	if err != nil {
		return fmt.Errorf("init bot api: %w", err)
	}
	if log.Level(cfg.LogLevel) == log.TraceLevel {
		botAPI.Debug = true
	}
	entry.WithField("username", botAPI.Self.UserName).
		WithField("language", i18n.GetLanguageName(cfg.DefaultLanguage)).
		Info("authorized")

	model, closeModel, err := newLLM(ctx, cfg)
	if err != nil {
		return fmt.Errorf("init llm: %w", err)
	}
	defer closeModel()

	policy, err := moderation.NewPolicy(moderation.ActionLevel(cfg.Moderation.ActionLevel), cfg.Moderation.SpamChanceThreshold)
	if err != nil {
		return err
	}

	service := bot.NewService(botAPI, bot.DefaultMemberCacheTTL, log.WithField("object", "BotService"))
	operations := telegram.NewOperations(botAPI)
	store := verification.NewStore(cfg.Challenge.MaxPending, cfg.Challenge.TokenTTL)

	spamControl := moderation.NewSpamControl(moderation.Dependencies{
		Platform:   operations,
		Members:    service,
		Classifier: moderation.NewClassifier(model, cfg.LLM.Timeout),
		Tracker:    activity.NewTracker(cfg.Moderation.ActivityMaxUsers, cfg.Moderation.ActivityTTL),
		Tokens:     store,
		Policy:     policy,
	}, moderation.EngineConfig{
		Language:          cfg.DefaultLanguage,
		ChallengeRequired: cfg.Challenge.Enabled,
		VerificationTTL:   cfg.Challenge.TokenTTL,
		ReportTTL:         cfg.Moderation.ReportTTL,
		VerifyURL:         cfg.VerifyURL,
	}, cfg.Moderation.Workers)

	verifier := capjs.NewVerifier(&http.Client{}, cfg.Challenge.APIEndpoint, cfg.Challenge.AttemptTimeout, cfg.Challenge.TotalTimeout)
	server := web.NewServer(web.Config{
		Port:             cfg.Web.Port,
		Language:         cfg.DefaultLanguage,
		ChallengeEnabled: cfg.Challenge.Enabled,
		CapEndpoint:      cfg.Challenge.APIEndpoint,
		ChallengeTimeout: cfg.Challenge.TotalTimeout,
		MetricsEnabled:   cfg.MetricsEnabled,
	}, store, verifier, operations, observability.Logger)

	runtime := lifecycle.NewRuntime().
		Register("spam_control", spamControl).
		Register("web", server)
	if err := runtime.Start(ctx); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := runtime.Stop(stopCtx); err != nil {
			entry.WithField("error", err.Error()).Warn("unclean shutdown")
		}
	}()

	processor := bot.NewUpdateProcessor(
		admin.NewAdmin(service, operations, policy, botAPI.Self.ID, cfg.DefaultLanguage, cfg.Moderation.ReportTTL),
		spamControl,
	)

	pollCtx, cancelPoll := context.WithCancel(ctx)
	defer cancelPoll()
	updateConfig := api.NewUpdate(0)
	updateConfig.Timeout = 60
	updateConfig.AllowedUpdates = []string{"message"}
	updates, updateErrs := bot.GetUpdatesChans(pollCtx, botAPI, updateConfig)

	drained := make(chan struct{})
	var drainOnce sync.Once
	go infra.GoRecoverable(-1, "process_updates", func() {
		for update := range updates {
			if err := processor.Process(pollCtx, &update); err != nil {
				log.WithField("error", err.Error()).Error("cant process update")
			}
		}
		drainOnce.Do(func() { close(drained) })
	})

	select {
	case <-ctx.Done():
		entry.Info("shutting down")
	case err := <-updateErrs:
		if err != nil {
			entry.WithField("error", err.Error()).Warn("updates stopped")
		}
	case <-infra.MonitorExecutable(ctx, executableCheckTick):
		entry.Warn("executable file was modified, restarting")
	}

	cancelPoll()
	select {
	case <-drained:
	case <-time.After(shutdownTimeout):
		entry.Warn("update processing did not drain in time")
	}
	return nil
}

func newLLM(ctx context.Context, cfg config.Config) (adapters.LLM, func(), error) {
	logger := log.WithField("object", "LLM").WithField("type", cfg.LLM.Type)
	switch cfg.LLM.Type {
	case config.LLMTypeOpenAI:
		return openai.NewOpenAI(cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLM.BaseURL, logger), func() {}, nil
	case config.LLMTypeGemini:
		model, err := gemini.NewGemini(ctx, cfg.LLM.APIKey, cfg.LLM.Model, logger)
		if err != nil {
			return nil, nil, err
		}
		return model, func() { _ = model.Close() }, nil
	default:
		baseURL := cfg.LLM.BaseURL
		if baseURL == "" {
			baseURL = workersai.GatewayBaseURL(cfg.Cloudflare.AccountID, cfg.Cloudflare.GatewayName)
		}
		client := &http.Client{Timeout: cfg.LLM.Timeout}
		return workersai.NewWorkersAI(client, baseURL, cfg.Cloudflare.APIToken, cfg.LLM.Model, logger), func() {}, nil
	}
}
