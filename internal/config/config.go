package config

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sethvargo/go-envconfig"
	log "github.com/sirupsen/logrus"

	"github.com/iamwavecut/antispambot/internal/errors"
	"github.com/iamwavecut/antispambot/internal/i18n"
)

const (
	LLMTypeWorkersAI = "workersai"
	LLMTypeOpenAI    = "openai"
	LLMTypeGemini    = "gemini"

	// MaxChallengeTotalTimeout keeps CAP checks inside the web server's write timeout.
	MaxChallengeTotalTimeout = 25 * time.Second
)

type (
	Config struct {
		TelegramAPIToken string `env:"BOT_TOKEN,required"`
		DefaultLanguage  string `env:"BOT_LANGUAGE,default=zh"`
		LogLevel         int    `env:"LOG_LEVEL,default=4"`
		MetricsEnabled   bool   `env:"METRICS_ENABLED,default=true"`
		LLM              LLM
		Cloudflare       Cloudflare
		Web              Web
		Challenge        Challenge
		Moderation       Moderation
	}

	LLM struct {
		Type    string        `env:"LLM_API_TYPE,default=workersai"`
		Model   string        `env:"LLM_API_MODEL,default=@cf/meta/llama-3-8b-instruct"`
		APIKey  string        `env:"LLM_API_KEY"`
		BaseURL string        `env:"LLM_API_URL"`
		Timeout time.Duration `env:"LLM_TIMEOUT,default=15s"`
	}

	// Cloudflare holds the AI Gateway coordinates used by the workersai backend.
	Cloudflare struct {
		APIToken    string `env:"CLOUDFLARE_API_TOKEN"`
		AccountID   string `env:"CLOUDFLARE_ACCOUNT_ID"`
		GatewayName string `env:"CLOUDFLARE_GATEWAY_NAME"`
	}

	Web struct {
		Port          int    `env:"WEB_SERVER_PORT,required"`
		WebsiteDomain string `env:"WEBSITE_DOMAIN,required"`
	}

	Challenge struct {
		Enabled        bool          `env:"ENABLE_CAP_VERIFICATION,default=true"`
		APIEndpoint    string        `env:"CAP_API_ENDPOINT,default=https://captcha.api.968111.xyz/api/"`
		AttemptTimeout time.Duration `env:"CAP_ATTEMPT_TIMEOUT,default=5s"`
		TotalTimeout   time.Duration `env:"CAP_TOTAL_TIMEOUT,default=20s"`
		TokenTTL       time.Duration `env:"VERIFICATION_TTL,default=24h"`
		MaxPending     int           `env:"VERIFICATION_MAX_PENDING,default=10000"`
	}

	Moderation struct {
		ActionLevel         int           `env:"ACTION_LEVEL,default=1"`
		SpamChanceThreshold int           `env:"SPAM_CHANCE_THRESHOLD,default=75"`
		ReportTTL           time.Duration `env:"REPORT_TTL,default=5m"`
		ActivityTTL         time.Duration `env:"ACTIVITY_TTL,default=720h"`
		ActivityMaxUsers    int           `env:"ACTIVITY_MAX_USERS,default=100000"`
		Workers             int           `env:"MODERATION_WORKERS,default=16"`
	}
)

var (
	once         sync.Once
	globalConfig = &Config{}
	globalErr    error
)

// Load reads the process environment once and caches the result.
func Load() (Config, error) {
	once.Do(func() {
		cfg, err := LoadWith(context.Background(), envconfig.OsLookuper())
		if err != nil {
			globalErr = err
			return
		}
		log.Traceln("loaded config")
		globalConfig = &cfg
	})
	return *globalConfig, globalErr
}

func Get() Config {
	cfg, err := Load()
	if err != nil {
		log.WithField("error", err.Error()).Error("cant load config")
	}
	return cfg
}

// LoadWith processes and validates the config from an arbitrary lookuper.
func LoadWith(ctx context.Context, lookuper envconfig.Lookuper) (Config, error) {
	cfg := Config{}
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookuper,
	}); err != nil {
		return Config{}, fmt.Errorf("%w: process env config: %w", errors.ErrConfigMissing, err)
	}
	cfg.Web.WebsiteDomain = strings.TrimRight(cfg.Web.WebsiteDomain, "/")
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var missing []string
	switch c.LLM.Type {
	case LLMTypeWorkersAI:
		if c.Cloudflare.APIToken == "" {
			missing = append(missing, "CLOUDFLARE_API_TOKEN")
		}
		if c.Cloudflare.AccountID == "" {
			missing = append(missing, "CLOUDFLARE_ACCOUNT_ID")
		}
		if c.Cloudflare.GatewayName == "" {
			missing = append(missing, "CLOUDFLARE_GATEWAY_NAME")
		}
	case LLMTypeOpenAI, LLMTypeGemini:
		if c.LLM.APIKey == "" {
			missing = append(missing, "LLM_API_KEY")
		}
	default:
		return fmt.Errorf("%w: unsupported LLM_API_TYPE %q", errors.ErrConfigMissing, c.LLM.Type)
	}
	if c.Challenge.Enabled && c.Challenge.APIEndpoint == "" {
		missing = append(missing, "CAP_API_ENDPOINT")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", errors.ErrConfigMissing, strings.Join(missing, ", "))
	}

	if !i18n.IsSupported(c.DefaultLanguage) {
		return fmt.Errorf("%w: BOT_LANGUAGE must be one of %s", errors.ErrInvalidInput, strings.Join(i18n.GetLanguagesList(), ", "))
	}
	if c.Challenge.Enabled && (c.Challenge.TotalTimeout <= 0 || c.Challenge.TotalTimeout > MaxChallengeTotalTimeout) {
		return fmt.Errorf("%w: CAP_TOTAL_TIMEOUT must be within (0, %s]", errors.ErrInvalidInput, MaxChallengeTotalTimeout)
	}
	if c.Moderation.ActionLevel < 1 || c.Moderation.ActionLevel > 3 {
		return fmt.Errorf("%w: ACTION_LEVEL must be 1, 2 or 3", errors.ErrInvalidInput)
	}
	if c.Moderation.SpamChanceThreshold < 0 || c.Moderation.SpamChanceThreshold > 100 {
		return fmt.Errorf("%w: SPAM_CHANCE_THRESHOLD must be within 0..100", errors.ErrInvalidInput)
	}
	return nil
}

// VerifyURL is the public link a restricted user follows to pass the challenge.
func (c Config) VerifyURL(token string) string {
	return c.Web.WebsiteDomain + "/verify/" + token
}
