package moderation

import (
	"context"
	"fmt"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/iamwavecut/antispambot/internal/errors"
	"github.com/iamwavecut/antispambot/internal/i18n"
	"github.com/iamwavecut/antispambot/internal/observability"
	"github.com/iamwavecut/antispambot/internal/verification"
	"github.com/iamwavecut/tool"
)

const DefaultReportTTL = 5 * time.Minute

// LinkButton is an inline URL button attached to a report.
type LinkButton struct {
	Text string
	URL  string
}

// Platform is the set of chat operations enforcement needs.
type Platform interface {
	DeleteMessage(ctx context.Context, chatID int64, messageID int) error
	// RestrictMember revokes sending rights until the given time; a zero time
	// means forever.
	RestrictMember(ctx context.Context, chatID, userID int64, until time.Time) error
	BanMember(ctx context.Context, chatID, userID int64) error
	SendReport(ctx context.Context, chatID int64, html string, button *LinkButton) (int, error)
}

type TokenIssuer interface {
	Issue(chatID, userID int64, username string, challengeRequired bool) (verification.Request, error)
}

// Scheduler runs task after delay unless the owner shuts down first.
type Scheduler func(delay time.Duration, task func(ctx context.Context))

type EngineConfig struct {
	Language          string
	ChallengeRequired bool
	VerificationTTL   time.Duration
	ReportTTL         time.Duration
	VerifyURL         func(token string) string
}

// Outcome lists what enforcement managed to do.
type Outcome struct {
	Level           ActionLevel
	Deleted         bool
	Restricted      bool
	Banned          bool
	Token           string
	ReportMessageID int
}

type Engine struct {
	platform Platform
	tokens   TokenIssuer
	cfg      EngineConfig
	schedule Scheduler
	now      func() time.Time
}

func NewEngine(platform Platform, tokens TokenIssuer, cfg EngineConfig, schedule Scheduler) *Engine {
	if cfg.ReportTTL <= 0 {
		cfg.ReportTTL = DefaultReportTTL
	}
	return &Engine{
		platform: platform,
		tokens:   tokens,
		cfg:      cfg,
		schedule: schedule,
		now:      time.Now,
	}
}

func (e *Engine) getLogEntry() *log.Entry {
	return log.WithField("object", "EnforcementEngine")
}

// Enforce deletes the offending message and applies the action level. When
// the deletion fails nothing else is attempted.
func (e *Engine) Enforce(ctx context.Context, target Message, verdict *Classification, level ActionLevel) (*Outcome, error) {
	ctx, span := observability.Tracer().Start(ctx, "moderation.Enforce")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("chat_id", target.ChatID),
		attribute.Int64("user_id", target.UserID),
		attribute.Int("level", int(level)),
	)

	entry := e.getLogEntry().
		WithField("method", "Enforce").
		WithField("chat_id", target.ChatID).
		WithField("user_id", target.UserID).
		WithField("level", int(level))

	outcome, err := e.enforce(ctx, entry, target, verdict, level)
	status := "ok"
	if err != nil {
		status = "failed"
		span.SetStatus(codes.Error, err.Error())
		entry.WithField("error", err.Error()).Error("enforcement failed")
	}
	observability.RecordEnforcement(level.String(), status)
	return outcome, err
}

func (e *Engine) enforce(ctx context.Context, entry *log.Entry, target Message, verdict *Classification, level ActionLevel) (*Outcome, error) {
	outcome := &Outcome{Level: level}
	if !level.Valid() {
		return outcome, fmt.Errorf("%w: unknown action level %d", errors.ErrEnforcementFailed, level)
	}

	if err := e.platform.DeleteMessage(ctx, target.ChatID, target.MessageID); err != nil {
		return outcome, fmt.Errorf("%w: delete message: %w", errors.ErrEnforcementFailed, err)
	}
	outcome.Deleted = true

	var (
		text   string
		button *LinkButton
	)
	switch level {
	case ActionChallenge:
		if err := e.platform.RestrictMember(ctx, target.ChatID, target.UserID, e.challengeDeadline()); err != nil {
			return outcome, fmt.Errorf("%w: restrict member: %w", errors.ErrEnforcementFailed, err)
		}
		outcome.Restricted = true

		req, err := e.tokens.Issue(target.ChatID, target.UserID, target.DisplayName, e.cfg.ChallengeRequired)
		if err != nil {
			return outcome, fmt.Errorf("%w: issue token: %w", errors.ErrEnforcementFailed, err)
		}
		outcome.Token = req.Token
		text = e.reportText(i18n.Get("🚨 <b>System warning</b> 🚨\nA message from {{ .mention }} (spam chance: {{ .chance }}%) was flagged as advertising.\n\n<b>The user has been muted temporarily to avoid a false positive.</b>\nSolve the challenge behind the button below to lift the restriction.", e.cfg.Language), target, verdict)
		button = &LinkButton{
			Text: i18n.Get("➡️ Tap here to verify ⬅️", e.cfg.Language),
			URL:  e.cfg.VerifyURL(req.Token),
		}

	case ActionRestrict:
		if err := e.platform.RestrictMember(ctx, target.ChatID, target.UserID, time.Time{}); err != nil {
			return outcome, fmt.Errorf("%w: restrict member: %w", errors.ErrEnforcementFailed, err)
		}
		outcome.Restricted = true
		text = e.reportText(i18n.Get("🚨 <b>Advertising handled</b> 🚨\nUser {{ .mention }} (spam chance: {{ .chance }}%) has been <b>muted permanently</b>.", e.cfg.Language), target, verdict)

	case ActionBan:
		if err := e.platform.BanMember(ctx, target.ChatID, target.UserID); err != nil {
			return outcome, fmt.Errorf("%w: ban member: %w", errors.ErrEnforcementFailed, err)
		}
		outcome.Banned = true
		text = e.reportText(i18n.Get("🚨 <b>Advertising handled</b> 🚨\nUser {{ .mention }} (spam chance: {{ .chance }}%) has been <b>muted permanently and removed</b>.", e.cfg.Language), target, verdict)
	}

	reportID, err := e.platform.SendReport(ctx, target.ChatID, text, button)
	if err != nil {
		return outcome, fmt.Errorf("%w: send report: %w", errors.ErrEnforcementFailed, err)
	}
	outcome.ReportMessageID = reportID
	entry.WithField("report_id", reportID).Info("spam handled")

	chatID := target.ChatID
	e.schedule(e.cfg.ReportTTL, func(ctx context.Context) {
		if err := e.platform.DeleteMessage(ctx, chatID, reportID); err != nil {
			entry.WithField("error", err.Error()).Warn("failed to delete report")
		}
	})
	return outcome, nil
}

// A pending challenge never outlives its token, so the restriction expires
// together with it.
func (e *Engine) challengeDeadline() time.Time {
	if e.cfg.VerificationTTL <= 0 {
		return time.Time{}
	}
	return e.now().Add(e.cfg.VerificationTTL)
}

func (e *Engine) reportText(template string, target Message, verdict *Classification) string {
	text := tool.ExecTemplate(template, map[string]any{
		"mention": Mention(target.UserID, target.DisplayName),
		"chance":  verdict.SpamChance,
	})
	if verdict.Commentary != "" {
		text += "\n\n💬 <i>" + api.EscapeText(api.ModeHTML, verdict.Commentary) + "</i>"
	}
	return text
}

// Mention renders a clickable HTML mention that does not rely on a username.
func Mention(userID int64, name string) string {
	if name == "" {
		name = fmt.Sprintf("%d", userID)
	}
	return fmt.Sprintf(`<a href="tg://user?id=%d">%s</a>`, userID, api.EscapeText(api.ModeHTML, name))
}
