package moderation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/iamwavecut/antispambot/internal/activity"
	"github.com/iamwavecut/antispambot/internal/bot"
	apperrors "github.com/iamwavecut/antispambot/internal/errors"
	"github.com/iamwavecut/antispambot/internal/observability"
	"github.com/iamwavecut/antispambot/internal/utils/text"
)

const DefaultWorkers = 16

type (
	ActivityRecorder interface {
		Record(chatID, userID int64) activity.Record
	}

	MessageClassifier interface {
		Classify(ctx context.Context, msg Message, rec activity.Record) (*Classification, error)
	}

	MemberChecker interface {
		IsAdmin(ctx context.Context, chatID, userID int64) (bool, error)
	}

	Dependencies struct {
		Platform   Platform
		Members    MemberChecker
		Classifier MessageClassifier
		Tracker    ActivityRecorder
		Tokens     TokenIssuer
		Policy     *Policy
	}
)

// SpamControl moderates group messages: it tracks activity inline and runs
// classification and enforcement on a bounded worker pool.
type SpamControl struct {
	members    MemberChecker
	classifier MessageClassifier
	tracker    ActivityRecorder
	policy     *Policy
	engine     *Engine
	workers    int

	mu         sync.Mutex
	started    bool
	runtimeCtx context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup

	dispatchMu sync.RWMutex
	group      *errgroup.Group
}

func NewSpamControl(deps Dependencies, engineCfg EngineConfig, workers int) *SpamControl {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	sc := &SpamControl{
		members:    deps.Members,
		classifier: deps.Classifier,
		tracker:    deps.Tracker,
		policy:     deps.Policy,
		workers:    workers,
	}
	sc.engine = NewEngine(deps.Platform, deps.Tokens, engineCfg, sc.scheduleAfter)
	return sc
}

func (sc *SpamControl) getLogEntry() *log.Entry {
	return log.WithField("object", "SpamControl")
}

func (sc *SpamControl) Policy() *Policy {
	return sc.policy
}

func (sc *SpamControl) Start(ctx context.Context) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.started {
		return nil
	}
	sc.runtimeCtx, sc.cancel = context.WithCancel(ctx)

	group := new(errgroup.Group)
	group.SetLimit(sc.workers)
	sc.dispatchMu.Lock()
	sc.group = group
	sc.dispatchMu.Unlock()

	sc.started = true
	return nil
}

// Stop cancels pending report deletions and waits for in-flight moderation.
func (sc *SpamControl) Stop(ctx context.Context) error {
	sc.mu.Lock()
	if !sc.started {
		sc.mu.Unlock()
		return nil
	}
	sc.started = false
	cancel := sc.cancel
	sc.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	sc.dispatchMu.Lock()
	group := sc.group
	sc.group = nil
	sc.dispatchMu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		if group != nil {
			_ = group.Wait()
		}
		sc.wg.Wait()
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// Handle implements bot.Handler.
func (sc *SpamControl) Handle(ctx context.Context, u *api.Update, chat *api.Chat, user *api.User) (bool, error) {
	if u == nil || u.Message == nil {
		return true, nil
	}
	sc.HandleMessage(ctx, u.Message)
	return true, nil
}

// HandleMessage filters the message, skips administrators, records the
// sender's activity and hands the rest to a worker. It reports whether the
// message was queued.
func (sc *SpamControl) HandleMessage(ctx context.Context, msg *api.Message) bool {
	content, ok := Moderatable(msg)
	if !ok {
		return false
	}
	target := Message{
		ChatID:      msg.Chat.ID,
		MessageID:   msg.MessageID,
		UserID:      msg.From.ID,
		DisplayName: bot.GetFullName(msg.From),
		Text:        content,
	}
	// Admins are never counted, so they do not churn the activity cache.
	if sc.isAdmin(ctx, target) {
		return false
	}
	// Counted before dispatch so two quick messages are never both "first".
	rec := sc.tracker.Record(target.ChatID, target.UserID)

	queued := sc.dispatch(func(runCtx context.Context) {
		if _, err := sc.moderate(runCtx, target, rec); err != nil {
			sc.getLogEntry().
				WithField("method", "HandleMessage").
				WithField("chat_id", target.ChatID).
				WithField("user_id", target.UserID).
				WithField("error", err.Error()).
				Debug("moderation finished with error")
		}
	})
	if !queued {
		sc.getLogEntry().WithField("method", "HandleMessage").Warn("moderation is not running, message skipped")
	}
	return queued
}

// Moderate classifies one message and enforces the policy. A nil outcome with
// a nil error means the message was let through.
func (sc *SpamControl) Moderate(ctx context.Context, target Message, rec activity.Record) (*Outcome, error) {
	if sc.isAdmin(ctx, target) {
		return nil, nil
	}
	return sc.moderate(ctx, target, rec)
}

// isAdmin reports whether the sender is a chat administrator. A failed lookup
// counts as a regular member.
func (sc *SpamControl) isAdmin(ctx context.Context, target Message) bool {
	if sc.members == nil {
		return false
	}
	isAdmin, err := sc.members.IsAdmin(ctx, target.ChatID, target.UserID)
	if err != nil {
		sc.getLogEntry().
			WithField("method", "isAdmin").
			WithField("chat_id", target.ChatID).
			WithField("user_id", target.UserID).
			WithField("error", err.Error()).
			Warn("failed to check admin status")
		return false
	}
	if isAdmin {
		observability.RecordModeration("admin")
	}
	return isAdmin
}

func (sc *SpamControl) moderate(ctx context.Context, target Message, rec activity.Record) (*Outcome, error) {
	entry := sc.getLogEntry().
		WithField("method", "Moderate").
		WithField("chat_id", target.ChatID).
		WithField("user_id", target.UserID)

	verdict, err := sc.classifier.Classify(ctx, target, rec)
	if err != nil {
		observability.RecordModeration("unavailable")
		if errors.Is(err, apperrors.ErrMalformedClassification) {
			entry.WithField("error", err.Error()).Warn("malformed classification, message passed")
		} else {
			entry.WithField("error", err.Error()).Warn("classification unavailable, message passed")
		}
		return nil, nil
	}

	policy := sc.policy.Snapshot()
	entry = entry.
		WithField("spam", verdict.IsSpam).
		WithField("chance", verdict.SpamChance).
		WithField("threshold", policy.Threshold)
	if !policy.Triggers(verdict) {
		observability.RecordModeration("clean")
		entry.Debug("message passed")
		return nil, nil
	}

	observability.RecordModeration("spam")
	entry.WithField("reason", verdict.Reason).Info("spam detected")
	return sc.engine.Enforce(ctx, target, verdict, policy.ActionLevel)
}

// Moderatable returns the text to classify, or false for messages that are
// never moderated: private chats, linked channel forwards, bots, anonymous
// admins and messages without text. Registered commands are consumed by the
// admin handler earlier, so any other slash text is still classified.
func Moderatable(msg *api.Message) (string, bool) {
	if msg == nil || msg.From == nil {
		return "", false
	}
	switch {
	case msg.Chat.IsPrivate():
		return "", false
	case msg.IsAutomaticForward:
		return "", false
	case msg.From.IsBot:
		return "", false
	case msg.SenderChat != nil && msg.SenderChat.ID == msg.Chat.ID:
		return "", false
	}
	content := msg.Text
	if content == "" {
		content = msg.Caption
	}
	content = text.Normalize(content)
	if strings.TrimSpace(content) == "" {
		return "", false
	}
	return content, true
}

func (sc *SpamControl) dispatch(task func(ctx context.Context)) bool {
	sc.dispatchMu.RLock()
	defer sc.dispatchMu.RUnlock()
	if sc.group == nil {
		return false
	}
	runCtx := sc.getRuntimeContext()
	sc.group.Go(func() error {
		task(runCtx)
		return nil
	})
	return true
}

func (sc *SpamControl) scheduleAfter(delay time.Duration, task func(ctx context.Context)) {
	runCtx := sc.getRuntimeContext()
	sc.wg.Add(1)
	go func() {
		defer sc.wg.Done()
		timer := time.NewTimer(delay)
		defer timer.Stop()

		select {
		case <-runCtx.Done():
			return
		case <-timer.C:
			task(runCtx)
		}
	}()
}

func (sc *SpamControl) getRuntimeContext() context.Context {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.runtimeCtx != nil {
		return sc.runtimeCtx
	}
	return context.Background()
}
