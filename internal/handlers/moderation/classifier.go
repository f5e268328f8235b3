package moderation

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/iamwavecut/antispambot/internal/activity"
	"github.com/iamwavecut/antispambot/internal/adapters"
	"github.com/iamwavecut/antispambot/internal/adapters/llm"
	"github.com/iamwavecut/antispambot/internal/errors"
	"github.com/iamwavecut/antispambot/internal/observability"
)

const DefaultClassificationTimeout = 15 * time.Second

// Message is the part of an incoming chat message moderation cares about.
type Message struct {
	ChatID      int64
	MessageID   int
	UserID      int64
	DisplayName string
	Text        string
}

// Classification is the validated model verdict for one message.
type Classification struct {
	IsSpam     bool
	SpamChance int
	Reason     string
	// Commentary is a short public warning, already free of user details.
	Commentary string
}

type Classifier struct {
	llm     adapters.LLM
	timeout time.Duration
	now     func() time.Time
}

func NewClassifier(model adapters.LLM, timeout time.Duration) *Classifier {
	if timeout <= 0 {
		timeout = DefaultClassificationTimeout
	}
	return &Classifier{
		llm:     model,
		timeout: timeout,
		now:     time.Now,
	}
}

// Classify asks the model for a verdict. Every failure, including a malformed
// answer, is reported as ErrClassificationUnavailable so the caller lets the
// message through.
func (c *Classifier) Classify(ctx context.Context, msg Message, rec activity.Record) (*Classification, error) {
	ctx, span := observability.Tracer().Start(ctx, "moderation.Classify")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("chat_id", msg.ChatID),
		attribute.Int64("user_id", msg.UserID),
		attribute.Int("message_count", rec.MessageCount),
	)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	observe := observability.StartClassification()
	prompt := BuildPrompt(msg, rec, c.now())
	resp, err := c.llm.ChatCompletion(ctx, []llm.ChatCompletionMessage{
		{Role: llm.RoleUser, Content: prompt},
	})
	if err != nil {
		observe("error")
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("%w: %w", errors.ErrClassificationUnavailable, err)
	}

	result, err := ParseClassification(resp.Text())
	if err != nil {
		observe("malformed")
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("%w: %w", errors.ErrClassificationUnavailable, err)
	}
	observe("ok")
	span.SetAttributes(
		attribute.Bool("is_spam", result.IsSpam),
		attribute.Int("spam_chance", result.SpamChance),
	)
	return result, nil
}
