package bot

import (
	"context"
	"strings"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const (
	UpdateTimeout = 5 * time.Minute

	updatesBuffer = 100
)

type UpdateProcessor struct {
	updateHandlers []Handler
	now            func() time.Time
}

// NewUpdateProcessor runs handlers in the given order until one of them
// declines to proceed.
func NewUpdateProcessor(handlers ...Handler) *UpdateProcessor {
	return &UpdateProcessor{
		updateHandlers: handlers,
		now:            time.Now,
	}
}

func (up *UpdateProcessor) Process(ctx context.Context, u *api.Update) error {
	if u == nil {
		return errors.New("update is nil")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var updateTime time.Time
	switch {
	case u.Message != nil:
		updateTime = time.Unix(int64(u.Message.Date), 0)
	case u.EditedMessage != nil:
		updateTime = time.Unix(int64(u.EditedMessage.Date), 0)
	default:
		updateTime = up.now()
	}
	if age := up.now().Sub(updateTime); age > UpdateTimeout {
		log.WithFields(log.Fields{
			"update_time": updateTime,
			"age":         age,
		}).Debug("skipping outdated update")
		return nil
	}

	chat := u.FromChat()
	user := u.SentFrom()

	for _, handler := range up.updateHandlers {
		if handler == nil {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		proceed, err := handler.Handle(ctx, u, chat, user)
		if err != nil {
			return errors.WithMessage(err, "handling error")
		}
		if !proceed {
			log.Trace("not proceeding")
			return nil
		}
	}
	return nil
}

// GetUpdatesChans long-polls for updates. Transport errors are retried with
// exponential backoff; the error channel only reports the context ending.
func GetUpdatesChans(ctx context.Context, bot UpdatesGetter, config api.UpdateConfig) (api.UpdatesChannel, chan error) {
	ch := make(chan api.Update, updatesBuffer)
	chErr := make(chan error, 1)

	go func() {
		defer close(ch)
		defer close(chErr)

		policy := backoff.NewExponentialBackOff()
		policy.MaxElapsedTime = 0
		policy.MaxInterval = time.Minute
		retry := backoff.WithContext(policy, ctx)

		for {
			if err := ctx.Err(); err != nil {
				chErr <- err
				return
			}
			var updates []api.Update
			err := backoff.RetryNotify(func() error {
				var err error
				updates, err = bot.GetUpdates(config)
				return err
			}, retry, func(err error, next time.Duration) {
				log.WithField("error", err.Error()).WithField("retry_in", next.String()).Warn("failed to get updates")
			})
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					err = ctxErr
				}
				chErr <- err
				return
			}

			for _, update := range updates {
				if update.UpdateID < config.Offset {
					continue
				}
				config.Offset = update.UpdateID + 1
				select {
				case ch <- update:
				case <-ctx.Done():
					chErr <- ctx.Err()
					return
				}
			}
		}
	}()

	return ch, chErr
}

func GetUN(user *api.User) string {
	if user == nil {
		return ""
	}
	userName := user.UserName
	if len(userName) == 0 {
		userName = strings.TrimSpace(user.FirstName + " " + user.LastName)
	}
	return userName
}

func GetFullName(user *api.User) string {
	if user == nil {
		return ""
	}
	fullName := strings.TrimSpace(user.FirstName + " " + user.LastName)
	if len(fullName) == 0 {
		fullName = user.UserName
	}
	return fullName
}
