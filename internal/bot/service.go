package bot

import (
	"context"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/iamwavecut/antispambot/internal/policy/permissions"
)

const (
	memberCacheSize       = 4096
	DefaultMemberCacheTTL = time.Minute
)

type memberKey struct {
	chatID int64
	userID int64
}

type service struct {
	bot         *api.BotAPI
	members     *expirable.LRU[memberKey, api.ChatMember]
	fetchMember func(chatID, userID int64) (api.ChatMember, error)
	logger      *log.Entry
}

// NewService wraps the bot API. Chat member lookups are cached for
// memberCacheTTL because moderation asks about every message sender.
func NewService(bot *api.BotAPI, memberCacheTTL time.Duration, logger *log.Entry) *service {
	s := &service{
		bot:     bot,
		members: expirable.NewLRU[memberKey, api.ChatMember](memberCacheSize, nil, memberCacheTTL),
		logger:  logger,
	}
	s.fetchMember = func(chatID, userID int64) (api.ChatMember, error) {
		return s.bot.GetChatMember(api.GetChatMemberConfig{
			ChatConfigWithUser: api.ChatConfigWithUser{
				ChatConfig: api.ChatConfig{ChatID: chatID},
				UserID:     userID,
			},
		})
	}
	return s
}

func (s *service) GetBot() *api.BotAPI {
	return s.bot
}

func (s *service) GetChatMember(ctx context.Context, chatID, userID int64) (api.ChatMember, error) {
	if err := ctx.Err(); err != nil {
		return api.ChatMember{}, err
	}
	key := memberKey{chatID: chatID, userID: userID}
	if member, ok := s.members.Get(key); ok {
		return member, nil
	}
	member, err := s.fetchMember(chatID, userID)
	if err != nil {
		return api.ChatMember{}, errors.WithMessage(err, "cant get chat member")
	}
	s.members.Add(key, member)
	return member, nil
}

func (s *service) IsAdmin(ctx context.Context, chatID, userID int64) (bool, error) {
	member, err := s.GetChatMember(ctx, chatID, userID)
	if err != nil {
		return false, err
	}
	return permissions.IsAdmin(&member), nil
}
