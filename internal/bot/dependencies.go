package bot

import (
	"context"

	api "github.com/OvyFlash/telegram-bot-api"
)

// ServiceBot defines bot-specific operations
type ServiceBot interface {
	GetBot() *api.BotAPI
}

// Service defines the core bot service interface
type Service interface {
	ServiceBot
	GetChatMember(ctx context.Context, chatID, userID int64) (api.ChatMember, error)
	IsAdmin(ctx context.Context, chatID, userID int64) (bool, error)
}

// Handler defines the interface for all update handlers in the system
type Handler interface {
	Handle(ctx context.Context, u *api.Update, chat *api.Chat, user *api.User) (proceed bool, err error)
}

// UpdatesGetter is the long polling part of *api.BotAPI.
type UpdatesGetter interface {
	GetUpdates(config api.UpdateConfig) ([]api.Update, error)
}
