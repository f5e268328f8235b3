package telegram

import (
	"context"
	"fmt"
	"strings"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"

	"github.com/iamwavecut/antispambot/internal/handlers/moderation"
)

const msgNoPrivileges = "not enough rights"

// ErrNoPrivileges is returned when the bot lacks the admin right for a call.
var ErrNoPrivileges = fmt.Errorf("no privileges")

// Requester is the part of *api.BotAPI the operations use.
type Requester interface {
	Request(c api.Chattable) (*api.APIResponse, error)
	Send(c api.Chattable) (api.Message, error)
}

// Operations performs chat moderation calls against the Bot API.
type Operations struct {
	bot Requester
}

func NewOperations(bot Requester) *Operations {
	return &Operations{bot: bot}
}

// DeleteMessage deletes a message from a chat
func (o *Operations) DeleteMessage(ctx context.Context, chatID int64, messageID int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := o.bot.Request(api.NewDeleteMessage(chatID, messageID)); err != nil {
		return withPrivilegeError(err, "delete message")
	}
	return nil
}

// RestrictMember takes away every sending right. A zero until restricts forever.
func (o *Operations) RestrictMember(ctx context.Context, chatID, userID int64, until time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	config := api.RestrictChatMemberConfig{
		ChatMemberConfig: api.ChatMemberConfig{
			ChatConfig: api.ChatConfig{ChatID: chatID},
			UserID:     userID,
		},
		Permissions:                   sendPermissions(false),
		UseIndependentChatPermissions: true,
	}
	if !until.IsZero() {
		config.UntilDate = until.Unix()
	}
	if _, err := o.bot.Request(config); err != nil {
		return withPrivilegeError(err, "restrict member")
	}
	return nil
}

// UnrestrictMember gives the sending rights back.
func (o *Operations) UnrestrictMember(ctx context.Context, chatID, userID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	config := api.RestrictChatMemberConfig{
		ChatMemberConfig: api.ChatMemberConfig{
			ChatConfig: api.ChatConfig{ChatID: chatID},
			UserID:     userID,
		},
		Permissions:                   sendPermissions(true),
		UseIndependentChatPermissions: true,
	}
	if _, err := o.bot.Request(config); err != nil {
		return withPrivilegeError(err, "unrestrict member")
	}
	return nil
}

// BanMember bans the user permanently, which also removes them from the chat.
func (o *Operations) BanMember(ctx context.Context, chatID, userID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	config := api.BanChatMemberConfig{
		ChatMemberConfig: api.ChatMemberConfig{
			ChatConfig: api.ChatConfig{ChatID: chatID},
			UserID:     userID,
		},
	}
	if _, err := o.bot.Request(config); err != nil {
		return withPrivilegeError(err, "ban member")
	}
	return nil
}

// SendReport posts an HTML notice, optionally with a single URL button.
func (o *Operations) SendReport(ctx context.Context, chatID int64, html string, button *moderation.LinkButton) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	msg := api.NewMessage(chatID, html)
	msg.ParseMode = api.ModeHTML
	msg.DisableNotification = true
	msg.LinkPreviewOptions.IsDisabled = true
	if button != nil {
		markup := api.NewInlineKeyboardMarkup(
			api.NewInlineKeyboardRow(api.NewInlineKeyboardButtonURL(button.Text, button.URL)),
		)
		msg.ReplyMarkup = markup
	}
	sent, err := o.bot.Send(msg)
	if err != nil {
		return 0, fmt.Errorf("failed to send report: %w", err)
	}
	return sent.MessageID, nil
}

// Reply sends a plain or HTML reply to a message.
func (o *Operations) Reply(ctx context.Context, to *api.Message, text string, html bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := api.NewMessage(to.Chat.ID, text)
	msg.ReplyParameters = api.ReplyParameters{
		ChatID:                   to.Chat.ID,
		MessageID:                to.MessageID,
		AllowSendingWithoutReply: true,
	}
	if html {
		msg.ParseMode = api.ModeHTML
	}
	msg.LinkPreviewOptions.IsDisabled = true
	if _, err := o.bot.Send(msg); err != nil {
		return fmt.Errorf("failed to reply: %w", err)
	}
	return nil
}

func sendPermissions(allowed bool) *api.ChatPermissions {
	return &api.ChatPermissions{
		CanSendMessages:       allowed,
		CanSendAudios:         allowed,
		CanSendDocuments:      allowed,
		CanSendPhotos:         allowed,
		CanSendVideos:         allowed,
		CanSendVideoNotes:     allowed,
		CanSendVoiceNotes:     allowed,
		CanSendPolls:          allowed,
		CanSendOtherMessages:  allowed,
		CanAddWebPagePreviews: allowed,
		CanInviteUsers:        allowed,
	}
}

func withPrivilegeError(err error, operation string) error {
	if strings.Contains(err.Error(), msgNoPrivileges) || strings.Contains(err.Error(), "CHAT_ADMIN_REQUIRED") {
		return fmt.Errorf("failed to %s: %w: %w", operation, ErrNoPrivileges, err)
	}
	return fmt.Errorf("failed to %s: %w", operation, err)
}
