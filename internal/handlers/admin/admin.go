package admin

import (
	"context"
	"strconv"
	"strings"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	"github.com/iamwavecut/tool"
	log "github.com/sirupsen/logrus"

	"github.com/iamwavecut/antispambot/internal/handlers/moderation"
	"github.com/iamwavecut/antispambot/internal/i18n"
	"github.com/iamwavecut/antispambot/internal/policy/permissions"
)

// Members resolves chat membership, usually through the cached bot service.
type Members interface {
	GetChatMember(ctx context.Context, chatID, userID int64) (api.ChatMember, error)
	IsAdmin(ctx context.Context, chatID, userID int64) (bool, error)
}

// Replier answers a command message.
type Replier interface {
	Reply(ctx context.Context, to *api.Message, text string, html bool) error
}

// Admin serves the bot commands that inspect and change the moderation policy.
type Admin struct {
	members   Members
	replier   Replier
	policy    *moderation.Policy
	botID     int64
	language  string
	reportTTL time.Duration
}

func NewAdmin(members Members, replier Replier, policy *moderation.Policy, botID int64, language string, reportTTL time.Duration) *Admin {
	entry := log.WithField("object", "Admin").WithField("method", "NewAdmin")
	a := &Admin{
		members:   members,
		replier:   replier,
		policy:    policy,
		botID:     botID,
		language:  language,
		reportTTL: reportTTL,
	}
	entry.Debug("created new admin handler")
	return a
}

// Handle consumes the known commands and lets everything else through.
func (a *Admin) Handle(ctx context.Context, u *api.Update, chat *api.Chat, user *api.User) (proceed bool, err error) {
	entry := a.getLogEntry().WithField("method", "Handle")
	if u == nil || u.Message == nil || chat == nil || !u.Message.IsCommand() {
		return true, nil
	}
	msg := u.Message

	entry.Debugf("processing command: %s", msg.Command())
	switch msg.Command() {
	case "start":
		return false, a.handleStart(ctx, msg)
	case "help":
		return false, a.handleHelp(ctx, msg)
	case "setaction":
		return false, a.handleSetAction(ctx, msg)
	case "setthreshold":
		return false, a.handleSetThreshold(ctx, msg)
	default:
		return true, nil
	}
}

func (a *Admin) handleStart(ctx context.Context, msg *api.Message) error {
	entry := a.getLogEntry().WithField("method", "handleStart")
	text := i18n.Get("Hello! The anti-spam bot is running. Make sure I am an administrator of this group with the rights to delete messages and ban users.", a.language)

	if !msg.Chat.IsPrivate() {
		member, err := a.members.GetChatMember(ctx, msg.Chat.ID, a.botID)
		switch {
		case err != nil:
			entry.WithField("error", err.Error()).Warn("can't check own rights")
		case !permissions.CanEnforce(&member):
			text += "\n\n" + i18n.Get("⚠️ I am missing the rights to delete messages or restrict members here, so spam can't be handled yet.", a.language)
		}
	}
	return a.replier.Reply(ctx, msg, text, false)
}

func (a *Admin) handleHelp(ctx context.Context, msg *api.Message) error {
	entry := a.getLogEntry().WithField("method", "handleHelp")
	if !msg.Chat.IsPrivate() {
		isAdmin, err := a.isSenderAdmin(ctx, msg)
		if err != nil {
			return err
		}
		if !isAdmin {
			entry.Debug("user is not admin, ignoring command")
			return nil
		}
	}

	cfg := a.policy.Snapshot()
	text := tool.ExecTemplate(i18n.Get("⚙️ <b>Anti-spam bot admin help</b> ⚙️\n\n<b>Current settings:</b>\n• <b>Action level:</b> {{ .level }}\n• <b>Trigger threshold:</b> {{ .threshold }}%\n\n<b>Features:</b>\n• Messages from admins, anonymous admins, other bots and linked channels are <b>ignored</b>.\n• Suspects are challenged or banned depending on the action level.\n• Reports are deleted automatically after <b>{{ .report_ttl }}</b>.\n\n<b>Commands (admins only):</b>\n/setaction <code>[level]</code> - choose what happens to detected spam.\n  • <code>1</code>: delete + <b>math challenge</b>.\n  • <code>2</code>: delete + <b>permanent mute</b> (no challenge).\n  • <code>3</code>: delete + <b>permanent mute and removal</b> (no challenge).\n\n/setthreshold <code>[0-100]</code> - spam chance that triggers an action.\n  • <b>Example:</b> <code>/setthreshold 80</code>\n\n/help - show this help.", a.language), map[string]any{
		"level":      cfg.ActionLevel,
		"threshold":  cfg.Threshold,
		"report_ttl": a.reportTTL.String(),
	})
	return a.replier.Reply(ctx, msg, text, true)
}

func (a *Admin) handleSetAction(ctx context.Context, msg *api.Message) error {
	allowed, err := a.groupAdminOnly(ctx, msg)
	if err != nil || !allowed {
		return err
	}

	level, err := strconv.Atoi(firstArgument(msg))
	if err == nil {
		err = a.policy.SetActionLevel(moderation.ActionLevel(level))
	}
	if err != nil {
		a.getLogEntry().WithField("method", "handleSetAction").WithField("error", err.Error()).Debug("rejected action level")
		return a.replier.Reply(ctx, msg, i18n.Get("❌ Invalid level. Use 1, 2 or 3.", a.language), false)
	}

	a.getLogEntry().WithField("method", "handleSetAction").WithField("chat_id", msg.Chat.ID).Infof("action level set to %d", level)
	return a.replier.Reply(ctx, msg, tool.ExecTemplate(i18n.Get("✅ Action level set to: {{ .level }}", a.language), map[string]any{
		"level": level,
	}), false)
}

func (a *Admin) handleSetThreshold(ctx context.Context, msg *api.Message) error {
	allowed, err := a.groupAdminOnly(ctx, msg)
	if err != nil || !allowed {
		return err
	}

	threshold, err := strconv.Atoi(strings.TrimSuffix(firstArgument(msg), "%"))
	if err == nil {
		err = a.policy.SetThreshold(threshold)
	}
	if err != nil {
		a.getLogEntry().WithField("method", "handleSetThreshold").WithField("error", err.Error()).Debug("rejected threshold")
		return a.replier.Reply(ctx, msg, i18n.Get("❌ Invalid threshold. Use a number from 0 to 100.", a.language), false)
	}

	a.getLogEntry().WithField("method", "handleSetThreshold").WithField("chat_id", msg.Chat.ID).Infof("threshold set to %d", threshold)
	return a.replier.Reply(ctx, msg, tool.ExecTemplate(i18n.Get("✅ Trigger threshold set to: {{ .threshold }}%", a.language), map[string]any{
		"threshold": threshold,
	}), false)
}

// Policy changes are group-only, and silently ignored for regular members.
func (a *Admin) groupAdminOnly(ctx context.Context, msg *api.Message) (bool, error) {
	if msg.Chat.IsPrivate() {
		return false, nil
	}
	return a.isSenderAdmin(ctx, msg)
}

func (a *Admin) isSenderAdmin(ctx context.Context, msg *api.Message) (bool, error) {
	if msg.SenderChat != nil && msg.SenderChat.ID == msg.Chat.ID {
		return true, nil
	}
	if msg.From == nil {
		return false, nil
	}
	isAdmin, err := a.members.IsAdmin(ctx, msg.Chat.ID, msg.From.ID)
	if err != nil {
		a.getLogEntry().WithField("method", "isSenderAdmin").WithField("error", err.Error()).Error("can't check admin status")
		return false, err
	}
	return isAdmin, nil
}

func firstArgument(msg *api.Message) string {
	fields := strings.Fields(msg.CommandArguments())
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

func (a *Admin) getLogEntry() *log.Entry {
	return log.WithField("object", "Admin")
}
