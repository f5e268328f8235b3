package permissions

import api "github.com/OvyFlash/telegram-bot-api"

// IsAdmin reports whether the member is the chat owner or an administrator.
func IsAdmin(member *api.ChatMember) bool {
	if member == nil {
		return false
	}
	return member.IsCreator() || member.IsAdministrator()
}

// CanEnforce reports whether the member can delete messages and restrict
// users, which moderation needs from the bot account.
func CanEnforce(member *api.ChatMember) bool {
	if member == nil {
		return false
	}
	if member.IsCreator() {
		return true
	}
	return member.IsAdministrator() && member.CanDeleteMessages && member.CanRestrictMembers
}
