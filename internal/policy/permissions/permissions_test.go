package permissions

import (
	"testing"

	api "github.com/OvyFlash/telegram-bot-api"
)

func TestIsPrivilegedModerator(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		member *api.ChatMember
		want   bool
	}{
		{"nil member", nil, false},
		{"creator", &api.ChatMember{Status: "creator"}, true},
		{"manager", &api.ChatMember{Status: "administrator", CanManageChat: true}, true},
		{"restricting admin", &api.ChatMember{Status: "administrator", CanRestrictMembers: true}, true},
		{"deleting admin", &api.ChatMember{Status: "administrator", CanDeleteMessages: true}, true},
		{"admin without rights", &api.ChatMember{Status: "administrator"}, false},
		{"member with stray flag", &api.ChatMember{Status: "member", CanRestrictMembers: true}, false},
	}
	for _, tt := range tests {
		if got := IsPrivilegedModerator(tt.member); got != tt.want {
			t.Fatalf("%s: got %v want %v", tt.name, got, tt.want)
		}
	}
}
