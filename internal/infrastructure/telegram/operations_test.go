package telegram

import (
	"context"
	"errors"
	"testing"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"

	"github.com/iamwavecut/antispambot/internal/handlers/moderation"
)

type fakeRequester struct {
	requests []api.Chattable
	sent     []api.Chattable
	err      error
}

func (f *fakeRequester) Request(c api.Chattable) (*api.APIResponse, error) {
	f.requests = append(f.requests, c)
	if f.err != nil {
		return nil, f.err
	}
	return &api.APIResponse{Ok: true}, nil
}

func (f *fakeRequester) Send(c api.Chattable) (api.Message, error) {
	f.sent = append(f.sent, c)
	if f.err != nil {
		return api.Message{}, f.err
	}
	return api.Message{MessageID: 77}, nil
}

var _ moderation.Platform = (*Operations)(nil)

func TestRestrictMember(t *testing.T) {
	t.Parallel()

	fake := &fakeRequester{}
	ops := NewOperations(fake)
	until := time.Unix(1_700_000_000, 0)

	if err := ops.RestrictMember(context.Background(), -100, 7, until); err != nil {
		t.Fatalf("RestrictMember() error = %v", err)
	}
	if err := ops.RestrictMember(context.Background(), -100, 7, time.Time{}); err != nil {
		t.Fatalf("RestrictMember(forever) error = %v", err)
	}

	timed := fake.requests[0].(api.RestrictChatMemberConfig)
	if timed.UntilDate != until.Unix() || timed.Permissions.CanSendMessages {
		t.Fatalf("timed restriction = %+v", timed)
	}
	forever := fake.requests[1].(api.RestrictChatMemberConfig)
	if forever.UntilDate != 0 {
		t.Fatalf("permanent restriction UntilDate = %d, want 0", forever.UntilDate)
	}
	if forever.ChatID != -100 || forever.UserID != 7 {
		t.Fatalf("restriction target = %d/%d", forever.ChatID, forever.UserID)
	}
}

func TestUnrestrictMember(t *testing.T) {
	t.Parallel()

	fake := &fakeRequester{}
	if err := NewOperations(fake).UnrestrictMember(context.Background(), -100, 7); err != nil {
		t.Fatalf("UnrestrictMember() error = %v", err)
	}
	cfg := fake.requests[0].(api.RestrictChatMemberConfig)
	if !cfg.Permissions.CanSendMessages || !cfg.Permissions.CanInviteUsers {
		t.Fatalf("unrestrict permissions = %+v", cfg.Permissions)
	}
}

func TestSendReportWithButton(t *testing.T) {
	t.Parallel()

	fake := &fakeRequester{}
	id, err := NewOperations(fake).SendReport(context.Background(), -100, "<b>hi</b>", &moderation.LinkButton{Text: "go", URL: "https://x/verify/t"})
	if err != nil {
		t.Fatalf("SendReport() error = %v", err)
	}
	if id != 77 {
		t.Fatalf("SendReport() id = %d, want 77", id)
	}
	msg := fake.sent[0].(api.MessageConfig)
	if msg.ParseMode != api.ModeHTML {
		t.Fatalf("ParseMode = %q", msg.ParseMode)
	}
	markup, ok := msg.ReplyMarkup.(api.InlineKeyboardMarkup)
	if !ok || len(markup.InlineKeyboard) != 1 || markup.InlineKeyboard[0][0].URL == nil || *markup.InlineKeyboard[0][0].URL != "https://x/verify/t" {
		t.Fatalf("ReplyMarkup = %#v", msg.ReplyMarkup)
	}
}

func TestPrivilegeErrors(t *testing.T) {
	t.Parallel()

	fake := &fakeRequester{err: errors.New("Bad Request: not enough rights to restrict/unrestrict chat member")}
	err := NewOperations(fake).BanMember(context.Background(), -100, 7)
	if !errors.Is(err, ErrNoPrivileges) {
		t.Fatalf("BanMember() error = %v, want ErrNoPrivileges", err)
	}

	fake.err = errors.New("Bad Request: message to delete not found")
	err = NewOperations(fake).DeleteMessage(context.Background(), -100, 1)
	if err == nil || errors.Is(err, ErrNoPrivileges) {
		t.Fatalf("DeleteMessage() error = %v, want plain failure", err)
	}
}

func TestCanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	fake := &fakeRequester{}
	if err := NewOperations(fake).DeleteMessage(ctx, 1, 1); !errors.Is(err, context.Canceled) {
		t.Fatalf("DeleteMessage() error = %v, want context.Canceled", err)
	}
	if len(fake.requests) != 0 {
		t.Fatalf("request sent despite canceled context")
	}
}
