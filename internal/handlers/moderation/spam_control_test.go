package moderation

import (
	"context"
	"slices"
	"strings"
	"testing"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"

	"github.com/iamwavecut/antispambot/internal/activity"
	"github.com/iamwavecut/antispambot/internal/verification"
)

type controllerFixture struct {
	sc       *SpamControl
	platform *fakePlatform
	model    *fakeLLM
	tracker  *activity.Tracker
	store    *verification.Store
}

func newControllerFixture(t *testing.T, answer string, level ActionLevel, members MemberChecker) *controllerFixture {
	t.Helper()
	policy, err := NewPolicy(level, 75)
	if err != nil {
		t.Fatalf("NewPolicy() error = %v", err)
	}
	f := &controllerFixture{
		platform: newFakePlatform(),
		model:    &fakeLLM{answer: answer},
		tracker:  activity.NewTracker(100, time.Hour),
		store:    verification.NewStore(100, time.Hour),
	}
	f.sc = NewSpamControl(Dependencies{
		Platform:   f.platform,
		Members:    members,
		Classifier: NewClassifier(f.model, time.Second),
		Tracker:    f.tracker,
		Tokens:     f.store,
		Policy:     policy,
	}, EngineConfig{
		Language:        "en",
		VerificationTTL: time.Hour,
		ReportTTL:       300 * time.Second,
		VerifyURL:       func(token string) string { return "https://bot.example.com/verify/" + token },
	}, 4)
	return f
}

func groupMessage(userID int64, text string) *api.Message {
	return &api.Message{
		MessageID: 42,
		From:      &api.User{ID: userID, FirstName: "Spam", LastName: "Bot"},
		Chat:      api.Chat{ID: -100, Type: "supergroup"},
		Text:      text,
	}
}

func TestModerateScenarioChallenge(t *testing.T) {
	t.Parallel()

	f := newControllerFixture(t, `{"result":1,"spamChance":95,"spamReason":"测试","mockText":""}`, ActionChallenge, fakeMembers{})
	msg := Message{ChatID: -100, MessageID: 42, UserID: 7, DisplayName: "Spam Bot", Text: "广告测试"}
	rec := f.tracker.Record(msg.ChatID, msg.UserID)

	out, err := f.sc.Moderate(context.Background(), msg, rec)
	if err != nil {
		t.Fatalf("Moderate() error = %v", err)
	}
	if out == nil || !out.Deleted || !out.Restricted || out.Token == "" {
		t.Fatalf("Moderate() outcome = %+v", out)
	}
	if got := f.platform.ops(); !slices.Equal(got, []string{"delete", "restrict", "report"}) {
		t.Fatalf("ops = %v", got)
	}
	report, _ := f.platform.find("report")
	if report.button == nil || !strings.HasSuffix(report.button.URL, "/verify/"+out.Token) {
		t.Fatalf("report has no verification link: %+v", report.button)
	}
	if _, err := f.store.Lookup(out.Token); err != nil {
		t.Fatalf("token lookup error = %v", err)
	}
}

func TestModerateScenarioPermanentRestriction(t *testing.T) {
	t.Parallel()

	f := newControllerFixture(t, `{"result":1,"spamChance":95}`, ActionRestrict, nil)
	msg := Message{ChatID: -100, MessageID: 42, UserID: 7, DisplayName: "Spam Bot", Text: "广告测试"}

	out, err := f.sc.Moderate(context.Background(), msg, f.tracker.Record(-100, 7))
	if err != nil {
		t.Fatalf("Moderate() error = %v", err)
	}
	if out == nil || !out.Restricted || out.Token != "" {
		t.Fatalf("Moderate() outcome = %+v", out)
	}
	report, _ := f.platform.find("report")
	if report.button != nil || strings.Contains(report.text, "verify") {
		t.Fatalf("permanent restriction report must not link to verification: %+v", report)
	}
}

func TestModeratePassesThrough(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		answer  string
		members MemberChecker
	}{
		{name: "below threshold", answer: `{"result":1,"spamChance":74}`},
		{name: "not spam", answer: `{"result":0,"spamChance":99}`},
		{name: "garbage answer", answer: `I am sorry, I cannot comply.`},
		{name: "out of range", answer: `{"result":1,"spamChance":300}`},
		{name: "admin", answer: `{"result":1,"spamChance":100}`, members: fakeMembers{admins: map[int64]bool{7: true}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newControllerFixture(t, tt.answer, ActionBan, tt.members)
			msg := Message{ChatID: -100, MessageID: 1, UserID: 7, Text: "hello"}
			out, err := f.sc.Moderate(context.Background(), msg, f.tracker.Record(-100, 7))
			if err != nil || out != nil {
				t.Fatalf("Moderate() = %+v, %v; want pass through", out, err)
			}
			if ops := f.platform.ops(); len(ops) != 0 {
				t.Fatalf("no platform calls expected, got %v", ops)
			}
		})
	}
}

func TestModerateClassifierFailure(t *testing.T) {
	t.Parallel()

	f := newControllerFixture(t, "", ActionBan, fakeMembers{err: errBoom})
	f.model.err = errBoom
	out, err := f.sc.Moderate(context.Background(), Message{ChatID: -100, UserID: 1, Text: "x"}, activity.Record{MessageCount: 1})
	if err != nil || out != nil {
		t.Fatalf("Moderate() = %+v, %v; want silent pass", out, err)
	}
}

func TestHandleMessageRecordsBeforeDispatch(t *testing.T) {
	t.Parallel()

	f := newControllerFixture(t, `{"result":0,"spamChance":1}`, ActionChallenge, nil)
	f.model.block = make(chan struct{})
	if err := f.sc.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	for range 3 {
		if !f.sc.HandleMessage(context.Background(), groupMessage(7, "hi")) {
			t.Fatalf("HandleMessage() did not queue")
		}
	}
	rec, ok := f.tracker.Peek(-100, 7)
	if !ok || rec.MessageCount != 3 {
		t.Fatalf("activity = %+v, want 3 messages recorded while classification is pending", rec)
	}

	close(f.model.block)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := f.sc.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	f.model.mu.Lock()
	defer f.model.mu.Unlock()
	seen := map[string]bool{}
	for _, p := range f.model.prompts {
		for _, n := range []string{"第 1 次", "第 2 次", "第 3 次"} {
			if strings.Contains(p, n) {
				seen[n] = true
			}
		}
	}
	if len(seen) != 3 {
		t.Fatalf("each message must carry its own ordinal, saw %v", seen)
	}
	if f.sc.HandleMessage(context.Background(), groupMessage(7, "late")) {
		t.Fatalf("HandleMessage() queued after Stop")
	}
}

func TestHandleMessageSkipsAdminsBeforeCounting(t *testing.T) {
	t.Parallel()

	f := newControllerFixture(t, `{"result":1,"spamChance":100}`, ActionBan, fakeMembers{admins: map[int64]bool{1: true}})
	if err := f.sc.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if f.sc.HandleMessage(context.Background(), groupMessage(1, "admin announcement")) {
		t.Fatalf("HandleMessage() queued an admin message")
	}
	if !f.sc.HandleMessage(context.Background(), groupMessage(7, "hello")) {
		t.Fatalf("HandleMessage() did not queue a member message")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := f.sc.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	if _, ok := f.tracker.Peek(-100, 1); ok {
		t.Fatalf("admin activity must not be recorded")
	}
	if f.tracker.Len() != 1 {
		t.Fatalf("tracker.Len() = %d, want 1", f.tracker.Len())
	}
	if got := f.model.calls(); got != 1 {
		t.Fatalf("classifier calls = %d, want 1", got)
	}
}

func TestModeratable(t *testing.T) {
	t.Parallel()

	base := func() *api.Message { return groupMessage(7, "buy now") }
	tests := []struct {
		name   string
		mutate func(*api.Message)
		want   bool
	}{
		{name: "plain group text", mutate: func(*api.Message) {}, want: true},
		{name: "private chat", mutate: func(m *api.Message) { m.Chat.Type = "private" }},
		{name: "automatic forward", mutate: func(m *api.Message) { m.IsAutomaticForward = true }},
		{name: "bot sender", mutate: func(m *api.Message) { m.From.IsBot = true }},
		{name: "anonymous admin", mutate: func(m *api.Message) { m.SenderChat = &api.Chat{ID: -100} }},
		{name: "other channel sender", mutate: func(m *api.Message) { m.SenderChat = &api.Chat{ID: -200} }, want: true},
		{name: "no sender", mutate: func(m *api.Message) { m.From = nil }},
		{name: "invisible only", mutate: func(m *api.Message) { m.Text = "\u200b \u200d" }},
		{name: "caption", mutate: func(m *api.Message) { m.Text = ""; m.Caption = "promo" }, want: true},
		{
			name: "command",
			mutate: func(m *api.Message) {
				m.Text = "/help"
				m.Entities = []api.MessageEntity{{Type: "bot_command", Offset: 0, Length: 5}}
			},
			want: true,
		},
		{
			name: "unknown command with advert",
			mutate: func(m *api.Message) {
				m.Text = "/earn 1000 USDT daily, join t.me/scamchannel"
				m.Entities = []api.MessageEntity{{Type: "bot_command", Offset: 0, Length: 5}}
			},
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m := base()
			tt.mutate(m)
			if _, got := Moderatable(m); got != tt.want {
				t.Fatalf("Moderatable() = %v, want %v", got, tt.want)
			}
		})
	}
}
