package bot

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
)

type recordingHandler struct {
	name    string
	proceed bool
	err     error
	calls   *[]string
}

func (h recordingHandler) Handle(_ context.Context, _ *api.Update, _ *api.Chat, _ *api.User) (bool, error) {
	*h.calls = append(*h.calls, h.name)
	return h.proceed, h.err
}

func TestUpdateProcessorChain(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	fresh := &api.Update{Message: &api.Message{Date: int(now.Add(-time.Minute).Unix()), Chat: api.Chat{ID: 1}}}
	stale := &api.Update{Message: &api.Message{Date: int(now.Add(-6 * time.Minute).Unix()), Chat: api.Chat{ID: 1}}}

	tests := []struct {
		name      string
		update    *api.Update
		handlers  func(calls *[]string) []Handler
		wantCalls []string
		wantErr   bool
	}{
		{
			name:   "all proceed",
			update: fresh,
			handlers: func(calls *[]string) []Handler {
				return []Handler{
					recordingHandler{name: "admin", proceed: true, calls: calls},
					recordingHandler{name: "moderation", proceed: true, calls: calls},
				}
			},
			wantCalls: []string{"admin", "moderation"},
		},
		{
			name:   "first stops chain",
			update: fresh,
			handlers: func(calls *[]string) []Handler {
				return []Handler{
					recordingHandler{name: "admin", proceed: false, calls: calls},
					recordingHandler{name: "moderation", proceed: true, calls: calls},
				}
			},
			wantCalls: []string{"admin"},
		},
		{
			name:   "error stops chain",
			update: fresh,
			handlers: func(calls *[]string) []Handler {
				return []Handler{
					recordingHandler{name: "admin", err: errors.New("boom"), calls: calls},
					recordingHandler{name: "moderation", proceed: true, calls: calls},
				}
			},
			wantCalls: []string{"admin"},
			wantErr:   true,
		},
		{
			name:   "stale update skipped",
			update: stale,
			handlers: func(calls *[]string) []Handler {
				return []Handler{recordingHandler{name: "admin", proceed: true, calls: calls}}
			},
			wantCalls: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var calls []string
			up := NewUpdateProcessor(tt.handlers(&calls)...)
			up.now = func() time.Time { return now }
			err := up.Process(context.Background(), tt.update)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Process() error = %v, wantErr %v", err, tt.wantErr)
			}
			if len(calls) != len(tt.wantCalls) {
				t.Fatalf("calls = %v, want %v", calls, tt.wantCalls)
			}
			for i := range calls {
				if calls[i] != tt.wantCalls[i] {
					t.Fatalf("calls = %v, want %v", calls, tt.wantCalls)
				}
			}
		})
	}

	if err := NewUpdateProcessor().Process(context.Background(), nil); err == nil {
		t.Fatalf("Process(nil) error = nil")
	}
}

type flakyGetter struct {
	mu      sync.Mutex
	calls   int
	offsets []int
}

func (g *flakyGetter) GetUpdates(config api.UpdateConfig) ([]api.Update, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	g.offsets = append(g.offsets, config.Offset)
	switch g.calls {
	case 1:
		return nil, errors.New("connection reset")
	case 2:
		return []api.Update{{UpdateID: 10}, {UpdateID: 11}}, nil
	default:
		time.Sleep(10 * time.Millisecond)
		return nil, nil
	}
}

func TestGetUpdatesChansRetriesAndAdvancesOffset(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	getter := &flakyGetter{}
	updates, errs := GetUpdatesChans(ctx, getter, api.UpdateConfig{})

	var got []int
	timeout := time.After(5 * time.Second)
	for len(got) < 2 {
		select {
		case u := <-updates:
			got = append(got, u.UpdateID)
		case <-timeout:
			t.Fatalf("updates not delivered, got %v", got)
		}
	}
	if got[0] != 10 || got[1] != 11 {
		t.Fatalf("updates = %v, want [10 11]", got)
	}

	cancel()
	select {
	case err := <-errs:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("error = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("error channel did not report cancellation")
	}

	getter.mu.Lock()
	defer getter.mu.Unlock()
	if last := getter.offsets[len(getter.offsets)-1]; last != 12 {
		t.Fatalf("last offset = %d, want 12", last)
	}
}

func TestNames(t *testing.T) {
	t.Parallel()

	tests := []struct {
		user     *api.User
		wantUN   string
		wantFull string
	}{
		{user: nil},
		{user: &api.User{UserName: "nick", FirstName: "A", LastName: "B"}, wantUN: "nick", wantFull: "A B"},
		{user: &api.User{FirstName: "A"}, wantUN: "A", wantFull: "A"},
		{user: &api.User{UserName: "only"}, wantUN: "only", wantFull: "only"},
	}
	for _, tt := range tests {
		if got := GetUN(tt.user); got != tt.wantUN {
			t.Fatalf("GetUN() = %q, want %q", got, tt.wantUN)
		}
		if got := GetFullName(tt.user); got != tt.wantFull {
			t.Fatalf("GetFullName() = %q, want %q", got, tt.wantFull)
		}
	}
}
