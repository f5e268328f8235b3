package moderation

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/iamwavecut/antispambot/internal/activity"
	"github.com/iamwavecut/antispambot/internal/adapters/llm"
)

type platformCall struct {
	op        string
	chatID    int64
	userID    int64
	messageID int
	until     time.Time
	text      string
	button    *LinkButton
}

type fakePlatform struct {
	mu        sync.Mutex
	calls     []platformCall
	nextID    int
	failOn    map[string]error
	reportIDs []int
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{nextID: 1000, failOn: map[string]error{}}
}

func (p *fakePlatform) record(c platformCall) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, c)
	return p.failOn[c.op]
}

func (p *fakePlatform) DeleteMessage(_ context.Context, chatID int64, messageID int) error {
	return p.record(platformCall{op: "delete", chatID: chatID, messageID: messageID})
}

func (p *fakePlatform) RestrictMember(_ context.Context, chatID, userID int64, until time.Time) error {
	return p.record(platformCall{op: "restrict", chatID: chatID, userID: userID, until: until})
}

func (p *fakePlatform) BanMember(_ context.Context, chatID, userID int64) error {
	return p.record(platformCall{op: "ban", chatID: chatID, userID: userID})
}

func (p *fakePlatform) SendReport(_ context.Context, chatID int64, html string, button *LinkButton) (int, error) {
	if err := p.record(platformCall{op: "report", chatID: chatID, text: html, button: button}); err != nil {
		return 0, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextID++
	p.reportIDs = append(p.reportIDs, p.nextID)
	return p.nextID, nil
}

func (p *fakePlatform) ops() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ops := make([]string, 0, len(p.calls))
	for _, c := range p.calls {
		ops = append(ops, c.op)
	}
	return ops
}

func (p *fakePlatform) find(op string) (platformCall, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range p.calls {
		if c.op == op {
			return c, true
		}
	}
	return platformCall{}, false
}

type scheduled struct {
	delay time.Duration
	task  func(ctx context.Context)
}

type fakeScheduler struct {
	mu    sync.Mutex
	tasks []scheduled
}

func (s *fakeScheduler) schedule(delay time.Duration, task func(ctx context.Context)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, scheduled{delay: delay, task: task})
}

// fakeLLM answers with a fixed text or error and counts calls.
type fakeLLM struct {
	mu      sync.Mutex
	answer  string
	err     error
	prompts []string
	block   chan struct{}
}

func (f *fakeLLM) ChatCompletion(ctx context.Context, messages []llm.ChatCompletionMessage) (llm.ChatCompletionResponse, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, messages[len(messages)-1].Content)
	f.mu.Unlock()
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return llm.ChatCompletionResponse{}, ctx.Err()
		}
	}
	if f.err != nil {
		return llm.ChatCompletionResponse{}, f.err
	}
	return llm.Single(f.answer), nil
}

func (f *fakeLLM) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prompts)
}

type fakeMembers struct {
	admins map[int64]bool
	err    error
}

func (m fakeMembers) IsAdmin(_ context.Context, _ int64, userID int64) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	return m.admins[userID], nil
}

type stubClassifier struct {
	verdict *Classification
	err     error
}

func (s stubClassifier) Classify(context.Context, Message, activity.Record) (*Classification, error) {
	return s.verdict, s.err
}

var errBoom = errors.New("boom")
