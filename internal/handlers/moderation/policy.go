package moderation

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/iamwavecut/antispambot/internal/errors"
)

// ActionLevel is the enforcement severity applied to a flagged message.
type ActionLevel int

const (
	// ActionChallenge restricts the user until a verification challenge is solved.
	ActionChallenge ActionLevel = 1
	// ActionRestrict restricts the user permanently without removing them.
	ActionRestrict ActionLevel = 2
	// ActionBan bans and removes the user from the chat.
	ActionBan ActionLevel = 3
)

func (l ActionLevel) Valid() bool {
	return l >= ActionChallenge && l <= ActionBan
}

func (l ActionLevel) String() string {
	return strconv.Itoa(int(l))
}

// PolicyConfig is a snapshot of the moderation policy.
type PolicyConfig struct {
	ActionLevel ActionLevel
	Threshold   int
}

// Triggers reports whether a verdict calls for enforcement.
func (p PolicyConfig) Triggers(c *Classification) bool {
	return c != nil && c.IsSpam && c.SpamChance >= p.Threshold
}

// Policy is the process-wide moderation policy shared by every chat.
type Policy struct {
	mu  sync.RWMutex
	cfg PolicyConfig
}

func NewPolicy(level ActionLevel, threshold int) (*Policy, error) {
	p := &Policy{}
	if err := p.SetActionLevel(level); err != nil {
		return nil, err
	}
	if err := p.SetThreshold(threshold); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Policy) Snapshot() PolicyConfig {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg
}

func (p *Policy) SetActionLevel(level ActionLevel) error {
	if !level.Valid() {
		return fmt.Errorf("%w: action level %d", errors.ErrInvalidInput, level)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cfg.ActionLevel = level
	return nil
}

func (p *Policy) SetThreshold(threshold int) error {
	if threshold < 0 || threshold > 100 {
		return fmt.Errorf("%w: threshold %d", errors.ErrInvalidInput, threshold)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cfg.Threshold = threshold
	return nil
}
