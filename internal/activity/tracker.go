// Package activity keeps per chat, per user message counters.
package activity

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Record describes what the bot has observed about a member of a chat.
// JoinTime is the first observed message, not the platform join time.
type Record struct {
	JoinTime     time.Time
	MessageCount int
}

type key struct {
	chatID int64
	userID int64
}

// Tracker counts messages per (chat, user). Records idle for longer than the
// retention window are forgotten, and the least recently active ones are
// evicted once capacity is reached.
type Tracker struct {
	mu      sync.Mutex
	records *expirable.LRU[key, Record]
	now     func() time.Time
}

func NewTracker(capacity int, retention time.Duration) *Tracker {
	return &Tracker{
		records: expirable.NewLRU[key, Record](capacity, nil, retention),
		now:     time.Now,
	}
}

// Record registers one more message from userID in chatID and returns the
// updated counters.
func (t *Tracker) Record(chatID, userID int64) Record {
	k := key{chatID: chatID, userID: userID}

	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records.Get(k)
	if !ok {
		rec = Record{JoinTime: t.now()}
	}
	rec.MessageCount++
	t.records.Add(k, rec)
	return rec
}

// Peek returns the counters without changing them.
func (t *Tracker) Peek(chatID, userID int64) (Record, bool) {
	return t.records.Peek(key{chatID: chatID, userID: userID})
}

func (t *Tracker) Len() int {
	return t.records.Len()
}
