// Package verification issues and redeems one-time challenge tokens for
// users restricted by the moderation pipeline.
package verification

import (
	cryptorand "crypto/rand"
	"encoding/hex"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/iamwavecut/antispambot/internal/errors"
)

const tokenBytes = 20

type Operation string

const (
	OperationAdd      Operation = "add"
	OperationMultiply Operation = "multiply"
)

func (o Operation) Symbol() string {
	if o == OperationMultiply {
		return "×"
	}
	return "+"
}

type Challenge struct {
	Num1      int
	Num2      int
	Operation Operation
	Answer    int
}

func (c Challenge) Question() string {
	return fmt.Sprintf("%d %s %d = ?", c.Num1, c.Operation.Symbol(), c.Num2)
}

// Request is a pending verification bound to a token.
type Request struct {
	Token             string
	ChatID            int64
	UserID            int64
	Username          string
	Challenge         Challenge
	ChallengeRequired bool
	IssuedAt          time.Time
}

type entry struct {
	req  Request
	busy bool
}

// Store keeps pending verifications in memory. A token disappears when it is
// consumed, when it outlives the TTL, or when capacity forces eviction.
type Store struct {
	mu      sync.Mutex
	entries *expirable.LRU[string, *entry]
	intn    func(n int) int
	now     func() time.Time
}

func NewStore(capacity int, ttl time.Duration) *Store {
	return &Store{
		entries: expirable.NewLRU[string, *entry](capacity, nil, ttl),
		intn:    rand.IntN,
		now:     time.Now,
	}
}

// Issue creates a fresh token with an arithmetic challenge for the user.
func (s *Store) Issue(chatID, userID int64, username string, challengeRequired bool) (Request, error) {
	token, err := newToken()
	if err != nil {
		return Request{}, err
	}
	req := Request{
		Token:             token,
		ChatID:            chatID,
		UserID:            userID,
		Username:          username,
		Challenge:         s.newChallenge(),
		ChallengeRequired: challengeRequired,
		IssuedAt:          s.now(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries.Add(token, &entry{req: req})
	return req, nil
}

func (s *Store) Lookup(token string) (Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries.Peek(token)
	if !ok {
		return Request{}, errors.ErrTokenNotFound
	}
	return e.req, nil
}

// Checkout hands the token to a single verifier. Concurrent attempts on the
// same token get ErrTokenBusy until Return or Consume is called.
func (s *Store) Checkout(token string) (Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries.Peek(token)
	if !ok {
		return Request{}, errors.ErrTokenNotFound
	}
	if e.busy {
		return Request{}, errors.ErrTokenBusy
	}
	e.busy = true
	return e.req, nil
}

// Return releases a checked out token so the user can retry.
func (s *Store) Return(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries.Peek(token); ok {
		e.busy = false
	}
}

// Consume removes the token and reports whether it was still present.
func (s *Store) Consume(token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries.Remove(token)
}

func (s *Store) Len() int {
	return s.entries.Len()
}

func (s *Store) newChallenge() Challenge {
	c := Challenge{
		Num1:      s.intn(9),
		Num2:      s.intn(9),
		Operation: OperationAdd,
	}
	if s.intn(2) == 1 {
		c.Operation = OperationMultiply
	}
	switch c.Operation {
	case OperationMultiply:
		c.Answer = c.Num1 * c.Num2
	default:
		c.Answer = c.Num1 + c.Num2
	}
	return c
}

func newToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := cryptorand.Read(buf); err != nil {
		return "", fmt.Errorf("read random token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
