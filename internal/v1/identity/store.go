// Package identity issues and resolves opaque access tokens and the
// short-lived single-use tickets that authenticate WebSocket upgrades.
package identity

import (
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/openrooms/orc-server/internal/v1/ids"
	"github.com/openrooms/orc-server/internal/v1/types"
)

// DefaultTicketTTL is the upper bound on ticket lifetime.
const DefaultTicketTTL = 60 * time.Second

type ticketEntry struct {
	userID types.UserIDType
	used   bool
}

// Store maps opaque tokens to users and mints single-use RTM tickets.
// Tickets live in an expiring cache so stale entries are evicted without a
// sweeper of our own.
type Store struct {
	mu             sync.RWMutex
	tokens         map[string]types.UserIDType
	sessionsByUser map[types.UserIDType]map[string]struct{}

	ticketTTL time.Duration
	tickets   *gocache.Cache
}

// NewStore creates an identity store with the given ticket TTL. A zero or
// negative TTL falls back to the 60 s default.
func NewStore(ticketTTL time.Duration) *Store {
	if ticketTTL <= 0 {
		ticketTTL = DefaultTicketTTL
	}
	return &Store{
		tokens:         make(map[string]types.UserIDType),
		sessionsByUser: make(map[types.UserIDType]map[string]struct{}),
		ticketTTL:      ticketTTL,
		tickets:        gocache.New(ticketTTL, 2*ticketTTL),
	}
}

// IssueToken associates a fresh opaque access token with the user.
func (s *Store) IssueToken(userID types.UserIDType) string {
	token := ids.NewToken()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.tokens[token] = userID
	if s.sessionsByUser[userID] == nil {
		s.sessionsByUser[userID] = make(map[string]struct{})
	}
	s.sessionsByUser[userID][token] = struct{}{}
	return token
}

// Resolve returns the user ID owning the token.
func (s *Store) Resolve(token string) (types.UserIDType, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	userID, ok := s.tokens[token]
	return userID, ok
}

// Revoke invalidates a token. Revoking an unknown token is a no-op.
func (s *Store) Revoke(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	userID, ok := s.tokens[token]
	if !ok {
		return
	}
	delete(s.tokens, token)
	if sessions := s.sessionsByUser[userID]; sessions != nil {
		delete(sessions, token)
		if len(sessions) == 0 {
			delete(s.sessionsByUser, userID)
		}
	}
}

// ListSessions returns the count of live tokens for a user.
func (s *Store) ListSessions(userID types.UserIDType) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessionsByUser[userID])
}

// MintTicket records a single-use ticket for the user and returns it with
// its TTL in milliseconds.
func (s *Store) MintTicket(userID types.UserIDType) (string, int64) {
	ticket := ids.NewToken()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.tickets.Set(ticket, &ticketEntry{userID: userID}, s.ticketTTL)
	return ticket, s.ticketTTL.Milliseconds()
}

// ConsumeTicket returns the user iff the ticket exists, is unused, and is
// unexpired, atomically marking it used. A second call with the same
// ticket always fails.
func (s *Store) ConsumeTicket(ticket string) (types.UserIDType, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.tickets.Get(ticket)
	if !ok {
		return "", false
	}
	entry := v.(*ticketEntry)
	if entry.used {
		return "", false
	}
	entry.used = true
	s.tickets.Delete(ticket)
	return entry.userID, true
}
