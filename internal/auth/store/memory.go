package store

import (
	"context"
	"errors"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"marketplace/backend/internal/auth/service"
	sessiondomain "marketplace/backend/internal/session/domain"
	sessionrepo "marketplace/backend/internal/session/repository"
	tokendomain "marketplace/backend/internal/token/domain"
	tokenrepo "marketplace/backend/internal/token/repository"
)

var (
	// ErrDuplicateKey mirrors a unique-constraint violation.
	ErrDuplicateKey = errors.New("store: duplicate key")
	// ErrLiveTokenExists mirrors the one-live-token-per-session index.
	ErrLiveTokenExists = errors.New("store: session already has a live refresh token")
)

// MemoryStore is a process-local store for development and tests. Transactions are serialized by one mutex
// and operate on a copy of the data that replaces the committed state only when fn succeeds.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]sessiondomain.Session
	tokens   map[string]tokendomain.RefreshToken
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]sessiondomain.Session),
		tokens:   make(map[string]tokendomain.RefreshToken),
	}
}

// InTx runs fn against a private copy of the data and commits it only if fn returns nil.
func (s *MemoryStore) InTx(ctx context.Context, fn func(ctx context.Context, tx service.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	work := &memTx{
		sessions: maps.Clone(s.sessions),
		tokens:   maps.Clone(s.tokens),
	}
	if err := fn(ctx, work); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.sessions = work.sessions
	s.tokens = work.tokens
	return nil
}

// GetByID reads a committed session; it serves the request authenticator.
func (s *MemoryStore) GetByID(ctx context.Context, id string) (*sessiondomain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.sessions[id]
	if !ok {
		return nil, nil
	}
	return &v, nil
}

// Tokens returns a snapshot of every committed token for inspection in tests and diagnostics.
func (s *MemoryStore) Tokens() []tokendomain.RefreshToken {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := slices.Collect(maps.Values(s.tokens))
	sort.Slice(out, func(i, j int) bool {
		if !out[i].IssuedAt.Equal(out[j].IssuedAt) {
			return out[i].IssuedAt.Before(out[j].IssuedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

type memTx struct {
	sessions map[string]sessiondomain.Session
	tokens   map[string]tokendomain.RefreshToken
}

func (t *memTx) Sessions() sessionrepo.Repository { return memSessions{t} }
func (t *memTx) Tokens() tokenrepo.Repository     { return memTokens{t} }

type memSessions struct{ tx *memTx }

func (r memSessions) GetByID(ctx context.Context, id string) (*sessiondomain.Session, error) {
	v, ok := r.tx.sessions[id]
	if !ok {
		return nil, nil
	}
	return &v, nil
}

// GetByIDForUpdate needs no row lock: the store mutex already serializes transactions.
func (r memSessions) GetByIDForUpdate(ctx context.Context, id string) (*sessiondomain.Session, error) {
	return r.GetByID(ctx, id)
}

func (r memSessions) ListByUser(ctx context.Context, userID string) ([]*sessiondomain.Session, error) {
	var out []*sessiondomain.Session
	for _, v := range r.tx.sessions {
		if v.UserID == userID {
			out = append(out, &v)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.After(out[j].StartedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r memSessions) Create(ctx context.Context, s *sessiondomain.Session) error {
	if _, exists := r.tx.sessions[s.ID]; exists {
		return ErrDuplicateKey
	}
	r.tx.sessions[s.ID] = *s
	return nil
}

func (r memSessions) Close(ctx context.Context, id string, at time.Time) (bool, error) {
	v, ok := r.tx.sessions[id]
	if !ok || v.EndedAt != nil {
		return false, nil
	}
	v.EndedAt = &at
	r.tx.sessions[id] = v
	return true, nil
}

func (r memSessions) CloseAllByUser(ctx context.Context, userID string, at time.Time) ([]string, error) {
	var ids []string
	for id, v := range r.tx.sessions {
		if v.UserID == userID && v.EndedAt == nil {
			v.EndedAt = &at
			r.tx.sessions[id] = v
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

type memTokens struct{ tx *memTx }

func (r memTokens) Create(ctx context.Context, t *tokendomain.RefreshToken) error {
	if _, exists := r.tx.tokens[t.ID]; exists {
		return ErrDuplicateKey
	}
	for _, v := range r.tx.tokens {
		if v.TokenHash == t.TokenHash {
			return ErrDuplicateKey
		}
		if !t.Invalidated && !v.Invalidated && v.SessionID == t.SessionID {
			return ErrLiveTokenExists
		}
	}
	row := *t
	if row.Type == "" {
		row.Type = tokendomain.TypeRefresh
	}
	r.tx.tokens[t.ID] = row
	return nil
}

func (r memTokens) GetByHash(ctx context.Context, tokenHash string) (*tokendomain.RefreshToken, error) {
	for _, v := range r.tx.tokens {
		if v.TokenHash == tokenHash {
			return &v, nil
		}
	}
	return nil, nil
}

func (r memTokens) GetLiveBySession(ctx context.Context, sessionID string) (*tokendomain.RefreshToken, error) {
	for _, v := range r.tx.tokens {
		if v.SessionID == sessionID && !v.Invalidated {
			return &v, nil
		}
	}
	return nil, nil
}

func (r memTokens) ListBySession(ctx context.Context, sessionID string) ([]*tokendomain.RefreshToken, error) {
	var out []*tokendomain.RefreshToken
	for _, v := range r.tx.tokens {
		if v.SessionID == sessionID {
			out = append(out, &v)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].IssuedAt.Equal(out[j].IssuedAt) {
			return out[i].IssuedAt.Before(out[j].IssuedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r memTokens) Invalidate(ctx context.Context, id string, at time.Time) (bool, error) {
	v, ok := r.tx.tokens[id]
	if !ok || v.Invalidated {
		return false, nil
	}
	r.invalidate(id, v, at)
	return true, nil
}

func (r memTokens) InvalidateBySession(ctx context.Context, sessionID string, at time.Time) (int64, error) {
	var n int64
	for id, v := range r.tx.tokens {
		if v.SessionID == sessionID && !v.Invalidated {
			r.invalidate(id, v, at)
			n++
		}
	}
	return n, nil
}

func (r memTokens) InvalidateAllByUser(ctx context.Context, userID string, at time.Time) (int64, error) {
	var n int64
	for id, v := range r.tx.tokens {
		if v.UserID == userID && !v.Invalidated {
			r.invalidate(id, v, at)
			n++
		}
	}
	return n, nil
}

func (r memTokens) CountLiveByUser(ctx context.Context, userID string) (int64, error) {
	var n int64
	for _, v := range r.tx.tokens {
		if v.UserID == userID && !v.Invalidated {
			n++
		}
	}
	return n, nil
}

func (r memTokens) invalidate(id string, v tokendomain.RefreshToken, at time.Time) {
	v.Invalidated = true
	v.LastUsedAt = &at
	r.tx.tokens[id] = v
}
