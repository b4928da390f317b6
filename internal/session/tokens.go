package session

import (
	"errors"
	"time"

	"fieldproof/internal/localstore"
)

var tokenKey = []byte("s/token")

const tokenVersion = 1

var tokenSchema = localstore.Schema{Current: tokenVersion}

// storedToken is the persisted auth artifact: the raw token plus when it was
// stored, so a restart can resume the session without the collaborator.
type storedToken struct {
	Token    string    `json:"token"`
	StoredAt time.Time `json:"storedAt"`
}

// TokenStore keeps the session token in the local database so a restarted
// agent can resume without re-contacting the auth service.
type TokenStore struct {
	db *localstore.DB
}

func NewTokenStore(db *localstore.DB) *TokenStore {
	return &TokenStore{db: db}
}

func (s *TokenStore) Save(token string) error {
	return s.db.Put(tokenKey, tokenVersion, storedToken{
		Token:    token,
		StoredAt: time.Now().UTC(),
	})
}

func (s *TokenStore) Load() (string, error) {
	var st storedToken
	err := s.db.Get(tokenKey, tokenSchema, &st)
	if errors.Is(err, localstore.ErrNotFound) {
		return "", ErrNoSession
	}
	if err != nil {
		return "", err
	}
	return st.Token, nil
}

func (s *TokenStore) Clear() error {
	return s.db.Delete(tokenKey)
}

// Restore loads a persisted token into the manager. A missing or expired
// artifact leaves the manager without a session; expired artifacts are
// cleared so the next start doesn't retry them.
func Restore(m *Manager, store *TokenStore) error {
	token, err := store.Load()
	if errors.Is(err, ErrNoSession) {
		return nil
	}
	if err != nil {
		return err
	}
	if _, err := m.Activate(token); err != nil {
		if errors.Is(err, ErrTokenExpired) {
			return store.Clear()
		}
		return err
	}
	return nil
}
