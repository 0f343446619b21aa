package auth

import (
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/relaybot/dashboard/internal/models"
	"github.com/relaybot/dashboard/pkg/utils"
)

var (
	// ErrInvalidCredentials is returned by Login when the operator identity does not match.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Credentials is the single configured operator identity.
// PasswordHash (bcrypt) takes precedence over Password when set.
type Credentials struct {
	Username     string
	Password     string
	PasswordHash string
}

// Store issues opaque session tokens and validates them by membership.
// Tokens carry no claims and stay valid until the process exits.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]models.Session
	creds    Credentials
	now      func() time.Time
	random   func() (uuid.UUID, error)
}

// NewStore creates a session store for the given operator.
func NewStore(creds Credentials) *Store {
	return &Store{
		sessions: make(map[string]models.Session),
		creds:    creds,
		now:      time.Now,
		random:   uuid.NewRandom,
	}
}

// Login checks the credentials and issues a new token.
func (s *Store) Login(username, password string) (string, error) {
	if !s.checkCredentials(username, password) {
		return "", ErrInvalidCredentials
	}
	for {
		token, createdAt, err := s.newToken()
		if err != nil {
			return "", err
		}
		s.mu.Lock()
		if _, taken := s.sessions[token]; taken {
			s.mu.Unlock()
			continue
		}
		s.sessions[token] = models.Session{Token: token, CreatedAt: createdAt}
		s.mu.Unlock()
		return token, nil
	}
}

// Validate reports whether token was issued by this store.
func (s *Store) Validate(token string) bool {
	if token == "" {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.sessions[token]
	return ok
}

// Count returns the number of issued sessions.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func (s *Store) checkCredentials(username, password string) bool {
	if s.creds.Username == "" || username == "" || password == "" {
		return false
	}
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(s.creds.Username)) == 1
	var passOK bool
	if s.creds.PasswordHash != "" {
		passOK = utils.CheckPassword(password, s.creds.PasswordHash)
	} else {
		passOK = s.creds.Password != "" && subtle.ConstantTimeCompare([]byte(password), []byte(s.creds.Password)) == 1
	}
	return userOK && passOK
}

// newToken combines 122 random bits with the issue time in nanoseconds.
func (s *Store) newToken() (string, time.Time, error) {
	id, err := s.random()
	if err != nil {
		return "", time.Time{}, err
	}
	createdAt := s.now()
	return hex.EncodeToString(id[:]) + strconv.FormatInt(createdAt.UnixNano(), 36), createdAt, nil
}
