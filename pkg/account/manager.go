package account

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/tradepost/tradepost/pkg/util"
)

var (
	ErrUnknownCode   = errors.New("account: unknown code")
	ErrCodeExpired   = errors.New("account: code expired")
	ErrEmailUsed     = errors.New("account: email already used")
	ErrUnknownUser   = errors.New("account: unknown user")
	ErrWrongPassword = errors.New("account: wrong password")
)

// codeTTL is how long a registration code stays claimable.
const codeTTL = time.Hour

type Manager struct {
	store Store
	clock util.Clock
	log   *zap.SugaredLogger
}

func NewManager(store Store, clock util.Clock, log *zap.SugaredLogger) *Manager {
	return &Manager{store: store, clock: clock, log: log}
}

// Register claims the pending player behind a registration code, binding an
// email and password to it. Returns the player's game uuid.
func (m *Manager) Register(email, password, code string) (string, error) {
	p, err := m.store.PlayerByCode(code)
	if err != nil {
		return "", fmt.Errorf("lookup code: %w", err)
	}
	if p == nil {
		return "", ErrUnknownCode
	}
	if m.clock.Now().UnixMilli() >= p.Expires {
		return "", ErrCodeExpired
	}

	existing, err := m.store.PlayerByEmail(email)
	if err != nil {
		return "", fmt.Errorf("lookup email: %w", err)
	}
	if existing != nil {
		return "", ErrEmailUsed
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}

	p.Email = email
	p.PassHash = string(hash)
	p.Code = ""
	p.Expires = 0
	if err := m.store.SavePlayer(p); err != nil {
		return "", fmt.Errorf("save player: %w", err)
	}

	m.log.Infow("account_registered", "uuid", p.UUID)
	return p.UUID, nil
}

// Login checks credentials and returns the player's game uuid.
func (m *Manager) Login(email, password string) (string, error) {
	p, err := m.store.PlayerByEmail(email)
	if err != nil {
		return "", fmt.Errorf("lookup email: %w", err)
	}
	if p == nil {
		return "", ErrUnknownUser
	}
	if bcrypt.CompareHashAndPassword([]byte(p.PassHash), []byte(password)) != nil {
		return "", ErrWrongPassword
	}
	return p.UUID, nil
}

// CodeResult is the outcome of an auth-code request from the game client.
type CodeResult struct {
	Email string // non-empty: an account already exists for this player
	Code  string // otherwise: a claimable registration code
}

// IssueCode returns the player's registration state: an existing account's
// email, a still-valid pending code, or a freshly generated code with a new
// expiry window.
func (m *Manager) IssueCode(uuid string) (CodeResult, error) {
	now := m.clock.Now().UnixMilli()

	p, err := m.store.PlayerByUUID(uuid)
	if err != nil {
		return CodeResult{}, fmt.Errorf("lookup player: %w", err)
	}
	if p != nil {
		if p.Registered() {
			return CodeResult{Email: p.Email}, nil
		}
		if p.Code != "" && p.Expires > now {
			return CodeResult{Code: p.Code}, nil
		}
	} else {
		p = &Player{UUID: uuid}
	}

	code, err := newCode()
	if err != nil {
		return CodeResult{}, err
	}
	p.Code = code
	p.Expires = now + codeTTL.Milliseconds()
	if err := m.store.SavePlayer(p); err != nil {
		return CodeResult{}, fmt.Errorf("save player: %w", err)
	}

	m.log.Debugw("auth_code_issued", "uuid", uuid)
	return CodeResult{Code: code}, nil
}

func newCode() (string, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	return hex.EncodeToString(b[:]), nil
}
