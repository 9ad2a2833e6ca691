package devbackend

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrAccountExists   = errors.New("account already exists")
	ErrAccountNotFound = errors.New("account not found")
)

// Account is a registered user of the development backend.
type Account struct {
	ID           string
	Email        string
	FullName     string
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

// accountRepo keeps accounts in memory, keyed by normalised email.
type accountRepo struct {
	lock        sync.RWMutex
	byEmail     map[string]*Account
	byID        map[string]*Account
	resetTokens map[string]string
}

func newAccountRepo() *accountRepo {
	return &accountRepo{
		byEmail:     make(map[string]*Account),
		byID:        make(map[string]*Account),
		resetTokens: make(map[string]string),
	}
}

func normaliseEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Create stores a new account for email with an already hashed password.
func (r *accountRepo) Create(email, fullName, passwordHash string, now time.Time) (*Account, error) {
	key := normaliseEmail(email)
	r.lock.Lock()
	defer r.lock.Unlock()

	if _, exists := r.byEmail[key]; exists {
		return nil, ErrAccountExists
	}
	local, _, _ := strings.Cut(key, "@")
	account := &Account{
		ID:           uuid.New().String(),
		Email:        key,
		FullName:     strings.TrimSpace(fullName),
		Username:     local,
		PasswordHash: passwordHash,
		CreatedAt:    now,
	}
	r.byEmail[key] = account
	r.byID[account.ID] = account
	c := *account
	return &c, nil
}

func (r *accountRepo) ByEmail(email string) (*Account, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	account, ok := r.byEmail[normaliseEmail(email)]
	if !ok {
		return nil, ErrAccountNotFound
	}
	c := *account
	return &c, nil
}

func (r *accountRepo) ByID(id string) (*Account, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	account, ok := r.byID[id]
	if !ok {
		return nil, ErrAccountNotFound
	}
	c := *account
	return &c, nil
}

func (r *accountRepo) SetPasswordHash(id, hash string) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	account, ok := r.byID[id]
	if !ok {
		return ErrAccountNotFound
	}
	account.PasswordHash = hash
	return nil
}

// IssueResetToken replaces any outstanding reset token for the account.
func (r *accountRepo) IssueResetToken(email string) (string, error) {
	key := normaliseEmail(email)
	r.lock.Lock()
	defer r.lock.Unlock()
	if _, ok := r.byEmail[key]; !ok {
		return "", ErrAccountNotFound
	}
	token := uuid.New().String()
	r.resetTokens[key] = token
	return token, nil
}

// ResetToken returns the outstanding reset token for email, or "".
func (r *accountRepo) ResetToken(email string) string {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return r.resetTokens[normaliseEmail(email)]
}

// ConsumeResetToken reports whether token is the outstanding token for email
// and, when it is, invalidates it.
func (r *accountRepo) ConsumeResetToken(email, token string) bool {
	key := normaliseEmail(email)
	r.lock.Lock()
	defer r.lock.Unlock()
	if token == "" || r.resetTokens[key] != token {
		return false
	}
	delete(r.resetTokens, key)
	return true
}

func ValidatePasswordStrength(password string) error {
	if len(password) < 8 {
		return fmt.Errorf("password must be at least 8 characters long")
	}

	var (
		hasUpper  bool
		hasLower  bool
		hasNumber bool
	)

	for _, char := range password {
		switch {
		case unicode.IsUpper(char):
			hasUpper = true
		case unicode.IsLower(char):
			hasLower = true
		case unicode.IsDigit(char):
			hasNumber = true
		}
	}

	if !hasUpper {
		return fmt.Errorf("password must contain at least one uppercase letter")
	}
	if !hasLower {
		return fmt.Errorf("password must contain at least one lowercase letter")
	}
	if !hasNumber {
		return fmt.Errorf("password must contain at least one number")
	}
	return nil
}

func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(bytes), err
}

func CheckPasswordHash(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
