package session

import (
	"context"
	"crypto/subtle"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"
)

// Authenticator checks the single admin account configured for the store.
type Authenticator struct {
	email        string
	passwordHash []byte
	manager      *Manager
}

func NewAuthenticator(email, passwordHash string, manager *Manager) *Authenticator {
	return &Authenticator{
		email:        strings.ToLower(strings.TrimSpace(email)),
		passwordHash: []byte(passwordHash),
		manager:      manager,
	}
}

// Enabled reports whether admin credentials are configured.
func (a *Authenticator) Enabled() bool {
	return a.email != "" && len(a.passwordHash) > 0 && a.manager != nil
}

// Login returns a signed admin token when email and password match.
func (a *Authenticator) Login(_ context.Context, email, password string) (string, time.Time, error) {
	if !a.Enabled() {
		log.Warn().Msg("session: admin login attempted but no admin account is configured")
		return "", time.Time{}, ErrInvalidCredentials
	}

	email = strings.ToLower(strings.TrimSpace(email))
	emailOK := subtle.ConstantTimeCompare([]byte(email), []byte(a.email)) == 1
	passwordErr := bcrypt.CompareHashAndPassword(a.passwordHash, []byte(password))
	if !emailOK || passwordErr != nil {
		log.Warn().Str("email", email).Msg("session: failed admin login")
		return "", time.Time{}, ErrInvalidCredentials
	}

	token, expiresAt, err := a.manager.Issue(a.email, RoleAdmin)
	if err != nil {
		log.Error().Err(err).Msg("session: failed to sign admin token")
		return "", time.Time{}, err
	}
	log.Info().Str("email", a.email).Time("expires_at", expiresAt).Msg("session: admin logged in")
	return token, expiresAt, nil
}
