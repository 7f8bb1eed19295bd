package auth

import (
	"context"
	"errors"

	"github.com/woozymasta/mapnote/internal/metrics"

	"github.com/rs/zerolog"
)

// ErrPasswordMismatch is returned when the confirmation differs from the password.
var ErrPasswordMismatch = errors.New("password and confirmation do not match")

// Notice levels.
const (
	LevelSuccess = "success"
	LevelError   = "error"
)

// User facing messages.
const (
	MsgLoginOK        = "Login successful!"
	MsgRegisterOK     = "Registration successful! Please log in."
	MsgMismatch       = "Password and confirmation do not match!"
	MsgLogoutOK       = "Logout successful!"
	MsgLogoutFailed   = "Logout failed. Please try again."
	MsgLogoutError    = "An error occurred while logging out."
	MsgGenericFailure = "Something went wrong, please try again later."
)

// Notice is a transient message for the user.
type Notice struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// Outcome is the result of an authentication flow: a notice and an
// optional route to navigate to.
type Outcome struct {
	Notice   Notice `json:"notice"`
	Navigate string `json:"navigate,omitempty"`
	Err      error  `json:"-"`
}

// OK reports whether the flow succeeded.
func (o Outcome) OK() bool { return o.Err == nil }

// Session runs the login, register and logout flows for a workspace.
type Session struct {
	auth   Authenticator
	tokens TokenStore
	log    zerolog.Logger
}

// NewSession creates the flows on top of an authenticator and token store.
func NewSession(a Authenticator, tokens TokenStore, logger zerolog.Logger) *Session {
	return &Session{auth: a, tokens: tokens, log: logger}
}

// Token returns the stored session token of scope.
func (s *Session) Token(ctx context.Context, scope string) (string, bool) {
	t, ok, err := s.tokens.Get(ctx, scope)
	if err != nil {
		s.log.Error().Err(err).Str("scope", scope).Msg("Token store read failed")
		return "", false
	}
	return t, ok
}

// Login authenticates and stores the token under scope. On failure nothing
// is stored and no navigation happens.
func (s *Session) Login(ctx context.Context, scope string, creds Credentials) Outcome {
	token, err := s.auth.Login(ctx, creds)
	if err != nil {
		metrics.AuthRequestsTotal.WithLabelValues("login", "fail").Inc()
		s.log.Warn().Err(err).Str("scope", scope).Str("username", creds.Username).Msg("Login failed")
		return failure(err, upstreamMessage(err, MsgGenericFailure))
	}

	if err := s.tokens.Set(ctx, scope, token); err != nil {
		metrics.AuthRequestsTotal.WithLabelValues("login", "fail").Inc()
		s.log.Error().Err(err).Str("scope", scope).Msg("Token store write failed")
		return failure(err, MsgGenericFailure)
	}

	metrics.AuthRequestsTotal.WithLabelValues("login", "ok").Inc()
	s.log.Info().Str("scope", scope).Str("username", creds.Username).Msg("Login succeeded")
	return Outcome{Notice: Notice{Level: LevelSuccess, Message: MsgLoginOK}, Navigate: "/"}
}

// Register creates an account. A confirmation mismatch is rejected without
// contacting the service.
func (s *Session) Register(ctx context.Context, reg Registration) Outcome {
	if reg.Password != reg.ConfirmPassword {
		metrics.AuthRequestsTotal.WithLabelValues("register", "mismatch").Inc()
		return failure(ErrPasswordMismatch, MsgMismatch)
	}

	if err := s.auth.Register(ctx, reg); err != nil {
		metrics.AuthRequestsTotal.WithLabelValues("register", "fail").Inc()
		s.log.Warn().Err(err).Str("username", reg.Username).Msg("Registration failed")
		return failure(err, upstreamMessage(err, MsgGenericFailure))
	}

	metrics.AuthRequestsTotal.WithLabelValues("register", "ok").Inc()
	s.log.Info().Str("username", reg.Username).Msg("Registration succeeded")
	return Outcome{Notice: Notice{Level: LevelSuccess, Message: MsgRegisterOK}, Navigate: "/login"}
}

// Logout ends the session of scope. The token is kept when the service
// rejects the request.
func (s *Session) Logout(ctx context.Context, scope string) Outcome {
	token, _ := s.Token(ctx, scope)

	if err := s.auth.Logout(ctx, token); err != nil {
		metrics.AuthRequestsTotal.WithLabelValues("logout", "fail").Inc()
		s.log.Warn().Err(err).Str("scope", scope).Msg("Logout failed")

		var authErr *Error
		if errors.As(err, &authErr) {
			return failure(err, MsgLogoutFailed)
		}
		return failure(err, MsgLogoutError)
	}

	if err := s.tokens.Delete(ctx, scope); err != nil {
		s.log.Error().Err(err).Str("scope", scope).Msg("Token store delete failed")
	}

	metrics.AuthRequestsTotal.WithLabelValues("logout", "ok").Inc()
	s.log.Info().Str("scope", scope).Msg("Logout succeeded")
	return Outcome{Notice: Notice{Level: LevelSuccess, Message: MsgLogoutOK}, Navigate: "/login"}
}

func failure(err error, msg string) Outcome {
	return Outcome{Notice: Notice{Level: LevelError, Message: msg}, Err: err}
}

// upstreamMessage returns the message of an *Error, or fallback for
// network and protocol errors.
func upstreamMessage(err error, fallback string) string {
	var authErr *Error
	if errors.As(err, &authErr) && authErr.Message != "" {
		return authErr.Message
	}
	return fallback
}

// Forget drops the token of scope without contacting the service.
func (s *Session) Forget(ctx context.Context, scope string) {
	if err := s.tokens.Delete(ctx, scope); err != nil {
		s.log.Error().Err(err).Str("scope", scope).Msg("Token store delete failed")
	}
}
