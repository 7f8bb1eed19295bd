// Package auth talks to the external authentication service and keeps the
// session token of each workspace.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/woozymasta/mapnote/internal/config"

	"github.com/tidwall/gjson"
)

// ErrNoToken is returned when a successful login response carries no token.
var ErrNoToken = errors.New("login response has no token")

// Error is a non-2xx answer of the authentication service.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("auth service: status %d", e.Status)
	}
	return fmt.Sprintf("auth service: status %d: %s", e.Status, e.Message)
}

// Credentials are sent on login.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Registration is sent on register.
type Registration struct {
	Username        string `json:"username"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
}

// Authenticator is the remote side of a Session.
type Authenticator interface {
	Login(ctx context.Context, creds Credentials) (string, error)
	Register(ctx context.Context, reg Registration) error
	Logout(ctx context.Context, token string) error
}

// Client is the HTTP client of the authentication service.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the service rooted at cfg.URL.
func NewClient(cfg config.Auth) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.URL, "/"),
		http:    &http.Client{Timeout: cfg.Timeout},
	}
}

// Login exchanges credentials for a session token.
func (c *Client) Login(ctx context.Context, creds Credentials) (string, error) {
	body, err := c.post(ctx, "/auth/login", "", creds)
	if err != nil {
		return "", err
	}

	token := gjson.GetBytes(body, "token").String()
	if token == "" {
		return "", ErrNoToken
	}
	return token, nil
}

// Register creates a new account.
func (c *Client) Register(ctx context.Context, reg Registration) error {
	_, err := c.post(ctx, "/auth/register", "", reg)
	return err
}

// Logout ends the session identified by token.
func (c *Client) Logout(ctx context.Context, token string) error {
	_, err := c.post(ctx, "/auth/logout", token, struct{}{})
	return err
}

func (c *Client) post(ctx context.Context, path, token string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &Error{Status: resp.StatusCode, Message: gjson.GetBytes(body, "message").String()}
	}

	return body, nil
}
