package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/isikmuhamm/secure-industrial-messaging-platform/internal/models"
)

// ErrUnauthorized is returned when the server rejects the supplied credentials.
var ErrUnauthorized = errors.New("invalid credentials")

// APIError carries the server's error body so forms can surface the detail
// string exactly as returned.
type APIError struct {
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return e.Detail
	}
	return fmt.Sprintf("request failed with status %d", e.StatusCode)
}

// Client is a bearer-authenticated client for the messaging REST API.
type Client struct {
	baseURL string
	http    *http.Client
	logger  zerolog.Logger
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		logger:  log.With().Str("component", "api").Logger(),
	}
}

// Register creates a new account. A non-2xx response is returned as an
// APIError whose Detail is the server's own message (e.g. "username taken").
func (c *Client) Register(ctx context.Context, username, password string) error {
	body, err := json.Marshal(models.RegisterRequest{Username: username, Password: password})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/users/", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Error().Err(err).Msg("register request failed")
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.decodeError(resp)
	}
	return nil
}

// Login exchanges credentials for an access token. The endpoint takes a
// form-encoded body (OAuth2 password flow on the server side).
func (c *Client) Login(ctx context.Context, username, password string) (*models.LoginResponse, error) {
	form := url.Values{}
	form.Set("username", username)
	form.Set("password", password)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/token", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Error().Err(err).Msg("login request failed")
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnauthorized {
		return nil, ErrUnauthorized
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, c.decodeError(resp)
	}

	var login models.LoginResponse
	if err := json.NewDecoder(resp.Body).Decode(&login); err != nil {
		return nil, fmt.Errorf("decode login response: %w", err)
	}
	if login.Username == "" {
		login.Username = username
	}
	return &login, nil
}

// Users fetches all registered users.
func (c *Client) Users(ctx context.Context, token string) ([]models.User, error) {
	var users []models.User
	if err := c.getJSON(ctx, "/users/", token, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// ChatUsers fetches the users the given user already has history with.
func (c *Client) ChatUsers(ctx context.Context, token string, userID int64) ([]models.User, error) {
	path := "/users/chat/?user_id=" + strconv.FormatInt(userID, 10)
	var users []models.User
	if err := c.getJSON(ctx, path, token, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// OnlineUsers fetches the currently connected users.
func (c *Client) OnlineUsers(ctx context.Context, token string) ([]models.User, error) {
	var users []models.User
	if err := c.getJSON(ctx, "/online-users/", token, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// Messages fetches the persisted history between two users.
func (c *Client) Messages(ctx context.Context, token string, userID, targetUserID int64) ([]models.Message, error) {
	path := fmt.Sprintf("/messages/?user_id=%d&target_user_id=%d", userID, targetUserID)
	var out models.MessagesResponse
	if err := c.getJSON(ctx, path, token, &out); err != nil {
		return nil, err
	}
	return out.Messages, nil
}

func (c *Client) getJSON(ctx context.Context, path, token string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Error().Err(err).Str("path", path).Msg("request failed")
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	if resp.StatusCode != http.StatusOK {
		return c.decodeError(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response for %s: %w", path, err)
	}
	return nil
}

func (c *Client) decodeError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err == nil {
		var e models.ErrorResponse
		if json.Unmarshal(body, &e) == nil && e.Detail != "" {
			apiErr.Detail = e.Detail
		}
	}
	c.logger.Warn().Int("status", resp.StatusCode).Str("detail", apiErr.Detail).Msg("api error")
	return apiErr
}
