package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
)

// UnknownErrorText is returned by AddBan when the response carries no message
const UnknownErrorText = "Unknown error"

// BanBackend describes the fixed endpoints of one ban-list API
type BanBackend struct {
	Name       string
	BaseURL    string
	AddPath    string
	GetPath    string
	DeletePath string
	ListPath   string

	// GetUsesQuery sends the lookup user_id as a query parameter instead of a JSON body
	GetUsesQuery bool

	// Namespace is the envelope key AddBan looks in first for the message
	Namespace string
}

var (
	SibylBackend = BanBackend{
		Name:       "sibyl",
		BaseURL:    "https://randydev-ryuzaki-api.hf.space/ryuzaki",
		AddPath:    "/sibylban",
		GetPath:    "/sibyl",
		DeletePath: "/sibyldel",
		ListPath:   "/getbanlist",
		Namespace:  "randydev",
	}

	UFoPBackend = BanBackend{
		Name:         "ufop",
		BaseURL:      "https://ufoptg-ufop-api.hf.space/UFoP",
		AddPath:      "/banner",
		GetPath:      "/bans",
		DeletePath:   "/bandel",
		ListPath:     "/getbanlist",
		GetUsesQuery: true,
		Namespace:    "randydev",
	}
)

type banRequest struct {
	UserID int64   `json:"user_id"`
	Reason *string `json:"reason,omitempty"`
}

// BanClient maps ban-list operations onto one backend's endpoints.
// Destructive and lookup calls require an explicit confirmation flag.
type BanClient struct {
	backend BanBackend
	apiKey  string
	invoker Invoker
	logger  *slog.Logger
}

// NewBanClient creates a client for backend
func NewBanClient(backend BanBackend, apiKey string, invoker Invoker, logger *slog.Logger) *BanClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &BanClient{
		backend: backend,
		apiKey:  apiKey,
		invoker: invoker,
		logger:  logger.With("backend", backend.Name),
	}
}

// NewSibylBan creates a client for the sibyl ban list
func NewSibylBan(apiKey string, invoker Invoker, logger *slog.Logger) *BanClient {
	return NewBanClient(SibylBackend, apiKey, invoker, logger)
}

// NewUFoPBan creates a client for the UFoP ban list
func NewUFoPBan(apiKey string, invoker Invoker, logger *slog.Logger) *BanClient {
	return NewBanClient(UFoPBackend, apiKey, invoker, logger)
}

// Name returns the backend name
func (c *BanClient) Name() string {
	return c.backend.Name
}

func (c *BanClient) call(ctx context.Context, method, path string, query url.Values, body any) (json.RawMessage, error) {
	req := &Request{
		Method: method,
		URL:    c.backend.BaseURL + path,
		Headers: map[string]string{
			"accept":  "application/json",
			"api-key": c.apiKey,
		},
		Query: query,
	}
	if body != nil {
		req.JSON = body
	}

	resp, err := c.invoker.Do(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%s %s failed: %w", c.backend.Name, path, err)
	}
	if !json.Valid(resp.Body) {
		return nil, fmt.Errorf("%s %s returned non-JSON response (status %d)", c.backend.Name, path, resp.StatusCode)
	}
	return json.RawMessage(resp.Body), nil
}

// AddBan bans userID and returns the service's message
func (c *BanClient) AddBan(ctx context.Context, userID int64, reason string, isBanned bool) (string, error) {
	if !isBanned {
		return "", &ArgumentError{Flag: "is_banned"}
	}

	req := banRequest{UserID: userID}
	if reason != "" {
		req.Reason = &reason
	}
	raw, err := c.call(ctx, http.MethodPost, c.backend.AddPath, nil, req)
	if err != nil {
		return "", err
	}

	message := c.unwrapMessage(raw)
	c.logger.Info("Ban added", "user_id", userID, "message", message)
	return message, nil
}

// unwrapMessage prefers {<namespace>: {message}}, then a top-level message
func (c *BanClient) unwrapMessage(raw json.RawMessage) string {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return UnknownErrorText
	}

	if nested, ok := envelope[c.backend.Namespace]; ok {
		var inner map[string]json.RawMessage
		if json.Unmarshal(nested, &inner) == nil {
			if message, ok := inner["message"]; ok {
				return messageText(message)
			}
		}
	}
	if message, ok := envelope["message"]; ok {
		return messageText(message)
	}
	return UnknownErrorText
}

// messageText renders a JSON string unquoted and anything else verbatim
func messageText(raw json.RawMessage) string {
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text
	}
	return string(raw)
}

// GetBan looks up userID
func (c *BanClient) GetBan(ctx context.Context, userID int64, banlist bool) (json.RawMessage, error) {
	if !banlist {
		return nil, &ArgumentError{Flag: "banlist"}
	}

	if c.backend.GetUsesQuery {
		query := url.Values{"user_id": {strconv.FormatInt(userID, 10)}}
		return c.call(ctx, http.MethodGet, c.backend.GetPath, query, nil)
	}
	return c.call(ctx, http.MethodGet, c.backend.GetPath, nil, banRequest{UserID: userID})
}

// UnbanDelete removes userID from the ban list
func (c *BanClient) UnbanDelete(ctx context.Context, userID int64, delete bool) (json.RawMessage, error) {
	if !delete {
		return nil, &ArgumentError{Flag: "delete"}
	}

	raw, err := c.call(ctx, http.MethodDelete, c.backend.DeletePath, nil, banRequest{UserID: userID})
	if err != nil {
		return nil, err
	}
	c.logger.Info("Ban removed", "user_id", userID)
	return raw, nil
}

// GetAllBanlist returns the full ban list
func (c *BanClient) GetAllBanlist(ctx context.Context) (json.RawMessage, error) {
	return c.call(ctx, http.MethodGet, c.backend.ListPath, nil, nil)
}
