package credstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Session is the raw session issued by the credential provider. Immutable
// once issued; destroyed on sign-out or expiry.
type Session struct {
	AccessToken string    `json:"access_token"`
	SubjectID   string    `json:"subject_id"`
	Email       string    `json:"email,omitempty"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Subject is the authoritative account record held by the credential provider
type Subject struct {
	ID          string            `json:"id"`
	Email       string            `json:"email"`
	ConfirmedAt *time.Time        `json:"confirmed_at,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Client talks to the external credential provider's REST API. The provider
// owns password hashing, email confirmation and session issuance; this client
// is a thin adapter and treats the provider as authoritative.
type Client struct {
	baseURL    string
	apiKey     string
	serviceKey string
	httpClient *http.Client
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient overrides the HTTP client (used in tests)
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient creates a credential provider client. apiKey authenticates
// ordinary calls; serviceKey authenticates admin-surface calls and must
// never be exposed to end users.
func NewClient(baseURL, apiKey, serviceKey string, opts ...Option) *Client {
	c := &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		serviceKey: serviceKey,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetSession validates a session token with the provider. Returns (nil, nil)
// when the token is empty, expired or revoked: absence of a login is a normal
// state, not an error.
func (c *Client) GetSession(ctx context.Context, token string) (*Session, error) {
	if token == "" {
		return nil, nil
	}

	resp, err := c.do(ctx, http.MethodGet, "/session", token, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch session: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		// fall through to decode
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		return nil, nil
	default:
		return nil, fmt.Errorf("provider returned status %d for session fetch", resp.StatusCode)
	}

	var session Session
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	session.AccessToken = token

	if !session.ExpiresAt.IsZero() && time.Now().After(session.ExpiresAt) {
		return nil, nil
	}

	return &session, nil
}

// GetSubject fetches the authoritative subject record for a session token.
// Unlike GetSession, any failure here is an error: the session claimed a
// subject that the provider cannot confirm (revoked account, drifted state).
func (c *Client) GetSubject(ctx context.Context, token string) (*Subject, error) {
	resp, err := c.do(ctx, http.MethodGet, "/user", token, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch subject: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("provider returned status %d for subject fetch", resp.StatusCode)
	}

	var subject Subject
	if err := json.NewDecoder(resp.Body).Decode(&subject); err != nil {
		return nil, fmt.Errorf("failed to decode subject: %w", err)
	}

	return &subject, nil
}

// SignIn exchanges credentials for a session
func (c *Client) SignIn(ctx context.Context, email, password string) (*Session, error) {
	body := map[string]string{"email": email, "password": password}
	resp, err := c.do(ctx, http.MethodPost, "/signin", "", body)
	if err != nil {
		return nil, fmt.Errorf("sign-in request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("sign-in rejected with status %d: %s", resp.StatusCode, readErrorBody(resp.Body))
	}

	var session Session
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}

	return &session, nil
}

// SignUp registers a new subject. The provider sends the confirmation email
// with redirectTarget as the post-confirmation destination.
func (c *Client) SignUp(ctx context.Context, email, password, redirectTarget string) (*Subject, error) {
	body := map[string]string{
		"email":           email,
		"password":        password,
		"redirect_target": redirectTarget,
	}
	resp, err := c.do(ctx, http.MethodPost, "/signup", "", body)
	if err != nil {
		return nil, fmt.Errorf("sign-up request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("sign-up rejected with status %d: %s", resp.StatusCode, readErrorBody(resp.Body))
	}

	var subject Subject
	if err := json.NewDecoder(resp.Body).Decode(&subject); err != nil {
		return nil, fmt.Errorf("failed to decode subject: %w", err)
	}
	if subject.ID == "" {
		return nil, fmt.Errorf("sign-up returned no subject")
	}

	return &subject, nil
}

// SignOut destroys the session behind the token
func (c *Client) SignOut(ctx context.Context, token string) error {
	resp, err := c.do(ctx, http.MethodPost, "/signout", token, nil)
	if err != nil {
		return fmt.Errorf("sign-out request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("sign-out rejected with status %d", resp.StatusCode)
	}

	return nil
}

// UpdateMetadata updates the free-form metadata map on the subject record
func (c *Client) UpdateMetadata(ctx context.Context, token string, metadata map[string]string) error {
	body := map[string]interface{}{"metadata": metadata}
	resp, err := c.do(ctx, http.MethodPut, "/user/metadata", token, body)
	if err != nil {
		return fmt.Errorf("metadata update failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("metadata update rejected with status %d", resp.StatusCode)
	}

	return nil
}

// AdminGetSubject fetches any subject by id using the service key. Used by
// the admin verification listing to enrich applications with emails.
func (c *Client) AdminGetSubject(ctx context.Context, subjectID string) (*Subject, error) {
	resp, err := c.do(ctx, http.MethodGet, "/admin/users/"+subjectID, c.serviceKey, nil)
	if err != nil {
		return nil, fmt.Errorf("admin subject fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("provider returned status %d for admin subject fetch", resp.StatusCode)
	}

	var subject Subject
	if err := json.NewDecoder(resp.Body).Decode(&subject); err != nil {
		return nil, fmt.Errorf("failed to decode subject: %w", err)
	}

	return &subject, nil
}

func (c *Client) do(ctx context.Context, method, path, token string, body interface{}) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	req.Header.Set("X-Api-Key", c.apiKey)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}

func readErrorBody(r io.Reader) string {
	var parsed struct {
		Error string `json:"error"`
	}
	data, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil {
		return "unreadable error body"
	}
	if json.Unmarshal(data, &parsed) == nil && parsed.Error != "" {
		return parsed.Error
	}
	return string(data)
}
