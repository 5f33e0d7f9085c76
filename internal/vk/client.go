// Package vk is a raw HTTP client for the VK messages API and its long-poll
// event stream. It owns the transport-level retry policy: connectivity
// failures are retried with exponential backoff and never surfaced to
// callers, while API and contract errors are returned for the caller to
// classify.
package vk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/limmweb/vk-messager/internal/backoff"
)

const (
	// DefaultBaseURL is the VK API method endpoint.
	DefaultBaseURL = "https://api.vk.com/method"

	// DefaultAPIVersion is the API version every call pins.
	DefaultAPIVersion = "5.131"

	// DefaultLongPollWait is the server-side long-poll hold in seconds.
	DefaultLongPollWait = 25

	// PeerChatOffset separates multi-member chat peers from direct peers.
	PeerChatOffset = 2_000_000_000
)

// Config holds configuration for the VK client.
type Config struct {
	// Token is the account access token (required).
	Token string

	// GroupID is the community identifier for group sessions; zero means a
	// personal account.
	GroupID int64

	// BaseURL overrides the API endpoint. Used in tests.
	BaseURL string

	// APIVersion pins the API version. Defaults to DefaultAPIVersion.
	APIVersion string

	// LongPollWait is the long-poll hold in seconds. Defaults to 25.
	LongPollWait int

	// Backoff is the connectivity retry curve. Defaults to backoff.DefaultPolicy.
	Backoff backoff.Policy

	// Sleeper is the wait implementation for retries. Defaults to the wall
	// clock; tests inject a no-op.
	Sleeper backoff.Sleeper

	// HTTPClient is the underlying HTTP client. The default timeout must
	// exceed the long-poll wait or every fetch would time out mid-hold.
	HTTPClient *http.Client

	// Logger is an optional slog.Logger instance.
	Logger *slog.Logger
}

// Validate checks the configuration and applies defaults.
func (c *Config) Validate() error {
	if c.Token == "" {
		return errors.New("vk: token is required")
	}
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.APIVersion == "" {
		c.APIVersion = DefaultAPIVersion
	}
	if c.LongPollWait <= 0 {
		c.LongPollWait = DefaultLongPollWait
	}
	if c.Backoff == (backoff.Policy{}) {
		c.Backoff = backoff.DefaultPolicy()
	}
	if c.Sleeper == nil {
		c.Sleeper = backoff.RealSleeper()
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{
			Timeout: time.Duration(c.LongPollWait+15) * time.Second,
		}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}

// Client calls the VK API on behalf of one account. It is safe for concurrent
// use; the presence keeper and the event loop share a single instance.
type Client struct {
	config Config
	logger *slog.Logger
}

// NewClient creates a VK client from the configuration.
func NewClient(config Config) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Client{
		config: config,
		logger: config.Logger.With("component", "vk"),
	}, nil
}

// call performs a single API method invocation. Connectivity failures come
// back as *ConnectivityError, API rejections as *APIError, and undecodable
// bodies wrapped in ErrMalformedResponse.
func (c *Client) call(ctx context.Context, method string, params url.Values, out any) error {
	form := url.Values{}
	for key, values := range params {
		form[key] = values
	}
	form.Set("access_token", c.config.Token)
	form.Set("v", c.config.APIVersion)

	endpoint := c.config.BaseURL + "/" + method
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("vk: build request for %s: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.config.HTTPClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &ConnectivityError{Op: method, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return &ConnectivityError{Op: method, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s returned status %d", ErrMalformedResponse, method, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &ConnectivityError{Op: method, Err: err}
	}

	var envelope struct {
		Response json.RawMessage `json:"response"`
		Error    *APIError       `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedResponse, method, err)
	}
	if envelope.Error != nil {
		return envelope.Error
	}
	if out != nil {
		if envelope.Response == nil {
			return fmt.Errorf("%w: %s: empty response", ErrMalformedResponse, method)
		}
		if err := json.Unmarshal(envelope.Response, out); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrMalformedResponse, method, err)
		}
	}
	return nil
}

// callRetry invokes call, retrying connectivity failures and temporary API
// faults (rate limit, internal error) indefinitely with exponential backoff.
// The attempt counter is local to the invocation, so a success resets the
// curve for the next caller. Permanent API and contract errors return
// immediately.
func (c *Client) callRetry(ctx context.Context, method string, params url.Values, out any) error {
	state := backoff.NewState(c.config.Backoff)
	for {
		err := c.call(ctx, method, params, out)
		if err == nil || !retryable(err) {
			return err
		}

		wait := state.Next()
		c.logger.Warn("transient failure, backing off",
			"method", method,
			"attempt", state.Attempt(),
			"wait", wait,
			"error", err)
		if err := c.config.Sleeper.Sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// groupParams adds the community identifier to params for group sessions.
func (c *Client) groupParams(params url.Values) url.Values {
	if c.config.GroupID != 0 {
		params.Set("group_id", strconv.FormatInt(c.config.GroupID, 10))
	}
	return params
}

type userRecord struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// Identity resolves the account the token belongs to: the community for group
// sessions, otherwise the token owner. Group identities are negated so they
// never collide with user identifiers.
func (c *Client) Identity(ctx context.Context) (Identity, error) {
	if c.config.GroupID != 0 {
		name, _, err := c.GroupInfo(ctx, c.config.GroupID)
		if err != nil {
			return Identity{}, err
		}
		return Identity{ID: -c.config.GroupID, Name: name, Group: true}, nil
	}

	var users []userRecord
	params := url.Values{}
	params.Set("fields", "first_name,last_name")
	if err := c.callRetry(ctx, "users.get", params, &users); err != nil {
		return Identity{}, err
	}
	if len(users) == 0 {
		return Identity{}, fmt.Errorf("%w: users.get returned no records", ErrMalformedResponse)
	}
	name := strings.TrimSpace(users[0].FirstName + " " + users[0].LastName)
	return Identity{ID: users[0].ID, Name: name}, nil
}

// GroupInfo fetches a community's name and bounded description.
func (c *Client) GroupInfo(ctx context.Context, groupID int64) (name, description string, err error) {
	var groups []struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	params := url.Values{}
	params.Set("group_id", strconv.FormatInt(groupID, 10))
	params.Set("fields", "description")
	if err := c.callRetry(ctx, "groups.getById", params, &groups); err != nil {
		return "", "", err
	}
	if len(groups) == 0 {
		return "", "", fmt.Errorf("%w: groups.getById returned no records", ErrMalformedResponse)
	}
	return groups[0].Name, Truncate(groups[0].Description, maxFieldRunes), nil
}

// UserName resolves a user's display name for logs and audit rows.
func (c *Client) UserName(ctx context.Context, userID int64) (string, error) {
	var users []userRecord
	params := url.Values{}
	params.Set("user_ids", strconv.FormatInt(userID, 10))
	params.Set("fields", "first_name,last_name")
	if err := c.callRetry(ctx, "users.get", params, &users); err != nil {
		return "", err
	}
	if len(users) == 0 {
		return "", fmt.Errorf("%w: users.get returned no records for %d", ErrMalformedResponse, userID)
	}
	return strings.TrimSpace(users[0].FirstName + " " + users[0].LastName), nil
}

// Profile fetches a partner's full attribute record.
func (c *Client) Profile(ctx context.Context, userID int64) (*Profile, error) {
	var profiles []Profile
	params := url.Values{}
	params.Set("user_ids", strconv.FormatInt(userID, 10))
	params.Set("fields", ProfileFields)
	if err := c.callRetry(ctx, "users.get", params, &profiles); err != nil {
		return nil, err
	}
	if len(profiles) == 0 {
		return nil, fmt.Errorf("%w: users.get returned no profile for %d", ErrMalformedResponse, userID)
	}
	return &profiles[0], nil
}

// History fetches up to count recent messages for the conversation. Order is
// whatever the server returns; callers re-sort by timestamp.
func (c *Client) History(ctx context.Context, peerID int64, count int) ([]HistoryMessage, error) {
	var response struct {
		Items []HistoryMessage `json:"items"`
	}
	params := url.Values{}
	params.Set("peer_id", strconv.FormatInt(peerID, 10))
	params.Set("count", strconv.Itoa(count))
	if err := c.callRetry(ctx, "messages.getHistory", c.groupParams(params), &response); err != nil {
		return nil, err
	}
	return response.Items, nil
}

// ChatMembers lists the member identifiers of a multi-member chat peer.
func (c *Client) ChatMembers(ctx context.Context, peerID int64) ([]int64, error) {
	var response struct {
		Members []struct {
			MemberID int64 `json:"member_id"`
		} `json:"members"`
	}
	params := url.Values{}
	params.Set("chat_id", strconv.FormatInt(peerID-PeerChatOffset, 10))
	params.Set("fields", "members")
	if err := c.callRetry(ctx, "messages.getChat", params, &response); err != nil {
		return nil, err
	}
	members := make([]int64, 0, len(response.Members))
	for _, m := range response.Members {
		members = append(members, m.MemberID)
	}
	return members, nil
}

// Send delivers one message to the peer. It performs a single attempt; the
// dispatcher owns the bounded retry policy for outbound sends.
func (c *Client) Send(ctx context.Context, peerID int64, text string, randomID int64) error {
	params := url.Values{}
	params.Set("peer_id", strconv.FormatInt(peerID, 10))
	params.Set("message", text)
	params.Set("random_id", strconv.FormatInt(randomID, 10))
	return c.call(ctx, "messages.send", c.groupParams(params), nil)
}

// SetTyping emits a typing indicator for the peer. The signal lasts several
// seconds server-side, so the dispatcher re-emits it on a fixed cadence.
func (c *Client) SetTyping(ctx context.Context, peerID int64) error {
	params := url.Values{}
	params.Set("peer_id", strconv.FormatInt(peerID, 10))
	params.Set("type", "typing")
	return c.call(ctx, "messages.setActivity", params, nil)
}

// SetOnline marks the account as online. Used by the presence keeper only.
func (c *Client) SetOnline(ctx context.Context) error {
	return c.call(ctx, "account.setOnline", url.Values{}, nil)
}
