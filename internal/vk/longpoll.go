package vk

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/limmweb/vk-messager/internal/backoff"
)

// AcquireCursor requests a fresh long-poll cursor from the server. It
// performs a single classified attempt: the supervisory loop owns the retry
// policy for cursor refresh, with an attempt counter independent from the
// fetch path.
func (c *Client) AcquireCursor(ctx context.Context) (Cursor, error) {
	var response struct {
		Server string `json:"server"`
		Key    string `json:"key"`
		TS     int64  `json:"ts"`
	}
	if err := c.call(ctx, "messages.getLongPollServer", c.groupParams(url.Values{}), &response); err != nil {
		return Cursor{}, err
	}
	if response.Server == "" || response.Key == "" {
		return Cursor{}, fmt.Errorf("%w: getLongPollServer returned empty cursor", ErrMalformedResponse)
	}

	server := response.Server
	if !strings.HasPrefix(server, "http://") && !strings.HasPrefix(server, "https://") {
		server = "https://" + server
	}
	return Cursor{Server: server, Key: response.Key, TS: response.TS}, nil
}

// FetchBatch blocks until the server delivers a batch of updates, the wait
// window elapses (empty batch), or the cursor expires. Connectivity failures
// are retried indefinitely with exponential backoff and never returned; the
// attempt counter resets on the first successful fetch. The returned cursor
// carries the advanced sequence token and replaces the argument wholesale.
//
// ErrCursorExpired is expected control flow: the caller must acquire a fresh
// cursor and accept that events before the expiry are gone.
func (c *Client) FetchBatch(ctx context.Context, cursor Cursor) (Batch, Cursor, error) {
	state := backoff.NewState(c.config.Backoff)
	for {
		batch, next, err := c.fetchOnce(ctx, cursor)
		if err == nil || !IsConnectivity(err) {
			return batch, next, err
		}

		wait := state.Next()
		c.logger.Warn("long poll connection failure, backing off",
			"attempt", state.Attempt(),
			"wait", wait,
			"error", err)
		if err := c.config.Sleeper.Sleep(ctx, wait); err != nil {
			return Batch{}, cursor, err
		}
	}
}

func (c *Client) fetchOnce(ctx context.Context, cursor Cursor) (Batch, Cursor, error) {
	query := url.Values{}
	query.Set("act", "a_check")
	query.Set("key", cursor.Key)
	query.Set("ts", strconv.FormatInt(cursor.TS, 10))
	query.Set("wait", strconv.Itoa(c.config.LongPollWait))
	query.Set("mode", "2")
	query.Set("version", "3")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cursor.Server+"?"+query.Encode(), nil)
	if err != nil {
		return Batch{}, cursor, fmt.Errorf("vk: build long poll request: %w", err)
	}

	resp, err := c.config.HTTPClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return Batch{}, cursor, ctx.Err()
		}
		return Batch{}, cursor, &ConnectivityError{Op: "longpoll", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return Batch{}, cursor, &ConnectivityError{Op: "longpoll", Err: fmt.Errorf("status %d", resp.StatusCode)}
	}
	if resp.StatusCode != http.StatusOK {
		return Batch{}, cursor, fmt.Errorf("%w: long poll returned status %d", ErrMalformedResponse, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Batch{}, cursor, &ConnectivityError{Op: "longpoll", Err: err}
	}

	var response struct {
		Failed  int      `json:"failed"`
		TS      int64    `json:"ts"`
		Updates []Update `json:"updates"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return Batch{}, cursor, fmt.Errorf("%w: long poll body: %v", ErrMalformedResponse, err)
	}

	if response.Failed != 0 {
		c.logger.Info("long poll cursor rejected", "failed", response.Failed)
		return Batch{}, cursor, ErrCursorExpired
	}

	next := Cursor{Server: cursor.Server, Key: cursor.Key, TS: response.TS}
	return Batch{Updates: response.Updates}, next, nil
}
