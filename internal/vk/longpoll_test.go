package vk

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/limmweb/vk-messager/internal/backoff"
)

// longPollClient serves the API on /messages.getLongPollServer and the poll
// endpoint on /poll, returning the client and the poll URL for direct cursors.
func longPollClient(t *testing.T, api, poll http.HandlerFunc) (*Client, string) {
	t.Helper()
	mux := http.NewServeMux()
	if api != nil {
		mux.HandleFunc("/messages.getLongPollServer", api)
	}
	if poll != nil {
		mux.HandleFunc("/poll", poll)
	}
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	client, err := NewClient(Config{
		Token:   "t",
		BaseURL: server.URL,
		Sleeper: backoff.NopSleeper(),
	})
	if err != nil {
		t.Fatal(err)
	}
	return client, server.URL + "/poll"
}

func TestAcquireCursor(t *testing.T) {
	client, _ := longPollClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"response": {"server": "im.vk.com/im123", "key": "abc", "ts": 10}}`))
	}, nil)

	cursor, err := client.AcquireCursor(context.Background())
	if err != nil {
		t.Fatalf("AcquireCursor() error = %v", err)
	}
	if cursor.Server != "https://im.vk.com/im123" {
		t.Errorf("Server = %q, want scheme prefixed", cursor.Server)
	}
	if cursor.Key != "abc" || cursor.TS != 10 {
		t.Errorf("cursor = %+v", cursor)
	}
}

func TestAcquireCursorRejectsEmpty(t *testing.T) {
	client, _ := longPollClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"response": {}}`))
	}, nil)

	_, err := client.AcquireCursor(context.Background())
	if !errors.Is(err, ErrMalformedResponse) {
		t.Errorf("AcquireCursor() error = %v, want ErrMalformedResponse", err)
	}
}

func TestFetchBatchAdvancesCursor(t *testing.T) {
	client, pollURL := longPollClient(t, nil, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("ts"); got != "10" {
			t.Errorf("ts = %q, want 10", got)
		}
		if got := r.URL.Query().Get("wait"); got != "25" {
			t.Errorf("wait = %q, want 25", got)
		}
		w.Write([]byte(`{"ts": 11, "updates": [[4, 100, 0, 55, 1700000000, "hello", {"from": "77"}], [8, 55]]}`))
	})

	batch, next, err := client.FetchBatch(context.Background(), Cursor{Server: pollURL, Key: "k", TS: 10})
	if err != nil {
		t.Fatalf("FetchBatch() error = %v", err)
	}
	if next.TS != 11 || next.Key != "k" {
		t.Errorf("next cursor = %+v", next)
	}
	if len(batch.Updates) != 2 {
		t.Fatalf("got %d updates, want 2", len(batch.Updates))
	}

	msg := batch.Updates[0]
	if !msg.IsMessage() {
		t.Error("first update should be a message")
	}
	if msg.MessageID != 100 || msg.PeerID != 55 || msg.Timestamp != 1700000000 || msg.Text != "hello" || msg.From != 77 {
		t.Errorf("message update = %+v", msg)
	}
	if batch.Updates[1].IsMessage() {
		t.Error("code 8 update should not be a message")
	}
}

func TestFetchBatchEmptyOnTimeout(t *testing.T) {
	client, pollURL := longPollClient(t, nil, func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"ts": 12, "updates": []}`))
	})

	batch, next, err := client.FetchBatch(context.Background(), Cursor{Server: pollURL, Key: "k", TS: 11})
	if err != nil {
		t.Fatalf("FetchBatch() error = %v", err)
	}
	if len(batch.Updates) != 0 {
		t.Errorf("got %d updates, want 0", len(batch.Updates))
	}
	if next.TS != 12 {
		t.Errorf("next.TS = %d, want 12", next.TS)
	}
}

func TestFetchBatchCursorExpired(t *testing.T) {
	for _, failed := range []int{1, 2, 3} {
		t.Run(fmt.Sprintf("failed=%d", failed), func(t *testing.T) {
			client, pollURL := longPollClient(t, nil, func(w http.ResponseWriter, _ *http.Request) {
				fmt.Fprintf(w, `{"failed": %d}`, failed)
			})

			_, _, err := client.FetchBatch(context.Background(), Cursor{Server: pollURL, Key: "k", TS: 1})
			if !errors.Is(err, ErrCursorExpired) {
				t.Errorf("FetchBatch() error = %v, want ErrCursorExpired", err)
			}
		})
	}
}

func TestFetchBatchRetriesConnectivity(t *testing.T) {
	var calls atomic.Int64
	client, pollURL := longPollClient(t, nil, func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 4 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"ts": 2, "updates": []}`))
	})

	_, next, err := client.FetchBatch(context.Background(), Cursor{Server: pollURL, Key: "k", TS: 1})
	if err != nil {
		t.Fatalf("FetchBatch() error = %v", err)
	}
	if next.TS != 2 {
		t.Errorf("next.TS = %d, want 2", next.TS)
	}
	if got := calls.Load(); got != 4 {
		t.Errorf("server called %d times, want 4", got)
	}
}

func TestFetchBatchMalformedBody(t *testing.T) {
	client, pollURL := longPollClient(t, nil, func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`<html>`))
	})

	_, _, err := client.FetchBatch(context.Background(), Cursor{Server: pollURL, Key: "k", TS: 1})
	if !errors.Is(err, ErrMalformedResponse) {
		t.Errorf("FetchBatch() error = %v, want ErrMalformedResponse", err)
	}
}
