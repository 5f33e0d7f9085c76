package bridge

import (
	"context"
	"fmt"

	"github.com/limmweb/vk-messager/internal/vk"
)

// Drop reasons reported by the event filter. They double as metric labels.
const (
	DropNonMessage    = "non_message"
	DropSelfEcho      = "self_echo"
	DropBusy          = "busy"
	DropForeignChat   = "foreign_chat"
	DropGroupMismatch = "group_mismatch"
	DropUnavailable   = "unavailable"
	DropEmptyHistory  = "empty_history"
)

// FilterTransport is the slice of the messenger API the filter needs.
type FilterTransport interface {
	History(ctx context.Context, peerID int64, count int) ([]vk.HistoryMessage, error)
	ChatMembers(ctx context.Context, peerID int64) ([]int64, error)
}

// Verdict is the filter's decision for one event.
type Verdict struct {
	// Originator is the resolved sender, valid when the event is accepted.
	Originator int64

	// DropReason is empty for accepted events.
	DropReason string
}

// Accepted reports whether the event should proceed to reply production.
func (v Verdict) Accepted() bool {
	return v.DropReason == ""
}

// EventFilter screens raw long-poll events down to the ones worth answering:
// inbound messages from someone other than the bot itself, addressed to a
// conversation the bot actually belongs to.
type EventFilter struct {
	transport FilterTransport
	self      vk.Identity
}

// NewEventFilter creates a filter for the bot identity.
func NewEventFilter(transport FilterTransport, self vk.Identity) *EventFilter {
	return &EventFilter{transport: transport, self: self}
}

// Screen decides whether the update deserves a reply. Transport errors while
// resolving the sender or chat membership are returned; the caller treats the
// event as dropped.
func (f *EventFilter) Screen(ctx context.Context, update vk.Update) (Verdict, error) {
	if !update.IsMessage() {
		return Verdict{DropReason: DropNonMessage}, nil
	}

	originator := update.From
	if originator == 0 {
		resolved, err := f.resolveOriginator(ctx, update.PeerID)
		if err != nil {
			return Verdict{}, err
		}
		originator = resolved
	}

	if originator == f.self.ID {
		return Verdict{DropReason: DropSelfEcho}, nil
	}

	if f.self.Group {
		if update.PeerID < vk.PeerChatOffset {
			// Direct conversation with a community: the sender must be the
			// peer itself, anything else is an administrator echo.
			if update.PeerID != originator {
				return Verdict{DropReason: DropGroupMismatch}, nil
			}
		} else {
			members, err := f.transport.ChatMembers(ctx, update.PeerID)
			if err != nil {
				return Verdict{}, err
			}
			if !containsID(members, f.self.ID) {
				return Verdict{DropReason: DropForeignChat}, nil
			}
		}
	}

	return Verdict{Originator: originator}, nil
}

// resolveOriginator recovers the sender of the latest message when the event
// payload did not carry one. Direct-conversation payloads often omit it.
func (f *EventFilter) resolveOriginator(ctx context.Context, peerID int64) (int64, error) {
	history, err := f.transport.History(ctx, peerID, 1)
	if err != nil {
		return 0, fmt.Errorf("resolve sender for peer %d: %w", peerID, err)
	}
	if len(history) == 0 {
		return 0, fmt.Errorf("resolve sender for peer %d: empty history", peerID)
	}
	return history[0].From, nil
}

func containsID(ids []int64, want int64) bool {
	for _, id := range ids {
		if id == want {
			return true
		}
	}
	return false
}
