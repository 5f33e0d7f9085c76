package vk

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// updateNewMessage is the long-poll update code for an inbound message.
const updateNewMessage = 4

// Cursor holds everything needed to fetch the next long-poll batch: the
// server address, the session key, and the sequence token. A Cursor is
// immutable once issued; expiry or reconnection replaces it wholesale.
type Cursor struct {
	Server string
	Key    string
	TS     int64
}

// Update is one raw long-poll event. Only message updates (code 4) carry the
// message fields; any other code is decoded as the code alone so the event
// filter can discard it.
type Update struct {
	Code      int
	MessageID int64
	Flags     int64
	PeerID    int64
	Timestamp int64
	Text      string

	// From is the resolved sender when the payload's extra fields carry one,
	// zero otherwise. Group-chat payloads include it; direct ones may not.
	From int64
}

// IsMessage reports whether the update is an inbound message event.
func (u *Update) IsMessage() bool {
	return u.Code == updateNewMessage
}

// UnmarshalJSON decodes the array-encoded long-poll update format:
// [code, message_id, flags, peer_id, timestamp, text, {extra}].
func (u *Update) UnmarshalJSON(data []byte) error {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return fmt.Errorf("update is not an array: %w", err)
	}
	if len(parts) == 0 {
		return fmt.Errorf("update array is empty")
	}
	if err := json.Unmarshal(parts[0], &u.Code); err != nil {
		return fmt.Errorf("update code: %w", err)
	}
	if u.Code != updateNewMessage || len(parts) < 6 {
		return nil
	}

	if err := json.Unmarshal(parts[1], &u.MessageID); err != nil {
		return fmt.Errorf("message id: %w", err)
	}
	if err := json.Unmarshal(parts[2], &u.Flags); err != nil {
		return fmt.Errorf("flags: %w", err)
	}
	if err := json.Unmarshal(parts[3], &u.PeerID); err != nil {
		return fmt.Errorf("peer id: %w", err)
	}
	if err := json.Unmarshal(parts[4], &u.Timestamp); err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	if err := json.Unmarshal(parts[5], &u.Text); err != nil {
		return fmt.Errorf("text: %w", err)
	}

	if len(parts) > 6 {
		var extra struct {
			From json.Number `json:"from"`
		}
		if err := json.Unmarshal(parts[6], &extra); err == nil && extra.From != "" {
			if from, err := strconv.ParseInt(extra.From.String(), 10, 64); err == nil {
				u.From = from
			}
		}
	}
	return nil
}

// Batch is the set of updates returned by one long-poll fetch. An empty batch
// is normal: the server answers with no updates when the wait window elapses.
type Batch struct {
	Updates []Update
}

// HistoryMessage is one item of a conversation's message history.
type HistoryMessage struct {
	From int64  `json:"from_id"`
	Text string `json:"text"`
	Date int64  `json:"date"`
}

// Identity describes the account the bridge acts as.
type Identity struct {
	// ID is the entity identifier. Group accounts are negative.
	ID int64

	// Name is the display name (user "First Last" or the group name).
	Name string

	// Group reports whether the account is a community.
	Group bool
}

// EntityType returns the audit-log entity classification for the identity.
func (id Identity) EntityType() string {
	if id.ID < 0 {
		return "group"
	}
	return "user"
}

// ProfileFields is the fieldset requested for a conversation partner.
const ProfileFields = "activities, about, blacklisted, blacklisted_by_me, books, bdate, " +
	"can_write_private_message, career, city, contacts, education, followers_count, " +
	"friend_status, home_town, interests, last_seen, movies, music, status"

// maxFieldRunes bounds every textual profile attribute stored or prompted.
const maxFieldRunes = 1000

// Profile is a conversation partner's account record. The attribute set is a
// fixed enumeration of the fields the bridge requests, not an open schema.
type Profile struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`

	About      string `json:"about"`
	Activities string `json:"activities"`
	BirthDate  string `json:"bdate"`
	Books      string `json:"books"`
	Contacts   string `json:"contacts"`
	Education  string `json:"education"`
	HomeTown   string `json:"home_town"`
	Interests  string `json:"interests"`
	Movies     string `json:"movies"`
	Music      string `json:"music"`
	Status     string `json:"status"`

	City           *CityRef      `json:"city,omitempty"`
	Career         []CareerEntry `json:"career,omitempty"`
	LastSeen       *LastSeen     `json:"last_seen,omitempty"`
	FollowersCount int64         `json:"followers_count,omitempty"`
	FriendStatus   int           `json:"friend_status"`

	// Block flags arrive as 0/1 integers and are absent for some token
	// kinds, so they are pointers to distinguish "unset" from "zero".
	Blacklisted            *int `json:"blacklisted,omitempty"`
	BlacklistedByMe        *int `json:"blacklisted_by_me,omitempty"`
	CanWritePrivateMessage *int `json:"can_write_private_message,omitempty"`
}

// CityRef is the flattened city attribute.
type CityRef struct {
	Title string `json:"title"`
}

// CareerEntry is one item of the career attribute.
type CareerEntry struct {
	Company  string `json:"company"`
	Position string `json:"position"`
}

// LastSeen is the partner's last-seen attribute.
type LastSeen struct {
	Time int64 `json:"time"`
}

// DisplayName returns "First Last" for logs and audit rows.
func (p *Profile) DisplayName() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

// Unavailable reports whether the partner cannot be messaged: either side has
// the other blocked, or private messages are disallowed. This is a terminal
// outcome for one event, not an error.
func (p *Profile) Unavailable() bool {
	if p.Blacklisted != nil && *p.Blacklisted == 1 {
		return true
	}
	if p.BlacklistedByMe != nil && *p.BlacklistedByMe == 1 {
		return true
	}
	if p.CanWritePrivateMessage != nil && *p.CanWritePrivateMessage == 0 {
		return true
	}
	return false
}

// Field is one named profile attribute with a bounded textual value.
type Field struct {
	Key   string
	Value string
}

// Fields returns the non-empty identity attributes in a stable order, each
// truncated to the bounded length. Block flags are excluded: they drive the
// availability decision and are never stored or prompted.
func (p *Profile) Fields() []Field {
	var fields []Field
	add := func(key, value string) {
		if value == "" {
			return
		}
		fields = append(fields, Field{Key: key, Value: Truncate(value, maxFieldRunes)})
	}

	add("first_name", p.FirstName)
	add("last_name", p.LastName)
	add("about", p.About)
	add("activities", p.Activities)
	add("bdate", p.BirthDate)
	add("books", p.Books)
	add("contacts", p.Contacts)
	add("education", p.Education)
	add("home_town", p.HomeTown)
	add("interests", p.Interests)
	add("movies", p.Movies)
	add("music", p.Music)
	add("status", p.Status)
	if p.City != nil {
		add("city", p.City.Title)
	}
	if len(p.Career) > 0 {
		var entries []string
		for _, c := range p.Career {
			entry := strings.TrimSpace(c.Company + " " + c.Position)
			if entry != "" {
				entries = append(entries, entry)
			}
		}
		add("career", strings.Join(entries, "; "))
	}
	if p.LastSeen != nil && p.LastSeen.Time > 0 {
		add("last_seen", strconv.FormatInt(p.LastSeen.Time, 10))
	}
	if p.FollowersCount > 0 {
		add("followers_count", strconv.FormatInt(p.FollowersCount, 10))
	}
	if p.FriendStatus > 0 {
		add("friend_status", strconv.Itoa(p.FriendStatus))
	}
	return fields
}

// Snippet serializes the bounded identity attributes as a JSON object for
// inclusion in the prompt's system turn.
func (p *Profile) Snippet() string {
	fields := p.Fields()
	var b strings.Builder
	b.WriteByte('{')
	for i, f := range fields {
		if i > 0 {
			b.WriteString(", ")
		}
		key, _ := json.Marshal(f.Key)
		value, _ := json.Marshal(f.Value)
		b.Write(key)
		b.WriteString(": ")
		b.Write(value)
	}
	b.WriteByte('}')
	return b.String()
}

// Truncate bounds s to at most limit runes.
func Truncate(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
