// Package prompt assembles the ordered completion prompt for one
// conversation: persona and business context, the partner's profile snippet,
// the recent history, and the closing reply instruction.
package prompt

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/limmweb/vk-messager/internal/vk"
	"github.com/limmweb/vk-messager/pkg/models"
)

const (
	// DefaultHistoryLimit is how many recent messages are fetched per reply.
	DefaultHistoryLimit = 200

	// DefaultMessageLimit bounds each history message body in runes.
	DefaultMessageLimit = 1000

	// timestampLayout renders the current date and time in the system turn.
	timestampLayout = "Monday 02 January 2006, 15:04:05"
)

// Persona is the static account-level context carried into every prompt.
type Persona struct {
	Personality    string
	CommercialInfo string
	Rules          string
	Goal           string
}

// Assembler builds prompts for one account identity.
type Assembler struct {
	persona      Persona
	botID        int64
	historyLimit int
	messageLimit int
	now          func() time.Time
}

// Option customizes an Assembler.
type Option func(*Assembler)

// WithClock overrides the time source. Used in tests.
func WithClock(now func() time.Time) Option {
	return func(a *Assembler) { a.now = now }
}

// WithMessageLimit overrides the per-message rune bound.
func WithMessageLimit(limit int) Option {
	return func(a *Assembler) { a.messageLimit = limit }
}

// NewAssembler creates an assembler for the bot identity. Persona texts are
// normalized once: stored records may carry unicode escape artifacts from
// interactive bootstrap.
func NewAssembler(persona Persona, botID int64, opts ...Option) *Assembler {
	a := &Assembler{
		persona: Persona{
			Personality:    norm.NFKC.String(persona.Personality),
			CommercialInfo: norm.NFKC.String(persona.CommercialInfo),
			Rules:          norm.NFKC.String(persona.Rules),
			Goal:           norm.NFKC.String(persona.Goal),
		},
		botID:        botID,
		historyLimit: DefaultHistoryLimit,
		messageLimit: DefaultMessageLimit,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// HistoryLimit returns how many recent messages the caller should fetch.
func (a *Assembler) HistoryLimit() int {
	return a.historyLimit
}

// Assemble produces the ordered prompt: one leading system turn, the history
// in timestamp order, and one trailing instruction turn.
//
// The transport does not guarantee history order, so messages are re-sorted
// by timestamp ascending. Each body is bounded; empty bodies (stickers,
// attachments without text) are skipped. A message sent by the bot identity
// becomes an assistant turn, everything else a user turn.
func (a *Assembler) Assemble(history []vk.HistoryMessage, partnerSnippet string) []models.Turn {
	turns := make([]models.Turn, 0, len(history)+2)
	turns = append(turns, models.Turn{Role: models.RoleSystem, Content: a.systemTurn(partnerSnippet)})

	ordered := make([]vk.HistoryMessage, len(history))
	copy(ordered, history)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Date < ordered[j].Date
	})

	for _, msg := range ordered {
		if msg.Text == "" {
			continue
		}
		role := models.RoleUser
		if msg.From == a.botID {
			role = models.RoleAssistant
		}
		turns = append(turns, models.Turn{
			Role:    role,
			Content: vk.Truncate(norm.NFKC.String(msg.Text), a.messageLimit),
		})
	}

	turns = append(turns, models.Turn{
		Role:    models.RoleSystem,
		Content: "Provide the reply for this dialog. Answer with only the message text, ready to send, and nothing else.",
	})
	return turns
}

func (a *Assembler) systemTurn(partnerSnippet string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", a.now().Format(timestampLayout))
	b.WriteString("You are messaging in VK private conversations on my behalf, using the data and instructions below.\n")
	fmt.Fprintf(&b, "My personality: %q\n", a.persona.Personality)
	fmt.Fprintf(&b, "Commercial information: %q\n", a.persona.CommercialInfo)
	fmt.Fprintf(&b, "My conversation partner: %q. The data comes from the VK users.get API method; interpret the key/value pairs per its documented field meanings.\n", partnerSnippet)
	fmt.Fprintf(&b, "Communication instructions: %q, communication goals: %q", a.persona.Rules, a.persona.Goal)
	return b.String()
}
