// Package models defines the shared data types exchanged between the bridge
// pipeline, the completion gateway, and the accounting sink.
package models

// Role identifies the speaker of a prompt turn.
type Role string

const (
	// RoleSystem carries instructions and context, never conversation text.
	RoleSystem Role = "system"

	// RoleUser is the conversation partner.
	RoleUser Role = "user"

	// RoleAssistant is the bot's own side of the conversation.
	RoleAssistant Role = "assistant"
)

// Turn is a single ordered entry of an assembled prompt.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}
