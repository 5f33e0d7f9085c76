package models

// Party identifies one side of a conversation: the bot account or the
// partner. Group accounts carry negative IDs.
type Party struct {
	ID   int64
	Name string
}
