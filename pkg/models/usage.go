package models

// Usage is the token and cost delta produced by a single completion call.
// It is transient: the pipeline applies it to the session counters and the
// partner dossier exactly once per processed event, then discards it.
type Usage struct {
	// InputTokens is the prompt token count reported by the provider.
	InputTokens int64 `json:"input_tokens"`

	// OutputTokens is the completion token count reported by the provider.
	OutputTokens int64 `json:"output_tokens"`

	// TotalTokens is the provider-reported total (input + output).
	TotalTokens int64 `json:"total_tokens"`

	// Cost is the estimated price in USD, derived from the per-model
	// per-million-token price table.
	Cost float64 `json:"cost"`
}

// IsZero reports whether the delta carries no usage at all. Zero deltas are
// still audited (unavailable partners produce one zero row) but are not
// applied to any counter.
func (u Usage) IsZero() bool {
	return u.InputTokens == 0 && u.OutputTokens == 0 && u.TotalTokens == 0 && u.Cost == 0
}

// Add returns the sum of two usage deltas. Application is additive, not
// exactly-once: applying the same delta twice double-counts, which is why the
// conversation guard must prevent duplicate pipelines for one event.
func (u Usage) Add(other Usage) Usage {
	return Usage{
		InputTokens:  u.InputTokens + other.InputTokens,
		OutputTokens: u.OutputTokens + other.OutputTokens,
		TotalTokens:  u.TotalTokens + other.TotalTokens,
		Cost:         u.Cost + other.Cost,
	}
}
