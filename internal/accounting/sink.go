// Package accounting fans one reply's usage out to every ledger that tracks
// it: the account session counters, the partner dossier counters, and the
// append-only audit log.
package accounting

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/limmweb/vk-messager/internal/audit"
	"github.com/limmweb/vk-messager/internal/dossier"
	"github.com/limmweb/vk-messager/pkg/models"
)

// SessionLedger accumulates usage into the account session record.
type SessionLedger interface {
	AddUsage(name string, usage models.Usage) error
}

// DossierLedger accumulates usage into the partner dossier.
type DossierLedger interface {
	AddUsage(key dossier.Key, usage models.Usage) error
}

// AuditLog appends one row per delivered (or terminally skipped) reply.
type AuditLog interface {
	Append(row audit.Row) error
}

// Entry describes one reply for the ledgers.
type Entry struct {
	Timestamp  time.Time
	Account    models.Party
	Recipient  models.Party
	EntityType string
	Message    string
	Usage      models.Usage
}

// Sink applies entries to all ledgers.
type Sink struct {
	session     SessionLedger
	sessionName string
	dossiers    DossierLedger
	audit       AuditLog
	logger      *slog.Logger
}

// NewSink wires the three ledgers for one account session.
func NewSink(session SessionLedger, sessionName string, dossiers DossierLedger, auditLog AuditLog, logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{
		session:     session,
		sessionName: sessionName,
		dossiers:    dossiers,
		audit:       auditLog,
		logger:      logger,
	}
}

// Record applies the entry. An audit row is always written. Counters are only
// touched when the entry carries usage: a zero-usage entry records an event
// that consumed no tokens, such as a skipped unavailable partner.
//
// Ledger failures do not mask each other: all three are attempted and the
// errors joined.
func (s *Sink) Record(entry Entry) error {
	var errs []error

	if !entry.Usage.IsZero() {
		if err := s.session.AddUsage(s.sessionName, entry.Usage); err != nil {
			errs = append(errs, fmt.Errorf("session counters: %w", err))
		}
		key := dossier.Key{Name: entry.Recipient.Name, ID: entry.Recipient.ID}
		if err := s.dossiers.AddUsage(key, entry.Usage); err != nil {
			errs = append(errs, fmt.Errorf("dossier counters: %w", err))
		}
	}

	row := audit.Row{
		Timestamp:     entry.Timestamp,
		AccountID:     entry.Account.ID,
		AccountName:   entry.Account.Name,
		EntityType:    entry.EntityType,
		Message:       entry.Message,
		RecipientID:   entry.Recipient.ID,
		RecipientName: entry.Recipient.Name,
		Usage:         entry.Usage,
	}
	if err := s.audit.Append(row); err != nil {
		errs = append(errs, fmt.Errorf("audit log: %w", err))
	}

	if len(errs) > 0 {
		err := errors.Join(errs...)
		s.logger.Error("usage accounting incomplete",
			slog.Int64("recipient", entry.Recipient.ID),
			slog.Any("error", err))
		return err
	}
	return nil
}
