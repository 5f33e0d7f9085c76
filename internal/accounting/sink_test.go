package accounting

import (
	"errors"
	"testing"
	"time"

	"github.com/limmweb/vk-messager/internal/audit"
	"github.com/limmweb/vk-messager/internal/dossier"
	"github.com/limmweb/vk-messager/pkg/models"
)

type fakeSessionLedger struct {
	calls []models.Usage
	err   error
}

func (f *fakeSessionLedger) AddUsage(name string, usage models.Usage) error {
	f.calls = append(f.calls, usage)
	return f.err
}

type fakeDossierLedger struct {
	keys  []dossier.Key
	calls []models.Usage
	err   error
}

func (f *fakeDossierLedger) AddUsage(key dossier.Key, usage models.Usage) error {
	f.keys = append(f.keys, key)
	f.calls = append(f.calls, usage)
	return f.err
}

type fakeAuditLog struct {
	rows []audit.Row
	err  error
}

func (f *fakeAuditLog) Append(row audit.Row) error {
	f.rows = append(f.rows, row)
	return f.err
}

func testEntry(usage models.Usage) Entry {
	return Entry{
		Timestamp:  time.Date(2024, time.March, 4, 12, 0, 0, 0, time.UTC),
		Account:    models.Party{ID: -123, Name: "Shop"},
		Recipient:  models.Party{ID: 456, Name: "Ann Petrova"},
		EntityType: "group",
		Message:    "see you tomorrow",
		Usage:      usage,
	}
}

func TestRecordAppliesAllLedgers(t *testing.T) {
	session := &fakeSessionLedger{}
	dossiers := &fakeDossierLedger{}
	auditLog := &fakeAuditLog{}
	sink := NewSink(session, "shop", dossiers, auditLog, nil)

	usage := models.Usage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15, Cost: 0.000004}
	if err := sink.Record(testEntry(usage)); err != nil {
		t.Fatalf("Record: %v", err)
	}

	if len(session.calls) != 1 || session.calls[0] != usage {
		t.Errorf("session calls = %v, want one of %v", session.calls, usage)
	}
	if len(dossiers.calls) != 1 || dossiers.calls[0] != usage {
		t.Errorf("dossier calls = %v, want one of %v", dossiers.calls, usage)
	}
	wantKey := dossier.Key{Name: "Ann Petrova", ID: 456}
	if len(dossiers.keys) != 1 || dossiers.keys[0] != wantKey {
		t.Errorf("dossier keys = %v, want %v", dossiers.keys, wantKey)
	}
	if len(auditLog.rows) != 1 {
		t.Fatalf("audit rows = %d, want 1", len(auditLog.rows))
	}
	row := auditLog.rows[0]
	if row.AccountID != -123 || row.RecipientID != 456 || row.Usage != usage {
		t.Errorf("audit row = %+v", row)
	}
}

func TestRecordZeroUsageSkipsCounters(t *testing.T) {
	session := &fakeSessionLedger{}
	dossiers := &fakeDossierLedger{}
	auditLog := &fakeAuditLog{}
	sink := NewSink(session, "shop", dossiers, auditLog, nil)

	if err := sink.Record(testEntry(models.Usage{})); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if len(session.calls) != 0 {
		t.Errorf("session calls = %d, want 0", len(session.calls))
	}
	if len(dossiers.calls) != 0 {
		t.Errorf("dossier calls = %d, want 0", len(dossiers.calls))
	}
	if len(auditLog.rows) != 1 {
		t.Errorf("audit rows = %d, want 1", len(auditLog.rows))
	}
}

func TestRecordJoinsLedgerErrors(t *testing.T) {
	sessionErr := errors.New("session write failed")
	auditErr := errors.New("audit write failed")
	session := &fakeSessionLedger{err: sessionErr}
	dossiers := &fakeDossierLedger{}
	auditLog := &fakeAuditLog{err: auditErr}
	sink := NewSink(session, "shop", dossiers, auditLog, nil)

	usage := models.Usage{InputTokens: 1, TotalTokens: 1}
	err := sink.Record(testEntry(usage))
	if !errors.Is(err, sessionErr) {
		t.Errorf("err should wrap session error, got %v", err)
	}
	if !errors.Is(err, auditErr) {
		t.Errorf("err should wrap audit error, got %v", err)
	}
	// One failing ledger must not stop the others.
	if len(dossiers.calls) != 1 {
		t.Errorf("dossier calls = %d, want 1", len(dossiers.calls))
	}
}
