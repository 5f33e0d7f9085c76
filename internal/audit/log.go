// Package audit appends one tabular row per processed event to a CSV report.
package audit

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/limmweb/vk-messager/pkg/models"
)

// timestampLayout matches the report's human-readable timestamp column.
const timestampLayout = "Monday 02 January 2006, 15:04:05"

// header is the fixed column order. Existing reports are appended to without
// re-checking it; the file is created with it exactly once.
var header = []string{
	"timestamp",
	"account_id",
	"account_name",
	"entity_type",
	"message",
	"recipient_id",
	"recipient_name",
	"tokens_in",
	"tokens_out",
	"tokens_total",
	"tokens_cost",
}

// Row is one audit record. Zero-usage rows are written for partners that
// turned out to be unavailable, so every processed event leaves a trace.
type Row struct {
	Timestamp     time.Time
	AccountID     int64
	AccountName   string
	EntityType    string
	Message       string
	RecipientID   int64
	RecipientName string
	Usage         models.Usage
}

// Logger appends rows to a CSV file. Each append opens, writes, flushes, and
// closes the file so every row is durable on its own: the process has no
// graceful shutdown to flush batched state.
type Logger struct {
	path string
	mu   sync.Mutex
}

// NewLogger returns a logger writing to path. The file is not created until
// the first row is appended.
func NewLogger(path string) (*Logger, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("audit: report path is required")
	}
	return &Logger{path: path}, nil
}

// Append writes one row, creating the file with the header first if needed.
func (l *Logger) Append(row Row) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, statErr := os.Stat(l.path)
	fresh := os.IsNotExist(statErr)
	if statErr != nil && !fresh {
		return fmt.Errorf("audit: stat report: %w", statErr)
	}

	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("audit: open report: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if fresh {
		if err := writer.Write(header); err != nil {
			return fmt.Errorf("audit: write header: %w", err)
		}
	}
	if err := writer.Write(row.record()); err != nil {
		return fmt.Errorf("audit: write row: %w", err)
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("audit: flush report: %w", err)
	}
	return file.Sync()
}

func (r Row) record() []string {
	timestamp := r.Timestamp
	if timestamp.IsZero() {
		timestamp = time.Now()
	}
	return []string{
		timestamp.Format(timestampLayout),
		strconv.FormatInt(r.AccountID, 10),
		r.AccountName,
		r.EntityType,
		flatten(r.Message),
		strconv.FormatInt(r.RecipientID, 10),
		r.RecipientName,
		strconv.FormatInt(r.Usage.InputTokens, 10),
		strconv.FormatInt(r.Usage.OutputTokens, 10),
		strconv.FormatInt(r.Usage.TotalTokens, 10),
		strconv.FormatFloat(r.Usage.Cost, 'f', -1, 64),
	}
}

// flatten removes line breaks so one event stays one report line.
func flatten(s string) string {
	s = strings.ReplaceAll(s, "\r", " ")
	return strings.ReplaceAll(s, "\n", " ")
}
