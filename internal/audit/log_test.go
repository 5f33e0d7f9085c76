package audit

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/limmweb/vk-messager/pkg/models"
)

func readReport(t *testing.T, path string) [][]string {
	t.Helper()
	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("open report: %v", err)
	}
	defer file.Close()
	rows, err := csv.NewReader(file).ReadAll()
	if err != nil {
		t.Fatalf("parse report: %v", err)
	}
	return rows
}

func TestAppendCreatesHeaderOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reports.csv")
	logger, err := NewLogger(path)
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}

	row := Row{
		Timestamp:     time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC),
		AccountID:     -123,
		AccountName:   "Shop",
		EntityType:    "group",
		Message:       "hello",
		RecipientID:   42,
		RecipientName: "Anna Ivanova",
		Usage:         models.Usage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15, Cost: 0.000004},
	}
	if err := logger.Append(row); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if err := logger.Append(row); err != nil {
		t.Fatalf("second Append() error = %v", err)
	}

	rows := readReport(t, path)
	if len(rows) != 3 {
		t.Fatalf("got %d rows, want header + 2", len(rows))
	}
	if rows[0][0] != "timestamp" || rows[0][10] != "tokens_cost" {
		t.Errorf("header = %v", rows[0])
	}
	if rows[1][1] != "-123" || rows[1][3] != "group" || rows[1][4] != "hello" {
		t.Errorf("row = %v", rows[1])
	}
	if rows[1][7] != "10" || rows[1][8] != "5" || rows[1][9] != "15" || rows[1][10] != "0.000004" {
		t.Errorf("usage columns = %v", rows[1][7:])
	}
}

func TestAppendFlattensNewlines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reports.csv")
	logger, err := NewLogger(path)
	if err != nil {
		t.Fatal(err)
	}

	if err := logger.Append(Row{Message: "line one\nline two\r\nthree"}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	rows := readReport(t, path)
	if got := rows[1][4]; got != "line one line two  three" {
		t.Errorf("message = %q", got)
	}
}

func TestZeroUsageRow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reports.csv")
	logger, err := NewLogger(path)
	if err != nil {
		t.Fatal(err)
	}

	if err := logger.Append(Row{RecipientID: 42, RecipientName: "Anna"}); err != nil {
		t.Fatal(err)
	}

	rows := readReport(t, path)
	for i := 7; i <= 10; i++ {
		if rows[1][i] != "0" {
			t.Errorf("usage column %d = %q, want 0", i, rows[1][i])
		}
	}
}

func TestNewLoggerRequiresPath(t *testing.T) {
	if _, err := NewLogger("  "); err == nil {
		t.Error("NewLogger() with blank path should fail")
	}
}
