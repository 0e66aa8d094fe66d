// Copyright 2025 Veralex
// SPDX-License-Identifier: BUSL-1.1

package logger

import (
	"bytes"
	"encoding/json"
	"log"
	"os"
	"strings"
	"testing"
)

// captureOutput redirects the standard logger while fn runs and returns
// what was written.
func captureOutput(t *testing.T, fn func()) string {
	t.Helper()

	var buf bytes.Buffer
	log.SetOutput(&buf)
	log.SetFlags(0)
	defer func() {
		log.SetOutput(os.Stderr)
		log.SetFlags(log.LstdFlags)
	}()

	fn()
	return buf.String()
}

func parseEntry(t *testing.T, line string) LogEntry {
	t.Helper()

	var entry LogEntry
	if err := json.Unmarshal([]byte(strings.TrimSpace(line)), &entry); err != nil {
		t.Fatalf("log line is not valid JSON: %v\nline: %s", err, line)
	}
	return entry
}

func TestNew_ReadsInstanceID(t *testing.T) {
	t.Setenv("INSTANCE_ID", "instance-123")
	l := New("ledger")
	if l.Component != "ledger" {
		t.Errorf("expected component ledger, got %s", l.Component)
	}
	if l.InstanceID != "instance-123" {
		t.Errorf("expected instance-123, got %s", l.InstanceID)
	}
}

func TestNew_UnknownInstanceID(t *testing.T) {
	t.Setenv("INSTANCE_ID", "")
	l := New("ledger")
	if l.InstanceID != "unknown" {
		t.Errorf("expected unknown, got %s", l.InstanceID)
	}
}

func TestInfo_EmitsStructuredJSON(t *testing.T) {
	l := New("ledger")

	out := captureOutput(t, func() {
		l.Info("acct-1", "job-1", "Reservation settled", map[string]interface{}{
			"charged_cents": 480,
		})
	})

	entry := parseEntry(t, out)
	if entry.Level != INFO {
		t.Errorf("expected INFO, got %s", entry.Level)
	}
	if entry.AccountID != "acct-1" {
		t.Errorf("expected acct-1, got %s", entry.AccountID)
	}
	if entry.JobID != "job-1" {
		t.Errorf("expected job-1, got %s", entry.JobID)
	}
	if entry.Message != "Reservation settled" {
		t.Errorf("unexpected message: %s", entry.Message)
	}
	if entry.Fields["charged_cents"].(float64) != 480 {
		t.Errorf("expected charged_cents 480, got %v", entry.Fields["charged_cents"])
	}
}

func TestErrorWithAmount_CarriesAmountAndError(t *testing.T) {
	l := New("ledger")

	out := captureOutput(t, func() {
		l.ErrorWithAmount("acct-1", "job-1", "Settlement failed", 480,
			os.ErrDeadlineExceeded, nil)
	})

	entry := parseEntry(t, out)
	if entry.Level != ERROR {
		t.Errorf("expected ERROR, got %s", entry.Level)
	}
	if entry.Fields["amount_cents"].(float64) != 480 {
		t.Errorf("expected amount_cents 480, got %v", entry.Fields["amount_cents"])
	}
	if entry.Fields["error"] == "" {
		t.Error("expected error field to be populated")
	}
}

func TestInfoWithDuration_AddsDurationField(t *testing.T) {
	l := New("ledger")

	out := captureOutput(t, func() {
		l.InfoWithDuration("acct-1", "job-1", "Stage completed", 1234.5, nil)
	})

	entry := parseEntry(t, out)
	if entry.Fields["duration_ms"].(float64) != 1234.5 {
		t.Errorf("expected duration_ms 1234.5, got %v", entry.Fields["duration_ms"])
	}
}

func TestDebugAndWarnLevels(t *testing.T) {
	l := New("ledger")

	out := captureOutput(t, func() {
		l.Debug("acct-1", "", "debug detail", nil)
		l.Warn("acct-1", "", "warn detail", nil)
	})

	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 log lines, got %d", len(lines))
	}
	if parseEntry(t, lines[0]).Level != DEBUG {
		t.Error("expected first line DEBUG")
	}
	if parseEntry(t, lines[1]).Level != WARN {
		t.Error("expected second line WARN")
	}
}
