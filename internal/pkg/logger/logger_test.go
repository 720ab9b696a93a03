package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func capture(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	SetLevel(DEBUG)
	SetRedactPII(true)
	t.Cleanup(func() {
		SetOutput(nilWriter{})
		SetLevel(INFO)
	})
	return &buf
}

type nilWriter struct{}

func (nilWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestRedactEmail(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"john.doe@example.com", "jo***@example.com"},
		{"ab@example.com", "***@example.com"},
		{"not-an-email", "***@***"},
		{"@example.com", "***@***"},
	}
	for _, tt := range tests {
		if got := RedactEmail(tt.in); got != tt.want {
			t.Errorf("RedactEmail(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLog_RedactsEmailFields(t *testing.T) {
	buf := capture(t)

	Info("queued", "to", "founder@startup.io", "note", "reply to investor@fund.vc please")

	var entry map[string]string
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if entry["to"] != "fo***@startup.io" {
		t.Errorf("to = %q", entry["to"])
	}
	if strings.Contains(entry["note"], "investor@fund.vc") {
		t.Errorf("embedded email not redacted: %q", entry["note"])
	}
	if entry["level"] != "INFO" || entry["msg"] != "queued" {
		t.Errorf("unexpected entry %v", entry)
	}
}

func TestLog_LevelFilter(t *testing.T) {
	buf := capture(t)
	SetLevel(WARN)

	Info("dropped")
	Warn("kept", "error", errors.New("boom"))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1: %q", len(lines), buf.String())
	}
	if !strings.Contains(lines[0], `"error":"boom"`) {
		t.Errorf("error field not rendered: %s", lines[0])
	}
}

func TestNamed_AddsComponent(t *testing.T) {
	buf := capture(t)

	Named("EmailQueue").Info("pass complete", "sent", 2)

	if !strings.Contains(buf.String(), `"component":"EmailQueue"`) {
		t.Errorf("component missing: %s", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	if ParseLevel("debug") != DEBUG || ParseLevel("warning") != WARN || ParseLevel("ERROR") != ERROR || ParseLevel("") != INFO {
		t.Error("ParseLevel mapping wrong")
	}
}
