package logging

import (
	"bytes"
	"encoding/json"
	"log"
	"log/slog"
	"os"
	"testing"
)

func restoreGlobals(t *testing.T) {
	t.Helper()
	prevDefault := slog.Default()
	t.Cleanup(func() {
		slog.SetDefault(prevDefault)
		log.SetOutput(os.Stderr)
		log.SetFlags(log.LstdFlags)
	})
}

func TestSetupRenamesCollectorKeys(t *testing.T) {
	restoreGlobals(t)
	var buf bytes.Buffer
	logger := setup(&buf, "safehandsd", "test")
	logger.Warn("vault low")

	var line map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if line["message"] != "vault low" {
		t.Fatalf("expected message key, got %v", line)
	}
	if line["severity"] != "WARN" {
		t.Fatalf("expected upper-cased severity, got %v", line["severity"])
	}
	if _, ok := line["timestamp"]; !ok {
		t.Fatalf("expected timestamp key, got %v", line)
	}
	if line["service"] != "safehandsd" || line["env"] != "test" {
		t.Fatalf("expected service and env tags, got %v", line)
	}
	if _, ok := line["msg"]; ok {
		t.Fatalf("default msg key must be renamed")
	}
}

func TestSetupOmitsEmptyEnvAndBridgesStdLog(t *testing.T) {
	restoreGlobals(t)
	var buf bytes.Buffer
	setup(&buf, "safehandsd", "  ")

	log.Print("legacy line")

	var line map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode bridged line: %v", err)
	}
	if line["message"] != "legacy line" {
		t.Fatalf("expected bridged message, got %v", line)
	}
	if _, ok := line["env"]; ok {
		t.Fatalf("blank env must be omitted, got %v", line)
	}
}
