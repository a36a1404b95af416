package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func TestNewWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "switchboard.log")

	logger, closeFn, err := New(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	logger.Warn("QR code gerado com sucesso")
	logger.Info("mensagem enviada", zap.String("to", "5585999999999"))
	closeFn()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	content := string(data)
	if !strings.Contains(content, "QR code gerado com sucesso") {
		t.Errorf("log file missing warn record: %q", content)
	}
	if !strings.Contains(content, "5585999999999") {
		t.Errorf("log file missing info field: %q", content)
	}
}

func TestNewAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "switchboard.log")

	logger, closeFn, err := New(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	logger.Info("first")
	closeFn()

	logger, closeFn, err = New(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	logger.Info("second")
	closeFn()

	data, _ := os.ReadFile(path)
	if !strings.Contains(string(data), "first") || !strings.Contains(string(data), "second") {
		t.Errorf("expected both records after reopen, got %q", string(data))
	}
}

func TestNewBadPath(t *testing.T) {
	_, _, err := New("/nonexistent-dir/switchboard.log")
	if err == nil {
		t.Fatal("expected error for unwritable path")
	}
}
