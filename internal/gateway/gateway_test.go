package gateway

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/zulandar/switchboard/internal/config"
	"github.com/zulandar/switchboard/internal/models"
	"github.com/zulandar/switchboard/internal/transport"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.AutoMigrate(&models.Delivery{}, &models.RuleFire{}); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}
	return db
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Parse([]byte(`
transport:
  platform: discord
  bot_token: tok
http:
  port: 0
rules:
  - name: greeting
    equals: ["jaco"]
    responses: ["Oi"]
    delay_sec: 0
log:
  file: ` + t.TempDir() + `/switchboard.log
`))
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	// Free ports picked by the kernel are not addressable from config, so
	// tests use a high port unlikely to conflict.
	cfg.HTTP.Port = 18000 + int(time.Now().UnixNano()%1000)
	return cfg
}

// syncBuffer is a concurrency-safe bytes.Buffer for daemon output.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Contains(s string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.Contains(b.buf.String(), s)
}

func TestNewDaemonValidation(t *testing.T) {
	db := openTestDB(t)
	cfg := testConfig(t)
	adapter := transport.NewMockAdapter()

	if _, err := NewDaemon(DaemonOpts{Config: cfg, Adapter: adapter}); err == nil {
		t.Error("expected error for nil db")
	}
	if _, err := NewDaemon(DaemonOpts{DB: db, Adapter: adapter}); err == nil {
		t.Error("expected error for nil config")
	}
	if _, err := NewDaemon(DaemonOpts{DB: db, Config: cfg}); err == nil {
		t.Error("expected error for nil adapter")
	}
}

func TestRunFatalOnInitialConnectFailure(t *testing.T) {
	adapter := transport.NewMockAdapter()
	adapter.SetConnectErr(errors.New("no network"))

	d, err := NewDaemon(DaemonOpts{
		DB:      openTestDB(t),
		Config:  testConfig(t),
		Adapter: adapter,
		Out:     &bytes.Buffer{},
	})
	if err != nil {
		t.Fatalf("new daemon: %v", err)
	}
	if err := d.Run(context.Background()); err == nil {
		t.Fatal("expected error when the initial connect fails")
	}
}

func TestRunRoutesMessagesAndShutsDown(t *testing.T) {
	adapter := transport.NewMockAdapter()
	out := &syncBuffer{}

	d, err := NewDaemon(DaemonOpts{
		DB:      openTestDB(t),
		Config:  testConfig(t),
		Adapter: adapter,
		Out:     out,
	})
	if err != nil {
		t.Fatalf("new daemon: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	// Wait for the daemon to come online before simulating traffic.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && !out.Contains("online") {
		time.Sleep(5 * time.Millisecond)
	}

	adapter.SimulateEvent(transport.Event{Kind: transport.EventReady})
	adapter.SimulateEvent(transport.Event{Kind: transport.EventMessage, From: "123@c.us", Body: "jaco"})

	// The greeting rule has no delay, so the reply lands promptly.
	deadline = time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && adapter.SentCount() == 0 {
		time.Sleep(5 * time.Millisecond)
	}
	last, ok := adapter.LastSent()
	if !ok || last.Text != "Oi" || last.ContactID != "123@c.us" {
		t.Errorf("LastSent = %+v ok=%v", last, ok)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("daemon did not shut down")
	}
}

func TestRunStopsWhenInboundCloses(t *testing.T) {
	adapter := transport.NewMockAdapter()

	d, err := NewDaemon(DaemonOpts{
		DB:      openTestDB(t),
		Config:  testConfig(t),
		Adapter: adapter,
		Out:     &bytes.Buffer{},
	})
	if err != nil {
		t.Fatalf("new daemon: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	adapter.Close()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("daemon did not stop after the inbound channel closed")
	}
}
