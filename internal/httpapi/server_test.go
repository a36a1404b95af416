package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/zulandar/switchboard/internal/config"
	"github.com/zulandar/switchboard/internal/models"
	"github.com/zulandar/switchboard/internal/pipeline"
	"github.com/zulandar/switchboard/internal/supervisor"
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

type serverFixture struct {
	server  *Server
	db      *gorm.DB
	adapter *transport.MockAdapter
	status  supervisor.Status
}

func newTestServer(t *testing.T, auth config.AuthConfig) *serverFixture {
	t.Helper()
	db := openTestDB(t)
	adapter := transport.NewMockAdapter()
	adapter.Connect(context.Background())

	p, err := pipeline.New(pipeline.Opts{Adapter: adapter, DB: db, Auth: auth})
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}

	f := &serverFixture{db: db, adapter: adapter, status: supervisor.StatusReady}
	s, err := New(Opts{
		DB:       db,
		Pipeline: p,
		Status:   func() supervisor.Status { return f.status },
		Adapter:  adapter,
		LogPath:  filepath.Join(t.TempDir(), "switchboard.log"),
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	f.server = s
	return f
}

func (f *serverFixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	f.server.router.ServeHTTP(w, req)
	return w
}

func TestNewValidation(t *testing.T) {
	if _, err := New(Opts{}); err == nil {
		t.Fatal("expected error for nil db")
	}
	if _, err := New(Opts{DB: openTestDB(t)}); err == nil {
		t.Fatal("expected error for nil pipeline")
	}
}

func TestSendMessageSuccess(t *testing.T) {
	f := newTestServer(t, config.AuthConfig{})
	f.adapter.SetRegistered("5585999999999@c.us", true)

	w := f.do(t, http.MethodPost, "/send-message",
		`{"to":"5585999999999","msg":"ola","login":"op","pass":"x"}`)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if w.Body.String() != "Mensagem enviada com sucesso!" {
		t.Errorf("body = %q", w.Body.String())
	}
	if f.adapter.SentCount() != 1 {
		t.Errorf("SentCount = %d", f.adapter.SentCount())
	}
}

func TestSendMessageValidationErrors(t *testing.T) {
	f := newTestServer(t, config.AuthConfig{})

	w := f.do(t, http.MethodPost, "/send-message", `{}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
	var resp struct {
		Errors []string `json:"errors"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(resp.Errors) != 4 {
		t.Errorf("errors = %v, want four missing fields", resp.Errors)
	}
}

func TestSendMessageBadJSON(t *testing.T) {
	f := newTestServer(t, config.AuthConfig{})

	w := f.do(t, http.MethodPost, "/send-message", `{not json`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "Requisição inválida") {
		t.Errorf("body = %q", w.Body.String())
	}
}

func TestSendMessageAuthFailure(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	f := newTestServer(t, config.AuthConfig{Login: "op", PasswordHash: string(hash)})
	f.adapter.SetRegistered("5585999999999@c.us", true)

	w := f.do(t, http.MethodPost, "/send-message",
		`{"to":"5585999999999","msg":"ola","login":"op","pass":"wrong"}`)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "Credenciais inválidas") {
		t.Errorf("body = %q", w.Body.String())
	}
}

func TestSendMessageInvalidNumber(t *testing.T) {
	f := newTestServer(t, config.AuthConfig{})

	w := f.do(t, http.MethodPost, "/send-message",
		`{"to":"!!!","msg":"ola","login":"op","pass":"x"}`)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "Número de telefone inválido") {
		t.Errorf("body = %q", w.Body.String())
	}
}

func TestSendMessageUnregisteredNumber(t *testing.T) {
	f := newTestServer(t, config.AuthConfig{})

	w := f.do(t, http.MethodPost, "/send-message",
		`{"to":"5585000000000","msg":"ola","login":"op","pass":"x"}`)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "Número não registrado no WhatsApp") {
		t.Errorf("body = %q", w.Body.String())
	}
}

func TestSendMessageTransportFailure(t *testing.T) {
	f := newTestServer(t, config.AuthConfig{})
	f.adapter.SetRegistered("5585999999999@c.us", true)
	f.adapter.SetSendErr(errors.New("timeout"))

	w := f.do(t, http.MethodPost, "/send-message",
		`{"to":"5585999999999","msg":"ola","login":"op","pass":"x"}`)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "Erro ao enviar mensagem") {
		t.Errorf("body = %q", w.Body.String())
	}
}

func TestLogsPageShowsFileAndStatus(t *testing.T) {
	f := newTestServer(t, config.AuthConfig{})
	if err := os.WriteFile(f.server.logPath, []byte("linha de log 1\nlinha de log 2\n"), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}

	w := f.do(t, http.MethodGet, "/logs", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, "linha de log 1") {
		t.Error("log content missing from page")
	}
	if !strings.Contains(body, "green") {
		t.Error("ready session must render the green bullet")
	}

	f.status = supervisor.StatusDisconnected
	w = f.do(t, http.MethodGet, "/logs", "")
	if !strings.Contains(w.Body.String(), "red") {
		t.Error("disconnected session must render the red bullet")
	}
}

func TestLogsPageMissingFile(t *testing.T) {
	f := newTestServer(t, config.AuthConfig{})

	w := f.do(t, http.MethodGet, "/logs", "")
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, missing log file must not error", w.Code)
	}
}

func TestStatusCounts(t *testing.T) {
	f := newTestServer(t, config.AuthConfig{})
	f.db.Create(&models.Delivery{ContactID: "1@c.us", Message: "a", Status: "sent"})
	f.db.Create(&models.Delivery{ContactID: "2@c.us", Message: "b", Status: "failed"})
	f.db.Create(&models.RuleFire{Rule: "greeting", ChatID: "1@c.us", Response: "Oi", Status: "sent"})

	w := f.do(t, http.MethodGet, "/status", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp struct {
		Status     string `json:"status"`
		Deliveries int64  `json:"deliveries"`
		RuleFires  int64  `json:"rule_fires"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Status != "ready" || resp.Deliveries != 2 || resp.RuleFires != 1 {
		t.Errorf("resp = %+v", resp)
	}
}

func TestStatusSurvivesCounterFailure(t *testing.T) {
	f := newTestServer(t, config.AuthConfig{})
	if err := f.db.Migrator().DropTable(&models.RuleFire{}); err != nil {
		t.Fatalf("drop table: %v", err)
	}

	w := f.do(t, http.MethodGet, "/status", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, counter failure must not fail the page", w.Code)
	}
	var resp struct {
		Status    string `json:"status"`
		RuleFires int64  `json:"rule_fires"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Status != "ready" || resp.RuleFires != 0 {
		t.Errorf("resp = %+v", resp)
	}
}

func TestBuildDailyReportWindow(t *testing.T) {
	db := openTestDB(t)
	now := time.Now()

	db.Create(&models.Delivery{ContactID: "1@c.us", Message: "a", Status: "sent"})
	db.Create(&models.Delivery{ContactID: "2@c.us", Message: "b", Status: "failed"})
	db.Create(&models.RuleFire{Rule: "pix", ChatID: "1@c.us", Response: "chave", Status: "sent"})
	// Outside the window.
	old := models.Delivery{ContactID: "3@c.us", Message: "c", Status: "sent"}
	db.Create(&old)
	db.Model(&old).Update("created_at", now.Add(-48*time.Hour))

	report, err := buildDailyReport(db, now.Add(-24*time.Hour), now.Add(time.Minute))
	if err != nil {
		t.Fatalf("build report: %v", err)
	}
	if report.Sent != 1 || report.Failed != 1 || report.RuleFires != 1 {
		t.Errorf("report = %+v", report)
	}
}

func TestFormatDaily(t *testing.T) {
	report := &DailyReport{
		PeriodStart: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC),
		PeriodEnd:   time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC),
		Sent:        12,
		Failed:      2,
		RuleFires:   5,
	}
	got := FormatDaily(report)
	for _, want := range []string{"Resumo diário", "Mensagens enviadas: 12", "Falhas de envio: 2", "Respostas automáticas: 5"} {
		if !strings.Contains(got, want) {
			t.Errorf("digest missing %q in %q", want, got)
		}
	}
	if strings.Contains(got, "não registrados") {
		t.Error("zero unregistered count must be omitted")
	}
}

func TestFireDigestSuppressedWhenQuiet(t *testing.T) {
	f := newTestServer(t, config.AuthConfig{})
	f.server.digest = config.DigestConfig{Enabled: true, Cron: "0 8 * * *", To: "5585999999999@c.us"}

	f.server.fireDigest(context.Background())
	if f.adapter.SentCount() != 0 {
		t.Errorf("SentCount = %d, quiet period must suppress the digest", f.adapter.SentCount())
	}

	f.db.Create(&models.Delivery{ContactID: "1@c.us", Message: "a", Status: "sent"})
	f.server.fireDigest(context.Background())
	if f.adapter.SentCount() != 1 {
		t.Fatalf("SentCount = %d, want digest sent", f.adapter.SentCount())
	}
	last, _ := f.adapter.LastSent()
	if last.ContactID != "5585999999999@c.us" {
		t.Errorf("digest sent to %q", last.ContactID)
	}
}

func TestEmbeddedTemplates(t *testing.T) {
	data, err := templatesFS.ReadFile("templates/logs.html")
	if err != nil {
		t.Fatalf("logs.html not embedded: %v", err)
	}
	if !strings.Contains(string(data), "Switchboard") {
		t.Error("logs.html does not contain 'Switchboard'")
	}
}
