package httpapi

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/zulandar/switchboard/internal/models"
)

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// nextCronDuration parses a 5-field cron expression and returns the duration
// until the next fire time. Returns 0 on parse error.
func nextCronDuration(expr string) time.Duration {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return 0
	}
	next := sched.Next(time.Now())
	d := time.Until(next)
	if d < 0 {
		return 0
	}
	return d
}

// DailyReport holds delivery metrics for a 24-hour period.
type DailyReport struct {
	PeriodStart  time.Time
	PeriodEnd    time.Time
	Sent         int
	Failed       int
	Unregistered int
	RuleFires    int
}

// runDigestScheduler manages the cron-based daily digest timer. It
// returns immediately when the digest is not configured.
func (s *Server) runDigestScheduler(ctx context.Context) {
	if !s.digest.Enabled || s.digest.Cron == "" || s.adapter == nil {
		return
	}

	d := nextCronDuration(s.digest.Cron)
	if d <= 0 {
		s.logger.Error("invalid digest cron expression", zap.String("cron", s.digest.Cron))
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			s.fireDigest(ctx)
			if d := nextCronDuration(s.digest.Cron); d > 0 {
				timer.Reset(d)
			}
		}
	}
}

// fireDigest builds and sends a single daily digest (best-effort).
func (s *Server) fireDigest(ctx context.Context) {
	report, err := buildDailyReport(s.db, time.Now().Add(-24*time.Hour), time.Now())
	if err != nil {
		s.logger.Error("daily digest", zap.Error(err))
		return
	}
	// Suppress when no activity.
	if report.Sent == 0 && report.Failed == 0 && report.Unregistered == 0 && report.RuleFires == 0 {
		return
	}

	if err := s.adapter.SendMessage(ctx, s.digest.To, FormatDaily(report)); err != nil {
		s.logger.Error("send daily digest", zap.String("to", s.digest.To), zap.Error(err))
	}
}

// buildDailyReport queries the audit tables for metrics within the range.
func buildDailyReport(db *gorm.DB, since, until time.Time) (*DailyReport, error) {
	report := &DailyReport{
		PeriodStart: since,
		PeriodEnd:   until,
	}

	counts := []struct {
		status string
		dest   *int
	}{
		{"sent", &report.Sent},
		{"failed", &report.Failed},
		{"unregistered", &report.Unregistered},
	}
	for _, c := range counts {
		var n int64
		if err := db.Model(&models.Delivery{}).
			Where("status = ? AND created_at >= ? AND created_at < ?", c.status, since, until).
			Count(&n).Error; err != nil {
			return nil, fmt.Errorf("httpapi: daily digest: %w", err)
		}
		*c.dest = int(n)
	}

	var fires int64
	if err := db.Model(&models.RuleFire{}).
		Where("status = ? AND created_at >= ? AND created_at < ?", "sent", since, until).
		Count(&fires).Error; err != nil {
		return nil, fmt.Errorf("httpapi: daily digest: %w", err)
	}
	report.RuleFires = int(fires)

	return report, nil
}

// FormatDaily formats a daily digest report as a chat message.
func FormatDaily(report *DailyReport) string {
	lines := []string{
		fmt.Sprintf("Resumo diário %s – %s",
			report.PeriodStart.Format("02/01 15:04"),
			report.PeriodEnd.Format("02/01 15:04")),
		fmt.Sprintf("Mensagens enviadas: %d", report.Sent),
	}
	if report.Failed > 0 {
		lines = append(lines, fmt.Sprintf("Falhas de envio: %d", report.Failed))
	}
	if report.Unregistered > 0 {
		lines = append(lines, fmt.Sprintf("Números não registrados: %d", report.Unregistered))
	}
	lines = append(lines, fmt.Sprintf("Respostas automáticas: %d", report.RuleFires))
	return strings.Join(lines, "\n")
}
