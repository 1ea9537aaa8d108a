// Package reminder runs the background maintenance loops: nudging stalled
// orders, the daily dispatch digest, and retention archival of old terminal
// orders. It only reads order state and reminder bookkeeping; statuses are
// never changed from here.
package reminder

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/slack-go/slack"
	"gorm.io/gorm"

	"github.com/muradov/gpsmaster/internal/auth"
	"github.com/muradov/gpsmaster/internal/bot"
	"github.com/muradov/gpsmaster/internal/config"
	"github.com/muradov/gpsmaster/internal/models"
	"github.com/muradov/gpsmaster/internal/report"
)

// stalledStatuses are the states a reminder can fire in: accepted work that
// has not been completed yet.
var stalledStatuses = []string{
	models.StatusAccepted,
	models.StatusTimeProposedByAdmin,
	models.StatusTimeProposedByMaster,
	models.StatusTimeConfirmed,
	models.StatusArrived,
	models.StatusEvidencePending,
}

// Sweeper owns the periodic maintenance loops.
type Sweeper struct {
	db      *gorm.DB
	adapter bot.Adapter
	slack   *slack.Client
	cfg     *config.Config
	loc     *time.Location
	logger  *log.Logger
	clock   func() time.Time
}

// Opts configures a Sweeper. DB, Adapter and Config are required; Slack is
// the optional ops mirror.
type Opts struct {
	DB      *gorm.DB
	Adapter bot.Adapter
	Slack   *slack.Client
	Config  *config.Config
	Out     io.Writer
}

// New validates opts and builds a Sweeper.
func New(opts Opts) (*Sweeper, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("reminder: sweeper requires a database")
	}
	if opts.Adapter == nil {
		return nil, fmt.Errorf("reminder: sweeper requires an adapter")
	}
	if opts.Config == nil {
		return nil, fmt.Errorf("reminder: sweeper requires a config")
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	return &Sweeper{
		db:      opts.DB,
		adapter: opts.Adapter,
		slack:   opts.Slack,
		cfg:     opts.Config,
		loc:     opts.Config.Location(),
		logger:  log.New(opts.Out, "reminder: ", log.LstdFlags),
		clock:   time.Now,
	}, nil
}

// Run blocks until the context is cancelled, sweeping on the configured
// interval and scheduling the daily digest when a cron expression is set.
func (s *Sweeper) Run(ctx context.Context) error {
	interval := time.Duration(s.cfg.Reminders.SweepSeconds) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var c *cron.Cron
	if expr := s.cfg.Reminders.DigestCron; expr != "" {
		c = cron.New(cron.WithLocation(s.loc))
		if _, err := c.AddFunc(expr, func() { s.Digest(ctx) }); err != nil {
			return fmt.Errorf("reminder: digest cron %q: %w", expr, err)
		}
		c.Start()
		defer c.Stop()
	}

	s.logger.Printf("sweeping every %s", interval)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			now := s.clock()
			if err := s.Sweep(ctx, now); err != nil {
				s.logger.Printf("sweep: %v", err)
			}
			if err := s.Retire(now); err != nil {
				s.logger.Printf("retention: %v", err)
			}
		}
	}
}

// Sweep sends a reminder for every stalled order past its threshold. The
// threshold is the larger of the configured baseline and the master's
// self-estimate plus buffer, counted from acceptance. Repeats honor the
// configured repeat interval.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) error {
	var orders []models.Order
	err := s.db.Where("status IN ? AND archived = ? AND accepted_at IS NOT NULL",
		stalledStatuses, false).Find(&orders).Error
	if err != nil {
		return fmt.Errorf("reminder: load stalled orders: %w", err)
	}

	for i := range orders {
		o := &orders[i]
		if !s.due(o, now) {
			continue
		}
		s.remind(ctx, o, now)

		o.RemindersSent++
		o.LastReminderAt = &now
		err := s.db.Model(o).Updates(map[string]interface{}{
			"reminders_sent":   o.RemindersSent,
			"last_reminder_at": now,
		}).Error
		if err != nil {
			s.logger.Printf("record reminder for #%d: %v", o.ID, err)
		}
	}
	return nil
}

// due reports whether the order needs a reminder at now.
func (s *Sweeper) due(o *models.Order, now time.Time) bool {
	if o.AcceptedAt == nil {
		return false
	}
	threshold := time.Duration(s.cfg.Reminders.BaselineMinutes) * time.Minute
	if o.EstimateMinutes > 0 {
		est := time.Duration(o.EstimateMinutes+s.cfg.Reminders.BufferMinutes) * time.Minute
		if est > threshold {
			threshold = est
		}
	}
	if now.Sub(*o.AcceptedAt) < threshold {
		return false
	}
	if o.LastReminderAt != nil {
		repeat := time.Duration(s.cfg.Reminders.RepeatMinutes) * time.Minute
		if now.Sub(*o.LastReminderAt) < repeat {
			return false
		}
	}
	return true
}

// remind notifies the master, the assigning admin, and the ops channel.
// Delivery is best-effort; failures are logged and the next sweep retries.
func (s *Sweeper) remind(ctx context.Context, o *models.Order, now time.Time) {
	age := now.Sub(*o.AcceptedAt).Round(time.Minute)
	masterText := fmt.Sprintf("Reminder: order #%d is still open (%s since acceptance). Update its status or cancel it.", o.ID, age)
	adminText := fmt.Sprintf("Order #%d (%s, %s) is still open %s after acceptance. Reminder #%d sent to the master.",
		o.ID, o.MasterName, o.City, age, o.RemindersSent+1)

	if err := s.adapter.Send(ctx, bot.Outbound{ChatID: o.MasterChatID, Text: masterText}); err != nil {
		s.logger.Printf("remind master for #%d: %v", o.ID, err)
	}
	if err := s.adapter.Send(ctx, bot.Outbound{ChatID: o.AdminChatID, Text: adminText}); err != nil {
		s.logger.Printf("remind admin for #%d: %v", o.ID, err)
	}
	s.mirror(adminText)
}

// Digest posts yesterday's summary to every admin chat and the ops channel.
func (s *Sweeper) Digest(ctx context.Context) {
	w, err := report.Preset(report.PresetYesterday, s.clock(), s.loc)
	if err != nil {
		s.logger.Printf("digest window: %v", err)
		return
	}
	summary, err := report.Build(s.db, w, "")
	if err != nil {
		s.logger.Printf("digest build: %v", err)
		return
	}
	text := "Daily digest\n\n" + summary.Text()

	chats, err := auth.AdminChats(s.db)
	if err != nil {
		s.logger.Printf("digest recipients: %v", err)
		return
	}
	for _, chat := range chats {
		if err := s.adapter.Send(ctx, bot.Outbound{ChatID: chat, Text: text}); err != nil {
			s.logger.Printf("digest to %d: %v", chat, err)
		}
	}
	s.mirror(text)
}

// Retire flags terminal orders past the retention window as archived, which
// drops them from pending views and the reminder sweep.
func (s *Sweeper) Retire(now time.Time) error {
	cutoff := now.AddDate(0, 0, -s.cfg.Retention.TerminalDays)
	result := s.db.Model(&models.Order{}).
		Where("status IN ? AND archived = ? AND updated_at < ?", models.TerminalStatuses, false, cutoff).
		Update("archived", true)
	if result.Error != nil {
		return fmt.Errorf("reminder: archive terminal orders: %w", result.Error)
	}
	if result.RowsAffected > 0 {
		s.logger.Printf("archived %d terminal orders older than %s", result.RowsAffected, cutoff.Format("2006-01-02"))
	}
	return nil
}

// mirror copies a notice to the Slack ops channel when one is configured.
func (s *Sweeper) mirror(text string) {
	if s.slack == nil || s.cfg.Reminders.SlackChannel == "" {
		return
	}
	_, _, err := s.slack.PostMessage(s.cfg.Reminders.SlackChannel,
		slack.MsgOptionText(text, false))
	if err != nil {
		s.logger.Printf("slack mirror: %v", err)
	}
}
