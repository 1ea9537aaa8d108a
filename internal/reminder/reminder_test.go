package reminder

import (
	"context"
	"strings"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/muradov/gpsmaster/internal/auth"
	"github.com/muradov/gpsmaster/internal/bot"
	"github.com/muradov/gpsmaster/internal/config"
	"github.com/muradov/gpsmaster/internal/db"
	"github.com/muradov/gpsmaster/internal/models"
)

const (
	adminChat  = int64(100)
	masterChat = int64(200)
)

func testConfig() *config.Config {
	return &config.Config{
		Timezone: "UTC",
		Admins:   []int64{adminChat},
		Masters: []config.MasterConfig{
			{ID: "m1", Name: "Karim", City: "Dushanbe", ChatID: masterChat},
		},
		Reminders: config.ReminderConfig{
			BaselineMinutes: 180,
			RepeatMinutes:   60,
			BufferMinutes:   30,
			SweepSeconds:    60,
		},
		Retention: config.RetentionConfig{TerminalDays: 90},
	}
}

func newTestSweeper(t *testing.T) (*Sweeper, *bot.MockAdapter, *gorm.DB) {
	t.Helper()
	gormDB, err := db.OpenMemory()
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := testConfig()
	if err := auth.Bootstrap(gormDB, cfg); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}

	adapter := bot.NewMockAdapter()
	if err := adapter.Connect(context.Background()); err != nil {
		t.Fatalf("connect adapter: %v", err)
	}
	s, err := New(Opts{DB: gormDB, Adapter: adapter, Config: cfg})
	if err != nil {
		t.Fatalf("new sweeper: %v", err)
	}
	return s, adapter, gormDB
}

func seedOrder(t *testing.T, gormDB *gorm.DB, status string, acceptedAgo time.Duration, now time.Time) *models.Order {
	t.Helper()
	accepted := now.Add(-acceptedAgo)
	o := &models.Order{
		Phone:        "+992900000001",
		Type:         models.TypeInstall,
		Logistics:    models.LogisticsVisit,
		Address:      "Rudaki 12",
		City:         "Dushanbe",
		MasterID:     "m1",
		MasterName:   "Karim",
		MasterChatID: masterChat,
		AdminChatID:  adminChat,
		Status:       status,
		AcceptedAt:   &accepted,
	}
	if err := gormDB.Create(o).Error; err != nil {
		t.Fatalf("seed order: %v", err)
	}
	return o
}

func TestSweepRemindsStalledOrder(t *testing.T) {
	s, adapter, gormDB := newTestSweeper(t)
	now := time.Date(2026, 9, 1, 18, 0, 0, 0, time.UTC)

	o := seedOrder(t, gormDB, models.StatusAccepted, 4*time.Hour, now)
	if err := s.Sweep(context.Background(), now); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	if len(adapter.SentTo(masterChat)) != 1 {
		t.Fatalf("master got %d reminders, want 1", len(adapter.SentTo(masterChat)))
	}
	if len(adapter.SentTo(adminChat)) != 1 {
		t.Fatalf("admin got %d reminders, want 1", len(adapter.SentTo(adminChat)))
	}

	var got models.Order
	gormDB.First(&got, o.ID)
	if got.RemindersSent != 1 || got.LastReminderAt == nil {
		t.Fatalf("bookkeeping not recorded: sent=%d last=%v", got.RemindersSent, got.LastReminderAt)
	}
	if got.Status != models.StatusAccepted {
		t.Fatalf("sweep changed status to %q", got.Status)
	}
}

func TestSweepHonorsBaseline(t *testing.T) {
	s, adapter, gormDB := newTestSweeper(t)
	now := time.Date(2026, 9, 1, 18, 0, 0, 0, time.UTC)

	// Accepted two hours ago, baseline is three: nothing fires.
	seedOrder(t, gormDB, models.StatusAccepted, 2*time.Hour, now)
	if err := s.Sweep(context.Background(), now); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if adapter.SentCount() != 0 {
		t.Fatalf("reminder fired before the baseline")
	}
}

func TestSweepUsesEstimatePlusBuffer(t *testing.T) {
	s, adapter, gormDB := newTestSweeper(t)
	now := time.Date(2026, 9, 1, 18, 0, 0, 0, time.UTC)

	// Estimate 360 min + 30 buffer beats the 180 baseline; four hours in,
	// the order is not yet due.
	o := seedOrder(t, gormDB, models.StatusArrived, 4*time.Hour, now)
	gormDB.Model(o).Update("estimate_minutes", 360)
	if err := s.Sweep(context.Background(), now); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if adapter.SentCount() != 0 {
		t.Fatalf("reminder ignored the self-estimate")
	}

	// Seven hours in, it is.
	later := now.Add(3 * time.Hour)
	if err := s.Sweep(context.Background(), later); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(adapter.SentTo(masterChat)) != 1 {
		t.Fatalf("reminder did not fire past estimate+buffer")
	}
}

func TestSweepRepeatInterval(t *testing.T) {
	s, adapter, gormDB := newTestSweeper(t)
	now := time.Date(2026, 9, 1, 18, 0, 0, 0, time.UTC)

	seedOrder(t, gormDB, models.StatusAccepted, 4*time.Hour, now)
	if err := s.Sweep(context.Background(), now); err != nil {
		t.Fatalf("first sweep: %v", err)
	}
	// Half an hour later: inside the repeat interval, no second nudge.
	if err := s.Sweep(context.Background(), now.Add(30*time.Minute)); err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if got := len(adapter.SentTo(masterChat)); got != 1 {
		t.Fatalf("master got %d reminders inside repeat interval, want 1", got)
	}
	// Past the interval it repeats.
	if err := s.Sweep(context.Background(), now.Add(61*time.Minute)); err != nil {
		t.Fatalf("third sweep: %v", err)
	}
	if got := len(adapter.SentTo(masterChat)); got != 2 {
		t.Fatalf("master got %d reminders past repeat interval, want 2", got)
	}
}

func TestSweepSkipsTerminalAndUnaccepted(t *testing.T) {
	s, adapter, gormDB := newTestSweeper(t)
	now := time.Date(2026, 9, 1, 18, 0, 0, 0, time.UTC)

	seedOrder(t, gormDB, models.StatusClosed, 10*time.Hour, now)
	seedOrder(t, gormDB, models.StatusCancelled, 10*time.Hour, now)
	// Dispatched but never accepted: no acceptance clock to measure from.
	o := &models.Order{Status: models.StatusSentToMaster, MasterChatID: masterChat, AdminChatID: adminChat}
	gormDB.Create(o)

	if err := s.Sweep(context.Background(), now); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if adapter.SentCount() != 0 {
		t.Fatalf("sweep reminded terminal or unaccepted orders")
	}
}

func TestDigestGoesToAdmins(t *testing.T) {
	s, adapter, gormDB := newTestSweeper(t)
	s.clock = func() time.Time { return time.Date(2026, 9, 2, 8, 0, 0, 0, time.UTC) }

	o := seedOrder(t, gormDB, models.StatusClosed, time.Hour, s.clock())
	yesterday := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	gormDB.Model(o).Update("created_at", yesterday)

	s.Digest(context.Background())

	adminMsgs := adapter.SentTo(adminChat)
	if len(adminMsgs) != 1 {
		t.Fatalf("admin got %d digests, want 1", len(adminMsgs))
	}
	if !strings.Contains(adminMsgs[0].Text, "Daily digest") ||
		!strings.Contains(adminMsgs[0].Text, "Orders: 1") {
		t.Fatalf("digest text = %q", adminMsgs[0].Text)
	}
	if len(adapter.SentTo(masterChat)) != 0 {
		t.Fatalf("digest leaked to a master chat")
	}
}

func TestRetireArchivesOldTerminalOrders(t *testing.T) {
	s, _, gormDB := newTestSweeper(t)
	now := time.Date(2026, 9, 1, 18, 0, 0, 0, time.UTC)

	oldClosed := seedOrder(t, gormDB, models.StatusClosed, time.Hour, now)
	gormDB.Model(oldClosed).Update("updated_at", now.AddDate(0, 0, -120))
	freshClosed := seedOrder(t, gormDB, models.StatusClosed, time.Hour, now)
	active := seedOrder(t, gormDB, models.StatusAccepted, time.Hour, now)
	gormDB.Model(active).Update("updated_at", now.AddDate(0, 0, -120))

	if err := s.Retire(now); err != nil {
		t.Fatalf("retire: %v", err)
	}

	var got models.Order
	gormDB.First(&got, oldClosed.ID)
	if !got.Archived {
		t.Fatalf("old terminal order was not archived")
	}
	got = models.Order{}
	gormDB.First(&got, freshClosed.ID)
	if got.Archived {
		t.Fatalf("fresh terminal order was archived")
	}
	got = models.Order{}
	gormDB.First(&got, active.ID)
	if got.Archived {
		t.Fatalf("active order was archived")
	}
}
