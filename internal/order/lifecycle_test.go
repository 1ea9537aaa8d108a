package order

import (
	"errors"
	"testing"
	"time"

	"github.com/muradov/gpsmaster/internal/config"
	"github.com/muradov/gpsmaster/internal/evidence"
	"github.com/muradov/gpsmaster/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	adminChat  int64 = 100
	masterChat int64 = 200
	otherChat  int64 = 999
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.AutoMigrate(&models.Order{}, &models.Operator{}); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}
	return db
}

func testMaster() config.MasterConfig {
	return config.MasterConfig{ID: "rustam", Name: "Rustam", City: "Dushanbe", ChatID: masterChat}
}

func testCatalog() evidence.Catalog {
	return evidence.NewCatalog(config.DefaultDevices, config.PairingConfig{Parent: "FMB125", Companion: "DUT"})
}

// createInstall creates and dispatches an install order with the given
// composition, returning its id.
func createInstall(t *testing.T, db *gorm.DB, options []string, quantities map[string]int) uint {
	t.Helper()
	o, err := Create(db, CreateOpts{
		Phone:       "+992900000001",
		Type:        models.TypeInstall,
		Logistics:   models.LogisticsVisit,
		Address:     "Rudaki 1",
		Options:     options,
		Quantities:  quantities,
		Master:      testMaster(),
		AdminChatID: adminChat,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if o.Status != models.StatusDraft {
		t.Fatalf("status = %s, want draft", o.Status)
	}
	if _, err := Dispatch(db, o.ID); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	return o.ID
}

func mustStatus(t *testing.T, db *gorm.DB, id uint, want string) {
	t.Helper()
	o, err := Get(db, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if o.Status != want {
		t.Fatalf("status = %s, want %s", o.Status, want)
	}
}

func TestCreate_Validation(t *testing.T) {
	db := openTestDB(t)

	if _, err := Create(db, CreateOpts{Master: testMaster(), AdminChatID: adminChat}); err == nil {
		t.Fatal("expected error for missing phone")
	}
	if _, err := Create(db, CreateOpts{Phone: "+992", AdminChatID: adminChat}); err == nil {
		t.Fatal("expected error for missing master")
	}
	if _, err := Create(db, CreateOpts{
		Phone: "+992", Logistics: models.LogisticsVisit, Master: testMaster(),
	}); err == nil {
		t.Fatal("expected error for visit without address")
	}
}

func TestAccept_TemporalGuard(t *testing.T) {
	db := openTestDB(t)
	id := createInstall(t, db, []string{"FMB920"}, map[string]int{"FMB920": 1})
	now := time.Now()

	_, err := Accept(db, id, masterChat, now.Add(-time.Hour), now)
	if !errors.Is(err, ErrPastInstant) {
		t.Fatalf("err = %v, want ErrPastInstant", err)
	}
	mustStatus(t, db, id, models.StatusSentToMaster)

	// Exactly "now" is not strictly in the future either.
	if _, err := Accept(db, id, masterChat, now, now); !errors.Is(err, ErrPastInstant) {
		t.Fatalf("err = %v, want ErrPastInstant", err)
	}

	o, err := Accept(db, id, masterChat, now.Add(2*time.Hour), now)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if o.Status != models.StatusAccepted || o.AcceptedAt == nil || o.ScheduledAt == nil {
		t.Fatalf("accept did not record schedule: %+v", o)
	}
}

func TestAccept_IdentityGuard(t *testing.T) {
	db := openTestDB(t)
	id := createInstall(t, db, []string{"FMB920"}, nil)
	now := time.Now()

	if _, err := Accept(db, id, otherChat, now.Add(time.Hour), now); !errors.Is(err, ErrNotPermitted) {
		t.Fatalf("err = %v, want ErrNotPermitted", err)
	}
	mustStatus(t, db, id, models.StatusSentToMaster)
}

func TestDecline_Terminal(t *testing.T) {
	db := openTestDB(t)
	id := createInstall(t, db, []string{"FMB920"}, nil)

	if _, err := Decline(db, id, masterChat); err != nil {
		t.Fatalf("decline: %v", err)
	}
	mustStatus(t, db, id, models.StatusDeclined)

	// No transition is defined out of a terminal state.
	now := time.Now()
	if _, err := Accept(db, id, masterChat, now.Add(time.Hour), now); !errors.Is(err, ErrStale) {
		t.Fatalf("err = %v, want ErrStale", err)
	}
}

func TestProposeAndAgree(t *testing.T) {
	db := openTestDB(t)
	id := createInstall(t, db, []string{"FMB920"}, nil)
	now := time.Now()

	if _, err := Accept(db, id, masterChat, now.Add(time.Hour), now); err != nil {
		t.Fatalf("accept: %v", err)
	}

	// Admin counter-proposes; past instants are rejected in place.
	if _, err := Propose(db, id, ProposedByAdmin, adminChat, models.RoleAdmin, now.Add(-time.Minute), now); !errors.Is(err, ErrPastInstant) {
		t.Fatalf("err = %v, want ErrPastInstant", err)
	}
	proposed := now.Add(3 * time.Hour)
	if _, err := Propose(db, id, ProposedByAdmin, adminChat, models.RoleAdmin, proposed, now); err != nil {
		t.Fatalf("propose: %v", err)
	}
	mustStatus(t, db, id, models.StatusTimeProposedByAdmin)

	// The proposing side cannot agree with itself.
	if _, err := AgreeTime(db, id, adminChat, models.RoleAdmin); !errors.Is(err, ErrNotPermitted) {
		t.Fatalf("err = %v, want ErrNotPermitted", err)
	}

	// Master counters back, then admin agrees.
	countered := now.Add(5 * time.Hour)
	if _, err := Propose(db, id, ProposedByMaster, masterChat, models.RoleMaster, countered, now); err != nil {
		t.Fatalf("counter propose: %v", err)
	}
	mustStatus(t, db, id, models.StatusTimeProposedByMaster)

	o, err := AgreeTime(db, id, adminChat, models.RoleAdmin)
	if err != nil {
		t.Fatalf("agree: %v", err)
	}
	if o.Status != models.StatusTimeConfirmed {
		t.Fatalf("status = %s, want time_confirmed", o.Status)
	}
	if o.ScheduledAt == nil || !o.ScheduledAt.Equal(countered) {
		t.Fatalf("scheduled = %v, want %v", o.ScheduledAt, countered)
	}
	if o.ProposedAt != nil || o.ProposedBy != "" {
		t.Fatalf("proposal not cleared: %+v", o)
	}
}

func TestArrive_FromAcceptedOrConfirmed(t *testing.T) {
	db := openTestDB(t)
	id := createInstall(t, db, []string{"FMB920"}, nil)
	now := time.Now()

	// Not before acceptance.
	if _, err := Arrive(db, id, masterChat, now); !errors.Is(err, ErrStale) {
		t.Fatalf("err = %v, want ErrStale", err)
	}

	if _, err := Accept(db, id, masterChat, now.Add(time.Hour), now); err != nil {
		t.Fatalf("accept: %v", err)
	}
	o, err := Arrive(db, id, masterChat, now)
	if err != nil {
		t.Fatalf("arrive: %v", err)
	}
	if o.Status != models.StatusArrived || o.ArrivedAt == nil {
		t.Fatalf("arrive not recorded: %+v", o)
	}
}

func TestEvidenceFlow(t *testing.T) {
	db := openTestDB(t)
	cat := testCatalog()
	options := []string{"FMB125", "DUT"}
	quantities := map[string]int{"FMB125": 2, "DUT": 2}
	id := createInstall(t, db, options, quantities)
	now := time.Now()

	if _, err := Accept(db, id, masterChat, now.Add(time.Hour), now); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if _, err := Arrive(db, id, masterChat, now); err != nil {
		t.Fatalf("arrive: %v", err)
	}

	plan := cat.Plan(options, quantities)

	// A non-empty plan blocks completion straight from arrived.
	if _, _, err := Complete(db, id, masterChat, plan, now); !errors.Is(err, ErrStale) {
		t.Fatalf("err = %v, want ErrStale", err)
	}

	if _, err := BeginEvidence(db, id, masterChat); err != nil {
		t.Fatalf("begin evidence: %v", err)
	}
	mustStatus(t, db, id, models.StatusEvidencePending)

	// Mandatory slots cannot be skipped.
	if _, err := SkipSlot(db, id, masterChat, plan, "FMB125:1:device"); !errors.Is(err, ErrMandatorySlot) {
		t.Fatalf("err = %v, want ErrMandatorySlot", err)
	}
	// Unknown slots are refused.
	if _, err := AttachPhoto(db, id, masterChat, plan, "FMB125:9:device", "f"); !errors.Is(err, ErrUnknownSlot) {
		t.Fatalf("err = %v, want ErrUnknownSlot", err)
	}

	// Completing with open slots is refused.
	if _, _, err := Complete(db, id, masterChat, plan, now); !errors.Is(err, ErrUnresolvedSlots) {
		t.Fatalf("err = %v, want ErrUnresolvedSlots", err)
	}

	// Resolve all 4 mandatory slots with photos, skip the 4 optional ones.
	for _, s := range plan {
		var err error
		if s.Required {
			_, err = AttachPhoto(db, id, masterChat, plan, s.Key, "file-"+s.Key)
		} else {
			_, err = SkipSlot(db, id, masterChat, plan, s.Key)
		}
		if err != nil {
			t.Fatalf("resolve %s: %v", s.Key, err)
		}
	}

	o, missing, err := Complete(db, id, masterChat, plan, now)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if o.Status != models.StatusCompleted || o.CompletedAt == nil {
		t.Fatalf("complete not recorded: %+v", o)
	}
	if len(missing) != 4 {
		t.Fatalf("expected 4 skipped optional labels, got %v", missing)
	}
}

func TestComplete_EmptyPlanSkipsEvidence(t *testing.T) {
	db := openTestDB(t)
	cat := testCatalog()
	options := []string{"Relay"} // accessory only: empty plan
	id := createInstall(t, db, options, nil)
	now := time.Now()

	if _, err := Accept(db, id, masterChat, now.Add(time.Hour), now); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if _, err := Arrive(db, id, masterChat, now); err != nil {
		t.Fatalf("arrive: %v", err)
	}

	plan := cat.Plan(options, nil)
	o, missing, err := Complete(db, id, masterChat, plan, now)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if o.Status != models.StatusCompleted {
		t.Fatalf("status = %s, want completed", o.Status)
	}
	if len(missing) != 0 {
		t.Fatalf("expected no missing labels, got %v", missing)
	}
}

func TestClose_Idempotent(t *testing.T) {
	db := openTestDB(t)
	cat := testCatalog()
	options := []string{"Relay"}
	id := createInstall(t, db, options, nil)
	now := time.Now()

	Accept(db, id, masterChat, now.Add(time.Hour), now)
	Arrive(db, id, masterChat, now)
	Complete(db, id, masterChat, cat.Plan(options, nil), now)

	// Only the assigning admin or a super-admin may close.
	if _, _, err := Close(db, id, otherChat, models.RoleAdmin, 0, now); !errors.Is(err, ErrNotPermitted) {
		t.Fatalf("err = %v, want ErrNotPermitted", err)
	}
	if _, _, err := Close(db, id, otherChat, models.RoleSuperAdmin, 45, now); err != nil {
		t.Fatalf("superadmin close: %v", err)
	}

	o, already, err := Close(db, id, adminChat, models.RoleAdmin, 90, now)
	if err != nil {
		t.Fatalf("re-close: %v", err)
	}
	if !already {
		t.Fatal("second close must report already closed")
	}
	if o.Status != models.StatusClosed {
		t.Fatalf("status = %s, want closed", o.Status)
	}
	if o.LaborMinutes != 45 {
		t.Fatalf("re-close must not overwrite labor minutes, got %d", o.LaborMinutes)
	}
}

func TestCancel(t *testing.T) {
	db := openTestDB(t)
	id := createInstall(t, db, []string{"FMB920"}, nil)

	if _, err := Cancel(db, id, otherChat, models.RoleMaster); !errors.Is(err, ErrNotPermitted) {
		t.Fatalf("err = %v, want ErrNotPermitted", err)
	}
	if _, err := Cancel(db, id, masterChat, models.RoleMaster); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	mustStatus(t, db, id, models.StatusCancelled)

	// Cancelling a terminal order is a stale transition.
	if _, err := Cancel(db, id, adminChat, models.RoleAdmin); !errors.Is(err, ErrStale) {
		t.Fatalf("err = %v, want ErrStale", err)
	}
}

func TestGet_NotFound(t *testing.T) {
	db := openTestDB(t)
	if _, err := Get(db, 12345); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestPendingExcludesTerminalAndArchived(t *testing.T) {
	db := openTestDB(t)
	active := createInstall(t, db, []string{"FMB920"}, nil)
	cancelled := createInstall(t, db, []string{"FMB920"}, nil)
	Cancel(db, cancelled, adminChat, models.RoleAdmin)

	archived := createInstall(t, db, []string{"FMB920"}, nil)
	db.Model(&models.Order{}).Where("id = ?", archived).Update("archived", true)

	pending, err := Pending(db)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != active {
		t.Fatalf("pending = %+v, want only order %d", pending, active)
	}
}
