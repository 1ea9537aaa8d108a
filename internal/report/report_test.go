package report

import (
	"strings"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/muradov/gpsmaster/internal/db"
	"github.com/muradov/gpsmaster/internal/models"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	gormDB, err := db.OpenMemory()
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return gormDB
}

func seed(t *testing.T, gormDB *gorm.DB, o models.Order, createdAt time.Time) uint {
	t.Helper()
	if err := gormDB.Create(&o).Error; err != nil {
		t.Fatalf("seed: %v", err)
	}
	gormDB.Model(&o).Update("created_at", createdAt)
	return o.ID
}

func TestPresetWindows(t *testing.T) {
	now := time.Date(2026, 9, 15, 14, 30, 0, 0, time.UTC)

	cases := []struct {
		preset string
		from   time.Time
		to     time.Time
	}{
		{PresetToday, time.Date(2026, 9, 15, 0, 0, 0, 0, time.UTC), time.Date(2026, 9, 16, 0, 0, 0, 0, time.UTC)},
		{PresetYesterday, time.Date(2026, 9, 14, 0, 0, 0, 0, time.UTC), time.Date(2026, 9, 15, 0, 0, 0, 0, time.UTC)},
		{PresetMonth, time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC), time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)},
		{PresetLastMonth, time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC), time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)},
		{PresetLast7, time.Date(2026, 9, 9, 0, 0, 0, 0, time.UTC), time.Date(2026, 9, 16, 0, 0, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		w, err := Preset(tc.preset, now, time.UTC)
		if err != nil {
			t.Fatalf("%s: %v", tc.preset, err)
		}
		if !w.From.Equal(tc.from) || !w.To.Equal(tc.to) {
			t.Errorf("%s window = [%v, %v), want [%v, %v)", tc.preset, w.From, w.To, tc.from, tc.to)
		}
	}

	if _, err := Preset("fortnight", now, time.UTC); err == nil {
		t.Fatalf("unknown preset accepted")
	}
}

func TestRangeIsInclusive(t *testing.T) {
	from := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 9, 3, 0, 0, 0, 0, time.UTC)
	w := Range(from, to)
	if !w.To.Equal(to.AddDate(0, 0, 1)) {
		t.Fatalf("to = %v, want end of Sep 3", w.To)
	}
}

func TestBuildAggregates(t *testing.T) {
	gormDB := openTestDB(t)
	day := time.Date(2026, 9, 10, 12, 0, 0, 0, time.UTC)

	install := models.Order{
		Type: models.TypeInstall, City: "Dushanbe",
		MasterID: "m1", MasterName: "Karim", Status: models.StatusClosed,
	}
	install.SetQuantities(map[string]int{"FMB125": 2, "DUT": 2})
	seed(t, gormDB, install, day)
	seed(t, gormDB, models.Order{
		Type: models.TypeRepair, City: "Khujand",
		MasterID: "m2", MasterName: "Olim", Status: models.StatusAccepted,
	}, day)
	// Outside the window.
	seed(t, gormDB, models.Order{Type: models.TypeRepair, MasterID: "m1"}, day.AddDate(0, 0, -10))

	w := Window{From: day.AddDate(0, 0, -1), To: day.AddDate(0, 0, 1), Label: "test"}
	s, err := Build(gormDB, w, "")
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	if s.Total != 2 {
		t.Fatalf("total = %d, want 2", s.Total)
	}
	if s.ByType[models.TypeInstall] != 1 || s.ByType[models.TypeRepair] != 1 {
		t.Fatalf("by type = %v", s.ByType)
	}
	if s.ByCity["Dushanbe"] != 1 || s.ByCity["Khujand"] != 1 {
		t.Fatalf("by city = %v", s.ByCity)
	}
	if dc := s.ByDevice["FMB125"]; dc.Orders != 1 || dc.Units != 2 {
		t.Fatalf("FMB125 = %+v", dc)
	}
	if len(s.Masters) != 2 {
		t.Fatalf("masters = %v", s.Masters)
	}
	if s.Masters[0].MasterID != "m1" || s.Masters[0].Closed != 1 {
		t.Fatalf("m1 totals = %+v", s.Masters[0])
	}

	text := s.Text()
	for _, want := range []string{"Orders: 2", "install: 1", "Dushanbe: 1", "FMB125: 2 units", "Karim: 1 (1 closed)"} {
		if !strings.Contains(text, want) {
			t.Errorf("summary missing %q:\n%s", want, text)
		}
	}
}

func TestBuildScopedToMaster(t *testing.T) {
	gormDB := openTestDB(t)
	day := time.Date(2026, 9, 10, 12, 0, 0, 0, time.UTC)
	seed(t, gormDB, models.Order{Type: models.TypeRepair, MasterID: "m1", MasterName: "Karim"}, day)
	seed(t, gormDB, models.Order{Type: models.TypeRepair, MasterID: "m2", MasterName: "Olim"}, day)

	w := Window{From: day.AddDate(0, 0, -1), To: day.AddDate(0, 0, 1)}
	s, err := Build(gormDB, w, "m1")
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if s.Total != 1 {
		t.Fatalf("scoped total = %d, want 1", s.Total)
	}
	// Scoped summaries drop the per-master breakdown from the text.
	if strings.Contains(s.Text(), "By master") {
		t.Fatalf("scoped summary lists masters:\n%s", s.Text())
	}
}

func TestTableRows(t *testing.T) {
	gormDB := openTestDB(t)
	day := time.Date(2026, 9, 10, 12, 0, 0, 0, time.UTC)

	closedAt := day.Add(4 * time.Hour)
	o := models.Order{
		Type: models.TypeInstall, Logistics: models.LogisticsVisit,
		City: "Dushanbe", MasterID: "m1", MasterName: "Karim",
		Phone: "+992900000001", Status: models.StatusClosed,
		ClosedAt: &closedAt, LaborMinutes: 90,
	}
	o.SetQuantities(map[string]int{"FMB125": 2, "DUT": 2})
	seed(t, gormDB, o, day)

	w := Window{From: day.AddDate(0, 0, -1), To: day.AddDate(0, 0, 1)}
	s, err := Build(gormDB, w, "")
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	header, rows := s.Table()
	if len(header) != 11 {
		t.Fatalf("header = %v", header)
	}
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(rows))
	}
	row := rows[0]
	if row[7] != "DUT x2, FMB125 x2" {
		t.Fatalf("devices column = %q", row[7])
	}
	if row[10] != "90" {
		t.Fatalf("labor column = %q", row[10])
	}
}

func TestPendingTableExcludesTerminal(t *testing.T) {
	gormDB := openTestDB(t)
	day := time.Date(2026, 9, 10, 12, 0, 0, 0, time.UTC)
	seed(t, gormDB, models.Order{Status: models.StatusAccepted, MasterID: "m1"}, day)
	seed(t, gormDB, models.Order{Status: models.StatusClosed, MasterID: "m1"}, day)
	seed(t, gormDB, models.Order{Status: models.StatusCancelled, MasterID: "m1"}, day)

	_, rows, err := PendingTable(gormDB)
	if err != nil {
		t.Fatalf("pending table: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("pending rows = %d, want 1", len(rows))
	}
}
