// Package report builds read-only projections over the order set: period
// summaries for the dispatcher and tabular rows for spreadsheet export. It
// computes sums only; rendering and file I/O belong to callers.
package report

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/muradov/gpsmaster/internal/models"
	"github.com/muradov/gpsmaster/internal/order"
	"gorm.io/gorm"
)

// Window is a half-open reporting interval [From, To).
type Window struct {
	From  time.Time
	To    time.Time
	Label string
}

// Preset names accepted by Preset.
const (
	PresetToday     = "today"
	PresetYesterday = "yesterday"
	PresetMonth     = "month"
	PresetLastMonth = "last_month"
	PresetLast7     = "last7"
)

// Preset resolves a named reporting window relative to now in loc.
func Preset(name string, now time.Time, loc *time.Location) (Window, error) {
	now = now.In(loc)
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)

	switch name {
	case PresetToday:
		return Window{From: day, To: day.AddDate(0, 0, 1), Label: "Today"}, nil
	case PresetYesterday:
		return Window{From: day.AddDate(0, 0, -1), To: day, Label: "Yesterday"}, nil
	case PresetMonth:
		first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, loc)
		return Window{From: first, To: first.AddDate(0, 1, 0), Label: "This month"}, nil
	case PresetLastMonth:
		first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, loc)
		return Window{From: first.AddDate(0, -1, 0), To: first, Label: "Last month"}, nil
	case PresetLast7:
		return Window{From: day.AddDate(0, 0, -6), To: day.AddDate(0, 0, 1), Label: "Last 7 days"}, nil
	default:
		return Window{}, fmt.Errorf("report: unknown preset %q", name)
	}
}

// Range builds an explicit window covering both dates inclusive.
func Range(from, to time.Time) Window {
	return Window{
		From:  from,
		To:    to.AddDate(0, 0, 1),
		Label: fmt.Sprintf("%s to %s", from.Format("02.01.2006"), to.Format("02.01.2006")),
	}
}

// DeviceCount aggregates one device kind across orders.
type DeviceCount struct {
	Orders int // orders that include the kind
	Units  int // total units across those orders
}

// MasterTotal aggregates one master's orders in the window.
type MasterTotal struct {
	MasterID string
	Name     string
	Total    int
	Closed   int
}

// Summary is the aggregate view over one window.
type Summary struct {
	Window   Window
	MasterID string // non-empty when scoped to one master

	Total    int
	ByType   map[string]int
	ByCity   map[string]int
	ByDevice map[string]DeviceCount
	Masters  []MasterTotal

	orders []models.Order
}

// Build aggregates all orders created inside the window, optionally scoped
// to one master.
func Build(db *gorm.DB, w Window, masterID string) (*Summary, error) {
	orders, err := order.InWindow(db, w.From, w.To, masterID)
	if err != nil {
		return nil, err
	}

	s := &Summary{
		Window:   w,
		MasterID: masterID,
		Total:    len(orders),
		ByType:   map[string]int{},
		ByCity:   map[string]int{},
		ByDevice: map[string]DeviceCount{},
		orders:   orders,
	}

	perMaster := map[string]*MasterTotal{}
	for _, o := range orders {
		s.ByType[o.Type]++
		if o.City != "" {
			s.ByCity[o.City]++
		}
		for kind, units := range o.Quantities() {
			dc := s.ByDevice[kind]
			dc.Orders++
			dc.Units += units
			s.ByDevice[kind] = dc
		}
		mt, ok := perMaster[o.MasterID]
		if !ok {
			mt = &MasterTotal{MasterID: o.MasterID, Name: o.MasterName}
			perMaster[o.MasterID] = mt
		}
		mt.Total++
		if o.Status == models.StatusClosed {
			mt.Closed++
		}
	}

	for _, mt := range perMaster {
		s.Masters = append(s.Masters, *mt)
	}
	sort.Slice(s.Masters, func(i, j int) bool { return s.Masters[i].MasterID < s.Masters[j].MasterID })

	return s, nil
}

// Text renders the summary as a short chat message.
func (s *Summary) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Report: %s\n", s.Window.Label)
	fmt.Fprintf(&b, "Orders: %d\n", s.Total)

	if s.Total == 0 {
		return b.String()
	}

	b.WriteString("\nBy type:\n")
	for _, t := range sortedKeys(s.ByType) {
		fmt.Fprintf(&b, "  %s: %d\n", t, s.ByType[t])
	}

	if len(s.ByCity) > 0 {
		b.WriteString("\nBy city:\n")
		for _, c := range sortedKeys(s.ByCity) {
			fmt.Fprintf(&b, "  %s: %d\n", c, s.ByCity[c])
		}
	}

	if len(s.ByDevice) > 0 {
		b.WriteString("\nBy device:\n")
		kinds := make([]string, 0, len(s.ByDevice))
		for k := range s.ByDevice {
			kinds = append(kinds, k)
		}
		sort.Strings(kinds)
		for _, k := range kinds {
			dc := s.ByDevice[k]
			fmt.Fprintf(&b, "  %s: %d units in %d orders\n", k, dc.Units, dc.Orders)
		}
	}

	if len(s.Masters) > 0 && s.MasterID == "" {
		b.WriteString("\nBy master:\n")
		for _, mt := range s.Masters {
			fmt.Fprintf(&b, "  %s: %d (%d closed)\n", mt.Name, mt.Total, mt.Closed)
		}
	}

	return b.String()
}

// Table returns the per-order rows for spreadsheet export: a header row plus
// one value row per order in the window.
func (s *Summary) Table() ([]string, [][]string) {
	header := []string{
		"ID", "Created", "Type", "Logistics", "City", "Master",
		"Phone", "Devices", "Status", "Closed", "Labor min",
	}
	rows := make([][]string, 0, len(s.orders))
	for _, o := range s.orders {
		rows = append(rows, orderRow(o))
	}
	return header, rows
}

// PendingTable returns rows for the pending view (all non-terminal orders).
func PendingTable(db *gorm.DB) ([]string, [][]string, error) {
	orders, err := order.Pending(db)
	if err != nil {
		return nil, nil, err
	}
	header := []string{
		"ID", "Created", "Type", "Logistics", "City", "Master",
		"Phone", "Devices", "Status", "Closed", "Labor min",
	}
	rows := make([][]string, 0, len(orders))
	for _, o := range orders {
		rows = append(rows, orderRow(o))
	}
	return header, rows, nil
}

func orderRow(o models.Order) []string {
	closed := ""
	if o.ClosedAt != nil {
		closed = o.ClosedAt.Format("02.01.2006 15:04")
	}
	labor := ""
	if o.LaborMinutes > 0 {
		labor = fmt.Sprintf("%d", o.LaborMinutes)
	}
	return []string{
		fmt.Sprintf("%d", o.ID),
		o.CreatedAt.Format("02.01.2006 15:04"),
		o.Type,
		o.Logistics,
		o.City,
		o.MasterName,
		o.Phone,
		deviceSummary(o),
		o.Status,
		closed,
		labor,
	}
}

// deviceSummary renders "FMB125 x2, DUT x2" for install orders.
func deviceSummary(o models.Order) string {
	q := o.Quantities()
	if len(q) == 0 {
		return ""
	}
	kinds := make([]string, 0, len(q))
	for k := range q {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	parts := make([]string, 0, len(kinds))
	for _, k := range kinds {
		parts = append(parts, fmt.Sprintf("%s x%d", k, q[k]))
	}
	return strings.Join(parts, ", ")
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
