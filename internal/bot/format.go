package bot

import (
	"fmt"
	"strings"
	"time"

	"github.com/muradov/gpsmaster/internal/models"
)

const msgStale = "That action is out of date. Use the menu to continue."

// statusLabels maps stored statuses to chat wording.
var statusLabels = map[string]string{
	models.StatusDraft:                "draft",
	models.StatusSentToMaster:         "waiting for master",
	models.StatusAccepted:             "accepted",
	models.StatusTimeProposedByAdmin:  "time proposed (dispatcher)",
	models.StatusTimeProposedByMaster: "time proposed (master)",
	models.StatusTimeConfirmed:        "time confirmed",
	models.StatusArrived:              "in progress",
	models.StatusEvidencePending:      "collecting photos",
	models.StatusCompleted:            "completed",
	models.StatusClosed:               "closed",
	models.StatusDeclined:             "declined",
	models.StatusCancelled:            "cancelled",
}

func statusLabel(status string) string {
	if l, ok := statusLabels[status]; ok {
		return l
	}
	return status
}

func typeLabel(t string) string {
	if t == models.TypeInstall {
		return "Install"
	}
	return "Repair"
}

func logisticsLabel(l string) string {
	if l == models.LogisticsCome {
		return "Client comes to service point"
	}
	return "Master travels to client"
}

func fmtInstant(t *time.Time, loc *time.Location) string {
	if t == nil {
		return "-"
	}
	return t.In(loc).Format("02.01.2006 15:04")
}

// orderSummary renders the full order card used in dispatch notices and the
// draft review step.
func orderSummary(o *models.Order, loc *time.Location) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Order #%d: %s\n", o.ID, typeLabel(o.Type))
	fmt.Fprintf(&b, "Status: %s\n", statusLabel(o.Status))
	fmt.Fprintf(&b, "Phone: %s\n", o.Phone)
	fmt.Fprintf(&b, "Logistics: %s\n", logisticsLabel(o.Logistics))
	if o.Address != "" {
		fmt.Fprintf(&b, "Address: %s\n", o.Address)
	}
	if o.City != "" {
		fmt.Fprintf(&b, "City: %s\n", o.City)
	}
	if devices := installSummary(o); devices != "" {
		fmt.Fprintf(&b, "Devices: %s\n", devices)
	}
	if o.Comment != "" {
		fmt.Fprintf(&b, "Comment: %s\n", o.Comment)
	}
	fmt.Fprintf(&b, "Master: %s\n", o.MasterName)
	if o.ScheduledAt != nil {
		fmt.Fprintf(&b, "Scheduled: %s\n", fmtInstant(o.ScheduledAt, loc))
	}
	if o.ProposedAt != nil {
		fmt.Fprintf(&b, "Proposed: %s (by %s)\n", fmtInstant(o.ProposedAt, loc), o.ProposedBy)
	}
	return b.String()
}

// installSummary renders "FMB125 x2, DUT x2" or "" for repairs.
func installSummary(o *models.Order) string {
	q := o.Quantities()
	if len(q) == 0 {
		return ""
	}
	kinds := sortedSelection(toSet(o.Options()))
	parts := make([]string, 0, len(kinds))
	for _, k := range kinds {
		n := q[k]
		if n == 0 {
			n = 1
		}
		parts = append(parts, fmt.Sprintf("%s x%d", k, n))
	}
	return strings.Join(parts, ", ")
}

func toSet(kinds []string) map[string]bool {
	set := make(map[string]bool, len(kinds))
	for _, k := range kinds {
		set[k] = true
	}
	return set
}

// pendingList renders the pending-orders overview for a chat message.
func pendingList(orders []models.Order, loc *time.Location) string {
	if len(orders) == 0 {
		return "No pending orders."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Pending orders: %d\n\n", len(orders))
	for _, o := range orders {
		fmt.Fprintf(&b, "#%d %s | %s | %s | %s\n",
			o.ID, typeLabel(o.Type), o.City, o.MasterName, statusLabel(o.Status))
		if o.ScheduledAt != nil {
			fmt.Fprintf(&b, "   scheduled %s\n", fmtInstant(o.ScheduledAt, loc))
		}
	}
	return b.String()
}
