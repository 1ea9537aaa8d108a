package bot

import (
	"fmt"
	"sort"
	"strings"

	"github.com/muradov/gpsmaster/internal/config"
	"github.com/muradov/gpsmaster/internal/models"
)

// Callback verbs. Payloads are "verb" or "verb:arg[:arg]".
const (
	cbMenu       = "menu"
	cbNewOrder   = "new"
	cbType       = "type"
	cbLogistics  = "logi"
	cbDevice     = "dev"
	cbDeviceDone = "dev_done"
	cbQty        = "qty"
	cbMaster     = "master"
	cbDispatch   = "dispatch"
	cbSkipNote   = "skip_note"
	cbCancel     = "cancel"
	cbCancelYes  = "cancel_yes"
	cbCancelNo   = "cancel_no"

	cbAccept   = "accept"
	cbDecline  = "decline"
	cbDay      = "day"
	cbCalendar = "cal"
	cbHour     = "hour"
	cbEstimate = "est"
	cbEstSkip  = "est_skip"
	cbPropose  = "prop" // prop:<id> from either side, role decides origin
	cbAgree    = "agree"
	cbArrive   = "arrive"

	cbPhotoSkip = "ph_skip"
	cbPhotoDone = "ph_done"
	cbResume    = "resume"

	cbClose     = "close"
	cbLaborSkip = "labor_skip"
	cbOrderStop = "ocancel"

	cbReport    = "report"
	cbRepPreset = "rep"
	cbRepRange  = "rep_range"
	cbPending   = "pending"
	cbExport    = "export"
	cbExpPend   = "export_pending"

	cbRequest = "req_access"
	cbApprove = "appr"
	cbDeny    = "deny"
	cbMyID    = "myid"
)

// arg joins a verb with arguments into callback data.
func arg(verb string, args ...string) string {
	if len(args) == 0 {
		return verb
	}
	return verb + ":" + strings.Join(args, ":")
}

// splitData separates callback data into verb and remainder.
func splitData(data string) (verb, rest string) {
	verb, rest, _ = strings.Cut(data, ":")
	return verb, rest
}

// adminMenu is the dispatcher's top-level keyboard.
func adminMenu() [][]Button {
	return [][]Button{
		Row(Btn("New order", cbNewOrder)),
		Row(Btn("Pending orders", cbPending)),
		Row(Btn("Reports", cbReport)),
		Row(Btn("My ID", cbMyID)),
	}
}

// masterMenu is the technician's top-level keyboard.
func masterMenu() [][]Button {
	return [][]Button{
		Row(Btn("My orders", cbPending)),
		Row(Btn("My report", arg(cbRepPreset, "month"))),
		Row(Btn("My ID", cbMyID)),
	}
}

func typeKeyboard() [][]Button {
	return [][]Button{
		Row(Btn("Install", arg(cbType, models.TypeInstall)), Btn("Repair", arg(cbType, models.TypeRepair))),
		Row(Btn("Cancel", cbCancel)),
	}
}

func logisticsKeyboard() [][]Button {
	return [][]Button{
		Row(Btn("Master travels to client", arg(cbLogistics, models.LogisticsVisit))),
		Row(Btn("Client comes to service point", arg(cbLogistics, models.LogisticsCome))),
		Row(Btn("Cancel", cbCancel)),
	}
}

// deviceKeyboard renders the catalog as toggle buttons; selected kinds are
// check-marked. Two kinds per row keeps long catalogs scrollable.
func deviceKeyboard(kinds []string, selected map[string]bool) [][]Button {
	var rows [][]Button
	var row []Button
	for _, k := range kinds {
		label := k
		if selected[k] {
			label = "[x] " + k
		}
		row = append(row, Btn(label, arg(cbDevice, k)))
		if len(row) == 2 {
			rows = append(rows, row)
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}
	rows = append(rows, Row(Btn("Done", cbDeviceDone)))
	rows = append(rows, Row(Btn("Cancel", cbCancel)))
	return rows
}

// qtyKeyboard offers counts 1..limit for a device kind, five per row.
// Larger counts can be typed as plain text.
func qtyKeyboard(kind string, limit int) [][]Button {
	if limit > 10 {
		limit = 10
	}
	var rows [][]Button
	var row []Button
	for n := 1; n <= limit; n++ {
		row = append(row, Btn(fmt.Sprintf("%d", n), arg(cbQty, kind, fmt.Sprintf("%d", n))))
		if len(row) == 5 {
			rows = append(rows, row)
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}
	rows = append(rows, Row(Btn("Cancel", cbCancel)))
	return rows
}

// mastersKeyboard lists configured masters as "City | Name" buttons.
func mastersKeyboard(masters []config.MasterConfig) [][]Button {
	var rows [][]Button
	for _, m := range masters {
		rows = append(rows, Row(Btn(fmt.Sprintf("%s | %s", m.City, m.Name), arg(cbMaster, m.ID))))
	}
	rows = append(rows, Row(Btn("Cancel", cbCancel)))
	return rows
}

func dispatchKeyboard() [][]Button {
	return [][]Button{
		Row(Btn("Dispatch to master", cbDispatch)),
		Row(Btn("Cancel", cbCancel)),
	}
}

func commentKeyboard() [][]Button {
	return [][]Button{
		Row(Btn("No comment", cbSkipNote)),
		Row(Btn("Cancel", cbCancel)),
	}
}

func cancelConfirmKeyboard() [][]Button {
	return [][]Button{
		Row(Btn("Yes, discard", cbCancelYes), Btn("Keep going", cbCancelNo)),
	}
}

// offerKeyboard is attached to the dispatch notification sent to the master.
func offerKeyboard(orderID uint) [][]Button {
	id := itoa(orderID)
	return [][]Button{
		Row(Btn("Take it", arg(cbAccept, id))),
		Row(Btn("Decline", arg(cbDecline, id))),
	}
}

// estimateKeyboard offers install duration self-estimates.
func estimateKeyboard(orderID uint) [][]Button {
	id := itoa(orderID)
	return [][]Button{
		Row(Btn("30 min", arg(cbEstimate, id, "30")), Btn("1 h", arg(cbEstimate, id, "60"))),
		Row(Btn("2 h", arg(cbEstimate, id, "120")), Btn("3 h", arg(cbEstimate, id, "180"))),
		Row(Btn("Skip", arg(cbEstSkip, id))),
	}
}

// scheduledKeyboard is shown to the master once an appointment stands.
func scheduledKeyboard(o *models.Order) [][]Button {
	id := itoa(o.ID)
	arriveLabel := "I am on-site"
	if o.Logistics == models.LogisticsCome {
		arriveLabel = "Client arrived"
	}
	return [][]Button{
		Row(Btn(arriveLabel, arg(cbArrive, id))),
		Row(Btn("Propose another time", arg(cbPropose, id))),
		Row(Btn("Cancel order", arg(cbOrderStop, id))),
	}
}

// proposalKeyboard is shown to the side receiving a counter-proposal.
func proposalKeyboard(orderID uint) [][]Button {
	id := itoa(orderID)
	return [][]Button{
		Row(Btn("Agree", arg(cbAgree, id))),
		Row(Btn("Propose another time", arg(cbPropose, id))),
	}
}

// completedKeyboard is attached to the completion notice for the admin.
func completedKeyboard(orderID uint) [][]Button {
	return [][]Button{
		Row(Btn("Close order", arg(cbClose, itoa(orderID)))),
	}
}

func laborKeyboard(orderID uint) [][]Button {
	return [][]Button{
		Row(Btn("Skip", arg(cbLaborSkip, itoa(orderID)))),
	}
}

// reportKeyboard lists the reporting presets.
func reportKeyboard() [][]Button {
	return [][]Button{
		Row(Btn("Today", arg(cbRepPreset, "today")), Btn("Yesterday", arg(cbRepPreset, "yesterday"))),
		Row(Btn("This month", arg(cbRepPreset, "month")), Btn("Last month", arg(cbRepPreset, "last_month"))),
		Row(Btn("Last 7 days", arg(cbRepPreset, "last7"))),
		Row(Btn("Custom range", cbRepRange)),
	}
}

func exportKeyboard(preset string) [][]Button {
	return [][]Button{
		Row(Btn("Export XLSX", arg(cbExport, preset))),
	}
}

// approvalKeyboard offers the admin-role decision for an access request.
// Master chats come from config bootstrap, so only the admin role is granted
// interactively.
func approvalKeyboard(chatID int64) [][]Button {
	id := fmt.Sprintf("%d", chatID)
	return [][]Button{
		Row(Btn("Approve as admin", arg(cbApprove, id)), Btn("Deny", arg(cbDeny, id))),
	}
}

func requestAccessKeyboard() [][]Button {
	return [][]Button{
		Row(Btn("Request access", cbRequest)),
		Row(Btn("My ID", cbMyID)),
	}
}

// workDoneKeyboard closes out an order whose plan derived no photo slots.
func workDoneKeyboard(orderID uint) [][]Button {
	return [][]Button{
		Row(Btn("Work done", arg(cbPhotoDone, itoa(orderID)))),
	}
}

// resumeKeyboard re-enters evidence capture after a lost conversation.
func resumeKeyboard(orderID uint) [][]Button {
	return [][]Button{
		Row(Btn("Continue photos", arg(cbResume, itoa(orderID)))),
	}
}

// adminPendingButtons renders a close action for each completed order plus
// the spreadsheet export of the whole queue.
func adminPendingButtons(orders []models.Order) [][]Button {
	var rows [][]Button
	for _, o := range orders {
		if o.Status == models.StatusCompleted {
			rows = append(rows, Row(Btn(fmt.Sprintf("Close #%d", o.ID), arg(cbClose, itoa(o.ID)))))
		}
	}
	rows = append(rows, Row(Btn("Export XLSX", cbExpPend)))
	return rows
}

func itoa(id uint) string {
	return fmt.Sprintf("%d", id)
}

// sortedSelection renders the device toggle state deterministically.
func sortedSelection(selected map[string]bool) []string {
	var kinds []string
	for k, on := range selected {
		if on {
			kinds = append(kinds, k)
		}
	}
	sort.Strings(kinds)
	return kinds
}
