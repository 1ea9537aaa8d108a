package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/muradov/gpsmaster/internal/auth"
	"github.com/muradov/gpsmaster/internal/export"
	"github.com/muradov/gpsmaster/internal/models"
	"github.com/muradov/gpsmaster/internal/report"
	"github.com/muradov/gpsmaster/internal/session"
)

// Reports are scoped by role: admins see the whole operation, masters only
// their own orders. The export callback carries the window (preset name or an
// explicit dd.mm.yyyy-dd.mm.yyyy range) so the spreadsheet can be built
// without conversational state.

func (r *Router) reportPreset(ctx context.Context, ev Inbound, role string, rest string, now time.Time) {
	w, err := report.Preset(rest, now, r.loc)
	if err != nil {
		return
	}
	r.sendReport(ctx, ev, role, w, rest)
}

func (r *Router) reportRangeStart(ctx context.Context, ev Inbound) {
	r.sessions.Begin(ev.ChatID, session.StepReportRange, nil)
	r.text(ctx, ev.ChatID, "Send the range as two dates: dd.mm.yyyy dd.mm.yyyy")
}

func (r *Router) reportRangeText(ctx context.Context, ev Inbound, role string, now time.Time) {
	from, to, err := parseRange(ev.Text, r.loc)
	if err != nil {
		r.text(ctx, ev.ChatID, "Could not read that. Send two dates like 01.08.2026 31.08.2026")
		return
	}
	r.sessions.Clear(ev.ChatID)
	w := report.Range(from, to)
	r.sendReport(ctx, ev, role, w,
		from.Format("02.01.2006")+"-"+to.Format("02.01.2006"))
}

// sendReport builds and delivers the summary with an export action attached.
func (r *Router) sendReport(ctx context.Context, ev Inbound, role string, w report.Window, windowArg string) {
	masterID, err := r.reportScope(ev.ChatID, role)
	if err != nil {
		r.replyErr(ctx, ev.ChatID, err)
		return
	}
	s, err := report.Build(r.db, w, masterID)
	if err != nil {
		r.replyErr(ctx, ev.ChatID, err)
		return
	}
	r.send(ctx, Outbound{ChatID: ev.ChatID, Text: s.Text(), Keyboard: exportKeyboard(windowArg)})
}

func (r *Router) reportExport(ctx context.Context, ev Inbound, role string, rest string, now time.Time) {
	w, err := windowFor(rest, now, r.loc)
	if err != nil {
		return
	}
	masterID, err := r.reportScope(ev.ChatID, role)
	if err != nil {
		r.replyErr(ctx, ev.ChatID, err)
		return
	}
	s, err := report.Build(r.db, w, masterID)
	if err != nil {
		r.replyErr(ctx, ev.ChatID, err)
		return
	}
	header, rows := s.Table()
	data, err := export.Workbook("Orders", header, rows)
	if err != nil {
		r.logger.Printf("export: %v", err)
		r.text(ctx, ev.ChatID, "Export failed.")
		return
	}
	r.send(ctx, Outbound{
		ChatID:   ev.ChatID,
		Document: &Document{Name: exportName(rest), Bytes: data},
	})
}

func (r *Router) exportPending(ctx context.Context, ev Inbound, role string) {
	if role != models.RoleAdmin && role != models.RoleSuperAdmin {
		return
	}
	header, rows, err := report.PendingTable(r.db)
	if err != nil {
		r.replyErr(ctx, ev.ChatID, err)
		return
	}
	data, err := export.Workbook("Pending", header, rows)
	if err != nil {
		r.logger.Printf("export pending: %v", err)
		r.text(ctx, ev.ChatID, "Export failed.")
		return
	}
	r.send(ctx, Outbound{
		ChatID:   ev.ChatID,
		Document: &Document{Name: "pending_orders.xlsx", Bytes: data},
	})
}

// reportScope returns the master id filter for the chat, empty for admins.
func (r *Router) reportScope(chatID int64, role string) (string, error) {
	if role != models.RoleMaster {
		return "", nil
	}
	op, err := auth.Operator(r.db, chatID)
	if err != nil {
		return "", err
	}
	return op.MasterID, nil
}

// windowFor resolves an export argument back into a reporting window.
func windowFor(arg string, now time.Time, loc *time.Location) (report.Window, error) {
	if strings.Contains(arg, "-") {
		from, to, err := parseRange(strings.ReplaceAll(arg, "-", " "), loc)
		if err != nil {
			return report.Window{}, err
		}
		return report.Range(from, to), nil
	}
	return report.Preset(arg, now, loc)
}

// parseRange reads two dd.mm.yyyy dates out of free text.
func parseRange(text string, loc *time.Location) (time.Time, time.Time, error) {
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) != 2 {
		return time.Time{}, time.Time{}, fmt.Errorf("bot: expected two dates, got %d fields", len(fields))
	}
	from, err := time.ParseInLocation("02.01.2006", fields[0], loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("bot: parse from date: %w", err)
	}
	to, err := time.ParseInLocation("02.01.2006", fields[1], loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("bot: parse to date: %w", err)
	}
	if to.Before(from) {
		from, to = to, from
	}
	return from, to, nil
}

// exportName derives a file name from the window argument.
func exportName(arg string) string {
	safe := strings.NewReplacer(".", "", " ", "_").Replace(arg)
	return fmt.Sprintf("orders_%s.xlsx", safe)
}
