package bot

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/muradov/gpsmaster/internal/evidence"
	"github.com/muradov/gpsmaster/internal/models"
	"github.com/muradov/gpsmaster/internal/order"
	"github.com/muradov/gpsmaster/internal/session"
)

// Appointment modes stored in the session draft.
const (
	modeAccept  = "accept"
	modePropose = "prop"
)

// masterAccept starts the day/hour picker for a dispatched order. The
// lifecycle guards run at the end of the picker, so a stale offer surfaces
// only when the instant is submitted.
func (r *Router) masterAccept(ctx context.Context, ev Inbound, rest string) {
	id, ok := orderID(rest)
	if !ok {
		return
	}
	r.sessions.Begin(ev.ChatID, session.StepMasterDay,
		map[string]string{"order_id": itoa(id), "mode": modeAccept})
	r.send(ctx, Outbound{
		ChatID:   ev.ChatID,
		Text:     fmt.Sprintf("Order #%d: pick an appointment day.", id),
		Keyboard: dayKeyboard(id, r.clock().In(r.loc)),
	})
}

func (r *Router) masterDecline(ctx context.Context, ev Inbound, rest string) {
	id, ok := orderID(rest)
	if !ok {
		return
	}
	o, err := order.Decline(r.db, id, ev.ChatID)
	if err != nil {
		r.replyErr(ctx, ev.ChatID, err)
		return
	}
	r.text(ctx, ev.ChatID, fmt.Sprintf("Order #%d declined.", o.ID))
	r.text(ctx, o.AdminChatID,
		fmt.Sprintf("Order #%d was declined by %s. Assign it again from a new order.", o.ID, o.MasterName))
}

// startProposal begins the counter-proposal picker from either side.
func (r *Router) startProposal(ctx context.Context, ev Inbound, role string, rest string, now time.Time) {
	id, ok := orderID(rest)
	if !ok {
		return
	}
	step := session.StepMasterDay
	if role == models.RoleAdmin || role == models.RoleSuperAdmin {
		step = session.StepAdminDay
	}
	r.sessions.Begin(ev.ChatID, step,
		map[string]string{"order_id": itoa(id), "mode": modePropose})
	r.send(ctx, Outbound{
		ChatID:   ev.ChatID,
		Text:     fmt.Sprintf("Order #%d: pick a day to propose.", id),
		Keyboard: dayKeyboard(id, now.In(r.loc)),
	})
}

// pickDay handles a day selection in either picker.
func (r *Router) pickDay(ctx context.Context, ev Inbound, role string, rest string, now time.Time) {
	id, s := r.pickerSession(ev.ChatID, rest, session.StepMasterDay, session.StepAdminDay)
	if s == nil {
		r.text(ctx, ev.ChatID, msgStale)
		return
	}
	_, dayArg, _ := splitArgs(rest)
	day, err := parseDay(dayArg, r.loc)
	if err != nil {
		return
	}
	local := now.In(r.loc)
	today := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, r.loc)
	if day.Before(today) {
		r.text(ctx, ev.ChatID, "That day has passed. Pick a future day.")
		return
	}
	hourStep := session.StepMasterHour
	if s.Step == session.StepAdminDay {
		hourStep = session.StepAdminHour
	}
	r.sessions.Advance(ev.ChatID, hourStep, map[string]string{"day": dayArg})
	r.send(ctx, Outbound{
		ChatID:   ev.ChatID,
		Text:     fmt.Sprintf("Order #%d, %s: pick an hour.", id, day.Format("02.01.2006")),
		Keyboard: hourKeyboard(id),
	})
}

// pickCalendar re-renders the month grid in place.
func (r *Router) pickCalendar(ctx context.Context, ev Inbound, rest string) {
	id, s := r.pickerSession(ev.ChatID, rest, session.StepMasterDay, session.StepAdminDay)
	if s == nil {
		r.text(ctx, ev.ChatID, msgStale)
		return
	}
	_, monthArg, _ := splitArgs(rest)
	month, err := parseMonth(monthArg, r.loc)
	if err != nil {
		return
	}
	r.send(ctx, Outbound{
		ChatID:        ev.ChatID,
		Text:          fmt.Sprintf("Order #%d: pick an appointment day.", id),
		Keyboard:      calendarKeyboard(id, month),
		EditMessageID: ev.MessageID,
	})
}

// pickHour finalizes the picked instant. A past instant re-renders the hour
// grid with a nudge instead of transitioning.
func (r *Router) pickHour(ctx context.Context, ev Inbound, role string, rest string, now time.Time) {
	id, s := r.pickerSession(ev.ChatID, rest, session.StepMasterHour, session.StepAdminHour)
	if s == nil {
		r.text(ctx, ev.ChatID, msgStale)
		return
	}
	_, hourArg, _ := splitArgs(rest)
	hour, err := strconv.Atoi(hourArg)
	if err != nil || hour < firstHour || hour > lastHour {
		return
	}
	day, err := parseDay(s.Get("day"), r.loc)
	if err != nil {
		r.sessions.Clear(ev.ChatID)
		r.text(ctx, ev.ChatID, msgStale)
		return
	}
	at := instantFor(day, hour)
	if !at.After(now) {
		r.send(ctx, Outbound{
			ChatID:        ev.ChatID,
			Text:          fmt.Sprintf("Order #%d: that hour has passed, pick a future one.", id),
			Keyboard:      hourKeyboard(id),
			EditMessageID: ev.MessageID,
		})
		return
	}

	switch s.Get("mode") {
	case modeAccept:
		r.finishAccept(ctx, ev, id, at, now)
	case modePropose:
		r.finishProposal(ctx, ev, role, id, at, now)
	default:
		r.sessions.Clear(ev.ChatID)
		r.text(ctx, ev.ChatID, msgStale)
	}
}

func (r *Router) finishAccept(ctx context.Context, ev Inbound, id uint, at, now time.Time) {
	o, err := order.Accept(r.db, id, ev.ChatID, at, now)
	if err != nil {
		r.sessions.Clear(ev.ChatID)
		r.replyErr(ctx, ev.ChatID, err)
		return
	}
	r.sessions.Clear(ev.ChatID)
	r.text(ctx, o.AdminChatID, fmt.Sprintf("Order #%d accepted by %s for %s.",
		o.ID, o.MasterName, fmtInstant(o.ScheduledAt, r.loc)))

	if o.Type == models.TypeInstall {
		r.send(ctx, Outbound{
			ChatID:   ev.ChatID,
			Text:     fmt.Sprintf("Order #%d scheduled for %s. How long will the work take?", o.ID, fmtInstant(o.ScheduledAt, r.loc)),
			Keyboard: estimateKeyboard(o.ID),
		})
		return
	}
	r.send(ctx, Outbound{
		ChatID:   ev.ChatID,
		Text:     fmt.Sprintf("Order #%d scheduled for %s.", o.ID, fmtInstant(o.ScheduledAt, r.loc)),
		Keyboard: scheduledKeyboard(o),
	})
}

func (r *Router) finishProposal(ctx context.Context, ev Inbound, role string, id uint, at, now time.Time) {
	by := order.ProposedByMaster
	if role == models.RoleAdmin || role == models.RoleSuperAdmin {
		by = order.ProposedByAdmin
	}
	o, err := order.Propose(r.db, id, by, ev.ChatID, role, at, now)
	if err != nil {
		r.sessions.Clear(ev.ChatID)
		r.replyErr(ctx, ev.ChatID, err)
		return
	}
	r.sessions.Clear(ev.ChatID)
	r.text(ctx, ev.ChatID, fmt.Sprintf("Proposal sent for order #%d: %s.", o.ID, fmtInstant(o.ProposedAt, r.loc)))

	other := o.MasterChatID
	if by == order.ProposedByMaster {
		other = o.AdminChatID
	}
	r.send(ctx, Outbound{
		ChatID:   other,
		Text:     fmt.Sprintf("New time proposed for order #%d: %s.", o.ID, fmtInstant(o.ProposedAt, r.loc)),
		Keyboard: proposalKeyboard(o.ID),
	})
}

// agreeProposal accepts the pending counter-proposal from the other side.
func (r *Router) agreeProposal(ctx context.Context, ev Inbound, role string, rest string) {
	id, ok := orderID(rest)
	if !ok {
		return
	}
	o, err := order.AgreeTime(r.db, id, ev.ChatID, role)
	if err != nil {
		r.replyErr(ctx, ev.ChatID, err)
		return
	}
	confirmed := fmt.Sprintf("Order #%d confirmed for %s.", o.ID, fmtInstant(o.ScheduledAt, r.loc))
	r.text(ctx, o.AdminChatID, confirmed)
	r.send(ctx, Outbound{ChatID: o.MasterChatID, Text: confirmed, Keyboard: scheduledKeyboard(o)})
}

// masterEstimate stores the self-estimate and shows the scheduled actions.
func (r *Router) masterEstimate(ctx context.Context, ev Inbound, rest string) {
	id, ok := orderID(rest)
	if !ok {
		return
	}
	_, minArg, _ := splitArgs(rest)
	minutes, err := strconv.Atoi(minArg)
	if err != nil || minutes <= 0 {
		return
	}
	o, err := order.SetEstimate(r.db, id, ev.ChatID, minutes)
	if err != nil {
		r.replyErr(ctx, ev.ChatID, err)
		return
	}
	r.send(ctx, Outbound{
		ChatID:   ev.ChatID,
		Text:     fmt.Sprintf("Noted: about %d min. Order #%d is scheduled.", minutes, o.ID),
		Keyboard: scheduledKeyboard(o),
	})
}

func (r *Router) masterEstimateSkip(ctx context.Context, ev Inbound, rest string) {
	id, ok := orderID(rest)
	if !ok {
		return
	}
	o, err := order.Get(r.db, id)
	if err != nil {
		r.replyErr(ctx, ev.ChatID, err)
		return
	}
	r.send(ctx, Outbound{
		ChatID:   ev.ChatID,
		Text:     fmt.Sprintf("Order #%d is scheduled.", o.ID),
		Keyboard: scheduledKeyboard(o),
	})
}

// masterArrive records arrival and routes into evidence capture when the
// derived plan is non-empty.
func (r *Router) masterArrive(ctx context.Context, ev Inbound, rest string, now time.Time) {
	id, ok := orderID(rest)
	if !ok {
		return
	}
	o, err := order.Arrive(r.db, id, ev.ChatID, now)
	if err != nil {
		r.replyErr(ctx, ev.ChatID, err)
		return
	}
	r.text(ctx, o.AdminChatID, fmt.Sprintf("Order #%d: %s is on the job.", o.ID, o.MasterName))

	plan := r.planFor(o)
	if len(plan) == 0 {
		r.send(ctx, Outbound{
			ChatID:   ev.ChatID,
			Text:     fmt.Sprintf("Order #%d marked in progress. Press when the work is done.", o.ID),
			Keyboard: workDoneKeyboard(o.ID),
		})
		return
	}
	if _, err := order.BeginEvidence(r.db, id, ev.ChatID); err != nil {
		r.replyErr(ctx, ev.ChatID, err)
		return
	}
	r.promptNextSlot(ctx, ev.ChatID, o.ID, plan, o.Photos())
}

// planFor derives the evidence plan for an order. Repairs have none.
func (r *Router) planFor(o *models.Order) []evidence.Slot {
	if o.Type != models.TypeInstall {
		return nil
	}
	return r.catalog.Plan(o.Options(), o.Quantities())
}

// pickerSession resolves the chat session for a calendar callback and checks
// that it targets the same order.
func (r *Router) pickerSession(chatID int64, rest string, steps ...session.Step) (uint, *session.Session) {
	id, ok := orderID(rest)
	if !ok {
		return 0, nil
	}
	s := r.sessions.Resolve(chatID)
	if s == nil || s.Get("order_id") != itoa(id) {
		return 0, nil
	}
	for _, step := range steps {
		if s.Step == step {
			return id, s
		}
	}
	return 0, nil
}

// showPending renders the open-orders view. Admins get the full queue with
// close actions; masters get their own orders as cards with the next action
// attached, which also recovers lost conversations after a restart.
func (r *Router) showPending(ctx context.Context, ev Inbound, role string) {
	orders, err := order.Pending(r.db)
	if err != nil {
		r.replyErr(ctx, ev.ChatID, err)
		return
	}

	if role == models.RoleMaster {
		mine := orders[:0:0]
		for _, o := range orders {
			if o.MasterChatID == ev.ChatID {
				mine = append(mine, o)
			}
		}
		if len(mine) == 0 {
			r.text(ctx, ev.ChatID, "No open orders for you.")
			return
		}
		for i := range mine {
			o := &mine[i]
			r.send(ctx, Outbound{
				ChatID:   ev.ChatID,
				Text:     orderSummary(o, r.loc),
				Keyboard: masterContextKeyboard(o),
			})
		}
		return
	}

	r.send(ctx, Outbound{
		ChatID:   ev.ChatID,
		Text:     pendingList(orders, r.loc),
		Keyboard: adminPendingButtons(orders),
	})
}

// masterContextKeyboard returns the next-action keyboard for one of the
// master's open orders.
func masterContextKeyboard(o *models.Order) [][]Button {
	switch o.Status {
	case models.StatusSentToMaster:
		return offerKeyboard(o.ID)
	case models.StatusAccepted, models.StatusTimeConfirmed:
		return scheduledKeyboard(o)
	case models.StatusTimeProposedByAdmin:
		return proposalKeyboard(o.ID)
	case models.StatusArrived, models.StatusEvidencePending:
		return resumeKeyboard(o.ID)
	default:
		return nil
	}
}
