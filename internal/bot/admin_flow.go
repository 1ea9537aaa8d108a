package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/muradov/gpsmaster/internal/auth"
	"github.com/muradov/gpsmaster/internal/config"
	"github.com/muradov/gpsmaster/internal/models"
	"github.com/muradov/gpsmaster/internal/order"
	"github.com/muradov/gpsmaster/internal/session"
)

// The order wizard walks the dispatcher through type, logistics, address,
// phone, device composition, comment and master assignment, then shows the
// draft for review before dispatch. The order row is only created at dispatch
// time, so an abandoned wizard leaves nothing behind.

func (r *Router) startWizard(ctx context.Context, ev Inbound) {
	r.sessions.Begin(ev.ChatID, session.StepOrderType, nil)
	r.send(ctx, Outbound{ChatID: ev.ChatID, Text: "New order. Type of work?", Keyboard: typeKeyboard()})
}

func (r *Router) wizardType(ctx context.Context, ev Inbound, rest string) {
	if !r.sessions.Expect(ev.ChatID, session.StepOrderType) {
		r.text(ctx, ev.ChatID, msgStale)
		return
	}
	if rest != models.TypeInstall && rest != models.TypeRepair {
		return
	}
	r.sessions.Advance(ev.ChatID, session.StepLogistics, map[string]string{"type": rest})
	r.send(ctx, Outbound{ChatID: ev.ChatID, Text: "Who travels?", Keyboard: logisticsKeyboard()})
}

func (r *Router) wizardLogistics(ctx context.Context, ev Inbound, rest string) {
	if !r.sessions.Expect(ev.ChatID, session.StepLogistics) {
		r.text(ctx, ev.ChatID, msgStale)
		return
	}
	if rest != models.LogisticsVisit && rest != models.LogisticsCome {
		return
	}
	patch := map[string]string{"logi": rest}
	if rest == models.LogisticsVisit {
		r.sessions.Advance(ev.ChatID, session.StepAddress, patch)
		r.text(ctx, ev.ChatID, "Client address?")
		return
	}
	r.sessions.Advance(ev.ChatID, session.StepPhone, patch)
	r.text(ctx, ev.ChatID, "Client phone number?")
}

func (r *Router) wizardAddress(ctx context.Context, ev Inbound) {
	addr := strings.TrimSpace(ev.Text)
	if addr == "" {
		r.text(ctx, ev.ChatID, "Address cannot be empty. Client address?")
		return
	}
	r.sessions.Advance(ev.ChatID, session.StepPhone, map[string]string{"address": addr})
	r.text(ctx, ev.ChatID, "Client phone number?")
}

func (r *Router) wizardPhone(ctx context.Context, ev Inbound) {
	phone := strings.TrimSpace(ev.Text)
	if phone == "" {
		r.text(ctx, ev.ChatID, "Phone cannot be empty. Client phone number?")
		return
	}
	s := r.sessions.Advance(ev.ChatID, session.StepPhone, map[string]string{"phone": phone})
	if s.Get("type") == models.TypeInstall {
		r.sessions.Advance(ev.ChatID, session.StepDevices, nil)
		r.send(ctx, Outbound{
			ChatID:   ev.ChatID,
			Text:     "Select devices to install:",
			Keyboard: deviceKeyboard(r.catalog.Kinds(), nil),
		})
		return
	}
	r.sessions.Advance(ev.ChatID, session.StepComment, nil)
	r.send(ctx, Outbound{ChatID: ev.ChatID, Text: "Comment for the master?", Keyboard: commentKeyboard()})
}

func (r *Router) wizardToggleDevice(ctx context.Context, ev Inbound, rest string) {
	s := r.sessions.Resolve(ev.ChatID)
	if s == nil || s.Step != session.StepDevices {
		r.text(ctx, ev.ChatID, msgStale)
		return
	}
	if !r.catalog.Known(rest) {
		return
	}
	selected := csvSet(s.Get("devices"))
	selected[rest] = !selected[rest]
	r.sessions.Advance(ev.ChatID, session.StepDevices,
		map[string]string{"devices": csvJoin(selected)})
	r.send(ctx, Outbound{
		ChatID:        ev.ChatID,
		Text:          "Select devices to install:",
		Keyboard:      deviceKeyboard(r.catalog.Kinds(), selected),
		EditMessageID: ev.MessageID,
	})
}

func (r *Router) wizardDevicesDone(ctx context.Context, ev Inbound) {
	s := r.sessions.Resolve(ev.ChatID)
	if s == nil || s.Step != session.StepDevices {
		r.text(ctx, ev.ChatID, msgStale)
		return
	}
	kinds := sortedSelection(csvSet(s.Get("devices")))
	if len(kinds) == 0 {
		r.text(ctx, ev.ChatID, "Pick at least one device.")
		return
	}
	r.sessions.Advance(ev.ChatID, session.StepDevices,
		map[string]string{"qty_queue": strings.Join(kinds, ",")})
	r.askNextQty(ctx, ev.ChatID)
}

// askNextQty pops the next kind off the quantity queue, or moves the wizard
// to the comment step when every kind has a count.
func (r *Router) askNextQty(ctx context.Context, chatID int64) {
	s := r.sessions.Resolve(chatID)
	if s == nil {
		return
	}
	queue := s.Get("qty_queue")
	if queue == "" {
		r.sessions.Advance(chatID, session.StepComment, map[string]string{"qty_kind": ""})
		r.send(ctx, Outbound{ChatID: chatID, Text: "Comment for the master?", Keyboard: commentKeyboard()})
		return
	}
	kind, tail, _ := strings.Cut(queue, ",")
	r.sessions.Advance(chatID, session.StepQuantity, map[string]string{
		"qty_kind":  kind,
		"qty_queue": tail,
	})
	r.send(ctx, Outbound{
		ChatID:   chatID,
		Text:     fmt.Sprintf("How many %s? (type a number for more)", kind),
		Keyboard: qtyKeyboard(kind, r.cfg.MaxQty),
	})
}

func (r *Router) wizardQty(ctx context.Context, ev Inbound, rest string) {
	s := r.sessions.Resolve(ev.ChatID)
	if s == nil || s.Step != session.StepQuantity {
		r.text(ctx, ev.ChatID, msgStale)
		return
	}
	kind, nArg, _ := splitArgs(rest)
	if kind != s.Get("qty_kind") {
		r.text(ctx, ev.ChatID, msgStale)
		return
	}
	n, err := strconv.Atoi(nArg)
	if err != nil || n < 1 || n > r.cfg.MaxQty {
		return
	}
	r.sessions.Advance(ev.ChatID, session.StepQuantity,
		map[string]string{"qty." + kind: strconv.Itoa(n)})
	r.askNextQty(ctx, ev.ChatID)
}

func (r *Router) wizardQtyText(ctx context.Context, ev Inbound, s *session.Session) {
	n, err := strconv.Atoi(strings.TrimSpace(ev.Text))
	if err != nil || n < 1 || n > r.cfg.MaxQty {
		r.text(ctx, ev.ChatID, fmt.Sprintf("Enter a number between 1 and %d.", r.cfg.MaxQty))
		return
	}
	kind := s.Get("qty_kind")
	r.sessions.Advance(ev.ChatID, session.StepQuantity,
		map[string]string{"qty." + kind: strconv.Itoa(n)})
	r.askNextQty(ctx, ev.ChatID)
}

func (r *Router) wizardComment(ctx context.Context, ev Inbound, comment string) {
	if !r.sessions.Expect(ev.ChatID, session.StepComment) {
		r.text(ctx, ev.ChatID, msgStale)
		return
	}
	r.sessions.Advance(ev.ChatID, session.StepMaster,
		map[string]string{"comment": strings.TrimSpace(comment)})
	r.send(ctx, Outbound{ChatID: ev.ChatID, Text: "Assign a master:", Keyboard: mastersKeyboard(r.cfg.Masters)})
}

func (r *Router) wizardMaster(ctx context.Context, ev Inbound, rest string) {
	s := r.sessions.Resolve(ev.ChatID)
	if s == nil || s.Step != session.StepMaster {
		r.text(ctx, ev.ChatID, msgStale)
		return
	}
	m := r.cfg.MasterByID(rest)
	if m == nil {
		return
	}
	s = r.sessions.Advance(ev.ChatID, session.StepMaster, map[string]string{"master": m.ID})
	r.send(ctx, Outbound{
		ChatID:   ev.ChatID,
		Text:     "Review the order:\n\n" + r.draftSummary(s, m),
		Keyboard: dispatchKeyboard(),
	})
}

// draftSummary renders the wizard draft for the review step.
func (r *Router) draftSummary(s *session.Session, m *config.MasterConfig) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Type: %s\n", typeLabel(s.Get("type")))
	fmt.Fprintf(&b, "Logistics: %s\n", logisticsLabel(s.Get("logi")))
	if addr := s.Get("address"); addr != "" {
		fmt.Fprintf(&b, "Address: %s\n", addr)
	}
	fmt.Fprintf(&b, "Phone: %s\n", s.Get("phone"))
	options, quantities := r.draftDevices(s)
	if len(options) > 0 {
		parts := make([]string, 0, len(options))
		for _, k := range options {
			parts = append(parts, fmt.Sprintf("%s x%d", k, quantities[k]))
		}
		fmt.Fprintf(&b, "Devices: %s\n", strings.Join(parts, ", "))
	}
	if c := s.Get("comment"); c != "" {
		fmt.Fprintf(&b, "Comment: %s\n", c)
	}
	fmt.Fprintf(&b, "Master: %s (%s)\n", m.Name, m.City)
	return b.String()
}

// draftDevices decodes the wizard's device selection and per-kind counts.
func (r *Router) draftDevices(s *session.Session) ([]string, map[string]int) {
	options := sortedSelection(csvSet(s.Get("devices")))
	if len(options) == 0 {
		return nil, nil
	}
	quantities := make(map[string]int, len(options))
	for _, k := range options {
		n, err := strconv.Atoi(s.Get("qty." + k))
		if err != nil || n < 1 {
			n = 1
		}
		quantities[k] = n
	}
	return options, quantities
}

func (r *Router) wizardDispatch(ctx context.Context, ev Inbound) {
	s := r.sessions.Resolve(ev.ChatID)
	if s == nil || s.Get("master") == "" {
		r.text(ctx, ev.ChatID, msgStale)
		return
	}
	m := r.cfg.MasterByID(s.Get("master"))
	if m == nil {
		r.text(ctx, ev.ChatID, msgStale)
		return
	}
	options, quantities := r.draftDevices(s)

	o, err := order.Create(r.db, order.CreateOpts{
		Phone:       s.Get("phone"),
		Type:        s.Get("type"),
		Logistics:   s.Get("logi"),
		Address:     s.Get("address"),
		Comment:     s.Get("comment"),
		Options:     options,
		Quantities:  quantities,
		Master:      *m,
		AdminChatID: ev.ChatID,
	})
	if err != nil {
		r.logger.Printf("create order: %v", err)
		r.text(ctx, ev.ChatID, "Could not create the order. Start over from the menu.")
		r.sessions.Clear(ev.ChatID)
		return
	}
	o, err = order.Dispatch(r.db, o.ID)
	if err != nil {
		r.replyErr(ctx, ev.ChatID, err)
		return
	}
	r.sessions.Clear(ev.ChatID)

	r.text(ctx, ev.ChatID, fmt.Sprintf("Order #%d dispatched to %s.", o.ID, o.MasterName))
	r.send(ctx, Outbound{
		ChatID:   o.MasterChatID,
		Text:     "New order for you:\n\n" + orderSummary(o, r.loc),
		Keyboard: offerKeyboard(o.ID),
	})
}

func (r *Router) wizardCancelAsk(ctx context.Context, ev Inbound) {
	if r.sessions.Resolve(ev.ChatID) == nil {
		r.sendMenu(ctx, ev.ChatID, models.RoleAdmin)
		return
	}
	r.send(ctx, Outbound{ChatID: ev.ChatID, Text: "Discard the draft?", Keyboard: cancelConfirmKeyboard()})
}

// adminCloseStart begins labor capture for a completed order.
func (r *Router) adminCloseStart(ctx context.Context, ev Inbound, role string, rest string) {
	if role != models.RoleAdmin && role != models.RoleSuperAdmin {
		return
	}
	id, ok := orderID(rest)
	if !ok {
		return
	}
	o, err := order.Get(r.db, id)
	if err != nil {
		r.replyErr(ctx, ev.ChatID, err)
		return
	}
	if o.Status == models.StatusClosed {
		r.text(ctx, ev.ChatID, fmt.Sprintf("Order #%d is already closed.", o.ID))
		return
	}
	if o.Status != models.StatusCompleted {
		r.text(ctx, ev.ChatID, msgStale)
		return
	}
	r.sessions.Begin(ev.ChatID, session.StepCloseLabor,
		map[string]string{"order_id": itoa(id)})
	r.send(ctx, Outbound{
		ChatID:   ev.ChatID,
		Text:     fmt.Sprintf("Closing order #%d. Labor minutes?", id),
		Keyboard: laborKeyboard(id),
	})
}

func (r *Router) adminCloseText(ctx context.Context, ev Inbound, role string, s *session.Session, now time.Time) {
	minutes, err := strconv.Atoi(strings.TrimSpace(ev.Text))
	if err != nil || minutes < 0 {
		r.text(ctx, ev.ChatID, "Enter labor minutes as a number, or press Skip.")
		return
	}
	id, ok := orderID(s.Get("order_id"))
	if !ok {
		r.sessions.Clear(ev.ChatID)
		r.text(ctx, ev.ChatID, msgStale)
		return
	}
	r.adminClose(ctx, ev, role, itoa(id), minutes, now)
}

// adminClose performs the final sign-off and notifies the master.
func (r *Router) adminClose(ctx context.Context, ev Inbound, role string, rest string, minutes int, now time.Time) {
	id, ok := orderID(rest)
	if !ok {
		return
	}
	o, already, err := order.Close(r.db, id, ev.ChatID, role, minutes, now)
	if err != nil {
		r.replyErr(ctx, ev.ChatID, err)
		return
	}
	r.sessions.Clear(ev.ChatID)
	if already {
		r.text(ctx, ev.ChatID, fmt.Sprintf("Order #%d was already closed.", o.ID))
		return
	}
	r.text(ctx, ev.ChatID, fmt.Sprintf("Order #%d closed.", o.ID))
	r.text(ctx, o.MasterChatID, fmt.Sprintf("Order #%d has been closed by dispatch.", o.ID))
}

// cancelOrder terminates a live order from either side.
func (r *Router) cancelOrder(ctx context.Context, ev Inbound, role string, rest string) {
	id, ok := orderID(rest)
	if !ok {
		return
	}
	o, err := order.Cancel(r.db, id, ev.ChatID, role)
	if err != nil {
		r.replyErr(ctx, ev.ChatID, err)
		return
	}
	r.sessions.Clear(ev.ChatID)
	r.text(ctx, o.AdminChatID, fmt.Sprintf("Order #%d cancelled.", o.ID))
	if o.MasterChatID != o.AdminChatID {
		r.text(ctx, o.MasterChatID, fmt.Sprintf("Order #%d cancelled.", o.ID))
	}
}

func (r *Router) approveAccess(ctx context.Context, ev Inbound, role string, rest string) {
	if role != models.RoleAdmin && role != models.RoleSuperAdmin {
		return
	}
	chat, err := strconv.ParseInt(rest, 10, 64)
	if err != nil {
		return
	}
	if err := auth.Approve(r.db, chat, models.RoleAdmin, ""); err != nil {
		r.replyErr(ctx, ev.ChatID, err)
		return
	}
	r.text(ctx, ev.ChatID, fmt.Sprintf("Chat %d approved as admin.", chat))
	r.send(ctx, Outbound{ChatID: chat, Text: "Access granted.", Keyboard: adminMenu()})
}

func (r *Router) denyAccess(ctx context.Context, ev Inbound, role string, rest string) {
	if role != models.RoleAdmin && role != models.RoleSuperAdmin {
		return
	}
	chat, err := strconv.ParseInt(rest, 10, 64)
	if err != nil {
		return
	}
	if err := auth.Deny(r.db, chat); err != nil {
		r.replyErr(ctx, ev.ChatID, err)
		return
	}
	r.text(ctx, ev.ChatID, fmt.Sprintf("Chat %d denied.", chat))
}

// replyErr maps lifecycle errors to chat wording.
func (r *Router) replyErr(ctx context.Context, chatID int64, err error) {
	switch {
	case errors.Is(err, order.ErrStale):
		r.text(ctx, chatID, msgStale)
	case errors.Is(err, order.ErrNotPermitted):
		r.text(ctx, chatID, "You are not allowed to do that on this order.")
	case errors.Is(err, order.ErrPastInstant):
		r.text(ctx, chatID, "That time is in the past. Pick a future time.")
	case errors.Is(err, order.ErrNotFound):
		r.text(ctx, chatID, "Order not found.")
	case errors.Is(err, order.ErrMandatorySlot):
		r.text(ctx, chatID, "This photo is mandatory and cannot be skipped.")
	case errors.Is(err, order.ErrUnresolvedSlots):
		r.text(ctx, chatID, "Some photos are still missing.")
	case errors.Is(err, auth.ErrUnknownChat):
		r.text(ctx, chatID, "That chat has no pending request.")
	default:
		r.logger.Printf("chat %d: %v", chatID, err)
		r.text(ctx, chatID, "Something went wrong. Try again from the menu.")
	}
}

// csvSet decodes a comma-separated set.
func csvSet(v string) map[string]bool {
	set := make(map[string]bool)
	for _, k := range strings.Split(v, ",") {
		if k != "" {
			set[k] = true
		}
	}
	return set
}

// csvJoin encodes the selected members deterministically.
func csvJoin(set map[string]bool) string {
	return strings.Join(sortedSelection(set), ",")
}
