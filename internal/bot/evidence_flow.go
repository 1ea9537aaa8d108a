package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/muradov/gpsmaster/internal/evidence"
	"github.com/muradov/gpsmaster/internal/models"
	"github.com/muradov/gpsmaster/internal/order"
	"github.com/muradov/gpsmaster/internal/session"
)

// Evidence capture walks the derived plan one slot at a time: the chat is
// asked for exactly one photo, the answer advances the walk. Large installs
// therefore never need a slot keyboard; the plan length only shows up in the
// progress counter.

// promptNextSlot asks for the first unresolved slot, or offers completion
// when every slot is resolved.
func (r *Router) promptNextSlot(ctx context.Context, chatID int64, id uint, plan []evidence.Slot, photos map[string]string) {
	open := evidence.Unresolved(plan, photos)
	if len(open) == 0 {
		r.sessions.Begin(chatID, session.StepEvidence,
			map[string]string{"order_id": itoa(id)})
		r.send(ctx, Outbound{
			ChatID:   chatID,
			Text:     fmt.Sprintf("Order #%d: all photos collected.", id),
			Keyboard: workDoneKeyboard(id),
		})
		return
	}

	slot := open[0]
	r.sessions.Begin(chatID, session.StepEvidence, map[string]string{
		"order_id": itoa(id),
		"slot":     slot.Key,
	})

	done := len(plan) - len(open)
	text := fmt.Sprintf("Order #%d (%d of %d)\nSend a photo: %s", id, done+1, len(plan), slot.Label)
	var kb [][]Button
	if !slot.Required {
		text += "\nOptional, you may skip it."
		kb = [][]Button{Row(Btn("Skip", arg(cbPhotoSkip, itoa(id))))}
	}
	r.send(ctx, Outbound{ChatID: chatID, Text: text, Keyboard: kb})
}

// evidencePhoto attaches an inbound photo to the slot the chat is on.
func (r *Router) evidencePhoto(ctx context.Context, ev Inbound, s *session.Session) {
	id, ok := orderID(s.Get("order_id"))
	if !ok || s.Get("slot") == "" {
		r.text(ctx, ev.ChatID, msgStale)
		return
	}
	o, err := order.Get(r.db, id)
	if err != nil {
		r.replyErr(ctx, ev.ChatID, err)
		return
	}
	plan := r.planFor(o)
	o, err = order.AttachPhoto(r.db, id, ev.ChatID, plan, s.Get("slot"), ev.PhotoFileID)
	if err != nil {
		r.replyErr(ctx, ev.ChatID, err)
		return
	}
	r.promptNextSlot(ctx, ev.ChatID, id, plan, o.Photos())
}

// evidenceSkip skips the current slot when it is optional.
func (r *Router) evidenceSkip(ctx context.Context, ev Inbound, rest string) {
	id, ok := orderID(rest)
	if !ok {
		return
	}
	s := r.sessions.Resolve(ev.ChatID)
	if s == nil || s.Step != session.StepEvidence || s.Get("order_id") != itoa(id) || s.Get("slot") == "" {
		r.text(ctx, ev.ChatID, msgStale)
		return
	}
	o, err := order.Get(r.db, id)
	if err != nil {
		r.replyErr(ctx, ev.ChatID, err)
		return
	}
	plan := r.planFor(o)
	o, err = order.SkipSlot(r.db, id, ev.ChatID, plan, s.Get("slot"))
	if err != nil {
		r.replyErr(ctx, ev.ChatID, err)
		return
	}
	r.promptNextSlot(ctx, ev.ChatID, id, plan, o.Photos())
}

// evidenceDone finishes the field work and notifies the dispatcher, listing
// any optional evidence that was not provided.
func (r *Router) evidenceDone(ctx context.Context, ev Inbound, rest string, now time.Time) {
	id, ok := orderID(rest)
	if !ok {
		return
	}
	o, err := order.Get(r.db, id)
	if err != nil {
		r.replyErr(ctx, ev.ChatID, err)
		return
	}
	plan := r.planFor(o)
	done, missing, err := order.Complete(r.db, id, ev.ChatID, plan, now)
	if errors.Is(err, order.ErrUnresolvedSlots) {
		r.promptNextSlot(ctx, ev.ChatID, id, plan, o.Photos())
		return
	}
	if err != nil {
		r.replyErr(ctx, ev.ChatID, err)
		return
	}
	o = done
	r.sessions.Clear(ev.ChatID)
	r.text(ctx, ev.ChatID, fmt.Sprintf("Order #%d completed. Dispatch will close it.", o.ID))

	notice := fmt.Sprintf("Order #%d completed by %s.", o.ID, o.MasterName)
	if len(missing) > 0 {
		notice += "\nMissing optional photos:\n  " + strings.Join(missing, "\n  ")
	}
	r.send(ctx, Outbound{ChatID: o.AdminChatID, Text: notice, Keyboard: completedKeyboard(o.ID)})
}

// evidenceResume rebuilds the capture walk after a restart or a stale chat.
func (r *Router) evidenceResume(ctx context.Context, ev Inbound, rest string) {
	id, ok := orderID(rest)
	if !ok {
		return
	}
	o, err := order.Get(r.db, id)
	if err != nil {
		r.replyErr(ctx, ev.ChatID, err)
		return
	}
	if o.MasterChatID != ev.ChatID {
		r.replyErr(ctx, ev.ChatID, order.ErrNotPermitted)
		return
	}
	plan := r.planFor(o)

	switch o.Status {
	case models.StatusArrived:
		if len(plan) == 0 {
			r.send(ctx, Outbound{
				ChatID:   ev.ChatID,
				Text:     fmt.Sprintf("Order #%d is in progress. Press when the work is done.", o.ID),
				Keyboard: workDoneKeyboard(o.ID),
			})
			return
		}
		if _, err := order.BeginEvidence(r.db, id, ev.ChatID); err != nil {
			r.replyErr(ctx, ev.ChatID, err)
			return
		}
		r.promptNextSlot(ctx, ev.ChatID, id, plan, o.Photos())
	case models.StatusEvidencePending:
		r.promptNextSlot(ctx, ev.ChatID, id, plan, o.Photos())
	default:
		r.text(ctx, ev.ChatID, msgStale)
	}
}
