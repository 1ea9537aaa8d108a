package order

import (
	"time"

	"github.com/muradov/gpsmaster/internal/evidence"
	"github.com/muradov/gpsmaster/internal/models"
	"gorm.io/gorm"
)

// Proposal origin tags stored in Order.ProposedBy.
const (
	ProposedByAdmin  = "admin"
	ProposedByMaster = "master"
)

// Dispatch moves a finished draft to the assigned master's queue.
func Dispatch(db *gorm.DB, id uint) (*models.Order, error) {
	o, err := Get(db, id)
	if err != nil {
		return nil, err
	}
	if err := guardStatus(o, models.StatusDraft); err != nil {
		return nil, err
	}
	o.Status = models.StatusSentToMaster
	if err := save(db, o); err != nil {
		return nil, err
	}
	return o, nil
}

// Accept records the master's chosen appointment instant. The instant must be
// strictly in the future relative to now (the master's local clock).
func Accept(db *gorm.DB, id uint, masterChat int64, at, now time.Time) (*models.Order, error) {
	o, err := Get(db, id)
	if err != nil {
		return nil, err
	}
	if err := guardStatus(o, models.StatusSentToMaster); err != nil {
		return nil, err
	}
	if err := guardMaster(o, masterChat); err != nil {
		return nil, err
	}
	if !at.After(now) {
		return nil, ErrPastInstant
	}
	o.ScheduledAt = &at
	o.AcceptedAt = &now
	o.Status = models.StatusAccepted
	if err := save(db, o); err != nil {
		return nil, err
	}
	return o, nil
}

// Decline is the master's terminal refusal of a dispatched order.
func Decline(db *gorm.DB, id uint, masterChat int64) (*models.Order, error) {
	o, err := Get(db, id)
	if err != nil {
		return nil, err
	}
	if err := guardStatus(o, models.StatusSentToMaster); err != nil {
		return nil, err
	}
	if err := guardMaster(o, masterChat); err != nil {
		return nil, err
	}
	o.Status = models.StatusDeclined
	if err := save(db, o); err != nil {
		return nil, err
	}
	return o, nil
}

// SetEstimate records the master's self-estimate of install duration. It
// feeds the reminder threshold and never changes status.
func SetEstimate(db *gorm.DB, id uint, masterChat int64, minutes int) (*models.Order, error) {
	o, err := Get(db, id)
	if err != nil {
		return nil, err
	}
	if err := guardStatus(o, models.StatusAccepted, models.StatusTimeProposedByAdmin,
		models.StatusTimeProposedByMaster, models.StatusTimeConfirmed); err != nil {
		return nil, err
	}
	if err := guardMaster(o, masterChat); err != nil {
		return nil, err
	}
	o.EstimateMinutes = minutes
	if err := save(db, o); err != nil {
		return nil, err
	}
	return o, nil
}

// Propose records a counter-proposed appointment from either side. by is
// ProposedByAdmin or ProposedByMaster; the identity check matches it.
func Propose(db *gorm.DB, id uint, by string, chatID int64, role string, at, now time.Time) (*models.Order, error) {
	o, err := Get(db, id)
	if err != nil {
		return nil, err
	}
	if err := guardStatus(o, models.StatusAccepted, models.StatusTimeProposedByAdmin,
		models.StatusTimeProposedByMaster); err != nil {
		return nil, err
	}
	switch by {
	case ProposedByAdmin:
		if err := guardAdmin(o, chatID, role); err != nil {
			return nil, err
		}
	case ProposedByMaster:
		if err := guardMaster(o, chatID); err != nil {
			return nil, err
		}
	default:
		return nil, ErrNotPermitted
	}
	if !at.After(now) {
		return nil, ErrPastInstant
	}
	o.ProposedAt = &at
	o.ProposedBy = by
	if by == ProposedByAdmin {
		o.Status = models.StatusTimeProposedByAdmin
	} else {
		o.Status = models.StatusTimeProposedByMaster
	}
	if err := save(db, o); err != nil {
		return nil, err
	}
	return o, nil
}

// AgreeTime accepts the pending counter-proposal. Only the side that did not
// make the proposal may agree to it.
func AgreeTime(db *gorm.DB, id uint, chatID int64, role string) (*models.Order, error) {
	o, err := Get(db, id)
	if err != nil {
		return nil, err
	}
	if err := guardStatus(o, models.StatusTimeProposedByAdmin, models.StatusTimeProposedByMaster); err != nil {
		return nil, err
	}
	switch o.Status {
	case models.StatusTimeProposedByAdmin:
		if err := guardMaster(o, chatID); err != nil {
			return nil, err
		}
	case models.StatusTimeProposedByMaster:
		if err := guardAdmin(o, chatID, role); err != nil {
			return nil, err
		}
	}
	o.ScheduledAt = o.ProposedAt
	o.ProposedAt = nil
	o.ProposedBy = ""
	o.Status = models.StatusTimeConfirmed
	if err := save(db, o); err != nil {
		return nil, err
	}
	return o, nil
}

// Arrive records that the master is on-site (visit) or that the client has
// arrived (come). Allowed straight from accepted: an accepted instant that
// was never renegotiated counts as the confirmed appointment.
func Arrive(db *gorm.DB, id uint, masterChat int64, now time.Time) (*models.Order, error) {
	o, err := Get(db, id)
	if err != nil {
		return nil, err
	}
	if err := guardStatus(o, models.StatusAccepted, models.StatusTimeConfirmed); err != nil {
		return nil, err
	}
	if err := guardMaster(o, masterChat); err != nil {
		return nil, err
	}
	o.ArrivedAt = &now
	o.Status = models.StatusArrived
	if err := save(db, o); err != nil {
		return nil, err
	}
	return o, nil
}

// BeginEvidence enters the evidence-capture phase. Callers skip this entirely
// when the derived plan is empty (accessories-only installs and repairs).
func BeginEvidence(db *gorm.DB, id uint, masterChat int64) (*models.Order, error) {
	o, err := Get(db, id)
	if err != nil {
		return nil, err
	}
	if err := guardStatus(o, models.StatusArrived); err != nil {
		return nil, err
	}
	if err := guardMaster(o, masterChat); err != nil {
		return nil, err
	}
	o.Status = models.StatusEvidencePending
	if err := save(db, o); err != nil {
		return nil, err
	}
	return o, nil
}

// AttachPhoto stores a media reference against an evidence slot.
func AttachPhoto(db *gorm.DB, id uint, masterChat int64, plan []evidence.Slot, slotKey, fileID string) (*models.Order, error) {
	o, err := Get(db, id)
	if err != nil {
		return nil, err
	}
	if err := guardStatus(o, models.StatusEvidencePending); err != nil {
		return nil, err
	}
	if err := guardMaster(o, masterChat); err != nil {
		return nil, err
	}
	if evidence.Find(plan, slotKey) == nil {
		return nil, ErrUnknownSlot
	}
	photos := o.Photos()
	photos[slotKey] = fileID
	o.SetPhotos(photos)
	if err := save(db, o); err != nil {
		return nil, err
	}
	return o, nil
}

// SkipSlot marks an optional slot as intentionally skipped. Mandatory slots
// are refused with ErrMandatorySlot.
func SkipSlot(db *gorm.DB, id uint, masterChat int64, plan []evidence.Slot, slotKey string) (*models.Order, error) {
	o, err := Get(db, id)
	if err != nil {
		return nil, err
	}
	if err := guardStatus(o, models.StatusEvidencePending); err != nil {
		return nil, err
	}
	if err := guardMaster(o, masterChat); err != nil {
		return nil, err
	}
	s := evidence.Find(plan, slotKey)
	if s == nil {
		return nil, ErrUnknownSlot
	}
	if s.Required {
		return nil, ErrMandatorySlot
	}
	photos := o.Photos()
	photos[slotKey] = models.PhotoSkipped
	o.SetPhotos(photos)
	if err := save(db, o); err != nil {
		return nil, err
	}
	return o, nil
}

// Complete finishes the field work. From evidence_pending every slot must be
// resolved (photo or explicit skip); from arrived the plan must be empty.
// It returns the labels of optional evidence that was skipped, for the
// dispatcher notification.
func Complete(db *gorm.DB, id uint, masterChat int64, plan []evidence.Slot, now time.Time) (*models.Order, []string, error) {
	o, err := Get(db, id)
	if err != nil {
		return nil, nil, err
	}
	if err := guardStatus(o, models.StatusArrived, models.StatusEvidencePending); err != nil {
		return nil, nil, err
	}
	if err := guardMaster(o, masterChat); err != nil {
		return nil, nil, err
	}
	photos := o.Photos()
	if o.Status == models.StatusArrived && len(plan) > 0 {
		// A non-empty plan must go through the evidence phase.
		return nil, nil, ErrStale
	}
	if open := evidence.Unresolved(plan, photos); len(open) > 0 {
		return nil, nil, ErrUnresolvedSlots
	}
	o.CompletedAt = &now
	o.Status = models.StatusCompleted
	if err := save(db, o); err != nil {
		return nil, nil, err
	}
	return o, evidence.MissingOptional(plan, photos, models.PhotoSkipped), nil
}

// Close is the dispatcher's final sign-off. Closing an already-closed order
// is a no-op: the bool result reports whether the order was already closed.
func Close(db *gorm.DB, id uint, adminChat int64, role string, laborMinutes int, now time.Time) (*models.Order, bool, error) {
	o, err := Get(db, id)
	if err != nil {
		return nil, false, err
	}
	if o.Status == models.StatusClosed {
		return o, true, nil
	}
	if err := guardStatus(o, models.StatusCompleted); err != nil {
		return nil, false, err
	}
	if err := guardAdmin(o, adminChat, role); err != nil {
		return nil, false, err
	}
	o.ClosedAt = &now
	o.LaborMinutes = laborMinutes
	o.Status = models.StatusClosed
	if err := save(db, o); err != nil {
		return nil, false, err
	}
	return o, false, nil
}

// Cancel terminates a non-terminal order. The assigning admin, a super-admin,
// or the assigned master may cancel.
func Cancel(db *gorm.DB, id uint, chatID int64, role string) (*models.Order, error) {
	o, err := Get(db, id)
	if err != nil {
		return nil, err
	}
	if models.IsTerminal(o.Status) {
		return nil, ErrStale
	}
	if guardAdmin(o, chatID, role) != nil && guardMaster(o, chatID) != nil {
		return nil, ErrNotPermitted
	}
	o.Status = models.StatusCancelled
	if err := save(db, o); err != nil {
		return nil, err
	}
	return o, nil
}
