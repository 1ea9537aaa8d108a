// Package models defines the GORM models shared across GPSMaster.
package models

import (
	"encoding/json"
	"time"
)

// Order statuses. Transitions between them are owned by internal/order;
// nothing else writes Status.
const (
	StatusDraft                = "draft"
	StatusSentToMaster         = "sent_to_master"
	StatusAccepted             = "accepted"
	StatusTimeProposedByAdmin  = "time_proposed_admin"
	StatusTimeProposedByMaster = "time_proposed_master"
	StatusTimeConfirmed        = "time_confirmed"
	StatusArrived              = "arrived"
	StatusEvidencePending      = "evidence_pending"
	StatusCompleted            = "completed"
	StatusClosed               = "closed"
	StatusDeclined             = "declined"
	StatusCancelled            = "cancelled"
)

// Order types.
const (
	TypeInstall = "install"
	TypeRepair  = "repair"
)

// Logistics: who travels.
const (
	LogisticsVisit = "visit" // master travels to the client
	LogisticsCome  = "come"  // client travels to the master
)

// PhotoSkipped is the sentinel stored in the photo map when the master
// explicitly skips an optional evidence slot.
const PhotoSkipped = "skipped"

// TerminalStatuses are the states an order never leaves.
var TerminalStatuses = []string{StatusClosed, StatusDeclined, StatusCancelled}

// IsTerminal reports whether a status is terminal.
func IsTerminal(status string) bool {
	for _, s := range TerminalStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// Order is a single field-service job dispatched to a master.
type Order struct {
	ID uint `gorm:"primaryKey;autoIncrement"`

	Phone     string `gorm:"size:32"`
	Type      string `gorm:"size:16"` // install / repair
	Logistics string `gorm:"size:16"` // visit / come
	Address   string // only set when logistics is visit
	City      string `gorm:"size:64;index"`
	Comment   string `gorm:"type:text"`

	MasterID     string `gorm:"size:64;index"`
	MasterName   string `gorm:"size:128"`
	MasterChatID int64  `gorm:"index"`
	AdminChatID  int64

	Status string `gorm:"size:32;default:draft;index"`

	// Device composition (install orders only), stored as JSON text.
	OptionsJSON    string `gorm:"column:options;type:json"`
	QuantitiesJSON string `gorm:"column:device_quantities;type:json"`
	TotalDevices   int

	// Evidence: slot key -> Telegram file id, or PhotoSkipped.
	PhotosJSON string `gorm:"column:device_photos;type:json"`

	// Scheduling. ScheduledAt is the current agreed appointment; ProposedAt
	// holds a pending counter-proposal from ProposedBy ("admin" / "master").
	ScheduledAt *time.Time
	ProposedAt  *time.Time
	ProposedBy  string `gorm:"size:16"`

	AcceptedAt  *time.Time
	ArrivedAt   *time.Time
	CompletedAt *time.Time
	ClosedAt    *time.Time

	EstimateMinutes int // master self-estimate of install duration, 0 if none
	LaborMinutes    int // recorded by the closing admin, 0 if skipped

	RemindersSent  int
	LastReminderAt *time.Time

	Archived bool `gorm:"default:false;index"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Options decodes the selected device kinds.
func (o *Order) Options() []string {
	var opts []string
	if o.OptionsJSON == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(o.OptionsJSON), &opts); err != nil {
		return nil
	}
	return opts
}

// SetOptions encodes the selected device kinds.
func (o *Order) SetOptions(opts []string) {
	b, _ := json.Marshal(opts)
	o.OptionsJSON = string(b)
}

// Quantities decodes the per-kind device counts.
func (o *Order) Quantities() map[string]int {
	q := map[string]int{}
	if o.QuantitiesJSON == "" {
		return q
	}
	if err := json.Unmarshal([]byte(o.QuantitiesJSON), &q); err != nil {
		return map[string]int{}
	}
	return q
}

// SetQuantities encodes the per-kind device counts and refreshes TotalDevices.
func (o *Order) SetQuantities(q map[string]int) {
	b, _ := json.Marshal(q)
	o.QuantitiesJSON = string(b)
	total := 0
	for _, n := range q {
		total += n
	}
	o.TotalDevices = total
}

// Photos decodes the evidence map (slot key -> file id or PhotoSkipped).
func (o *Order) Photos() map[string]string {
	p := map[string]string{}
	if o.PhotosJSON == "" {
		return p
	}
	if err := json.Unmarshal([]byte(o.PhotosJSON), &p); err != nil {
		return map[string]string{}
	}
	return p
}

// SetPhotos encodes the evidence map.
func (o *Order) SetPhotos(p map[string]string) {
	b, _ := json.Marshal(p)
	o.PhotosJSON = string(b)
}
