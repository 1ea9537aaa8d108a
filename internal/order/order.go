// Package order owns the per-order status state machine: creation through
// dispatch, scheduling negotiation, arrival, evidence capture, completion and
// closure, plus the decline/cancel branches. All status writes happen here.
package order

import (
	"errors"
	"fmt"
	"time"

	"github.com/muradov/gpsmaster/internal/config"
	"github.com/muradov/gpsmaster/internal/models"
	"gorm.io/gorm"
)

// CreateOpts holds the wizard output needed to create an order draft.
type CreateOpts struct {
	Phone       string
	Type        string // models.TypeInstall / models.TypeRepair
	Logistics   string // models.LogisticsVisit / models.LogisticsCome
	Address     string // required for visit logistics
	Comment     string
	Options     []string
	Quantities  map[string]int
	Master      config.MasterConfig
	AdminChatID int64
}

// Create persists a new order in draft status. The conversational wizard
// accumulates everything else; the record only exists once a master has been
// assigned.
func Create(db *gorm.DB, opts CreateOpts) (*models.Order, error) {
	if opts.Phone == "" {
		return nil, fmt.Errorf("order: create: phone is required")
	}
	if opts.Master.ID == "" || opts.Master.ChatID == 0 {
		return nil, fmt.Errorf("order: create: master is required")
	}
	if opts.Logistics == models.LogisticsVisit && opts.Address == "" {
		return nil, fmt.Errorf("order: create: address is required for visit logistics")
	}

	o := models.Order{
		Phone:        opts.Phone,
		Type:         opts.Type,
		Logistics:    opts.Logistics,
		Address:      opts.Address,
		City:         opts.Master.City,
		Comment:      opts.Comment,
		MasterID:     opts.Master.ID,
		MasterName:   opts.Master.Name,
		MasterChatID: opts.Master.ChatID,
		AdminChatID:  opts.AdminChatID,
		Status:       models.StatusDraft,
	}
	if opts.Type == models.TypeInstall {
		o.SetOptions(opts.Options)
		o.SetQuantities(opts.Quantities)
	}

	if err := db.Create(&o).Error; err != nil {
		return nil, fmt.Errorf("order: create: %w", err)
	}
	return &o, nil
}

// Get loads one order by id.
func Get(db *gorm.DB, id uint) (*models.Order, error) {
	var o models.Order
	if err := db.First(&o, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("order: get %d: %w", id, err)
	}
	return &o, nil
}

// Pending returns all non-terminal, non-archived orders, newest first.
func Pending(db *gorm.DB) ([]models.Order, error) {
	var orders []models.Order
	err := db.Where("status NOT IN ? AND archived = ?", models.TerminalStatuses, false).
		Order("id DESC").Find(&orders).Error
	if err != nil {
		return nil, fmt.Errorf("order: pending: %w", err)
	}
	return orders, nil
}

// InWindow returns orders created inside [from, to), optionally scoped to a
// single master id. Archived orders are included: reports look backwards.
func InWindow(db *gorm.DB, from, to time.Time, masterID string) ([]models.Order, error) {
	q := db.Where("created_at >= ? AND created_at < ?", from, to)
	if masterID != "" {
		q = q.Where("master_id = ?", masterID)
	}
	var orders []models.Order
	if err := q.Order("id").Find(&orders).Error; err != nil {
		return nil, fmt.Errorf("order: window query: %w", err)
	}
	return orders, nil
}

// save writes the full order row back.
func save(db *gorm.DB, o *models.Order) error {
	if err := db.Save(o).Error; err != nil {
		return fmt.Errorf("order: save %d: %w", o.ID, err)
	}
	return nil
}

// guardStatus returns ErrStale unless the order's status is one of allowed.
func guardStatus(o *models.Order, allowed ...string) error {
	for _, s := range allowed {
		if o.Status == s {
			return nil
		}
	}
	return ErrStale
}

// guardMaster returns ErrNotPermitted unless chatID is the assigned master.
func guardMaster(o *models.Order, chatID int64) error {
	if o.MasterChatID != chatID {
		return ErrNotPermitted
	}
	return nil
}

// guardAdmin returns ErrNotPermitted unless chatID is the assigning admin or
// the actor holds the super-admin role.
func guardAdmin(o *models.Order, chatID int64, role string) error {
	if o.AdminChatID == chatID || role == models.RoleSuperAdmin {
		return nil
	}
	return ErrNotPermitted
}
