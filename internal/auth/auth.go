// Package auth answers "who is this chat" for the bot: role lookup, the
// approve/deny workflow for new chats, and config bootstrap of well-known
// operators.
package auth

import (
	"errors"
	"fmt"

	"github.com/muradov/gpsmaster/internal/config"
	"github.com/muradov/gpsmaster/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrUnknownChat means the chat has no operator record at all.
var ErrUnknownChat = errors.New("auth: unknown chat")

// Bootstrap upserts operator rows for the configured super-admins and
// masters. Runs at startup; approval decisions for other chats are preserved.
func Bootstrap(db *gorm.DB, cfg *config.Config) error {
	for _, chatID := range cfg.Admins {
		op := models.Operator{
			ChatID:   chatID,
			Name:     "admin",
			Role:     models.RoleSuperAdmin,
			Approved: true,
		}
		result := db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "chat_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"role", "approved"}),
		}).Create(&op)
		if result.Error != nil {
			return fmt.Errorf("auth: bootstrap admin %d: %w", chatID, result.Error)
		}
	}
	for _, m := range cfg.Masters {
		op := models.Operator{
			ChatID:   m.ChatID,
			Name:     m.Name,
			Role:     models.RoleMaster,
			MasterID: m.ID,
			Approved: true,
		}
		result := db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "chat_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "role", "master_id", "approved"}),
		}).Create(&op)
		if result.Error != nil {
			return fmt.Errorf("auth: bootstrap master %q: %w", m.ID, result.Error)
		}
	}
	return nil
}

// RoleFor returns the approved role of a chat. Pending or denied chats get
// ErrUnknownChat, the same as chats never seen at all: the caller only
// consumes a boolean gate plus a role tag.
func RoleFor(db *gorm.DB, chatID int64) (string, error) {
	var op models.Operator
	if err := db.First(&op, "chat_id = ?", chatID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrUnknownChat
		}
		return "", fmt.Errorf("auth: role for %d: %w", chatID, err)
	}
	if !op.Approved || op.Role == "" {
		return "", ErrUnknownChat
	}
	return op.Role, nil
}

// Operator returns the full operator record for an approved chat.
func Operator(db *gorm.DB, chatID int64) (*models.Operator, error) {
	var op models.Operator
	if err := db.First(&op, "chat_id = ?", chatID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUnknownChat
		}
		return nil, fmt.Errorf("auth: operator %d: %w", chatID, err)
	}
	return &op, nil
}

// Request records an access request for an unknown chat. Requests for chats
// that already hold a decision are ignored.
func Request(db *gorm.DB, chatID int64, name string) error {
	op := models.Operator{ChatID: chatID, Name: name}
	result := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&op)
	if result.Error != nil {
		return fmt.Errorf("auth: request for %d: %w", chatID, result.Error)
	}
	return nil
}

// Approve grants a role to a pending chat. masterID links master-role chats
// to their config entry and is empty otherwise.
func Approve(db *gorm.DB, chatID int64, role, masterID string) error {
	result := db.Model(&models.Operator{}).Where("chat_id = ?", chatID).
		Updates(map[string]interface{}{"role": role, "master_id": masterID, "approved": true})
	if result.Error != nil {
		return fmt.Errorf("auth: approve %d: %w", chatID, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrUnknownChat
	}
	return nil
}

// roleDenied marks a rejected chat. It never passes the approval gate and
// keeps the chat out of the pending list, so repeat requests stay silent.
const roleDenied = "denied"

// Deny rejects a pending chat. The record is kept so repeat requests stay
// silent.
func Deny(db *gorm.DB, chatID int64) error {
	result := db.Model(&models.Operator{}).Where("chat_id = ?", chatID).
		Updates(map[string]interface{}{"role": roleDenied, "approved": false})
	if result.Error != nil {
		return fmt.Errorf("auth: deny %d: %w", chatID, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrUnknownChat
	}
	return nil
}

// PendingRequests lists chats awaiting an approve/deny decision.
func PendingRequests(db *gorm.DB) ([]models.Operator, error) {
	var ops []models.Operator
	err := db.Where("approved = ? AND role = ?", false, "").
		Order("created_at").Find(&ops).Error
	if err != nil {
		return nil, fmt.Errorf("auth: pending requests: %w", err)
	}
	return ops, nil
}

// AdminChats returns the chat ids of all approved admins and super-admins,
// used for dispatch notifications and the daily digest.
func AdminChats(db *gorm.DB) ([]int64, error) {
	var ops []models.Operator
	err := db.Where("approved = ? AND role IN ?", true,
		[]string{models.RoleAdmin, models.RoleSuperAdmin}).Find(&ops).Error
	if err != nil {
		return nil, fmt.Errorf("auth: admin chats: %w", err)
	}
	chats := make([]int64, 0, len(ops))
	for _, op := range ops {
		chats = append(chats, op.ChatID)
	}
	return chats, nil
}
