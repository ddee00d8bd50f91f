/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import "time"

// AuditAction names a recorded scheduler event.
type AuditAction string

const (
	AuditActionTimerFired      AuditAction = "timer.fired"
	AuditActionTimerSkipped    AuditAction = "timer.skipped"
	AuditActionTimerSaved      AuditAction = "timer.saved"
	AuditActionTimerDeleted    AuditAction = "timer.deleted"
	AuditActionActionFailed    AuditAction = "action.failed"
	AuditActionUpdateAvailable AuditAction = "update.available"
	AuditActionPackageFetched  AuditAction = "update.package_fetched"
)

// AuditLog is one entry of the timer history.
type AuditLog struct {
	ID        string         `gorm:"type:varchar(36);primaryKey"`
	Timestamp time.Time      `gorm:"index:idx_audit_timestamp;not null"`
	Action    AuditAction    `gorm:"type:varchar(64);index:idx_audit_action;not null"`
	TimerID   string         `gorm:"type:varchar(191);index:idx_audit_timer"`
	Details   map[string]any `gorm:"type:text;serializer:json"`
	CreatedAt time.Time
}

// TableName returns the table name for GORM.
func (AuditLog) TableName() string {
	return "audit_logs"
}
