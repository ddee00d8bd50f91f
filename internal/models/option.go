/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import "time"

// Option is one named value of the key/value options table. Timer records
// and cached transients are stored here.
type Option struct {
	Name      string `gorm:"primaryKey;type:varchar(191)"`
	Value     string `gorm:"type:text"`
	UpdatedAt time.Time
}

// TableName returns the table name for GORM.
func (Option) TableName() string {
	return "options"
}
