/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package options

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/friendsincode/plugin_update_helper/internal/models"
)

// GormStore keeps options in the SQL options table.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore wraps db. The options table must already be migrated.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var opt models.Option
	err := s.db.WithContext(ctx).Where("name = ?", key).First(&opt).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get option %s: %w", key, err)
	}
	return []byte(opt.Value), true, nil
}

func (s *GormStore) Set(ctx context.Context, key string, value []byte) (bool, error) {
	written := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.Option
		err := tx.Where("name = ?", key).First(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			if err := tx.Create(&models.Option{Name: key, Value: string(value)}).Error; err != nil {
				return err
			}
			written = true
			return nil
		case err != nil:
			return err
		}

		if existing.Value == string(value) {
			return nil
		}
		res := tx.Model(&models.Option{}).Where("name = ?", key).Update("value", string(value))
		if res.Error != nil {
			return res.Error
		}
		written = res.RowsAffected > 0
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("set option %s: %w", key, err)
	}
	return written, nil
}

func (s *GormStore) Delete(ctx context.Context, key string) (bool, error) {
	res := s.db.WithContext(ctx).Where("name = ?", key).Delete(&models.Option{})
	if res.Error != nil {
		return false, fmt.Errorf("delete option %s: %w", key, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// Keys lists option names starting with prefix. LIKE treats "_" as a
// wildcard, so rows are filtered again on the exact prefix.
func (s *GormStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	var names []string
	err := s.db.WithContext(ctx).
		Model(&models.Option{}).
		Where("name LIKE ?", prefix+"%").
		Order("name").
		Pluck("name", &names).Error
	if err != nil {
		return nil, fmt.Errorf("list options %s*: %w", prefix, err)
	}

	out := names[:0]
	for _, n := range names {
		if strings.HasPrefix(n, prefix) {
			out = append(out, n)
		}
	}
	return out, nil
}
