/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/plugin_update_helper/internal/events"
	"github.com/friendsincode/plugin_update_helper/internal/models"
)

// Source is the subscribe side of an event bus.
type Source interface {
	Subscribe(eventType events.EventType) events.Subscriber
	Unsubscribe(eventType events.EventType, sub events.Subscriber)
}

var recorded = map[events.EventType]models.AuditAction{
	events.EventTimerFired:      models.AuditActionTimerFired,
	events.EventTimerSkipped:    models.AuditActionTimerSkipped,
	events.EventTimerSaved:      models.AuditActionTimerSaved,
	events.EventTimerDeleted:    models.AuditActionTimerDeleted,
	events.EventActionFailed:    models.AuditActionActionFailed,
	events.EventUpdateAvailable: models.AuditActionUpdateAvailable,
	events.EventPackageFetched:  models.AuditActionPackageFetched,
}

type taggedPayload struct {
	action  models.AuditAction
	payload events.Payload
}

// Service keeps a persistent history of scheduler events.
type Service struct {
	db     *gorm.DB
	bus    Source
	logger zerolog.Logger
	now    func() time.Time
}

// NewService creates a new audit service.
func NewService(db *gorm.DB, bus Source, logger zerolog.Logger) *Service {
	return &Service{
		db:     db,
		bus:    bus,
		logger: logger.With().Str("component", "audit").Logger(),
		now:    time.Now,
	}
}

// Start subscribes to the recorded events and writes entries until ctx is
// done. Subscriptions are in place when Start returns.
func (s *Service) Start(ctx context.Context) {
	merged := make(chan taggedPayload, 64)
	var wg sync.WaitGroup

	for eventType, action := range recorded {
		sub := s.bus.Subscribe(eventType)
		wg.Add(1)
		go func(eventType events.EventType, action models.AuditAction, sub events.Subscriber) {
			defer wg.Done()
			defer s.bus.Unsubscribe(eventType, sub)
			for {
				select {
				case <-ctx.Done():
					return
				case payload, ok := <-sub:
					if !ok {
						return
					}
					select {
					case merged <- taggedPayload{action: action, payload: payload}:
					case <-ctx.Done():
						return
					}
				}
			}
		}(eventType, action, sub)
	}

	go func() {
		wg.Wait()
		close(merged)
	}()

	go func() {
		s.logger.Info().Msg("audit service started")
		for item := range merged {
			s.logAuditEntry(context.WithoutCancel(ctx), item.action, item.payload)
		}
		s.logger.Info().Msg("audit service stopped")
	}()
}

// logAuditEntry creates an audit log entry from an event payload.
func (s *Service) logAuditEntry(ctx context.Context, action models.AuditAction, payload events.Payload) {
	entry := &models.AuditLog{
		Action:  action,
		Details: make(map[string]any, len(payload)),
	}
	for k, v := range payload {
		if k == "timer_id" {
			entry.TimerID, _ = v.(string)
			continue
		}
		entry.Details[k] = v
	}

	if err := s.Log(ctx, entry); err != nil {
		s.logger.Error().Err(err).
			Str("action", string(action)).
			Msg("failed to log audit entry")
	}
}

// Log records an audit entry directly.
func (s *Service) Log(ctx context.Context, entry *models.AuditLog) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = s.now().UTC()
	}
	if entry.Details == nil {
		entry.Details = make(map[string]any)
	}

	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return err
	}

	s.logger.Debug().
		Str("action", string(entry.Action)).
		Str("timer_id", entry.TimerID).
		Msg("audit entry logged")
	return nil
}

// QueryFilters defines filters for querying audit logs.
type QueryFilters struct {
	TimerID   string
	Action    models.AuditAction
	StartTime *time.Time
	EndTime   *time.Time
	Limit     int
	Offset    int
}

// Query retrieves audit logs newest first, with the total matching count.
func (s *Service) Query(ctx context.Context, filters QueryFilters) ([]models.AuditLog, int64, error) {
	var logs []models.AuditLog
	var total int64

	query := s.db.WithContext(ctx).Model(&models.AuditLog{})
	if filters.TimerID != "" {
		query = query.Where("timer_id = ?", filters.TimerID)
	}
	if filters.Action != "" {
		query = query.Where("action = ?", filters.Action)
	}
	if filters.StartTime != nil {
		query = query.Where("timestamp >= ?", *filters.StartTime)
	}
	if filters.EndTime != nil {
		query = query.Where("timestamp <= ?", *filters.EndTime)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	limit := filters.Limit
	if limit <= 0 {
		limit = 100
	}
	query = query.Limit(limit)
	if filters.Offset > 0 {
		query = query.Offset(filters.Offset)
	}

	if err := query.Order("timestamp DESC").Find(&logs).Error; err != nil {
		return nil, 0, err
	}
	return logs, total, nil
}

// Prune deletes entries older than the retention window and returns how many went.
func (s *Service) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := s.now().UTC().Add(-retention)
	res := s.db.WithContext(ctx).Where("timestamp < ?", cutoff).Delete(&models.AuditLog{})
	return res.RowsAffected, res.Error
}
