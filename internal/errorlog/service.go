// Package errorlog stores operational error and notification entries for
// the tech-support triage workflow.
package errorlog

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"chargehub/internal/apperr"
	"chargehub/internal/gateway"
	"chargehub/internal/models"
)

// Filter narrows List results. At most one field is applied, matching the
// original query surface (level, then service, then status).
type Filter struct {
	Level   string
	Service string
	Status  models.LogStatus
}

// Service manages error log entries over the persistence gateway.
type Service struct {
	store  gateway.Store
	logger *zap.Logger
}

// NewService returns an error log service.
func NewService(store gateway.Store, logger *zap.Logger) *Service {
	return &Service{store: store, logger: logger}
}

// Report writes an entry. It implements the session manager's FaultReporter;
// a write failure here is logged and swallowed so reporting never masks the
// original fault.
func (s *Service) Report(ctx context.Context, service, level, message string, details map[string]any) {
	if err := s.write(ctx, "ERROR#", service, level, message, details); err != nil {
		s.logger.Error("failed to write error log entry", zap.Error(err))
	}
}

// Notify records an INFO notification entry (charging started, 80%,
// completed).
func (s *Service) Notify(ctx context.Context, service, message string, details map[string]any) {
	if err := s.write(ctx, "NOTIFICATION#", service, "INFO", message, details); err != nil {
		s.logger.Error("failed to write notification entry", zap.Error(err))
	}
}

func (s *Service) write(ctx context.Context, pkPrefix, service, level, message string, details map[string]any) error {
	now := time.Now().UTC()
	entry := models.ErrorLog{
		ErrorID:   uuid.NewString(),
		Service:   service,
		Level:     level,
		Message:   message,
		Status:    models.LogNew,
		Timestamp: now,
	}
	if details != nil {
		data, err := json.Marshal(details)
		if err != nil {
			return err
		}
		entry.Details = string(data)
	}

	key := gateway.Key{PK: pkPrefix + entry.ErrorID, SK: now.Format(time.RFC3339Nano)}
	return s.store.Put(ctx, gateway.KindErrorLogs, key, entry, false)
}

// List returns entries newest first, optionally filtered.
func (s *Service) List(ctx context.Context, filter Filter) ([]models.ErrorLog, error) {
	var (
		items []gateway.Item
		err   error
	)
	switch {
	case filter.Level != "":
		items, err = s.store.QueryIndex(ctx, gateway.KindErrorLogs,
			gateway.Query{Attr: "level", Value: filter.Level, Descending: true})
	case filter.Service != "":
		items, err = s.store.QueryIndex(ctx, gateway.KindErrorLogs,
			gateway.Query{Attr: "service", Value: filter.Service, Descending: true})
	case filter.Status != "":
		items, err = s.store.QueryIndex(ctx, gateway.KindErrorLogs,
			gateway.Query{Attr: "logStatus", Value: string(filter.Status), Descending: true})
	default:
		items, err = s.store.Scan(ctx, gateway.KindErrorLogs, nil)
	}
	if err != nil {
		return nil, err
	}

	entries := []models.ErrorLog{}
	for _, it := range items {
		e, err := gateway.Decode[models.ErrorLog](it.Doc)
		if err != nil {
			return nil, apperr.Internal(err)
		}
		entries = append(entries, e)
	}
	// Scan orders by key, not time, so newest-first is imposed here for
	// every path.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Timestamp.After(entries[j].Timestamp)
	})
	return entries, nil
}

// UpdateStatus moves an entry through the NEW / IN_PROGRESS / RESOLVED
// triage states. The timestamp disambiguates the target row.
func (s *Service) UpdateStatus(ctx context.Context, errorID, timestamp string, status models.LogStatus) (*models.ErrorLog, error) {
	switch status {
	case models.LogNew, models.LogInProgress, models.LogResolved:
	default:
		return nil, apperr.Validation("status must be one of: NEW, IN_PROGRESS, RESOLVED")
	}

	key := gateway.Key{PK: "ERROR#" + errorID, SK: timestamp}
	doc, err := s.store.Update(ctx, gateway.KindErrorLogs, key, map[string]any{"logStatus": status}, nil)
	if err != nil {
		if errors.Is(err, gateway.ErrNotFound) {
			return nil, apperr.NotFound("Error log", errorID)
		}
		return nil, err
	}
	entry, err := gateway.Decode[models.ErrorLog](doc)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return &entry, nil
}
