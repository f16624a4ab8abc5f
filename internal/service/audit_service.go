package service

import (
	"context"
	"time"

	"mccapes-reconciler/internal/core/domain"
	"mccapes-reconciler/internal/core/ports"
	"mccapes-reconciler/pkg/logger"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const auditPersistTimeout = 5 * time.Second

type auditService struct {
	repo ports.AuditRepository
	log  zerolog.Logger
}

// NewAuditService creates a new audit service.
// If repo is nil, audit entries are only written to the logger.
func NewAuditService(repo ports.AuditRepository, log zerolog.Logger) ports.AuditService {
	return &auditService{repo: repo, log: logger.Component(log, "audit")}
}

// Log records an audit entry asynchronously. The entry outlives the caller's
// request, so persistence does not inherit its cancellation.
func (s *auditService) Log(ctx context.Context, entry *domain.AuditLog) {
	if entry == nil {
		return
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	detached := context.WithoutCancel(ctx)

	go func() {
		s.log.Info().
			Str("action", string(entry.Action)).
			Str("resource_type", entry.ResourceType).
			Str("resource_id", entry.ResourceID).
			Str("actor", entry.Actor).
			RawJSON("details", detailsJSON(entry.Details)).
			Msg("audit")

		if s.repo == nil {
			return
		}
		persistCtx, cancel := context.WithTimeout(detached, auditPersistTimeout)
		defer cancel()
		if err := s.repo.Create(persistCtx, entry); err != nil {
			s.log.Warn().Err(err).Str("action", string(entry.Action)).Msg("failed to persist audit log")
		}
	}()
}

func detailsJSON(details string) []byte {
	if details == "" {
		return []byte("null")
	}
	return []byte(details)
}
