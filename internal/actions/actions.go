// Package actions implements C11: creating a RecommendedAction only
// when no open action of the same type and canonical target already
// exists within the caller's dedup lookback window.
package actions

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"evalpipe/internal/audit"
	"evalpipe/internal/domain"
	"evalpipe/internal/repo/postgres"
)

type Service struct {
	Repo  *postgres.ActionRepo
	Audit *audit.Emitter
	Log   *zap.SugaredLogger
}

func NewService(repo *postgres.ActionRepo, auditor *audit.Emitter, log *zap.SugaredLogger) *Service {
	return &Service{Repo: repo, Audit: auditor, Log: log}
}

// Propose creates a RecommendedAction unless an open one with the same
// type and canonical target was already created within lookbackHours.
// Returns whether a new action was created.
func (s *Service) Propose(ctx context.Context, tenantID, actionType string, target, payload map[string]any, decidedBy string, lookbackHours int) (bool, error) {
	exists, err := s.Repo.HasRecentOpenAction(ctx, tenantID, actionType, target, lookbackHours)
	if err != nil {
		return false, fmt.Errorf("check recent action: %w", err)
	}
	if exists {
		return false, nil
	}

	actionID, err := s.Repo.Create(ctx, domain.RecommendedAction{
		TenantID:   tenantID,
		ActionType: actionType,
		Target:     target,
		Payload:    payload,
		DecidedBy:  decidedBy,
	})
	if err != nil {
		return false, fmt.Errorf("create action: %w", err)
	}
	s.Audit.EmitActionCreated(ctx, tenantID, actionType, actionID)
	return true, nil
}
