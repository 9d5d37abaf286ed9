package importer

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/inflow-io/inflow/errors"
)

// Service is the import pipeline facade: session lifecycle, plan
// generation, resolution merging, and execution, behind one surface.
//
// The adapter set is closed and fixed at construction; a session stores its
// source kind and the service dispatches on it.
type Service struct {
	store    *Store
	adapters map[SourceKind]SourceAdapter
	compiler *Compiler
	composer *Composer
	logger   *zap.SugaredLogger
}

// NewService wires the import pipeline together.
func NewService(store *Store, compiler *Compiler, composer *Composer, logger *zap.SugaredLogger, adapters ...SourceAdapter) *Service {
	byKind := make(map[SourceKind]SourceAdapter, len(adapters))
	for _, adapter := range adapters {
		byKind[adapter.Kind()] = adapter
	}
	return &Service{
		store:    store,
		adapters: byKind,
		compiler: compiler,
		composer: composer,
		logger:   logger,
	}
}

// CreateSession registers a new pending import session.
func (s *Service) CreateSession(ctx context.Context, kind SourceKind, rawPayload string, sourceConfig json.RawMessage, targetContainerID, createdBy string) (*ImportSession, error) {
	if _, ok := s.adapters[kind]; !ok {
		return nil, errors.NewInvalidRequestError("unknown source kind %q", kind)
	}

	session := NewImportSession(kind, rawPayload, sourceConfig, targetContainerID, createdBy)
	if err := s.store.CreateSession(ctx, session); err != nil {
		return nil, err
	}

	s.logger.Infow("Import session created",
		"session", session.ID,
		"source", kind,
		"target", targetContainerID,
	)
	return session, nil
}

// GetSession returns a session by id.
func (s *Service) GetSession(ctx context.Context, sessionID string) (*ImportSession, error) {
	return s.store.GetSession(ctx, sessionID)
}

// GeneratePlan fetches the session's source and compiles a fresh plan
// version. Re-planning a session that already has a plan is allowed; the
// new version supersedes the old one.
func (s *Service) GeneratePlan(ctx context.Context, sessionID string) (*ImportPlan, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	adapter, ok := s.adapters[session.SourceKind]
	if !ok {
		return nil, errors.NewInvalidRequestError("no adapter registered for source kind %q", session.SourceKind)
	}

	batch, err := adapter.Fetch(ctx, session)
	if err != nil {
		return nil, errors.Wrapf(err, "fetch source for session %s", sessionID)
	}

	plan, err := s.compiler.CompilePlan(ctx, session, batch)
	if err != nil {
		return nil, err
	}
	return plan, nil
}

// GetLatestPlan returns the authoritative plan version for a session.
func (s *Service) GetLatestPlan(ctx context.Context, sessionID string) (*ImportPlan, error) {
	return s.store.GetLatestPlan(ctx, sessionID)
}

// SaveResolutions merges human resolutions into the latest plan.
func (s *Service) SaveResolutions(ctx context.Context, sessionID string, resolutions []ResolutionInput) (*ResolutionResult, error) {
	return s.store.SaveResolutions(ctx, sessionID, resolutions)
}

// ExecuteImport runs the session's latest plan through the composer.
func (s *Service) ExecuteImport(ctx context.Context, sessionID string) (*ExecuteResult, error) {
	return s.composer.ExecuteImport(ctx, sessionID)
}

// ListExecutions returns all execution attempts for a session, newest first.
func (s *Service) ListExecutions(ctx context.Context, sessionID string) ([]*ImportExecution, error) {
	return s.store.ListExecutions(ctx, sessionID)
}
