package service

import (
	"context"
	"errors"

	"github.com/pharos-dev/pharos/internal/telemetry/model"
	"go.uber.org/zap"
)

const (
	attrTraceID   = "trace_id"
	attrSpanID    = "span_id"
	attrSessionID = "session_id"
	attrProjectID = "project_id"
	attrUserID    = "user_id"
	attrService   = "service.name"

	// UnknownService is assigned when no service name attribute is present.
	UnknownService = "unknown"
)

// ErrSessionNotFound is returned by a SessionDirectory when the session id
// does not resolve to a project.
var ErrSessionNotFound = errors.New("session not found")

// SessionInfo is the result of resolving a session id via the external
// session directory.
type SessionInfo struct {
	ProjectID string
	UserID    string
}

// SessionDirectory resolves a session id to its owning project and user.
// Implemented by the orchestration layer; treated as an opaque collaborator.
type SessionDirectory interface {
	Lookup(ctx context.Context, sessionID string) (SessionInfo, error)
}

type Resolver interface {
	Resolve(ctx context.Context, attributes map[string]string) model.Envelope
}

type ResolverImpl struct {
	sessions SessionDirectory
	cache    *SessionCache
	logger   *zap.Logger
}

func NewResolverImpl(
	sessions SessionDirectory,
	cache *SessionCache,
	logger *zap.Logger,
) *ResolverImpl {
	return &ResolverImpl{
		sessions: sessions,
		cache:    cache,
		logger:   logger,
	}
}

// Resolve derives the correlation envelope for one record. Identifiers found
// directly in the attribute map win; when only a session id is present, a
// single directory lookup fills in project and user. A failed lookup is not
// an error: the envelope proceeds with those fields empty.
func (r *ResolverImpl) Resolve(ctx context.Context, attributes map[string]string) model.Envelope {
	envelope := model.Envelope{
		TraceID:   attributes[attrTraceID],
		SpanID:    attributes[attrSpanID],
		SessionID: attributes[attrSessionID],
		ProjectID: attributes[attrProjectID],
		UserID:    attributes[attrUserID],
		Service:   attributes[attrService],
	}
	if envelope.Service == "" {
		envelope.Service = UnknownService
	}
	if envelope.SessionID == "" || envelope.ProjectID != "" {
		return envelope
	}

	info, err := r.lookupSession(ctx, envelope.SessionID)
	if err != nil {
		if !errors.Is(err, ErrSessionNotFound) {
			r.logger.Debug("session lookup failed, leaving envelope unresolved",
				zap.String("session_id", envelope.SessionID),
				zap.Error(err),
			)
		}
		return envelope
	}
	envelope.ProjectID = info.ProjectID
	if envelope.UserID == "" {
		envelope.UserID = info.UserID
	}
	return envelope
}

func (r *ResolverImpl) lookupSession(ctx context.Context, sessionID string) (SessionInfo, error) {
	if info, found := r.cache.Get(sessionID); found {
		return info, nil
	}
	info, err := r.sessions.Lookup(ctx, sessionID)
	if err != nil {
		return SessionInfo{}, err
	}
	r.cache.Put(sessionID, info)
	return info, nil
}
