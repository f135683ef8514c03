package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pharos-dev/pharos/internal/auth"
	livetail "github.com/pharos-dev/pharos/internal/livetail/service"
	"github.com/pharos-dev/pharos/internal/telemetry/model"
	"go.uber.org/zap"
)

const tailWriteTimeout = 10 * time.Second

// tailRecheckInterval is how often a long-lived tail re-validates its
// credential; a revoked token loses the stream within one interval.
var tailRecheckInterval = time.Minute

var tailUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// TailHandler serves GET /tail: a websocket streaming one project's freshly
// persisted log records, filtered by optional level and service parameters.
func TailHandler(hub *livetail.Hub, checker auth.Checker, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := r.URL.Query().Get("project_id")
		token := bearerToken(r)
		// Browsers cannot set websocket headers, so the token may ride in a
		// query parameter instead.
		if token == "" {
			token = r.URL.Query().Get("token")
		}
		if err := checker.Check(r.Context(), token, auth.CapabilityRead, projectID); err != nil {
			serviceError(w, err, logger)
			return
		}

		sub, err := hub.Subscribe(projectID, livetail.TailFilter{
			Level:   model.Level(r.URL.Query().Get("level")),
			Service: r.URL.Query().Get("service"),
		})
		if err != nil {
			serviceError(w, err, logger)
			return
		}

		conn, err := tailUpgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Error("Failed to upgrade tail connection", zap.Error(err))
			sub.Close()
			return
		}
		go runTail(conn, sub, checker, token, projectID, logger)
	}
}

func runTail(
	conn *websocket.Conn,
	sub *livetail.Subscription,
	checker auth.Checker,
	token string,
	projectID string,
	logger *zap.Logger,
) {
	defer conn.Close()
	defer sub.Close()

	// Drain client frames so close messages are processed.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				sub.Close()
				return
			}
		}
	}()

	// The request context is cancelled once the handler returns, so re-checks
	// run against the connection's own lifetime instead.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	recheck := time.NewTicker(tailRecheckInterval)
	defer recheck.Stop()

	for {
		select {
		case entry, ok := <-sub.C:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(tailWriteTimeout))
			if err := conn.WriteJSON(entry); err != nil {
				logger.Debug("Tail subscriber write failed, closing",
					zap.String("project_id", projectID),
					zap.Error(err),
				)
				return
			}
		case <-recheck.C:
			if err := checker.Check(ctx, token, auth.CapabilityRead, projectID); err != nil {
				logger.Info("Tail credential no longer valid, closing stream",
					zap.String("project_id", projectID),
				)
				conn.WriteControl(
					websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "credential expired"),
					time.Now().Add(time.Second),
				)
				return
			}
		}
	}
}
