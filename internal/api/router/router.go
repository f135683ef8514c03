package router

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	alerting "github.com/pharos-dev/pharos/internal/alerting/service"
	"github.com/pharos-dev/pharos/internal/api/handler"
	"github.com/pharos-dev/pharos/internal/auth"
	livetail "github.com/pharos-dev/pharos/internal/livetail/service"
	query "github.com/pharos-dev/pharos/internal/query/service"
	"go.uber.org/zap"
)

// Pinger reports hot store liveness for the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

func CreateRouter(
	engine *query.Engine,
	rules *alerting.RulesService,
	hub *livetail.Hub,
	checker auth.Checker,
	pinger Pinger,
	metricsHandler http.Handler,
	logger *zap.Logger,
) http.Handler {
	r := mux.NewRouter()

	r.Handle("/query/logs", handler.LogSearchHandler(engine, checker, logger)).Methods("POST")
	r.Handle("/query/traces", handler.TraceSearchHandler(engine, checker, logger)).Methods("POST")
	r.Handle("/query/traces/{id}", handler.TraceGetHandler(engine, checker, logger)).Methods("GET")
	r.Handle("/query/metrics", handler.MetricQueryHandler(engine, checker, logger)).Methods("POST")
	r.Handle("/query/metrics/series", handler.SeriesListHandler(engine, checker, logger)).Methods("GET")
	r.Handle("/query/sessions/{id}/timeline", handler.TimelineHandler(engine, checker, logger)).Methods("GET")

	r.Handle("/alerts/rules", handler.CreateRuleHandler(rules, logger)).Methods("POST")
	r.Handle("/alerts/rules", handler.ListRulesHandler(rules, logger)).Methods("GET")
	r.Handle("/alerts/rules/{id}", handler.GetRuleHandler(rules, logger)).Methods("GET")
	r.Handle("/alerts/rules/{id}", handler.UpdateRuleHandler(rules, logger)).Methods("PUT")
	r.Handle("/alerts/rules/{id}", handler.DeleteRuleHandler(rules, logger)).Methods("DELETE")
	r.Handle("/alerts/rules/{id}/events", handler.ListEventsHandler(rules, logger)).Methods("GET")

	r.Handle("/tail", handler.TailHandler(hub, checker, logger)).Methods("GET")

	r.HandleFunc("/healthz", func(w http.ResponseWriter, req *http.Request) {
		if err := pinger.Ping(req.Context()); err != nil {
			handler.HttpError(w, "hot store unreachable", http.StatusServiceUnavailable, logger)
			return
		}
		w.WriteHeader(http.StatusOK)
	}).Methods("GET")
	r.Handle("/metrics", metricsHandler).Methods("GET")

	return r
}
