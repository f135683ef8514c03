package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	alerting "github.com/pharos-dev/pharos/internal/alerting/service"
	"github.com/pharos-dev/pharos/internal/telemetry/model"
	"go.uber.org/zap"
)

// CreateRuleHandler serves POST /alerts/rules.
func CreateRuleHandler(rules *alerting.RulesService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var rule model.AlertRule
		if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
			logger.Error("Error encountered when decoding request body", zap.Error(err))
			HttpError(w, "Invalid request payload", http.StatusBadRequest, logger)
			return
		}
		created, err := rules.CreateRule(r.Context(), bearerToken(r), rule)
		if err != nil {
			serviceError(w, err, logger)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		if err := json.NewEncoder(w).Encode(created); err != nil {
			logger.Error("Error encountered when encoding response", zap.Error(err))
		}
	}
}

// ListRulesHandler serves GET /alerts/rules.
func ListRulesHandler(rules *alerting.RulesService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		listed, err := rules.ListRules(r.Context(), bearerToken(r), r.URL.Query().Get("project_id"))
		if err != nil {
			serviceError(w, err, logger)
			return
		}
		writeJSON(w, listed, logger)
	}
}

// GetRuleHandler serves GET /alerts/rules/{id}.
func GetRuleHandler(rules *alerting.RulesService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rule, err := rules.GetRule(r.Context(), bearerToken(r), mux.Vars(r)["id"])
		if err != nil {
			serviceError(w, err, logger)
			return
		}
		writeJSON(w, rule, logger)
	}
}

// UpdateRuleHandler serves PUT /alerts/rules/{id}.
func UpdateRuleHandler(rules *alerting.RulesService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var rule model.AlertRule
		if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
			logger.Error("Error encountered when decoding request body", zap.Error(err))
			HttpError(w, "Invalid request payload", http.StatusBadRequest, logger)
			return
		}
		rule.Id = mux.Vars(r)["id"]
		updated, err := rules.UpdateRule(r.Context(), bearerToken(r), rule)
		if err != nil {
			serviceError(w, err, logger)
			return
		}
		writeJSON(w, updated, logger)
	}
}

// DeleteRuleHandler serves DELETE /alerts/rules/{id}.
func DeleteRuleHandler(rules *alerting.RulesService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := rules.DeleteRule(r.Context(), bearerToken(r), mux.Vars(r)["id"]); err != nil {
			serviceError(w, err, logger)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// ListEventsHandler serves GET /alerts/rules/{id}/events.
func ListEventsHandler(rules *alerting.RulesService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		events, err := rules.ListEvents(r.Context(), bearerToken(r), mux.Vars(r)["id"], limit)
		if err != nil {
			serviceError(w, err, logger)
			return
		}
		writeJSON(w, events, logger)
	}
}
