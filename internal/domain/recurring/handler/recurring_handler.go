// Package handler exposes recurring payment patterns over HTTP.
package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/FACorreiaa/echo-ingest/internal/domain/common"
	"github.com/FACorreiaa/echo-ingest/internal/domain/recurring"
	"github.com/FACorreiaa/echo-ingest/pkg/interceptors"
)

type RecurringService interface {
	DetectForUser(ctx context.Context, userID uuid.UUID) (*recurring.DetectionResult, error)
	ListPatterns(ctx context.Context, userID uuid.UUID) ([]recurring.PatternView, error)
	Membership(userID uuid.UUID) *recurring.Membership
}

var _ RecurringService = (*recurring.Service)(nil)

// maxMembershipIDs bounds one membership lookup.
const maxMembershipIDs = 500

type RecurringHandler struct {
	svc    RecurringService
	logger *slog.Logger
}

func NewRecurringHandler(svc RecurringService, logger *slog.Logger) *RecurringHandler {
	return &RecurringHandler{svc: svc, logger: logger}
}

// Register mounts the recurring routes on mux.
func (h *RecurringHandler) Register(mux *http.ServeMux, wrap func(route string, next http.Handler) http.Handler) {
	mux.Handle("GET /v1/recurring", wrap("/v1/recurring", http.HandlerFunc(h.ListPatterns)))
	mux.Handle("POST /v1/recurring/detect", wrap("/v1/recurring/detect", http.HandlerFunc(h.Detect)))
	mux.Handle("GET /v1/recurring/transactions", wrap("/v1/recurring/transactions", h.withMembership(http.HandlerFunc(h.Memberships))))
}

func (h *RecurringHandler) ListPatterns(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	patterns, err := h.svc.ListPatterns(r.Context(), userID)
	if err != nil {
		h.logger.Error("failed to list patterns", slog.String("user_id", userID.String()), slog.Any("error", err))
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if patterns == nil {
		patterns = []recurring.PatternView{}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"patterns": patterns})
}

func (h *RecurringHandler) Detect(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	result, err := h.svc.DetectForUser(r.Context(), userID)
	if err != nil {
		h.logger.Error("recurring detection failed", slog.String("user_id", userID.String()), slog.Any("error", err))
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

type membershipEntry struct {
	TransactionID uuid.UUID           `json:"transaction_id"`
	Recurring     bool                `json:"recurring"`
	PatternID     *uuid.UUID          `json:"pattern_id,omitempty"`
	Frequency     recurring.Frequency `json:"frequency,omitempty"`
}

// Memberships answers, for each id in ?ids=a,b,c, whether the transaction belongs to
// a stored pattern. Patterns are loaded once per request.
func (h *RecurringHandler) Memberships(w http.ResponseWriter, r *http.Request) {
	m, ok := recurring.MembershipFrom(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, errors.New("membership not attached"))
		return
	}

	raw := strings.Split(r.URL.Query().Get("ids"), ",")
	ids := make([]uuid.UUID, 0, len(raw))
	for _, s := range raw {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		id, err := uuid.Parse(s)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, errors.New("invalid transaction id "+s))
			return
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		h.writeError(w, http.StatusBadRequest, errors.New("ids is required"))
		return
	}
	if len(ids) > maxMembershipIDs {
		h.writeError(w, http.StatusBadRequest, errors.New("too many ids"))
		return
	}

	out := make([]membershipEntry, 0, len(ids))
	for _, id := range ids {
		p, err := m.PatternFor(r.Context(), id)
		if err != nil {
			h.logger.Error("failed to load patterns", slog.Any("error", err))
			h.writeError(w, http.StatusInternalServerError, err)
			return
		}
		entry := membershipEntry{TransactionID: id}
		if p != nil {
			pid := p.ID
			entry.Recurring, entry.PatternID, entry.Frequency = true, &pid, p.Frequency
		}
		out = append(out, entry)
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"transactions": out})
}

// withMembership attaches a request-scoped Membership for the authenticated user.
func (h *RecurringHandler) withMembership(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := h.userID(w, r)
		if !ok {
			return
		}
		ctx := recurring.WithMembership(r.Context(), h.svc.Membership(userID))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *RecurringHandler) userID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	userIDStr, ok := interceptors.GetUserIDFromContext(r.Context())
	if !ok || userIDStr == "" {
		h.writeError(w, http.StatusUnauthorized, errors.New("authentication required"))
		return uuid.Nil, false
	}
	userID, err := uuid.Parse(userIDStr)
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, errors.New("invalid user ID in context"))
		return uuid.Nil, false
	}
	return userID, true
}

func (h *RecurringHandler) writeError(w http.ResponseWriter, status int, err error) {
	if writeErr := common.WriteError(w, status, err); writeErr != nil {
		h.logger.Error("failed to write error response", slog.Any("error", writeErr))
	}
}

func (h *RecurringHandler) writeJSON(w http.ResponseWriter, status int, v any) {
	if err := common.WriteJSON(w, status, v); err != nil {
		h.logger.Error("failed to encode response", slog.Any("error", err))
	}
}
