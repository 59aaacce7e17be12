package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	activitymodel "evalcollab/internal/activity/model"
	"evalcollab/internal/collaboration/service"
	membershipmodel "evalcollab/internal/membership/model"
	presencemodel "evalcollab/internal/presence/model"
	"evalcollab/middleware"
	"evalcollab/pkg/apperror"
	"evalcollab/pkg/logger"
)

type CollaborationHandler struct {
	Service *service.Coordinator
}

func NewCollaborationHandler(service *service.Coordinator) *CollaborationHandler {
	return &CollaborationHandler{Service: service}
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, apperror.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, apperror.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, apperror.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperror.ErrDuplicateMembership), errors.Is(err, apperror.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, apperror.ErrTransient):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.Sugar.Errorf("Handler: %s failed: %v", op, err)
		http.Error(w, http.StatusText(status), status)
		return
	}
	logger.Sugar.Debugf("Handler: %s rejected: %v", op, err)
	http.Error(w, err.Error(), status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Sugar.Warnf("Handler: failed to encode response: %v", err)
	}
}

func userID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, ok := middleware.UserID(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
	}
	return id, ok
}

func assessmentParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.URL.Query().Get("assessmentId")
	if id == "" {
		http.Error(w, "Missing assessmentId parameter", http.StatusBadRequest)
		return "", false
	}
	return id, true
}

func (h *CollaborationHandler) InviteCollaborator(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	actor, ok := userID(w, r)
	if !ok {
		return
	}

	var req membershipmodel.InviteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	c, err := h.Service.Invite(r.Context(), actor, req)
	if err != nil {
		writeError(w, "invite collaborator", err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (h *CollaborationHandler) RespondInvitation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	actor, ok := userID(w, r)
	if !ok {
		return
	}

	var req membershipmodel.RespondRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	c, err := h.Service.Respond(r.Context(), actor, req)
	if err != nil {
		writeError(w, "respond to invitation", err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *CollaborationHandler) RemoveCollaborator(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	actor, ok := userID(w, r)
	if !ok {
		return
	}

	collaboratorID := r.URL.Query().Get("collaboratorId")
	if collaboratorID == "" {
		http.Error(w, "Missing collaboratorId parameter", http.StatusBadRequest)
		return
	}

	if err := h.Service.Remove(r.Context(), actor, collaboratorID); err != nil {
		writeError(w, "remove collaborator", err)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Collaborator removed successfully"))
}

func (h *CollaborationHandler) UpdateAccess(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	actor, ok := userID(w, r)
	if !ok {
		return
	}

	var req membershipmodel.AccessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	c, err := h.Service.UpdateAccess(r.Context(), actor, req)
	if err != nil {
		writeError(w, "update access", err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

type bulkResponse struct {
	Updated   []membershipmodel.Collaborator `json:"updated"`
	Requested int                            `json:"requested"`
	Skipped   int                            `json:"skipped"`
}

func (h *CollaborationHandler) BulkUpdatePermissions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	actor, ok := userID(w, r)
	if !ok {
		return
	}

	var req membershipmodel.BulkPermissionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	updated, err := h.Service.BulkUpdatePermissions(r.Context(), actor, req)
	if err != nil {
		writeError(w, "bulk update permissions", err)
		return
	}
	writeJSON(w, http.StatusOK, bulkResponse{
		Updated:   updated,
		Requested: len(req.Updates),
		Skipped:   len(req.Updates) - len(updated),
	})
}

func (h *CollaborationHandler) GetCollaborators(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	actor, ok := userID(w, r)
	if !ok {
		return
	}
	assessmentID, ok := assessmentParam(w, r)
	if !ok {
		return
	}

	list, err := h.Service.List(r.Context(), actor, assessmentID)
	if err != nil {
		writeError(w, "list collaborators", err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *CollaborationHandler) GetFeed(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	actor, ok := userID(w, r)
	if !ok {
		return
	}
	assessmentID, ok := assessmentParam(w, r)
	if !ok {
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			http.Error(w, "Invalid limit parameter", http.StatusBadRequest)
			return
		}
		limit = n
	}

	items, err := h.Service.Feed(r.Context(), actor, assessmentID, limit)
	if err != nil {
		writeError(w, "read feed", err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

type recordResponse struct {
	Item   *activitymodel.FeedItem `json:"item,omitempty"`
	Logged bool                    `json:"logged"`
}

// RecordActivity answers 202 even when the feed write failed; the outcome
// says whether the item was kept.
func (h *CollaborationHandler) RecordActivity(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	actor, ok := userID(w, r)
	if !ok {
		return
	}

	var req activitymodel.RecordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	outcome, err := h.Service.RecordActivity(r.Context(), actor, req)
	if err != nil {
		writeError(w, "record activity", err)
		return
	}
	writeJSON(w, http.StatusAccepted, recordResponse{Item: outcome.Item, Logged: !outcome.Failed()})
}

func (h *CollaborationHandler) GetPermissions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	actor, ok := userID(w, r)
	if !ok {
		return
	}
	assessmentID, ok := assessmentParam(w, r)
	if !ok {
		return
	}

	view, err := h.Service.Permissions(r.Context(), actor, assessmentID)
	if err != nil {
		writeError(w, "read permissions", err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

type authorizeResponse struct {
	Action  string `json:"action"`
	Allowed bool   `json:"allowed"`
}

func (h *CollaborationHandler) Authorize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	actor, ok := userID(w, r)
	if !ok {
		return
	}
	assessmentID, ok := assessmentParam(w, r)
	if !ok {
		return
	}
	action := r.URL.Query().Get("action")
	if action == "" {
		http.Error(w, "Missing action parameter", http.StatusBadRequest)
		return
	}

	allowed, err := h.Service.Authorize(r.Context(), actor, assessmentID, action)
	if err != nil {
		writeError(w, "authorize", err)
		return
	}
	writeJSON(w, http.StatusOK, authorizeResponse{Action: action, Allowed: allowed})
}

func (h *CollaborationHandler) GetPresence(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	actor, ok := userID(w, r)
	if !ok {
		return
	}
	assessmentID, ok := assessmentParam(w, r)
	if !ok {
		return
	}

	live, err := h.Service.Live(r.Context(), actor, assessmentID)
	if err != nil {
		writeError(w, "list presence", err)
		return
	}
	writeJSON(w, http.StatusOK, live)
}

func (h *CollaborationHandler) JoinPresence(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	actor, ok := userID(w, r)
	if !ok {
		return
	}

	var req presencemodel.HeartbeatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	session, err := h.Service.Join(r.Context(), actor, req.AssessmentID, req.SectionID)
	if err != nil {
		writeError(w, "join", err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (h *CollaborationHandler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	actor, ok := userID(w, r)
	if !ok {
		return
	}

	var req presencemodel.HeartbeatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.Service.Heartbeat(r.Context(), actor, req.AssessmentID, req.SectionID); err != nil {
		writeError(w, "heartbeat", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CollaborationHandler) LeavePresence(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	actor, ok := userID(w, r)
	if !ok {
		return
	}
	assessmentID, ok := assessmentParam(w, r)
	if !ok {
		return
	}

	if err := h.Service.Leave(r.Context(), actor, assessmentID); err != nil {
		writeError(w, "leave", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
