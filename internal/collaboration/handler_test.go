package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	activitymodel "evalcollab/internal/activity/model"
	activityrepo "evalcollab/internal/activity/repository"
	activityservice "evalcollab/internal/activity/service"
	collabrepo "evalcollab/internal/collaboration/repository"
	"evalcollab/internal/collaboration/service"
	membershipmodel "evalcollab/internal/membership/model"
	membershiprepo "evalcollab/internal/membership/repository"
	membershipservice "evalcollab/internal/membership/service"
	"evalcollab/internal/permission"
	presencerepo "evalcollab/internal/presence/repository"
	presenceservice "evalcollab/internal/presence/service"
	"evalcollab/internal/realtime"
	"evalcollab/middleware"
	"evalcollab/pkg/apperror"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newHandler(t *testing.T) *CollaborationHandler {
	t.Helper()
	n := 0
	ids := func() string {
		n++
		return fmt.Sprintf("collab-%03d", n)
	}
	now := func() time.Time { return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC) }

	bus := activityservice.NewBus(activityrepo.NewMemory(), realtime.NewMemory(), nil, 0, now)
	tracker := presenceservice.NewTracker(presencerepo.NewMemory(), bus, bus, 0, now)
	directory := membershipservice.NewDirectory(membershiprepo.NewMemory(), ids, now)
	owners := collabrepo.NewMemoryOwners()
	owners.Set("a1", "alice")
	return NewCollaborationHandler(service.NewCoordinator(directory, tracker, bus, owners))
}

func call(t *testing.T, fn http.HandlerFunc, method, target, user string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	if user != "" {
		req = req.WithContext(middleware.WithUserID(req.Context(), user))
	}
	rec := httptest.NewRecorder()
	fn(rec, req)
	return rec
}

func TestStatusFor(t *testing.T) {
	cases := map[error]int{
		apperror.Invalid("x"):                              http.StatusBadRequest,
		apperror.Denied("x"):                               http.StatusForbidden,
		apperror.ErrNotFound:                               http.StatusNotFound,
		apperror.ErrDuplicateMembership:                    http.StatusConflict,
		apperror.ErrInvalidTransition:                      http.StatusConflict,
		apperror.Transient("op", fmt.Errorf("io timeout")): http.StatusServiceUnavailable,
		fmt.Errorf("boom"):                                 http.StatusInternalServerError,
	}
	for err, want := range cases {
		assert.Equal(t, want, statusFor(err), err.Error())
	}
}

func TestWriteErrorHidesInternalDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, "read feed", apperror.Transient("recent activity", fmt.Errorf("pq: relation \"assessment_activity\" does not exist")))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.NotContains(t, rec.Body.String(), "pq:")
	assert.Contains(t, rec.Body.String(), http.StatusText(http.StatusServiceUnavailable))

	rec = httptest.NewRecorder()
	writeError(rec, "invite", apperror.Invalid("role is required"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "role is required")
}

func TestInviteRespondAndList(t *testing.T) {
	h := newHandler(t)

	rec := call(t, h.InviteCollaborator, http.MethodPost, "/api/assessments/collaborators/invite", "alice",
		membershipmodel.InviteRequest{AssessmentID: "a1", UserID: "bob", Role: permission.RoleEvaluator})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var invited membershipmodel.Collaborator
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &invited))
	assert.Equal(t, membershipmodel.StatusPending, invited.Status)

	rec = call(t, h.InviteCollaborator, http.MethodPost, "/api/assessments/collaborators/invite", "alice",
		membershipmodel.InviteRequest{AssessmentID: "a1", UserID: "bob", Role: permission.RoleEvaluator})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = call(t, h.RespondInvitation, http.MethodPost, "/api/assessments/collaborators/respond", "bob",
		membershipmodel.RespondRequest{CollaboratorID: invited.ID, Status: membershipmodel.StatusAccepted})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = call(t, h.GetCollaborators, http.MethodGet, "/api/assessments/collaborators?assessmentId=a1", "bob", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []membershipmodel.Collaborator
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 2)
}

func TestRejections(t *testing.T) {
	h := newHandler(t)

	rec := call(t, h.GetCollaborators, http.MethodPost, "/api/assessments/collaborators?assessmentId=a1", "alice", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = call(t, h.GetCollaborators, http.MethodGet, "/api/assessments/collaborators", "alice", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = call(t, h.GetCollaborators, http.MethodGet, "/api/assessments/collaborators?assessmentId=a1", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = call(t, h.GetFeed, http.MethodGet, "/api/assessments/feed?assessmentId=a1", "mallory", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = call(t, h.GetFeed, http.MethodGet, "/api/assessments/feed?assessmentId=a1&limit=-1", "alice", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = call(t, h.RemoveCollaborator, http.MethodDelete, "/api/assessments/collaborators/remove?collaboratorId=ghost", "alice", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRecordActivityAndFeed(t *testing.T) {
	h := newHandler(t)
	section := "s1"

	rec := call(t, h.RecordActivity, http.MethodPost, "/api/assessments/activity", "alice", activitymodel.RecordRequest{
		AssessmentID: "a1", Type: activitymodel.TypeSectionStarted, SectionID: &section,
	})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var resp recordResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Logged)

	rec = call(t, h.RecordActivity, http.MethodPost, "/api/assessments/activity", "alice", activitymodel.RecordRequest{
		AssessmentID: "a1", Type: activitymodel.TypeLeft,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = call(t, h.GetFeed, http.MethodGet, "/api/assessments/feed?assessmentId=a1&limit=5", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var items []activitymodel.FeedItem
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &items))
	require.Len(t, items, 1)
	assert.Equal(t, activitymodel.TypeSectionStarted, items[0].Type)
}

func TestFeedOversizedLimitIsClamped(t *testing.T) {
	h := newHandler(t)
	section := "s1"
	for i := 0; i < 3; i++ {
		rec := call(t, h.RecordActivity, http.MethodPost, "/api/assessments/activity", "alice", activitymodel.RecordRequest{
			AssessmentID: "a1", Type: activitymodel.TypeSectionStarted, SectionID: &section,
		})
		require.Equal(t, http.StatusAccepted, rec.Code)
	}

	rec := call(t, h.GetFeed, http.MethodGet, "/api/assessments/feed?assessmentId=a1&limit=1125899906842624", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var items []activitymodel.FeedItem
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &items))
	assert.Len(t, items, 3)

	rec = call(t, h.GetFeed, http.MethodGet, "/api/assessments/feed?assessmentId=a1&limit=99999999999999999999", "alice", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuthorizeAndPermissions(t *testing.T) {
	h := newHandler(t)

	rec := call(t, h.Authorize, http.MethodGet, "/api/assessments/authorize?assessmentId=a1&action=lock_evaluation", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp authorizeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Allowed)

	rec = call(t, h.Authorize, http.MethodGet, "/api/assessments/authorize?assessmentId=a1", "alice", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = call(t, h.GetPermissions, http.MethodGet, "/api/assessments/permissions?assessmentId=a1", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var view service.PermissionsView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, permission.RoleOwner, view.Role)
	assert.True(t, view.Permissions.CanBroadcastNotifications)
}

func TestPresenceEndpoints(t *testing.T) {
	h := newHandler(t)

	rec := call(t, h.JoinPresence, http.MethodPost, "/api/assessments/presence/join", "alice", map[string]string{"assessment_id": "a1"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = call(t, h.Heartbeat, http.MethodPost, "/api/assessments/presence/heartbeat", "alice", map[string]string{"assessment_id": "a1", "section_id": "s2"})
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = call(t, h.GetPresence, http.MethodGet, "/api/assessments/presence?assessmentId=a1", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var live []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &live))
	require.Len(t, live, 1)
	assert.Equal(t, "s2", live[0]["current_section_id"])

	rec = call(t, h.LeavePresence, http.MethodPost, "/api/assessments/presence/leave?assessmentId=a1", "alice", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	sessions, err := h.Service.Tracker.ListLive(context.Background(), "a1")
	require.NoError(t, err)
	assert.Empty(t, sessions)
}
