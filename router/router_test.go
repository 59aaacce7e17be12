package router

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	activityrepo "evalcollab/internal/activity/repository"
	activityservice "evalcollab/internal/activity/service"
	collabrepo "evalcollab/internal/collaboration/repository"
	"evalcollab/internal/collaboration/service"
	membershiprepo "evalcollab/internal/membership/repository"
	membershipservice "evalcollab/internal/membership/service"
	presencerepo "evalcollab/internal/presence/repository"
	presenceservice "evalcollab/internal/presence/service"
	"evalcollab/internal/realtime"
	"evalcollab/socket"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "router-secret"

func setup(t *testing.T) http.Handler {
	t.Helper()
	bus := activityservice.NewBus(activityrepo.NewMemory(), realtime.NewMemory(), nil, 0, time.Now)
	tracker := presenceservice.NewTracker(presencerepo.NewMemory(), bus, bus, 0, time.Now)
	directory := membershipservice.NewDirectory(membershiprepo.NewMemory(), nil, time.Now)
	owners := collabrepo.NewMemoryOwners()
	owners.Set("a1", "alice")
	coord := service.NewCoordinator(directory, tracker, bus, owners)
	return Setup(coord, socket.NewHub(coord), secret)
}

func bearer(t *testing.T, sub string) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": sub,
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(secret))
	require.NoError(t, err)
	return "Bearer " + s
}

func TestRoutesRequireAuth(t *testing.T) {
	h := setup(t)

	for _, path := range []string{
		"/api/assessments/collaborators?assessmentId=a1",
		"/api/assessments/feed?assessmentId=a1",
		"/api/assessments/presence?assessmentId=a1",
		"/ws?assessmentId=a1",
	} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
	}
}

func TestRoutesServeAuthenticatedOwner(t *testing.T) {
	h := setup(t)

	req := httptest.NewRequest(http.MethodGet, "/api/assessments/permissions?assessmentId=a1", nil)
	req.Header.Set("Authorization", bearer(t, "alice"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"role":"owner"`)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/api/assessments/collaborators?assessmentId=a1", nil)
	req.Header.Set("Authorization", bearer(t, "mallory"))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
