package router

import (
	"net/http"

	collabHandler "evalcollab/internal/collaboration"
	"evalcollab/internal/collaboration/service"
	"evalcollab/middleware"
	"evalcollab/socket"
)

func Setup(coord *service.Coordinator, hub *socket.Hub, jwtSecret string) http.Handler {
	mux := http.NewServeMux()
	auth := middleware.Auth(jwtSecret)

	// WebSocket
	wsHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, _ := middleware.UserID(r.Context())
		socket.ServeWs(hub, w, r, userID)
	})
	mux.Handle("/ws", auth(wsHandler))

	// REST API
	h := collabHandler.NewCollaborationHandler(coord)

	mux.Handle("/api/assessments/collaborators/invite", auth(http.HandlerFunc(h.InviteCollaborator)))
	mux.Handle("/api/assessments/collaborators/respond", auth(http.HandlerFunc(h.RespondInvitation)))
	mux.Handle("/api/assessments/collaborators/remove", auth(http.HandlerFunc(h.RemoveCollaborator)))
	mux.Handle("/api/assessments/collaborators/access", auth(http.HandlerFunc(h.UpdateAccess)))
	mux.Handle("/api/assessments/collaborators/permissions", auth(http.HandlerFunc(h.BulkUpdatePermissions)))
	mux.Handle("/api/assessments/collaborators", auth(http.HandlerFunc(h.GetCollaborators)))
	mux.Handle("/api/assessments/permissions", auth(http.HandlerFunc(h.GetPermissions)))
	mux.Handle("/api/assessments/authorize", auth(http.HandlerFunc(h.Authorize)))
	mux.Handle("/api/assessments/feed", auth(http.HandlerFunc(h.GetFeed)))
	mux.Handle("/api/assessments/activity", auth(http.HandlerFunc(h.RecordActivity)))
	mux.Handle("/api/assessments/presence", auth(http.HandlerFunc(h.GetPresence)))
	mux.Handle("/api/assessments/presence/join", auth(http.HandlerFunc(h.JoinPresence)))
	mux.Handle("/api/assessments/presence/heartbeat", auth(http.HandlerFunc(h.Heartbeat)))
	mux.Handle("/api/assessments/presence/leave", auth(http.HandlerFunc(h.LeavePresence)))

	return middleware.CORSMiddleware(mux)
}
