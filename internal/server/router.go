package server

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/woozymasta/mapnote/internal/metrics"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

// Router builds the HTTP routes of the service.
func (s *ServerContext) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(RequestLogger)

	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/config", s.HandleConfig).Methods(http.MethodGet)
	api.HandleFunc("/auth/register", s.HandleRegister).Methods(http.MethodPost)
	api.HandleFunc("/auth/login", s.HandleLogin).Methods(http.MethodPost)

	sess := api.PathPrefix("/sessions/{id}").Subrouter()
	sess.Use(s.RequireSession)
	sess.HandleFunc("", s.HandleState).Methods(http.MethodGet)
	sess.HandleFunc("/auth/logout", s.HandleLogout).Methods(http.MethodPost)
	sess.HandleFunc("/mode", s.HandleMode).Methods(http.MethodPut)
	sess.HandleFunc("/draggable", s.HandleDraggable).Methods(http.MethodPut)
	sess.HandleFunc("/clicks", s.HandleClick).Methods(http.MethodPost)
	sess.HandleFunc("/collections/{collection}/{index:-?[0-9]+}/drag", s.HandleDrag).Methods(http.MethodPost)
	sess.HandleFunc("/collections/{collection}/{index:-?[0-9]+}", s.HandleRemoveOne).Methods(http.MethodDelete)
	sess.HandleFunc("/collections/{collection}", s.HandleRemoveAll).Methods(http.MethodDelete)
	sess.HandleFunc("/save", s.HandleSave).Methods(http.MethodPost)
	sess.HandleFunc("/geojson", s.HandleGeoJSON).Methods(http.MethodGet)
	sess.HandleFunc("/saves/{name}", s.HandleSavedFile).Methods(http.MethodGet)
	sess.HandleFunc("/ws", s.HandleSocket).Methods(http.MethodGet)

	return r
}

// RequireSession admits requests carrying the token stored for the session
// in the path, from the Authorization header or the token query parameter.
func (s *ServerContext) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(mux.Vars(r)["id"])
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unknown session")
			return
		}

		stored, ok := s.Session.Token(r.Context(), id.String())
		if !ok || subtle.ConstantTimeCompare([]byte(stored), []byte(requestToken(r))) != 1 {
			writeError(w, http.StatusUnauthorized, "login required")
			return
		}

		ws, ok := s.Workspaces.Get(id)
		if !ok {
			writeError(w, http.StatusUnauthorized, "session expired")
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), workspaceKey, ws)))
	})
}

func requestToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return r.URL.Query().Get("token")
}
