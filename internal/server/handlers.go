// Package server exposes the annotation editor over HTTP and websockets.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strconv"

	"github.com/woozymasta/mapnote/internal/auth"
	"github.com/woozymasta/mapnote/internal/editor"
	"github.com/woozymasta/mapnote/internal/geo"
	"github.com/woozymasta/mapnote/internal/store"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
)

const (
	etagCap     = 64
	maxBodySize = 1 << 16
)

type ctxKey int

const workspaceKey ctxKey = 0

// stateView is a snapshot with the popup caption of every entry.
type stateView struct {
	editor.Snapshot
	Labels map[string][]string `json:"labels"`
}

func newStateView(snap editor.Snapshot) stateView {
	labels := make(map[string][]string, 3)
	for _, c := range editor.Collections() {
		entries := snap.Collection(c)
		ls := make([]string, len(entries))
		for i, p := range entries {
			ls[i] = editor.Label(c, i, p)
		}
		labels[c.String()] = ls
	}
	return stateView{Snapshot: snap, Labels: labels}
}

type location struct {
	Lat *float64 `json:"lat"`
	Lng *float64 `json:"lng"`
}

func (l location) valid() bool {
	return l.Lat != nil && l.Lng != nil && *l.Lat >= -90 && *l.Lat <= 90
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Ignoring error as we cannot handle client disconnects
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]auth.Notice{"notice": {Level: auth.LevelError, Message: msg}})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(v)
}

// lookupContext detaches a lookup from the request so a disconnecting
// client does not turn its click into an unknown district.
func lookupContext(r *http.Request) context.Context {
	return context.WithoutCancel(r.Context())
}

func workspaceFrom(r *http.Request) *Workspace {
	ws, _ := r.Context().Value(workspaceKey).(*Workspace)
	return ws
}

// HandleConfig serves the initial map view and the tile layers.
func (s *ServerContext) HandleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Config)
}

// HandleRegister creates an account on the authentication service.
func (s *ServerContext) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var reg auth.Registration
	if err := decodeBody(w, r, &reg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	out := s.Session.Register(r.Context(), reg)
	writeJSON(w, outcomeStatus(out), out)
}

// HandleLogin authenticates and opens a new workspace on success.
func (s *ServerContext) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var creds auth.Credentials
	if err := decodeBody(w, r, &creds); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	id := uuid.New()
	out := s.Session.Login(r.Context(), id.String(), creds)
	if !out.OK() {
		writeJSON(w, outcomeStatus(out), out)
		return
	}

	s.newWorkspace(id)
	token, _ := s.Session.Token(r.Context(), id.String())

	writeJSON(w, http.StatusOK, struct {
		auth.Outcome
		SessionID string `json:"session"`
		Token     string `json:"token"`
	}{out, id.String(), token})
}

// HandleLogout ends the session and closes its workspace.
func (s *ServerContext) HandleLogout(w http.ResponseWriter, r *http.Request) {
	ws := workspaceFrom(r)

	out := s.Session.Logout(r.Context(), ws.ID.String())
	if out.OK() {
		s.Workspaces.Delete(ws.ID)
	}
	writeJSON(w, outcomeStatus(out), out)
}

// HandleState serves the current editor state.
func (s *ServerContext) HandleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, newStateView(workspaceFrom(r).Editor.Snapshot()))
}

// HandleMode toggles the requested editing mode.
func (s *ServerContext) HandleMode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Mode editor.Mode `json:"mode"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	mode := workspaceFrom(r).Editor.SetMode(req.Mode)
	writeJSON(w, http.StatusOK, map[string]editor.Mode{"mode": mode})
}

// HandleDraggable locks or unlocks marker dragging.
func (s *ServerContext) HandleDraggable(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Draggable *bool `json:"draggable"`
	}
	if err := decodeBody(w, r, &req); err != nil || req.Draggable == nil {
		writeError(w, http.StatusBadRequest, "draggable flag required")
		return
	}

	workspaceFrom(r).Editor.SetDraggable(*req.Draggable)
	writeJSON(w, http.StatusOK, map[string]bool{"draggable": *req.Draggable})
}

// HandleClick places a point according to the active mode.
func (s *ServerContext) HandleClick(w http.ResponseWriter, r *http.Request) {
	var loc location
	if err := decodeBody(w, r, &loc); err != nil || !loc.valid() {
		writeError(w, http.StatusBadRequest, "valid lat and lng required")
		return
	}

	p, placed := workspaceFrom(r).Editor.OnMapClick(lookupContext(r), *loc.Lat, *loc.Lng)
	resp := struct {
		Placed bool                   `json:"placed"`
		Point  *editor.AnnotatedPoint `json:"point,omitempty"`
	}{Placed: placed}
	if placed {
		resp.Point = &p
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleDrag moves a marker after a drag ends.
func (s *ServerContext) HandleDrag(w http.ResponseWriter, r *http.Request) {
	c, index, ok := collectionIndex(w, r)
	if !ok {
		return
	}

	var loc location
	if err := decodeBody(w, r, &loc); err != nil || !loc.valid() {
		writeError(w, http.StatusBadRequest, "valid lat and lng required")
		return
	}

	err := workspaceFrom(r).Editor.OnMarkerDragEnd(lookupContext(r), c, index, *loc.Lat, *loc.Lng)
	if err != nil {
		writeEditorError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleRemoveOne deletes one entry of a collection.
func (s *ServerContext) HandleRemoveOne(w http.ResponseWriter, r *http.Request) {
	c, index, ok := collectionIndex(w, r)
	if !ok {
		return
	}

	if err := workspaceFrom(r).Editor.RemoveOne(c, index); err != nil {
		writeEditorError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleRemoveAll empties a collection.
func (s *ServerContext) HandleRemoveAll(w http.ResponseWriter, r *http.Request) {
	c, err := editor.ParseCollection(mux.Vars(r)["collection"])
	if err != nil {
		writeEditorError(w, err)
		return
	}

	if err := workspaceFrom(r).Editor.RemoveAll(c); err != nil {
		writeEditorError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleSave hands the points to the configured saver. The response names
// the stored copy when the saver produced one.
func (s *ServerContext) HandleSave(w http.ResponseWriter, r *http.Request) {
	ref, err := workspaceFrom(r).Editor.Save(lookupContext(r))
	if err != nil {
		log.Error().Err(err).Msg("Failed to save markers")
		writeError(w, http.StatusInternalServerError, "saving markers failed")
		return
	}

	writeJSON(w, http.StatusOK, struct {
		Notice auth.Notice `json:"notice"`
		Saved  string      `json:"saved,omitempty"`
	}{auth.Notice{Level: auth.LevelSuccess, Message: "Markers saved"}, ref})
}

// HandleGeoJSON exports the annotations as a feature collection.
func (s *ServerContext) HandleGeoJSON(w http.ResponseWriter, r *http.Request) {
	fc := geo.FeatureCollection(workspaceFrom(r).Editor.Snapshot())

	w.Header().Set("Content-Type", "application/geo+json")
	w.Header().Set("Content-Disposition", `attachment; filename="annotations.geojson"`)
	_ = json.NewEncoder(w).Encode(fc)
}

// HandleSavedFile serves one GeoJSON file the file saver wrote for this session.
func (s *ServerContext) HandleSavedFile(w http.ResponseWriter, r *http.Request) {
	path, ok := store.SavedFile(s.SaveDir, workspaceFrom(r).ID.String(), mux.Vars(r)["name"])
	if !ok || !s.serveFile(w, r, path, "application/geo+json") {
		http.NotFound(w, r)
	}
}

// serveFile tries to serve a file from disk with ETag generation.
// It returns true if the file was found and served (or 304).
func (s *ServerContext) serveFile(w http.ResponseWriter, r *http.Request, path string, contentType string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	if info.IsDir() {
		return false
	}

	buf := make([]byte, 0, etagCap)
	buf = append(buf, '"')
	buf = strconv.AppendInt(buf, info.Size(), 16)
	buf = append(buf, '-')
	buf = strconv.AppendInt(buf, info.ModTime().UnixNano(), 16)
	buf = append(buf, '"')
	etag := string(buf)

	// check If-None-Match (client sent ETag)
	if match := r.Header.Get("If-None-Match"); match == etag {
		w.WriteHeader(http.StatusNotModified)
		return true
	}

	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "private, no-cache")

	if contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}

	http.ServeFile(w, r, path)
	return true
}

func collectionIndex(w http.ResponseWriter, r *http.Request) (editor.Collection, int, bool) {
	vars := mux.Vars(r)

	c, err := editor.ParseCollection(vars["collection"])
	if err != nil {
		writeEditorError(w, err)
		return 0, 0, false
	}

	index, err := strconv.Atoi(vars["index"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "index must be an integer")
		return 0, 0, false
	}

	return c, index, true
}

func writeEditorError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, editor.ErrUnknownCollection):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, editor.ErrNotDraggable):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, editor.ErrLookupFailed):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func outcomeStatus(out auth.Outcome) int {
	if out.OK() {
		return http.StatusOK
	}
	if errors.Is(out.Err, auth.ErrPasswordMismatch) {
		return http.StatusBadRequest
	}

	var authErr *auth.Error
	if errors.As(out.Err, &authErr) && authErr.Status >= 400 && authErr.Status < 500 {
		return authErr.Status
	}
	return http.StatusBadGateway
}

func (s *ServerContext) dropToken(id uuid.UUID) {
	s.Session.Forget(context.Background(), id.String())
}
