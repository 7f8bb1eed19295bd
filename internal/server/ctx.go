package server

import (
	"github.com/woozymasta/mapnote/internal/auth"
	"github.com/woozymasta/mapnote/internal/config"
	"github.com/woozymasta/mapnote/internal/editor"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ServerContext holds dependencies for request handlers.
type ServerContext struct {
	Config     *config.Config
	Resolver   editor.Resolver
	Saver      editor.Saver
	Session    *auth.Session
	Workspaces *Registry

	// SaveDir is served read-only when annotations are saved to files.
	SaveDir string
}

// NewServerContext wires the handler dependencies. Evicted workspaces lose
// their session token.
func NewServerContext(cfg *config.Config, resolver editor.Resolver, saver editor.Saver, session *auth.Session) *ServerContext {
	log.Info().
		Int("layers_count", len(cfg.Layers)).
		Float64("lat", cfg.View.Lat).
		Float64("lng", cfg.View.Lng).
		Int("zoom", cfg.View.Zoom).
		Dur("session_ttl", cfg.SessionTTL).
		Msg("Initializing server context")

	s := &ServerContext{
		Config:     cfg,
		Resolver:   resolver,
		Saver:      saver,
		Session:    session,
		Workspaces: NewRegistry(cfg.SessionTTL),
	}
	if cfg.Save.Driver == "file" {
		s.SaveDir = cfg.Save.Dir
	}

	s.Workspaces.OnEvict = s.dropToken
	return s
}

// newWorkspace creates the editor of a freshly logged-in session.
func (s *ServerContext) newWorkspace(id uuid.UUID) *Workspace {
	ed := editor.New(s.Resolver,
		editor.WithSaver(s.Saver),
		editor.WithScope(id.String()),
		editor.WithLogger(log.With().Str("session", id.String()).Logger()),
	)
	return s.Workspaces.Create(id, ed)
}
