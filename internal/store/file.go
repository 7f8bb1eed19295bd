package store

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/woozymasta/mapnote/internal/editor"
	"github.com/woozymasta/mapnote/internal/geo"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const fileExt = ".geojson"

// ErrBadScope is returned for a scope that cannot name a directory.
var ErrBadScope = errors.New("invalid save scope")

// FileSaver writes every save as a GeoJSON file under Dir/<scope>.
type FileSaver struct {
	Dir string
	Log zerolog.Logger
}

// Save implements editor.Saver. The reference is the file name.
func (s *FileSaver) Save(_ context.Context, scope string, points []editor.AnnotatedPoint) (string, error) {
	if !validName(scope) {
		return "", ErrBadScope
	}

	name := time.Now().UTC().Format("20060102T150405Z") + "-" + uuid.NewString() + fileExt
	dir := filepath.Join(s.Dir, scope)

	if err := s.write(dir, name, points); err != nil {
		return "", err
	}

	s.Log.Info().Str("path", filepath.Join(dir, name)).Int("count", len(points)).Msg("Markers saved")
	return name, nil
}

func (s *FileSaver) write(dir, name string, points []editor.AnnotatedPoint) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	if err := json.NewEncoder(f).Encode(geo.PointsCollection(points)); err != nil {
		_ = f.Close()
		return err
	}

	// We care about write errors on close
	if err := f.Close(); err != nil {
		s.Log.Error().Err(err).Str("path", path).Msg("Failed to close file")
		return err
	}
	return nil
}

// SavedFile returns the path of a file saved under scope, or false when
// scope or name could point outside that scope's directory.
func SavedFile(dir, scope, name string) (string, bool) {
	if dir == "" || !validName(scope) || !validName(name) || !strings.HasSuffix(name, fileExt) {
		return "", false
	}
	return filepath.Join(dir, scope, name), true
}

func validName(s string) bool {
	return s != "" && s != "." && s != ".." && s == filepath.Base(s) && !strings.ContainsAny(s, `/\`)
}
