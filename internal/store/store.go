// Package store persists saved annotations.
package store

import (
	"context"
	"fmt"

	"github.com/woozymasta/mapnote/internal/config"
	"github.com/woozymasta/mapnote/internal/editor"
	"github.com/woozymasta/mapnote/internal/metrics"

	"github.com/rs/zerolog"
)

// Driver names accepted in the save configuration.
const (
	DriverLog      = "log"
	DriverFile     = "file"
	DriverPostgres = "postgres"
)

// Open returns the saver selected by cfg and a function releasing its resources.
func Open(ctx context.Context, cfg config.Save, logger zerolog.Logger) (editor.Saver, func(), error) {
	switch cfg.Driver {
	case DriverLog:
		return Instrumented(DriverLog, editor.LogSaver{Log: logger}), func() {}, nil

	case DriverFile:
		return Instrumented(DriverFile, &FileSaver{Dir: cfg.Dir, Log: logger}), func() {}, nil

	case DriverPostgres:
		if cfg.DatabaseURL == "" {
			return nil, nil, fmt.Errorf("save driver postgres: no database url")
		}
		pg, err := OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("save driver postgres: %w", err)
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			pg.Close()
			return nil, nil, fmt.Errorf("save driver postgres: schema: %w", err)
		}
		return Instrumented(DriverPostgres, pg), pg.Close, nil
	}

	return nil, nil, fmt.Errorf("unknown save driver %q", cfg.Driver)
}

type instrumented struct {
	driver string
	next   editor.Saver
}

// Instrumented counts saves of next by result.
func Instrumented(driver string, next editor.Saver) editor.Saver {
	return &instrumented{driver: driver, next: next}
}

func (s *instrumented) Save(ctx context.Context, scope string, points []editor.AnnotatedPoint) (string, error) {
	ref, err := s.next.Save(ctx, scope, points)
	if err != nil {
		metrics.SavesTotal.WithLabelValues(s.driver, "fail").Inc()
		return "", err
	}
	metrics.SavesTotal.WithLabelValues(s.driver, "ok").Inc()
	return ref, nil
}
