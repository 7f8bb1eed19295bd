// Package editor implements the map annotation editor: an exclusive editing
// mode, three geometry collections and the click and drag handlers that fill
// them with reverse geocoded points.
//
// Lookups run without holding the editor lock. Every asynchronous operation
// captures what it needs before the lookup and re-validates it afterwards:
// clicks commit in the order they arrived, drags apply only to an entry that
// still exists and was not dragged again meanwhile.
package editor

import (
	"context"
	"sync"

	"github.com/woozymasta/mapnote/internal/metrics"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Resolver turns coordinates into a district name. It never fails: lookups
// that cannot be resolved return a fallback label.
type Resolver interface {
	District(ctx context.Context, lat, lng float64) string
}

// Saver receives the points collection on save. scope names the owner of
// the save; the returned reference addresses the stored copy within that
// scope and is empty when nothing addressable was written.
type Saver interface {
	Save(ctx context.Context, scope string, points []AnnotatedPoint) (string, error)
}

// ChangeFunc is called with the new state after every change.
type ChangeFunc func(Snapshot)

// Snapshot is a consistent copy of the editor state.
type Snapshot struct {
	Mode             Mode             `json:"mode"`
	Draggable        bool             `json:"draggable"`
	SelectedDistrict string           `json:"selectedDistrict"`
	Points           []AnnotatedPoint `json:"points"`
	LineVertices     []AnnotatedPoint `json:"lineVertices"`
	PolygonVertices  []AnnotatedPoint `json:"polygonVertices"`
	PendingClicks    int              `json:"pendingClicks"`

	// Revision increases with every change; consumers can drop out-of-order deliveries.
	Revision uint64 `json:"revision"`
}

// Collection returns the entries of c held by the snapshot.
func (s Snapshot) Collection(c Collection) []AnnotatedPoint {
	switch c {
	case Points:
		return s.Points
	case LineVertices:
		return s.LineVertices
	case PolygonVertices:
		return s.PolygonVertices
	}
	return nil
}

// Editor is the annotation editor state machine. It is safe for concurrent use.
type Editor struct {
	resolver Resolver
	saver    Saver
	scope    string
	log      zerolog.Logger

	mu        sync.Mutex
	mode      Mode
	draggable bool
	selected  string
	store     Store

	// clicks commit in ticket order
	nextTicket  uint64
	applyTicket uint64
	pending     map[uint64]func()

	// latest drag token per entry
	dragSeq uint64
	drags   map[uuid.UUID]uint64

	revision  uint64
	listeners map[int]ChangeFunc
	listenSeq int
}

// Option configures an Editor.
type Option func(*Editor)

// WithSaver sets the collaborator that receives saved points.
func WithSaver(s Saver) Option {
	return func(e *Editor) { e.saver = s }
}

// WithScope sets the owner passed to the saver.
func WithScope(scope string) Option {
	return func(e *Editor) { e.scope = scope }
}

// WithLogger sets the logger used for diagnostics.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Editor) { e.log = l }
}

// New creates an editor with no active mode and empty collections.
func New(resolver Resolver, opts ...Option) *Editor {
	e := &Editor{
		resolver:  resolver,
		log:       zerolog.Nop(),
		pending:   make(map[uint64]func()),
		drags:     make(map[uuid.UUID]uint64),
		listeners: make(map[int]ChangeFunc),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.saver == nil {
		e.saver = LogSaver{Log: e.log}
	}

	return e
}

// Subscribe registers fn for state changes and returns a function removing it.
// Callbacks run outside the editor lock, in the goroutine that made the change.
func (e *Editor) Subscribe(fn ChangeFunc) func() {
	e.mu.Lock()
	id := e.listenSeq
	e.listenSeq++
	e.listeners[id] = fn
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		delete(e.listeners, id)
		e.mu.Unlock()
	}
}

// Snapshot returns the current state.
func (e *Editor) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

// Mode returns the active editing mode.
func (e *Editor) Mode() Mode {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mode
}

// SetMode activates requested, or deactivates it when it is already active.
// It returns the resulting mode.
func (e *Editor) SetMode(requested Mode) Mode {
	e.mu.Lock()
	if requested == e.mode || !requested.Valid() {
		e.mode = ModeNone
	} else {
		e.mode = requested
	}
	mode := e.mode
	snap, listeners := e.changedLocked()
	e.mu.Unlock()

	e.log.Debug().Str("requested", requested.String()).Str("mode", mode.String()).Msg("Editing mode changed")
	notify(listeners, snap)
	return mode
}

// SetDraggable locks or unlocks marker dragging.
func (e *Editor) SetDraggable(draggable bool) {
	e.mu.Lock()
	e.draggable = draggable
	snap, listeners := e.changedLocked()
	e.mu.Unlock()

	notify(listeners, snap)
}

// OnMapClick resolves the district of the clicked location and places it
// according to the mode active at click time. It reports false when no mode
// is active, in which case nothing is looked up or changed, and when the
// resolver panicked, in which case the click is dropped.
//
// The returned point may still be waiting for earlier clicks to commit.
func (e *Editor) OnMapClick(ctx context.Context, lat, lng float64) (AnnotatedPoint, bool) {
	e.mu.Lock()
	mode := e.mode
	if _, ok := placements[mode]; !ok {
		e.mu.Unlock()
		e.log.Trace().Float64("lat", lat).Float64("lng", lng).Msg("Map click ignored: no editing mode")
		return AnnotatedPoint{}, false
	}
	ticket := e.nextTicket
	e.nextTicket++
	e.mu.Unlock()

	district, ok := e.lookup(ctx, lat, lng)
	p := AnnotatedPoint{
		ID:       uuid.New(),
		Lat:      lat,
		Lng:      lng,
		District: district,
	}

	// a failed lookup still fills its ticket so later clicks can commit
	apply := func() {}
	if ok {
		apply = func() { e.placeLocked(mode, p) }
	}

	e.mu.Lock()
	e.pending[ticket] = apply
	e.drainLocked()
	snap, listeners := e.changedLocked()
	e.mu.Unlock()

	notify(listeners, snap)
	if !ok {
		return AnnotatedPoint{}, false
	}

	e.log.Debug().
		Str("mode", mode.String()).
		Float64("lat", lat).
		Float64("lng", lng).
		Str("district", p.District).
		Uint64("ticket", ticket).
		Msg("Map click resolved")

	return p, true
}

// lookup asks the resolver for a district. A panicking resolver is reported
// as a failed lookup.
func (e *Editor) lookup(ctx context.Context, lat, lng float64) (district string, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error().Interface("panic", r).Float64("lat", lat).Float64("lng", lng).Msg("District lookup panicked")
			district, ok = "", false
		}
	}()

	return e.resolver.District(ctx, lat, lng), true
}

// drainLocked applies resolved clicks in ticket order up to the first one still waiting.
func (e *Editor) drainLocked() {
	for {
		apply, ok := e.pending[e.applyTicket]
		if !ok {
			return
		}
		delete(e.pending, e.applyTicket)
		e.applyTicket++
		apply()
	}
}

func (e *Editor) placeLocked(mode Mode, p AnnotatedPoint) {
	pl := placements[mode]
	if pl.replace {
		e.store.Reset(pl.target, p)
	} else {
		e.store.Append(pl.target, p)
	}
	if pl.oneShot && e.mode == mode {
		e.mode = ModeNone
	}
	e.selected = p.District
	metrics.ClicksTotal.WithLabelValues(mode.String()).Inc()
}

// OnMarkerDragEnd moves the entry at index of c to the new location and
// re-resolves its district. Stale targets are dropped without error: the
// index is out of range, the entry was removed during the lookup, or a later
// drag of the same entry started. A panicking resolver yields ErrLookupFailed
// and leaves the entry unchanged.
func (e *Editor) OnMarkerDragEnd(ctx context.Context, c Collection, index int, lat, lng float64) error {
	if !c.Valid() {
		return ErrUnknownCollection
	}

	e.mu.Lock()
	if !e.draggable {
		e.mu.Unlock()
		return ErrNotDraggable
	}
	entries := e.store.Get(c)
	if index < 0 || index >= len(entries) {
		e.mu.Unlock()
		metrics.DragsTotal.WithLabelValues("stale").Inc()
		e.log.Debug().Str("collection", c.String()).Int("index", index).Msg("Drag dropped: index out of range")
		return nil
	}
	id := entries[index].ID
	e.dragSeq++
	token := e.dragSeq
	e.drags[id] = token
	e.mu.Unlock()

	district, ok := e.lookup(ctx, lat, lng)
	p := AnnotatedPoint{
		ID:       id,
		Lat:      lat,
		Lng:      lng,
		District: district,
	}

	e.mu.Lock()
	if !ok {
		if e.drags[id] == token {
			delete(e.drags, id)
		}
		e.mu.Unlock()
		metrics.DragsTotal.WithLabelValues("failed").Inc()
		return ErrLookupFailed
	}
	if e.drags[id] != token {
		e.mu.Unlock()
		metrics.DragsTotal.WithLabelValues("superseded").Inc()
		e.log.Debug().Str("collection", c.String()).Stringer("id", id).Msg("Drag dropped: superseded by a newer drag")
		return nil
	}
	delete(e.drags, id)
	if !e.store.Update(c, p) {
		e.mu.Unlock()
		metrics.DragsTotal.WithLabelValues("stale").Inc()
		e.log.Debug().Str("collection", c.String()).Stringer("id", id).Msg("Drag dropped: entry removed during lookup")
		return nil
	}
	snap, listeners := e.changedLocked()
	e.mu.Unlock()

	metrics.DragsTotal.WithLabelValues("applied").Inc()
	e.log.Debug().
		Str("collection", c.String()).
		Float64("lat", lat).
		Float64("lng", lng).
		Str("district", p.District).
		Msg("Marker moved")

	notify(listeners, snap)
	return nil
}

// RemoveOne deletes the entry at index of c. An index out of range is a no-op.
func (e *Editor) RemoveOne(c Collection, index int) error {
	if !c.Valid() {
		return ErrUnknownCollection
	}

	e.mu.Lock()
	if !e.store.RemoveAt(c, index) {
		e.mu.Unlock()
		e.log.Debug().Str("collection", c.String()).Int("index", index).Msg("Remove ignored: index out of range")
		return nil
	}
	snap, listeners := e.changedLocked()
	e.mu.Unlock()

	notify(listeners, snap)
	return nil
}

// RemoveAll empties c.
func (e *Editor) RemoveAll(c Collection) error {
	if !c.Valid() {
		return ErrUnknownCollection
	}

	e.mu.Lock()
	e.store.Reset(c)
	snap, listeners := e.changedLocked()
	e.mu.Unlock()

	notify(listeners, snap)
	return nil
}

// Save forwards the points collection to the saver and returns its reference.
func (e *Editor) Save(ctx context.Context) (string, error) {
	e.mu.Lock()
	points := e.store.Get(Points)
	e.mu.Unlock()

	return e.saver.Save(ctx, e.scope, points)
}

func (e *Editor) snapshotLocked() Snapshot {
	return Snapshot{
		Mode:             e.mode,
		Draggable:        e.draggable,
		SelectedDistrict: e.selected,
		Points:           e.store.Get(Points),
		LineVertices:     e.store.Get(LineVertices),
		PolygonVertices:  e.store.Get(PolygonVertices),
		PendingClicks:    int(e.nextTicket - e.applyTicket),
		Revision:         e.revision,
	}
}

func (e *Editor) changedLocked() (Snapshot, []ChangeFunc) {
	e.revision++
	if len(e.listeners) == 0 {
		return Snapshot{}, nil
	}
	listeners := make([]ChangeFunc, 0, len(e.listeners))
	for _, fn := range e.listeners {
		listeners = append(listeners, fn)
	}
	return e.snapshotLocked(), listeners
}

func notify(listeners []ChangeFunc, snap Snapshot) {
	for _, fn := range listeners {
		fn(snap)
	}
}

// LogSaver is the diagnostic saver: it only logs the points.
type LogSaver struct {
	Log zerolog.Logger
}

// Save implements Saver. Nothing is stored, so the reference is empty.
func (s LogSaver) Save(_ context.Context, scope string, points []AnnotatedPoint) (string, error) {
	s.Log.Info().Str("scope", scope).Int("count", len(points)).Interface("points", points).Msg("Markers saved")
	return "", nil
}
