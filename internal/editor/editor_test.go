package editor

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/woozymasta/mapnote/internal/geocode"

	"github.com/rs/zerolog"
)

// mapResolver answers from a fixed table and counts calls.
type mapResolver struct {
	mu        sync.Mutex
	districts map[[2]float64]string
	calls     int
}

func (r *mapResolver) District(_ context.Context, lat, lng float64) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if d, ok := r.districts[[2]float64{lat, lng}]; ok {
		return d
	}
	return "unknown"
}

func (r *mapResolver) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

// gateResolver blocks every lookup until the test releases it with a district.
type gateResolver struct {
	started chan [2]float64

	mu    sync.Mutex
	gates map[[2]float64]chan string
}

func newGateResolver() *gateResolver {
	return &gateResolver{
		started: make(chan [2]float64, 16),
		gates:   make(map[[2]float64]chan string),
	}
}

func (r *gateResolver) gate(key [2]float64) chan string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.gates[key]
	if !ok {
		ch = make(chan string, 1)
		r.gates[key] = ch
	}
	return ch
}

func (r *gateResolver) District(_ context.Context, lat, lng float64) string {
	key := [2]float64{lat, lng}
	ch := r.gate(key)
	r.started <- key
	return <-ch
}

func (r *gateResolver) release(lat, lng float64, district string) {
	r.gate([2]float64{lat, lng}) <- district
}

type recordingSaver struct {
	saved  [][]AnnotatedPoint
	scopes []string
}

func (s *recordingSaver) Save(_ context.Context, scope string, points []AnnotatedPoint) (string, error) {
	s.saved = append(s.saved, points)
	s.scopes = append(s.scopes, scope)
	return "save-1", nil
}

// panicResolver panics for one location and answers Badung elsewhere.
type panicResolver struct {
	at [2]float64
}

func (r panicResolver) District(_ context.Context, lat, lng float64) string {
	if [2]float64{lat, lng} == r.at {
		panic("resolver bug")
	}
	return "Badung"
}

func newTestEditor(districts map[[2]float64]string) (*Editor, *mapResolver) {
	r := &mapResolver{districts: districts}
	return New(r), r
}

func TestSetModeToggle(t *testing.T) {
	e, _ := newTestEditor(nil)

	tests := []struct {
		requested Mode
		want      Mode
	}{
		{ModeDrawLine, ModeDrawLine},
		{ModeDrawLine, ModeNone},
		{ModeAddMultiplePoints, ModeAddMultiplePoints},
		{ModeDrawPolygon, ModeDrawPolygon},
		{ModeAddSinglePoint, ModeAddSinglePoint},
		{ModeAddSinglePoint, ModeNone},
		{ModeNone, ModeNone},
		{Mode(42), ModeNone},
	}

	for i, tt := range tests {
		if got := e.SetMode(tt.requested); got != tt.want {
			t.Errorf("step %d: SetMode(%v) = %v, want %v", i, tt.requested, got, tt.want)
		}
		if got := e.Mode(); got != tt.want {
			t.Errorf("step %d: Mode() = %v, want %v", i, got, tt.want)
		}
	}
}

func TestClickAddMultiplePoints(t *testing.T) {
	e, _ := newTestEditor(map[[2]float64]string{
		{1, 1}: "A",
		{2, 2}: "B",
		{3, 3}: "C",
	})
	e.SetMode(ModeAddMultiplePoints)

	for i, c := range [][2]float64{{1, 1}, {2, 2}, {3, 3}} {
		if _, ok := e.OnMapClick(context.Background(), c[0], c[1]); !ok {
			t.Fatalf("click %d not placed", i)
		}
		if got := len(e.Snapshot().Points); got != i+1 {
			t.Fatalf("after click %d: len(Points) = %d, want %d", i, got, i+1)
		}
	}

	snap := e.Snapshot()
	for i, want := range []string{"A", "B", "C"} {
		if snap.Points[i].District != want {
			t.Errorf("Points[%d].District = %q, want %q", i, snap.Points[i].District, want)
		}
	}
	if snap.Mode != ModeAddMultiplePoints {
		t.Errorf("Mode = %v, want mode to stay active", snap.Mode)
	}
	if snap.SelectedDistrict != "C" {
		t.Errorf("SelectedDistrict = %q, want C", snap.SelectedDistrict)
	}
}

func TestClickAddSinglePoint(t *testing.T) {
	e, _ := newTestEditor(map[[2]float64]string{{1, 1}: "A", {2, 2}: "B"})

	e.SetMode(ModeAddSinglePoint)
	e.OnMapClick(context.Background(), 1, 1)

	snap := e.Snapshot()
	if len(snap.Points) != 1 || snap.Points[0].District != "A" {
		t.Fatalf("Points = %+v, want single A", snap.Points)
	}
	if snap.Mode != ModeNone {
		t.Errorf("Mode = %v, want none after single placement", snap.Mode)
	}

	// mode is off: the next click does nothing
	if _, ok := e.OnMapClick(context.Background(), 2, 2); ok {
		t.Error("click with no mode should not be placed")
	}

	e.SetMode(ModeAddSinglePoint)
	e.OnMapClick(context.Background(), 2, 2)
	snap = e.Snapshot()
	if len(snap.Points) != 1 || snap.Points[0].District != "B" {
		t.Errorf("Points = %+v, want single B replacing A", snap.Points)
	}
}

func TestClickAddSinglePointReplacesMultiple(t *testing.T) {
	e, _ := newTestEditor(nil)

	e.SetMode(ModeAddMultiplePoints)
	e.OnMapClick(context.Background(), 1, 1)
	e.OnMapClick(context.Background(), 2, 2)
	e.SetMode(ModeAddSinglePoint)
	e.OnMapClick(context.Background(), 3, 3)

	snap := e.Snapshot()
	if len(snap.Points) != 1 || snap.Points[0].Lat != 3 {
		t.Errorf("Points = %+v, want only the last placement", snap.Points)
	}
}

func TestClickDrawLine(t *testing.T) {
	e, _ := newTestEditor(map[[2]float64]string{{-8.40, 115.18}: "Badung"})
	e.SetMode(ModeDrawLine)

	p, ok := e.OnMapClick(context.Background(), -8.40, 115.18)
	if !ok {
		t.Fatal("click not placed")
	}

	snap := e.Snapshot()
	if len(snap.LineVertices) != 1 {
		t.Fatalf("len(LineVertices) = %d, want 1", len(snap.LineVertices))
	}
	want := AnnotatedPoint{Lat: -8.40, Lng: 115.18, District: "Badung"}
	if !snap.LineVertices[0].SameLocation(want) {
		t.Errorf("LineVertices[0] = %+v, want %+v", snap.LineVertices[0], want)
	}
	if snap.LineVertices[0].ID != p.ID {
		t.Error("returned point should be the committed entry")
	}
	if len(snap.Points) != 0 || len(snap.PolygonVertices) != 0 {
		t.Error("other collections should be untouched")
	}
	if snap.SelectedDistrict != "Badung" {
		t.Errorf("SelectedDistrict = %q, want Badung", snap.SelectedDistrict)
	}
}

func TestClickDrawPolygon(t *testing.T) {
	e, _ := newTestEditor(nil)
	e.SetMode(ModeDrawPolygon)

	for _, c := range [][2]float64{{0, 0}, {0, 1}, {1, 1}} {
		e.OnMapClick(context.Background(), c[0], c[1])
	}

	snap := e.Snapshot()
	if len(snap.PolygonVertices) != 3 {
		t.Fatalf("len(PolygonVertices) = %d, want 3", len(snap.PolygonVertices))
	}
	if snap.PolygonVertices[2].Lat != 1 || snap.PolygonVertices[2].Lng != 1 {
		t.Errorf("PolygonVertices[2] = %+v, want (1,1)", snap.PolygonVertices[2])
	}
}

func TestClickWithoutMode(t *testing.T) {
	e, r := newTestEditor(map[[2]float64]string{{1, 1}: "A"})

	e.SetMode(ModeAddMultiplePoints)
	e.OnMapClick(context.Background(), 1, 1)
	e.SetMode(ModeAddMultiplePoints)
	before := e.Snapshot()
	calls := r.Calls()

	if _, ok := e.OnMapClick(context.Background(), 5, 5); ok {
		t.Error("OnMapClick() reported a placement with no active mode")
	}

	after := e.Snapshot()
	if r.Calls() != calls {
		t.Error("no lookup expected without an active mode")
	}
	if after.SelectedDistrict != before.SelectedDistrict {
		t.Errorf("SelectedDistrict = %q, want unchanged %q", after.SelectedDistrict, before.SelectedDistrict)
	}
	for _, c := range Collections() {
		if len(after.Collection(c)) != len(before.Collection(c)) {
			t.Errorf("%v changed without an active mode", c)
		}
	}
}

func TestClicksCommitInClickOrder(t *testing.T) {
	r := newGateResolver()
	e := New(r)
	e.SetMode(ModeDrawLine)

	var wg sync.WaitGroup
	click := func(lat, lng float64) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.OnMapClick(context.Background(), lat, lng)
		}()
		<-r.started
	}

	click(1, 1)
	click(2, 2)

	// the second lookup finishes first and must wait for the first
	r.release(2, 2, "second")
	r.release(1, 1, "first")
	wg.Wait()

	snap := e.Snapshot()
	if len(snap.LineVertices) != 2 {
		t.Fatalf("len(LineVertices) = %d, want 2", len(snap.LineVertices))
	}
	if snap.LineVertices[0].District != "first" || snap.LineVertices[0].Lat != 1 {
		t.Errorf("LineVertices[0] = %+v, want first click", snap.LineVertices[0])
	}
	if snap.LineVertices[1].District != "second" || snap.LineVertices[1].Lat != 2 {
		t.Errorf("LineVertices[1] = %+v, want second click", snap.LineVertices[1])
	}
	if snap.SelectedDistrict != "second" {
		t.Errorf("SelectedDistrict = %q, want the last click's district", snap.SelectedDistrict)
	}
	if snap.PendingClicks != 0 {
		t.Errorf("PendingClicks = %d, want 0", snap.PendingClicks)
	}
}

func TestLaterClickWaitsForEarlierLookup(t *testing.T) {
	r := newGateResolver()
	e := New(r)
	e.SetMode(ModeAddMultiplePoints)

	first := make(chan struct{})
	go func() {
		e.OnMapClick(context.Background(), 1, 1)
		close(first)
	}()
	<-r.started

	second := make(chan struct{})
	go func() {
		e.OnMapClick(context.Background(), 2, 2)
		close(second)
	}()
	<-r.started

	r.release(2, 2, "B")
	<-second

	snap := e.Snapshot()
	if len(snap.Points) != 0 {
		t.Fatalf("Points = %+v, want nothing committed before the first lookup", snap.Points)
	}
	if snap.PendingClicks != 2 {
		t.Errorf("PendingClicks = %d, want 2", snap.PendingClicks)
	}

	r.release(1, 1, "A")
	<-first

	snap = e.Snapshot()
	if len(snap.Points) != 2 || snap.Points[0].District != "A" || snap.Points[1].District != "B" {
		t.Errorf("Points = %+v, want [A B]", snap.Points)
	}
}

func TestClickKeepsModeCapturedAtClickTime(t *testing.T) {
	r := newGateResolver()
	e := New(r)
	e.SetMode(ModeAddSinglePoint)

	done := make(chan struct{})
	go func() {
		e.OnMapClick(context.Background(), 1, 1)
		close(done)
	}()
	<-r.started

	// user switches to line drawing while the lookup runs
	e.SetMode(ModeDrawLine)
	r.release(1, 1, "A")
	<-done

	snap := e.Snapshot()
	if len(snap.Points) != 1 {
		t.Errorf("len(Points) = %d, want the click placed as a single point", len(snap.Points))
	}
	if len(snap.LineVertices) != 0 {
		t.Error("click must not be attributed to the newer mode")
	}
	if snap.Mode != ModeDrawLine {
		t.Errorf("Mode = %v, want drawLine kept active", snap.Mode)
	}
}

func TestRemoveOne(t *testing.T) {
	e, _ := newTestEditor(nil)
	e.SetMode(ModeAddMultiplePoints)
	for _, lat := range []float64{1, 2, 3} {
		e.OnMapClick(context.Background(), lat, 0)
	}

	if err := e.RemoveOne(Points, 1); err != nil {
		t.Fatalf("RemoveOne() error = %v", err)
	}

	snap := e.Snapshot()
	if len(snap.Points) != 2 || snap.Points[0].Lat != 1 || snap.Points[1].Lat != 3 {
		t.Errorf("Points = %+v, want [1 3]", snap.Points)
	}

	for _, idx := range []int{-1, 2, 100} {
		if err := e.RemoveOne(Points, idx); err != nil {
			t.Errorf("RemoveOne(%d) error = %v", idx, err)
		}
	}
	if len(e.Snapshot().Points) != 2 {
		t.Error("out of range removal should be a no-op")
	}
}

func TestRemoveAllThenRemoveOne(t *testing.T) {
	e, _ := newTestEditor(nil)
	e.SetMode(ModeAddMultiplePoints)
	e.OnMapClick(context.Background(), 1, 1)
	e.OnMapClick(context.Background(), 2, 2)
	e.SetMode(ModeDrawLine)
	e.OnMapClick(context.Background(), 3, 3)

	if err := e.RemoveAll(Points); err != nil {
		t.Fatalf("RemoveAll() error = %v", err)
	}
	if err := e.RemoveOne(Points, 0); err != nil {
		t.Fatalf("RemoveOne() error = %v", err)
	}

	snap := e.Snapshot()
	if len(snap.Points) != 0 {
		t.Errorf("len(Points) = %d, want 0", len(snap.Points))
	}
	if len(snap.LineVertices) != 1 {
		t.Errorf("len(LineVertices) = %d, clearing points must not touch lines", len(snap.LineVertices))
	}
}

func TestUnknownCollection(t *testing.T) {
	e, _ := newTestEditor(nil)
	e.SetDraggable(true)

	if err := e.RemoveAll(Collection(7)); !errors.Is(err, ErrUnknownCollection) {
		t.Errorf("RemoveAll() error = %v, want ErrUnknownCollection", err)
	}
	if err := e.RemoveOne(Collection(-1), 0); !errors.Is(err, ErrUnknownCollection) {
		t.Errorf("RemoveOne() error = %v, want ErrUnknownCollection", err)
	}
	if err := e.OnMarkerDragEnd(context.Background(), Collection(3), 0, 0, 0); !errors.Is(err, ErrUnknownCollection) {
		t.Errorf("OnMarkerDragEnd() error = %v, want ErrUnknownCollection", err)
	}
}

func TestDragReplacesOnlyTarget(t *testing.T) {
	e, _ := newTestEditor(map[[2]float64]string{{9, 9}: "Moved"})
	e.SetMode(ModeDrawPolygon)
	for _, lat := range []float64{1, 2, 3} {
		e.OnMapClick(context.Background(), lat, lat)
	}
	before := e.Snapshot().PolygonVertices
	e.SetDraggable(true)

	if err := e.OnMarkerDragEnd(context.Background(), PolygonVertices, 1, 9, 9); err != nil {
		t.Fatalf("OnMarkerDragEnd() error = %v", err)
	}

	after := e.Snapshot().PolygonVertices
	if len(after) != len(before) {
		t.Fatalf("len = %d, want %d", len(after), len(before))
	}
	for i := range after {
		if i == 1 {
			want := AnnotatedPoint{Lat: 9, Lng: 9, District: "Moved"}
			if !after[i].SameLocation(want) {
				t.Errorf("entry 1 = %+v, want %+v", after[i], want)
			}
			if after[i].ID != before[i].ID {
				t.Error("drag must keep the entry identity")
			}
			continue
		}
		if after[i] != before[i] {
			t.Errorf("entry %d = %+v, want unchanged %+v", i, after[i], before[i])
		}
	}

	if before[1].Lat != 2 {
		t.Error("snapshot taken before the drag must not change")
	}
}

func TestDragRequiresDraggable(t *testing.T) {
	e, _ := newTestEditor(nil)
	e.SetMode(ModeAddMultiplePoints)
	e.OnMapClick(context.Background(), 1, 1)

	if err := e.OnMarkerDragEnd(context.Background(), Points, 0, 5, 5); !errors.Is(err, ErrNotDraggable) {
		t.Errorf("OnMarkerDragEnd() error = %v, want ErrNotDraggable", err)
	}
	if e.Snapshot().Points[0].Lat != 1 {
		t.Error("locked marker must not move")
	}
}

func TestDragOutOfRangeDropped(t *testing.T) {
	e, r := newTestEditor(nil)
	e.SetDraggable(true)

	if err := e.OnMarkerDragEnd(context.Background(), LineVertices, 0, 1, 1); err != nil {
		t.Errorf("OnMarkerDragEnd() error = %v, want silent drop", err)
	}
	if r.Calls() != 0 {
		t.Error("no lookup expected for a missing target")
	}
}

func TestDragAfterClearDiscarded(t *testing.T) {
	r := newGateResolver()
	e := New(r)
	e.SetMode(ModeAddMultiplePoints)

	go func() { r.release(1, 1, "A") }()
	e.OnMapClick(context.Background(), 1, 1)
	<-r.started
	e.SetDraggable(true)

	errc := make(chan error, 1)
	go func() {
		errc <- e.OnMarkerDragEnd(context.Background(), Points, 0, 5, 5)
	}()
	<-r.started

	if err := e.RemoveAll(Points); err != nil {
		t.Fatal(err)
	}
	// a new entry now sits at index 0
	go func() { r.release(2, 2, "B") }()
	e.OnMapClick(context.Background(), 2, 2)
	<-r.started

	r.release(5, 5, "Dragged")
	if err := <-errc; err != nil {
		t.Fatalf("OnMarkerDragEnd() error = %v", err)
	}

	snap := e.Snapshot()
	if len(snap.Points) != 1 || snap.Points[0].District != "B" || snap.Points[0].Lat != 2 {
		t.Errorf("Points = %+v, want stale drag discarded", snap.Points)
	}
}

func TestLatestDragWins(t *testing.T) {
	r := newGateResolver()
	e := New(r)
	e.SetMode(ModeDrawLine)
	go func() { r.release(1, 1, "A") }()
	e.OnMapClick(context.Background(), 1, 1)
	<-r.started
	e.SetDraggable(true)

	var wg sync.WaitGroup
	drag := func(lat float64) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := e.OnMarkerDragEnd(context.Background(), LineVertices, 0, lat, lat); err != nil {
				t.Errorf("OnMarkerDragEnd() error = %v", err)
			}
		}()
		<-r.started
	}

	drag(5)
	drag(6)

	// the newer drag resolves first, the older one must not overwrite it
	r.release(6, 6, "Newer")
	r.release(5, 5, "Older")
	wg.Wait()

	got := e.Snapshot().LineVertices[0]
	if got.Lat != 6 || got.District != "Newer" {
		t.Errorf("LineVertices[0] = %+v, want newer drag applied", got)
	}
}

func TestSave(t *testing.T) {
	s := &recordingSaver{}
	e := New(&mapResolver{}, WithSaver(s), WithScope("ws-1"))
	e.SetMode(ModeAddMultiplePoints)
	e.OnMapClick(context.Background(), 1, 1)
	e.SetMode(ModeDrawLine)
	e.OnMapClick(context.Background(), 2, 2)

	ref, err := e.Save(context.Background())
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if ref != "save-1" {
		t.Errorf("Save() ref = %q, want save-1", ref)
	}
	if len(s.saved) != 1 || len(s.saved[0]) != 1 || s.saved[0][0].Lat != 1 {
		t.Errorf("saved = %+v, want the points collection only", s.saved)
	}
	if s.scopes[0] != "ws-1" {
		t.Errorf("scope = %q, want ws-1", s.scopes[0])
	}
}

func TestSaveDefaultIsNoop(t *testing.T) {
	e := New(&mapResolver{})
	if ref, err := e.Save(context.Background()); err != nil || ref != "" {
		t.Errorf("Save() = %q, %v, want empty reference", ref, err)
	}
}

func TestSubscribe(t *testing.T) {
	e, _ := newTestEditor(nil)

	var got []Snapshot
	unsubscribe := e.Subscribe(func(s Snapshot) { got = append(got, s) })

	e.SetMode(ModeDrawLine)
	e.OnMapClick(context.Background(), 1, 1)
	e.SetDraggable(true)

	if len(got) != 3 {
		t.Fatalf("got %d notifications, want 3", len(got))
	}
	if got[0].Mode != ModeDrawLine || len(got[1].LineVertices) != 1 || !got[2].Draggable {
		t.Errorf("unexpected notifications: %+v", got)
	}
	for i := 1; i < len(got); i++ {
		if got[i].Revision <= got[i-1].Revision {
			t.Errorf("Revision %d not increasing: %d after %d", i, got[i].Revision, got[i-1].Revision)
		}
	}

	unsubscribe()
	e.SetMode(ModeDrawLine)
	if len(got) != 3 {
		t.Error("no notifications expected after unsubscribe")
	}
}

type downGeocoder struct{}

func (downGeocoder) Name() string { return "down" }

func (downGeocoder) Reverse(context.Context, float64, float64) (geocode.Address, error) {
	return geocode.Address{}, errors.New("connection refused")
}

func TestClickLookupFailureUsesUnknown(t *testing.T) {
	e := New(geocode.NewResolver(downGeocoder{}, "", zerolog.Nop()))
	e.SetMode(ModeAddMultiplePoints)

	p, ok := e.OnMapClick(context.Background(), 10, 20)
	if !ok {
		t.Fatal("click not placed")
	}

	snap := e.Snapshot()
	if len(snap.Points) != 1 || snap.Points[0].District != "unknown" || p.District != "unknown" {
		t.Errorf("Points = %+v, want one entry with the unknown district", snap.Points)
	}
	if snap.SelectedDistrict != "unknown" {
		t.Errorf("SelectedDistrict = %q, want unknown", snap.SelectedDistrict)
	}
}

func TestClickAfterPanickingLookupCommits(t *testing.T) {
	e := New(panicResolver{at: [2]float64{1, 1}})
	e.SetMode(ModeAddMultiplePoints)

	if _, ok := e.OnMapClick(context.Background(), 1, 1); ok {
		t.Error("click with a panicking lookup reported as placed")
	}

	p, ok := e.OnMapClick(context.Background(), 2, 2)
	if !ok || p.District != "Badung" {
		t.Fatalf("OnMapClick() = %+v, %v", p, ok)
	}

	snap := e.Snapshot()
	if len(snap.Points) != 1 || snap.Points[0].Lat != 2 {
		t.Errorf("Points = %+v, want only the second click", snap.Points)
	}
	if snap.PendingClicks != 0 {
		t.Errorf("PendingClicks = %d, want 0", snap.PendingClicks)
	}
}

func TestDragWithPanickingLookup(t *testing.T) {
	e := New(panicResolver{at: [2]float64{5, 5}})
	e.SetMode(ModeDrawLine)
	e.OnMapClick(context.Background(), 1, 1)
	e.SetDraggable(true)

	err := e.OnMarkerDragEnd(context.Background(), LineVertices, 0, 5, 5)
	if !errors.Is(err, ErrLookupFailed) {
		t.Fatalf("OnMarkerDragEnd() error = %v, want ErrLookupFailed", err)
	}
	if got := e.Snapshot().LineVertices[0]; got.Lat != 1 {
		t.Errorf("LineVertices[0] = %+v, want unchanged", got)
	}

	if err := e.OnMarkerDragEnd(context.Background(), LineVertices, 0, 3, 3); err != nil {
		t.Fatalf("OnMarkerDragEnd() error = %v", err)
	}
	if got := e.Snapshot().LineVertices[0]; got.Lat != 3 {
		t.Errorf("LineVertices[0] = %+v, want later drag applied", got)
	}
}
