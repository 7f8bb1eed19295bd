package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/woozymasta/mapnote/internal/auth"
	"github.com/woozymasta/mapnote/internal/editor"
	"github.com/woozymasta/mapnote/internal/metrics"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// lookups a single widget may have in flight
	maxSocketLookups = 8
)

var errSessionEnded = errors.New("session ended")

const msgTooManyLookups = "too many lookups in progress, try again"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// inbound is an event reported by the map widget.
type inbound struct {
	Type       string   `json:"type"`
	Lat        *float64 `json:"lat"`
	Lng        *float64 `json:"lng"`
	Mode       string   `json:"mode"`
	Draggable  bool     `json:"draggable"`
	Collection string   `json:"collection"`
	Index      int      `json:"index"`
}

// frame is sent to the widget: either a state or a notice.
type frame struct {
	Type   string       `json:"type"`
	State  *stateView   `json:"state,omitempty"`
	Notice *auth.Notice `json:"notice,omitempty"`
	Saved  string       `json:"saved,omitempty"`
}

type socket struct {
	conn *websocket.Conn
	ws   *Workspace
	log  zerolog.Logger

	// alive reports whether the session token still exists
	alive func() bool

	mu     sync.Mutex
	latest editor.Snapshot
	wake   chan struct{}

	lookups chan struct{}
	notices chan frame
	done    chan struct{}
}

// HandleSocket upgrades to a websocket streaming editor state and accepting widget events.
func (s *ServerContext) HandleSocket(w http.ResponseWriter, r *http.Request) {
	ws := workspaceFrom(r)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}

	sock := &socket{
		conn: conn,
		ws:   ws,
		log:  log.With().Stringer("session", ws.ID).Str("ip", r.RemoteAddr).Logger(),
		alive: func() bool {
			_, ok := s.Session.Token(context.Background(), ws.ID.String())
			return ok
		},
		wake:    make(chan struct{}, 1),
		lookups: make(chan struct{}, maxSocketLookups),
		notices: make(chan frame, 16),
		done:    make(chan struct{}),
	}

	metrics.SocketConnections.Inc()
	defer metrics.SocketConnections.Dec()

	unsubscribe := ws.Editor.Subscribe(sock.push)
	sock.push(ws.Editor.Snapshot())

	sock.log.Debug().Msg("Widget connected")
	go sock.writePump()
	sock.readLoop()

	unsubscribe()
	close(sock.done)
	sock.log.Debug().Msg("Widget disconnected")
}

// push keeps the newest snapshot; older deliveries are dropped.
func (c *socket) push(snap editor.Snapshot) {
	c.mu.Lock()
	if snap.Revision < c.latest.Revision {
		c.mu.Unlock()
		return
	}
	c.latest = snap
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *socket) notify(level, msg string) {
	c.send(frame{Type: "notice", Notice: &auth.Notice{Level: level, Message: msg}})
}

func (c *socket) send(f frame) {
	select {
	case c.notices <- f:
	case <-c.done:
	default:
		c.log.Warn().Str("type", f.Type).Msg("Frame dropped: client too slow")
	}
}

// acquire reserves a lookup slot; release must follow a successful call.
func (c *socket) acquire() bool {
	select {
	case c.lookups <- struct{}{}:
		return true
	default:
		return false
	}
}

func (c *socket) release() { <-c.lookups }

func (c *socket) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	var written uint64
	var sent bool

	for {
		select {
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case <-c.ws.Done():
			c.log.Debug().Msg("Session ended, closing widget connection")
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, errSessionEnded.Error()))
			return

		case <-c.wake:
			c.mu.Lock()
			snap := c.latest
			c.mu.Unlock()

			if sent && snap.Revision <= written {
				continue
			}
			view := newStateView(snap)
			if err := c.write(frame{Type: "state", State: &view}); err != nil {
				return
			}
			written, sent = snap.Revision, true

		case f := <-c.notices:
			if err := c.write(f); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *socket) write(f frame) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(f); err != nil {
		c.log.Debug().Err(err).Msg("Websocket write failed")
		return err
	}
	return nil
}

func (c *socket) readLoop() {
	c.conn.SetReadLimit(maxBodySize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		if c.ws.closed() || !c.alive() {
			return errSessionEnded
		}
		c.ws.touch(time.Now())
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warn().Err(err).Msg("Websocket closed unexpectedly")
			}
			return
		}
		if c.ws.closed() {
			return
		}
		c.ws.touch(time.Now())

		var ev inbound
		if err := json.Unmarshal(data, &ev); err != nil {
			c.notify(auth.LevelError, "malformed event")
			continue
		}
		c.dispatch(ev)
	}
}

// dispatch applies one widget event. Events waiting on a lookup run in
// their own goroutine so reading continues; the editor orders their commits.
func (c *socket) dispatch(ev inbound) {
	ed := c.ws.Editor
	ctx := context.Background()

	switch ev.Type {
	case "click":
		if !(location{ev.Lat, ev.Lng}).valid() {
			c.notify(auth.LevelError, "valid lat and lng required")
			return
		}
		if !c.acquire() {
			c.notify(auth.LevelError, msgTooManyLookups)
			return
		}
		lat, lng := *ev.Lat, *ev.Lng
		go func() {
			defer c.release()
			ed.OnMapClick(ctx, lat, lng)
		}()

	case "dragend":
		coll, err := editor.ParseCollection(ev.Collection)
		if err != nil {
			c.notify(auth.LevelError, err.Error())
			return
		}
		if !(location{ev.Lat, ev.Lng}).valid() {
			c.notify(auth.LevelError, "valid lat and lng required")
			return
		}
		if !c.acquire() {
			c.notify(auth.LevelError, msgTooManyLookups)
			return
		}
		lat, lng, index := *ev.Lat, *ev.Lng, ev.Index
		go func() {
			defer c.release()
			if err := ed.OnMarkerDragEnd(ctx, coll, index, lat, lng); err != nil {
				c.notify(auth.LevelError, err.Error())
			}
		}()

	case "mode":
		mode, err := editor.ParseMode(ev.Mode)
		if err != nil {
			c.notify(auth.LevelError, err.Error())
			return
		}
		ed.SetMode(mode)

	case "draggable":
		ed.SetDraggable(ev.Draggable)

	case "remove":
		coll, err := editor.ParseCollection(ev.Collection)
		if err == nil {
			err = ed.RemoveOne(coll, ev.Index)
		}
		if err != nil {
			c.notify(auth.LevelError, err.Error())
		}

	case "clear":
		coll, err := editor.ParseCollection(ev.Collection)
		if err == nil {
			err = ed.RemoveAll(coll)
		}
		if err != nil {
			c.notify(auth.LevelError, err.Error())
		}

	case "save":
		go func() {
			ref, err := ed.Save(ctx)
			if err != nil {
				c.log.Error().Err(err).Msg("Failed to save markers")
				c.notify(auth.LevelError, "saving markers failed")
				return
			}
			c.send(frame{Type: "notice", Notice: &auth.Notice{Level: auth.LevelSuccess, Message: "Markers saved"}, Saved: ref})
		}()

	default:
		c.notify(auth.LevelError, "unknown event type "+ev.Type)
	}
}
