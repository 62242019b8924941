package progress

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// ErrDisconnected is returned once the subscriber has gone away. Events
// emitted after that are dropped.
var ErrDisconnected = eris.New("progress: subscriber disconnected")

// Encode writes ev as one server-sent event: a "data: " line holding the
// JSON payload, terminated by a blank line.
func Encode(w io.Writer, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return eris.Wrap(err, "progress: marshal event")
	}
	if _, err := io.WriteString(w, "data: "+string(payload)+"\n\n"); err != nil {
		return eris.Wrap(err, "progress: write event")
	}
	return nil
}

// Emitter streams events to one HTTP subscriber, flushing after each event
// so the client sees it immediately. It is safe for concurrent use.
type Emitter struct {
	mu           sync.Mutex
	ctx          context.Context
	w            io.Writer
	rc           *http.ResponseController
	disconnected bool
	sent         int
}

// NewEmitter sets the event-stream headers on w and commits the response.
// ctx is the request context; once it is done the subscriber counts as gone.
func NewEmitter(ctx context.Context, w http.ResponseWriter) *Emitter {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	e := &Emitter{ctx: ctx, w: w, rc: http.NewResponseController(w)}
	e.mu.Lock()
	e.flushLocked()
	e.mu.Unlock()
	return e
}

// Emit writes ev. After the first failed write or flush the emitter is
// marked disconnected and every later call returns ErrDisconnected without
// writing.
func (e *Emitter) Emit(ev Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gone() {
		return ErrDisconnected
	}
	if err := Encode(e.w, ev); err != nil {
		e.drop(err)
		return ErrDisconnected
	}
	if err := e.flushLocked(); err != nil {
		return ErrDisconnected
	}
	e.sent++
	return nil
}

// Ping writes an SSE comment line to keep idle proxies from closing the
// stream while a slow row is in flight.
func (e *Emitter) Ping() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gone() {
		return ErrDisconnected
	}
	if _, err := io.WriteString(e.w, ": ping\n\n"); err != nil {
		e.drop(err)
		return ErrDisconnected
	}
	if err := e.flushLocked(); err != nil {
		return ErrDisconnected
	}
	return nil
}

// Disconnected reports whether the subscriber has gone away.
func (e *Emitter) Disconnected() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.gone()
}

// Sent returns how many events reached the subscriber.
func (e *Emitter) Sent() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sent
}

func (e *Emitter) gone() bool {
	if !e.disconnected && e.ctx.Err() != nil {
		e.drop(e.ctx.Err())
	}
	return e.disconnected
}

func (e *Emitter) drop(err error) {
	if e.disconnected {
		return
	}
	e.disconnected = true
	zap.L().Info("progress: subscriber disconnected", zap.Int("events_sent", e.sent), zap.Error(err))
}

func (e *Emitter) flushLocked() error {
	if err := e.rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		e.drop(err)
		return err
	}
	return nil
}

// Decode reads a server-sent event stream and returns the events in order.
// Comment lines are skipped.
func Decode(r io.Reader) ([]Event, error) {
	var events []Event
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	for sc.Scan() {
		line := sc.Text()
		payload, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		var ev Event
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			return events, eris.Wrap(err, "progress: decode event")
		}
		events = append(events, ev)
	}
	if err := sc.Err(); err != nil {
		return events, eris.Wrap(err, "progress: read stream")
	}
	return events, nil
}
