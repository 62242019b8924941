// Package server exposes batch resolution over HTTP: a spreadsheet upload
// answered with a server-sent event stream that ends with the result file.
package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/credresolve/internal/progress"
	"github.com/sells-group/credresolve/internal/sheet"
)

// UploadField is the multipart field carrying the spreadsheet.
const UploadField = "excel"

// Runner starts a batch from a spreadsheet on disk. batch.Orchestrator
// implements it. The file must be fully read before StreamFile returns.
type Runner interface {
	StreamFile(ctx context.Context, path string) <-chan progress.Event
}

// Options configures the HTTP surface.
type Options struct {
	CORSOrigins    []string
	MaxUploadBytes int64
	TempDir        string
	KeepAlive      time.Duration // 0 disables ": ping" comments

	// BaseContext parents every batch. Batches outlive their request so a
	// client that goes away does not abort the run; cancelling BaseContext
	// does.
	BaseContext context.Context

	Now func() time.Time
}

// Server routes requests to the batch runner.
type Server struct {
	runner Runner
	opts   Options
	router chi.Router

	inflight sync.WaitGroup
}

// New builds the router.
func New(runner Runner, opts Options) *Server {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 10 << 20
	}
	if opts.TempDir == "" {
		opts.TempDir = os.TempDir()
	}
	if opts.BaseContext == nil {
		opts.BaseContext = context.Background()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if len(opts.CORSOrigins) == 0 {
		opts.CORSOrigins = []string{"*"}
	}

	s := &Server{runner: runner, opts: opts}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: opts.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Requested-With"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Post("/api/process", s.handleProcess)

	s.router = r
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"timestamp": s.opts.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	log := zap.L().With(zap.String("request_id", middleware.GetReqID(r.Context())))

	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)
	file, header, err := r.FormFile(UploadField)
	if err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			writeError(w, http.StatusRequestEntityTooLarge, "El archivo supera el tamaño máximo permitido")
		default:
			log.Info("server: upload without file", zap.Error(err))
			writeError(w, http.StatusBadRequest, "No se recibió archivo")
		}
		return
	}
	defer func() {
		_ = file.Close()
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	path, err := s.saveUpload(file, header.Filename)
	if err != nil {
		log.Error("server: store upload", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "No se pudo guardar el archivo")
		return
	}

	log.Info("server: file received", zap.String("filename", header.Filename), zap.Int64("size", header.Size))

	s.inflight.Add(1)
	defer s.inflight.Done()

	emitter := progress.NewEmitter(r.Context(), w)
	events := s.runner.StreamFile(s.opts.BaseContext, path)
	// The rows are in memory once StreamFile returns.
	removeTemp(path)
	s.relay(emitter, events, log)
}

// Wait blocks until every accepted upload has relayed its batch to the end,
// or ctx is done. Batches release their session before their stream closes,
// so a nil return means no session is left open.
func (s *Server) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return eris.Wrap(ctx.Err(), "server: wait for batches")
	}
}

// relay forwards every event to the subscriber, attaching the encoded
// result file to the complete event. It drains the channel even after the
// subscriber has gone, so the batch always runs to its end.
func (s *Server) relay(emitter *progress.Emitter, events <-chan progress.Event, log *zap.Logger) {
	var tick <-chan time.Time
	if s.opts.KeepAlive > 0 {
		t := time.NewTicker(s.opts.KeepAlive)
		defer t.Stop()
		tick = t.C
	}

	for {
		select {
		case <-tick:
			_ = emitter.Ping()
		case ev, ok := <-events:
			if !ok {
				log.Info("server: stream finished",
					zap.Int("events_sent", emitter.Sent()),
					zap.Bool("disconnected", emitter.Disconnected()),
				)
				return
			}
			if ev.Type == progress.TypeComplete {
				ev = s.attachResult(ev, log)
			}
			if err := emitter.Emit(ev); err != nil && ev.Terminal() {
				log.Warn("server: terminal event not delivered", zap.String("type", string(ev.Type)))
			}
		}
	}
}

// attachResult encodes the results as a spreadsheet. A batch whose file
// cannot be built ends in an error event instead.
func (s *Server) attachResult(ev progress.Event, log *zap.Logger) progress.Event {
	data, err := sheet.EncodeResults(ev.Results)
	if err != nil {
		log.Error("server: encode result file", zap.Error(err))
		return progress.Failure("No se pudo generar el archivo de resultados: " + eris.Cause(err).Error())
	}
	ev.File = base64.StdEncoding.EncodeToString(data)
	ev.Filename = sheet.ResultFilename(s.opts.Now())
	return ev
}

// saveUpload copies the upload into a temp file that keeps the original
// extension, since the reader picks its format from it.
func (s *Server) saveUpload(src io.Reader, filename string) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	dst, err := os.CreateTemp(s.opts.TempDir, "credresolve-*"+ext)
	if err != nil {
		return "", eris.Wrap(err, "server: create temp file")
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		removeTemp(dst.Name())
		return "", eris.Wrap(err, "server: write temp file")
	}
	if err := dst.Close(); err != nil {
		removeTemp(dst.Name())
		return "", eris.Wrap(err, "server: close temp file")
	}
	return dst.Name(), nil
}

func removeTemp(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		zap.L().Warn("server: remove temp file", zap.String("path", path), zap.Error(err))
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
