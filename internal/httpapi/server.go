package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/BrandonDHaskell/Vesta/server/internal/logger"
	"github.com/BrandonDHaskell/Vesta/server/internal/vesta/service"
	"github.com/BrandonDHaskell/Vesta/server/internal/vesta/types"
)

// Engine is what the HTTP API needs from the core.
type Engine interface {
	Ingest(ctx context.Context, raw types.RawReport) (service.Outcome, error)
	LockState(ctx context.Context, deviceID string) (types.LockState, error)
	GasState(ctx context.Context, deviceID string) (types.GasReadingState, error)
	DoorLog(ctx context.Context, deviceID string, from, to time.Time) ([]types.DoorLogEntry, error)
}

type Dependencies struct {
	Addr   string
	Engine Engine
}

type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	engine     Engine
	now        func() time.Time
}

func NewServer(d Dependencies) *Server {
	mux := http.NewServeMux()

	s := &Server{
		mux:    mux,
		engine: d.Engine,
		now:    func() time.Time { return time.Now().UTC() },
	}

	mux.HandleFunc("POST /v1/reports", s.handleReport)
	mux.HandleFunc("GET /v1/devices/{id}/lock", s.handleLockState)
	mux.HandleFunc("GET /v1/devices/{id}/gas", s.handleGasState)
	mux.HandleFunc("GET /v1/devices/{id}/door_log", s.handleDoorLog)

	handler := loggingMiddleware(mux)

	s.httpServer = &http.Server{
		Addr:              d.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	asProto := isProtobuf(r)

	raw, err := s.decodeReport(r, asProto)
	if err != nil {
		writeError(w, asProto, http.StatusBadRequest, "bad_body", err.Error())
		return
	}

	out, err := s.engine.Ingest(r.Context(), raw)
	resp := reportResponseFrom(raw, out, s.now())

	switch {
	case err == nil:
		writeBody(w, asProto, http.StatusOK, resp)
	case errors.Is(err, types.ErrLockedOut):
		// The attempt was refused; the caller still gets the lock view.
		resp.OK = false
		resp.Reason = "locked_out"
		writeBody(w, asProto, http.StatusLocked, resp)
	default:
		s.writeDomainError(w, r, asProto, err)
	}
}

func (s *Server) decodeReport(r *http.Request, asProto bool) (types.RawReport, error) {
	if asProto {
		return readReportProto(r)
	}

	var raw types.RawReport
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&raw); err != nil {
		return types.RawReport{}, errors.New("invalid JSON body")
	}
	return raw, nil
}

func (s *Server) handleLockState(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	asProto := wantsProtobuf(r)

	st, err := s.engine.LockState(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, r, asProto, err)
		return
	}
	writeBody(w, asProto, http.StatusOK, lockViewFrom(st, s.now()))
}

func (s *Server) handleGasState(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	asProto := wantsProtobuf(r)

	st, err := s.engine.GasState(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, r, asProto, err)
		return
	}
	writeBody(w, asProto, http.StatusOK, gasViewFrom(st))
}

func (s *Server) handleDoorLog(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	asProto := wantsProtobuf(r)

	from, err := parseQueryTime(r, "from")
	if err != nil {
		writeError(w, asProto, http.StatusBadRequest, "invalid_range", err.Error())
		return
	}
	to, err := parseQueryTime(r, "to")
	if err != nil {
		writeError(w, asProto, http.StatusBadRequest, "invalid_range", err.Error())
		return
	}

	entries, err := s.engine.DoorLog(r.Context(), id, from, to)
	if err != nil {
		s.writeDomainError(w, r, asProto, err)
		return
	}
	writeBody(w, asProto, http.StatusOK, doorLogViewFrom(id, entries))
}

// writeDomainError maps the error taxonomy onto HTTP statuses.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, asProto bool, err error) {
	switch {
	case errors.Is(err, types.ErrValidation):
		writeError(w, asProto, http.StatusBadRequest, "invalid_report", err.Error())
	case errors.Is(err, types.ErrInvalidReading):
		writeError(w, asProto, http.StatusBadRequest, "invalid_reading", err.Error())
	case errors.Is(err, types.ErrStaleEvent):
		writeError(w, asProto, http.StatusConflict, "stale_event", err.Error())
	case errors.Is(err, types.ErrUnknownDevice):
		status := http.StatusNotFound
		if r.Method == http.MethodPost {
			// Unregistered devices are blocked from reporting in strict mode.
			status = http.StatusForbidden
		}
		writeError(w, asProto, status, "unknown_device", err.Error())
	case errors.Is(err, types.ErrStorage):
		logger.ErrorKV(r.Context(), "storage error", "path", r.URL.Path, "error", err)
		writeError(w, asProto, http.StatusServiceUnavailable, "storage_error", "state not applied, retry")
	default:
		logger.ErrorKV(r.Context(), "unexpected error", "path", r.URL.Path, "error", err)
		writeError(w, asProto, http.StatusInternalServerError, "internal_error", "unexpected server error")
	}
}

func parseQueryTime(r *http.Request, key string) (time.Time, error) {
	v := strings.TrimSpace(r.URL.Query().Get(key))
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, errors.New(key + " must be RFC3339")
	}
	return t.UTC(), nil
}
