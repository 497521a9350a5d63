// Package web serves the calibration service over HTTP and streams outputs over websockets.
//
//	GET  /api/outputs              latest outputs
//	GET  /api/status               calibration report
//	GET  /api/ops                  accepted calibration operations
//	POST /api/calibration/{op}     run a calibration operation with JSON parameters
//	GET  /api/history              recent calibration operations
//	GET  /api/stream               websocket of outputs, responses and cancel events
package web

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/samber/lo"

	"go.viam.com/netft/calibration"
	"go.viam.com/netft/logging"
	"go.viam.com/netft/pipeline"
	"go.viam.com/netft/referenceframe"
	"go.viam.com/netft/storage"
)

// Service is what the server exposes.
type Service interface {
	Outputs() (pipeline.Outputs, bool)
	Do(ctx context.Context, req pipeline.Request) (pipeline.Response, error)
	History(ctx context.Context, limit int) ([]storage.OperationRecord, error)
}

const defaultHistory = 50

// Server routes HTTP requests to a Service.
type Server struct {
	svc    Service
	hub    *Hub
	logger logging.Logger
	mux    *http.ServeMux
}

// NewServer returns a server for svc. Stream subscribers are attached to hub.
func NewServer(svc Service, hub *Hub, logger logging.Logger) *Server {
	s := &Server{svc: svc, hub: hub, logger: logger, mux: http.NewServeMux()}
	s.mux.HandleFunc("GET /api/outputs", s.handleOutputs)
	s.mux.HandleFunc("GET /api/status", s.handleStatus)
	s.mux.HandleFunc("GET /api/ops", s.handleOps)
	s.mux.HandleFunc("POST /api/calibration/{op}", s.handleCalibration)
	s.mux.HandleFunc("GET /api/history", s.handleHistory)
	s.mux.Handle("GET /api/stream", hub)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Serve listens on address until ctx is done.
func (s *Server) Serve(ctx context.Context, address string) error {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return errors.Wrapf(err, "cannot listen on %s", address)
	}
	return s.ServeListener(ctx, listener)
}

// ServeListener serves on listener until ctx is done.
func (s *Server) ServeListener(ctx context.Context, listener net.Listener) error {
	httpServer := &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.Serve(listener)
	}()
	s.logger.Infow("serving", "address", listener.Addr().String())

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.hub.Close()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debugw("cannot write response", "error", err)
	}
}

type errorBody struct {
	Error string `json:"error"`
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, errorBody{Error: err.Error()})
}

// statusFor maps an operation error to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, calibration.ErrInvalidConfiguration):
		return http.StatusBadRequest
	case errors.Is(err, calibration.ErrCalibrationPrecondition):
		return http.StatusConflict
	case errors.Is(err, calibration.ErrEstimationDegenerate):
		return http.StatusUnprocessableEntity
	case errors.Is(err, referenceframe.ErrTransformUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleOutputs(w http.ResponseWriter, r *http.Request) {
	out, ok := s.svc.Outputs()
	if !ok {
		s.writeError(w, http.StatusServiceUnavailable, errors.New("no sample has been received yet"))
		return
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp, err := s.svc.Do(r.Context(), pipeline.GetStatus{})
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp.Report)
}

type opInfo struct {
	Op       pipeline.Op `json:"op"`
	Mutating bool        `json:"mutating"`
}

func (s *Server) handleOps(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, lo.Map(pipeline.Ops(), func(op pipeline.Op, _ int) opInfo {
		return opInfo{Op: op, Mutating: op.Mutating()}
	}))
}

func (s *Server) handleCalibration(w http.ResponseWriter, r *http.Request) {
	op := pipeline.Op(r.PathValue("op"))
	if !slices.Contains(pipeline.Ops(), op) {
		s.writeError(w, http.StatusNotFound, errors.Errorf("unknown calibration operation %q", op))
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	params := map[string]interface{}{}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &params); err != nil {
			s.writeError(w, http.StatusBadRequest, errors.Wrap(err, "cannot parse parameters"))
			return
		}
	}
	req, err := pipeline.DecodeRequest(op, params)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	ctx := r.Context()
	if query := r.URL.Query(); query.Has("debug") {
		ctx = logging.EnableDebugMode(ctx, query.Get("debug"))
	}
	resp, err := s.svc.Do(ctx, req)
	if err != nil {
		s.writeJSON(w, statusFor(err), resp)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistory
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.writeError(w, http.StatusBadRequest, errors.Errorf("bad limit %q", v))
			return
		}
		limit = n
	}
	records, err := s.svc.History(r.Context(), limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if records == nil {
		records = []storage.OperationRecord{}
	}
	s.writeJSON(w, http.StatusOK, records)
}
