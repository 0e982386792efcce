// Package httpapi exposes registration, login and authenticated sync
// dispatch over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/and161185/sync-keeper/internal/errs"
	"github.com/and161185/sync-keeper/internal/model"
	"github.com/and161185/sync-keeper/internal/service"
	"github.com/and161185/sync-keeper/internal/session"
)

const tracerName = "github.com/and161185/sync-keeper/internal/server/httpapi"

// DefaultMaxPayloadMegs caps request bodies when Config leaves it unset.
const DefaultMaxPayloadMegs = 100

// Operation handles one authenticated sync method. req.Data holds the
// decompressed request body; the result is JSON encoded and compressed.
type Operation func(ctx context.Context, u *session.User, req model.SyncRequest[json.RawMessage]) (any, error)

// Typed adapts a function taking a concrete payload type to an Operation.
func Typed[I, O any](fn func(ctx context.Context, u *session.User, req model.SyncRequest[I]) (O, error)) Operation {
	return func(ctx context.Context, u *session.User, raw model.SyncRequest[json.RawMessage]) (any, error) {
		var in I
		if len(raw.Data) > 0 {
			if err := json.Unmarshal(raw.Data, &in); err != nil {
				return nil, fmt.Errorf("%w: decode payload: %v", errs.ErrValidation, err)
			}
		}
		return fn(ctx, u, model.SyncRequest[I]{SyncHeader: raw.SyncHeader, ClientIP: raw.ClientIP, Data: in})
	}
}

// Config tunes the HTTP edge.
type Config struct {
	MaxPayloadMegs int
	CORSOrigins    []string
	// TrustProxyHeaders takes the client address from True-Client-IP,
	// X-Real-IP or X-Forwarded-For. Only safe behind a proxy that sets them.
	TrustProxyHeaders bool
	Tracer            trace.Tracer // defaults to the global otel tracer
}

// Server wires the core into HTTP handlers.
type Server struct {
	core     *service.Core
	log      *zap.Logger
	cfg      Config
	maxBytes int64
	codec    *Codec
	tracer   trace.Tracer

	mu  sync.RWMutex
	ops map[string]Operation // "sync/<method>" or "msync/<method>"
}

// New constructs a Server with the built-in media begin operation registered.
func New(core *service.Core, log *zap.Logger, cfg Config) (*Server, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.MaxPayloadMegs <= 0 {
		cfg.MaxPayloadMegs = DefaultMaxPayloadMegs
	}
	maxBytes := int64(cfg.MaxPayloadMegs) * 1024 * 1024
	codec, err := NewCodec(maxBytes)
	if err != nil {
		return nil, err
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	s := &Server{
		core:     core,
		log:      log,
		cfg:      cfg,
		maxBytes: maxBytes,
		codec:    codec,
		tracer:   tracer,
		ops:      make(map[string]Operation),
	}
	s.Handle("msync/begin", Typed(mediaBegin))
	return s, nil
}

// Handle registers op under route, e.g. "sync/meta". A later call replaces
// an earlier one.
func (s *Server) Handle(route string, op Operation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops[route] = op
}

func (s *Server) operation(route string) (Operation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	op, ok := s.ops[route]
	return op, ok
}

// Close releases codec resources.
func (s *Server) Close() { s.codec.Close() }

// Routes builds the HTTP handler.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	if s.cfg.TrustProxyHeaders {
		r.Use(middleware.RealIP)
	}
	r.Use(Tracing(s.tracer), Logging(s.log), Recover(s.log))
	if len(s.cfg.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.cfg.CORSOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type", HeaderSync},
			ExposedHeaders: []string{HeaderOriginalSize},
			MaxAge:         300,
		}))
	}

	r.Get("/health", s.handleHealth)
	r.Post("/register", s.handleRegister)
	r.Route("/sync", func(r chi.Router) {
		r.Use(syncEnvelope)
		r.Post("/hostKey", s.handleHostKey)
		r.Post("/{method}", s.handleOperation("sync"))
	})
	r.Route("/msync", func(r chi.Router) {
		r.Use(syncEnvelope)
		r.Post("/{method}", s.handleOperation("msync"))
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, "ok")
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req model.RegisterRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.maxBytes))
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, model.RegisterResponse{Status: http.StatusBadRequest, Message: "bad_request"})
		return
	}

	err := s.core.Register(r.Context(), req.Email, req.Name, req.Password)
	switch errs.KindOf(err) {
	case errs.KindOK:
		writeJSON(w, http.StatusOK, model.RegisterResponse{Status: http.StatusOK, Message: "success"})
	case errs.KindValidation, errs.KindConflict:
		writeJSON(w, http.StatusBadRequest, model.RegisterResponse{Status: http.StatusBadRequest, Message: errs.Reason(err)})
	default:
		s.log.Error("register failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, model.RegisterResponse{Status: http.StatusInternalServerError, Message: err.Error()})
	}
}

func (s *Server) handleHostKey(w http.ResponseWriter, r *http.Request) {
	body, err := s.readBody(w, r)
	if err != nil {
		s.syncError(w, err)
		return
	}
	var req model.HostKeyRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.syncError(w, fmt.Errorf("%w: bad hostKey payload: %v", errs.ErrValidation, err))
		return
	}
	key, err := s.core.LoginWithIP(r.Context(), req.Username, req.Password, clientIP(r))
	if err != nil {
		s.syncError(w, err)
		return
	}
	s.writeSync(w, model.HostKeyResponse{Key: key})
}

func (s *Server) handleOperation(prefix string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		route := prefix + "/" + chi.URLParam(r, "method")
		op, ok := s.operation(route)
		if !ok {
			http.Error(w, "unknown method "+route, http.StatusNotFound)
			return
		}
		body, err := s.readBody(w, r)
		if err != nil {
			s.syncError(w, err)
			return
		}
		hdr, _ := SyncHeaderFromCtx(r.Context())
		req := model.SyncRequest[json.RawMessage]{SyncHeader: hdr, ClientIP: clientIP(r), Data: body}

		ctx := r.Context()
		out, err := service.Dispatch(ctx, s.core, req, func(u *session.User, req model.SyncRequest[json.RawMessage]) (any, error) {
			return op(ctx, u, req)
		})
		if err != nil {
			s.syncError(w, err)
			return
		}
		s.writeSync(w, out)
	}
}

// readBody reads and decompresses a size-capped sync body.
func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBytes))
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return nil, errPayloadTooLarge
		}
		return nil, fmt.Errorf("%w: read body: %v", errs.ErrValidation, err)
	}
	return s.codec.Decode(raw)
}

var errPayloadTooLarge = errors.New("payload too large")

func (s *Server) syncError(w http.ResponseWriter, err error) {
	if errors.Is(err, errPayloadTooLarge) {
		http.Error(w, err.Error(), http.StatusRequestEntityTooLarge)
		return
	}
	if errors.Is(err, errs.ErrRateLimited) {
		http.Error(w, err.Error(), http.StatusTooManyRequests)
		return
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, session.ErrClosed) {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	switch errs.KindOf(err) {
	case errs.KindValidation:
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errs.KindConflict:
		http.Error(w, err.Error(), http.StatusConflict)
	case errs.KindForbidden:
		http.Error(w, err.Error(), http.StatusForbidden)
	default:
		s.log.Error("sync request failed", zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (s *Server) writeSync(w http.ResponseWriter, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		s.syncError(w, errs.Internal("encode response", err))
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set(HeaderOriginalSize, strconv.Itoa(len(raw)))
	_, _ = w.Write(s.codec.Encode(raw))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// MediaResult is the envelope media sync responses are wrapped in.
type MediaResult[T any] struct {
	Data T      `json:"data"`
	Err  string `json:"err"`
}

// MediaBeginResponse carries the session key and the current media USN.
type MediaBeginResponse struct {
	SyncKey string `json:"sk"`
	USN     int64  `json:"usn"`
}

func mediaBegin(ctx context.Context, u *session.User, req model.SyncRequest[struct{}]) (MediaResult[MediaBeginResponse], error) {
	usn, err := u.Media.LastUSN(ctx)
	if err != nil {
		return MediaResult[MediaBeginResponse]{}, errs.Internal("read media usn", err)
	}
	return MediaResult[MediaBeginResponse]{Data: MediaBeginResponse{SyncKey: req.SyncKey, USN: usn}}, nil
}
