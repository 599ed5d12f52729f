package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	goahttp "goa.design/goa/v3/http"
	httpmdlwr "goa.design/goa/v3/http/middleware"
	goamiddleware "goa.design/goa/v3/middleware"

	"hazardwatch/internal/middleware"
	"hazardwatch/internal/services"
)

// Services groups the service implementations exposed over HTTP
type Services struct {
	Health        *services.HealthService
	Status        *services.StatusService
	Settings      *services.SettingsService
	Notifications *services.NotificationService
	Auth          *services.AuthService
	Alerts        *services.AlertService
}

// MountPoint describes a mounted endpoint
type MountPoint struct {
	Method  string
	Verb    string
	Pattern string
}

// Server serves the operator API
type Server struct {
	Mounts []MountPoint

	mux       goahttp.Muxer
	raw       *http.ServeMux
	svc       Services
	validator middleware.TokenValidator
	logger    *log.Logger
	debug     bool
}

// New creates the API server and mounts every endpoint. Mutating endpoints
// require a bearer token when authentication is enabled.
func New(svc Services, validator middleware.TokenValidator, logger *log.Logger, debug bool) *Server {
	s := &Server{
		mux:       goahttp.NewMuxer(),
		raw:       http.NewServeMux(),
		svc:       svc,
		validator: validator,
		logger:    logger,
		debug:     debug,
	}

	protect := middleware.RequireBearer(validator)
	optional := middleware.OptionalBearer(validator)

	s.handle("Healthz", "GET", "/healthz", nil, s.healthz)
	s.handle("Readyz", "GET", "/readyz", nil, s.readyz)
	s.handle("Status", "GET", "/api/v1/status", nil, s.status)
	s.handle("GetSettings", "GET", "/api/v1/settings", nil, s.getSettings)
	s.handle("UpdateSettings", "PUT", "/api/v1/settings", protect, s.updateSettings)
	s.handle("ResetSetting", "DELETE", "/api/v1/settings/{key}", protect, s.resetSetting)
	s.handle("Login", "POST", "/api/v1/auth/login", nil, s.login)
	s.handle("AuthStatus", "GET", "/api/v1/auth/status", optional, s.authStatus)
	s.handle("TestNotification", "POST", "/api/v1/notifications/test", protect, s.testNotification)
	s.handle("ListAlerts", "GET", "/api/v1/alerts", nil, s.listAlerts)

	return s
}

// MountRaw mounts h outside the request logging middleware. Long lived
// streaming endpoints go here.
func (s *Server) MountRaw(pattern string, h http.Handler) {
	s.raw.Handle(pattern, h)
	s.Mounts = append(s.Mounts, MountPoint{Method: "Stream", Verb: "GET", Pattern: pattern})
}

// Handler returns the root handler
func (s *Server) Handler() http.Handler {
	var handler http.Handler = s.mux
	if s.debug {
		handler = httpmdlwr.Debug(s.mux, os.Stdout)(handler)
	}
	handler = httpmdlwr.Log(goamiddleware.NewLogger(s.logger))(handler)
	handler = httpmdlwr.RequestID()(handler)

	s.raw.Handle("/", handler)
	return s.raw
}

type endpoint func(ctx context.Context, w http.ResponseWriter, r *http.Request) (any, error)

func (s *Server) handle(method, verb, pattern string, wrap func(http.Handler) http.Handler, e endpoint) {
	var h http.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), goahttp.AcceptTypeKey, r.Header.Get("Accept"))
		res, err := e(ctx, w, r)
		if err != nil {
			s.encodeError(ctx, w, err)
			return
		}
		s.encode(ctx, w, http.StatusOK, res)
	})
	if wrap != nil {
		h = wrap(h)
	}
	s.mux.Handle(verb, pattern, h.ServeHTTP)
	s.Mounts = append(s.Mounts, MountPoint{Method: method, Verb: verb, Pattern: pattern})
}

func (s *Server) encode(ctx context.Context, w http.ResponseWriter, code int, v any) {
	enc := goahttp.ResponseEncoder(ctx, w)
	w.WriteHeader(code)
	if v == nil {
		return
	}
	if err := enc.Encode(v); err != nil {
		errorHandler(s.logger)(ctx, w, err)
	}
}

// ErrorBody is the error response shape
type ErrorBody struct {
	Name    string `json:"name"`
	ID      string `json:"id,omitempty"`
	Message string `json:"message"`
}

type namedError interface {
	ErrorName() string
}

func (s *Server) encodeError(ctx context.Context, w http.ResponseWriter, err error) {
	id, _ := ctx.Value(goamiddleware.RequestIDKey).(string)
	body := ErrorBody{Name: "internal", ID: id, Message: "internal error"}
	code := http.StatusInternalServerError

	var named namedError
	if errors.As(err, &named) {
		body.Name = named.ErrorName()
		body.Message = err.Error()
		switch body.Name {
		case "bad_request":
			code = http.StatusBadRequest
		case "unauthorized":
			code = http.StatusUnauthorized
		case "not_found":
			code = http.StatusNotFound
		case "unavailable":
			code = http.StatusServiceUnavailable
		}
	} else {
		s.logger.Printf("[%s] ERROR: %s", id, err.Error())
	}
	s.encode(ctx, w, code, body)
}

// errorHandler returns a function that writes and logs the given error.
// The function also writes and logs the error unique ID so that it's possible
// to correlate.
func errorHandler(logger *log.Logger) func(context.Context, http.ResponseWriter, error) {
	return func(ctx context.Context, w http.ResponseWriter, err error) {
		id, _ := ctx.Value(goamiddleware.RequestIDKey).(string)
		_, _ = w.Write([]byte("[" + id + "] encoding: " + err.Error()))
		logger.Printf("[%s] ERROR: %s", id, err.Error())
	}
}

func (s *Server) healthz(ctx context.Context, w http.ResponseWriter, r *http.Request) (any, error) {
	if err := s.svc.Health.Healthz(ctx); err != nil {
		return nil, err
	}
	return map[string]string{"status": "ok"}, nil
}

func (s *Server) readyz(ctx context.Context, w http.ResponseWriter, r *http.Request) (any, error) {
	if err := s.svc.Health.Readyz(ctx); err != nil {
		return nil, err
	}
	return map[string]string{"status": "ready"}, nil
}

func (s *Server) status(ctx context.Context, w http.ResponseWriter, r *http.Request) (any, error) {
	return s.svc.Status.Status(ctx)
}

func (s *Server) getSettings(ctx context.Context, w http.ResponseWriter, r *http.Request) (any, error) {
	return s.svc.Settings.Get(ctx)
}

func (s *Server) updateSettings(ctx context.Context, w http.ResponseWriter, r *http.Request) (any, error) {
	var body map[string]string
	if err := goahttp.RequestDecoder(r).Decode(&body); err != nil {
		return nil, &services.BadRequestError{Message: "invalid body: " + err.Error()}
	}
	return s.svc.Settings.Update(ctx, body)
}

func (s *Server) resetSetting(ctx context.Context, w http.ResponseWriter, r *http.Request) (any, error) {
	return s.svc.Settings.Reset(ctx, s.mux.Vars(r)["key"])
}

func (s *Server) login(ctx context.Context, w http.ResponseWriter, r *http.Request) (any, error) {
	var body services.LoginPayload
	if err := goahttp.RequestDecoder(r).Decode(&body); err != nil {
		return nil, &services.BadRequestError{Message: "invalid body: " + err.Error()}
	}
	return s.svc.Auth.Login(ctx, &body)
}

func (s *Server) authStatus(ctx context.Context, w http.ResponseWriter, r *http.Request) (any, error) {
	return s.svc.Auth.Status(ctx)
}

func (s *Server) testNotification(ctx context.Context, w http.ResponseWriter, r *http.Request) (any, error) {
	return s.svc.Notifications.Test(ctx)
}

func (s *Server) listAlerts(ctx context.Context, w http.ResponseWriter, r *http.Request) (any, error) {
	q := r.URL.Query()

	var since *time.Time
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return nil, &services.BadRequestError{Message: "since must be an RFC 3339 timestamp"}
		}
		since = &t
	}
	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return nil, &services.BadRequestError{Message: "limit must be a non-negative integer"}
		}
		limit = n
	}
	return s.svc.Alerts.List(ctx, since, limit)
}
