package daemon

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
	"github.com/weaveworks/common/middleware"

	"github.com/canarymesh/canary/pkg/api"
	transport "github.com/canarymesh/canary/pkg/http"
	canarymetrics "github.com/canarymesh/canary/pkg/metrics"
)

var (
	requestDuration = stdprometheus.NewHistogramVec(stdprometheus.HistogramOpts{
		Namespace: "canary",
		Name:      "request_duration_seconds",
		Help:      "Time (in seconds) spent serving HTTP requests.",
		Buckets:   stdprometheus.DefBuckets,
	}, []string{canarymetrics.LabelMethod, canarymetrics.LabelRoute, "status_code", "ws"})
)

func init() {
	stdprometheus.MustRegister(requestDuration)
}

// NewRouter declares the daemon's routes, with a catch-all so
// unknown paths get a JSON 404 rather than the default page.
func NewRouter() *mux.Router {
	r := transport.NewAPIRouter()
	r.NewRoute().Name("NotFound").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		transport.WriteError(w, r, http.StatusNotFound, errNotFound{r.URL.Path})
	})
	return r
}

type errNotFound struct{ path string }

func (e errNotFound) Error() string { return "path not found: " + e.path }

// NewHandler attaches handlers for s to the router and wraps the lot
// in request instrumentation.
func NewHandler(s api.Server, r *mux.Router) http.Handler {
	handle := HTTPServer{s}

	r.Get(transport.Ping).HandlerFunc(handle.Ping)
	r.Get(transport.Version).HandlerFunc(handle.Version)
	r.Get(transport.Status).HandlerFunc(handle.Status)
	r.Get(transport.Events).HandlerFunc(handle.Events)
	r.Get(transport.StartCanary).HandlerFunc(handle.StartCanary)
	r.Get(transport.Validate).HandlerFunc(handle.Validate)
	r.Get(transport.Promote).HandlerFunc(handle.Promote)
	r.Get(transport.Rollback).HandlerFunc(handle.Rollback)

	return middleware.Instrument{
		RouteMatcher: r,
		Duration:     requestDuration,
	}.Wrap(r)
}

type HTTPServer struct {
	server api.Server
}

func (s HTTPServer) Ping(w http.ResponseWriter, r *http.Request) {
	if err := s.server.Ping(r.Context()); err != nil {
		transport.ErrorResponse(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s HTTPServer) Version(w http.ResponseWriter, r *http.Request) {
	version, err := s.server.Version(r.Context())
	if err != nil {
		transport.ErrorResponse(w, r, err)
		return
	}
	transport.JSONResponse(w, r, version)
}

func (s HTTPServer) Status(w http.ResponseWriter, r *http.Request) {
	state, err := s.server.Status(r.Context(), r.URL.Query().Get("namespace"))
	if err != nil {
		transport.ErrorResponse(w, r, err)
		return
	}
	transport.JSONResponse(w, r, state)
}

func (s HTTPServer) Events(w http.ResponseWriter, r *http.Request) {
	n, _ := strconv.Atoi(r.URL.Query().Get("n"))
	events, err := s.server.Events(r.Context(), r.URL.Query().Get("namespace"), n)
	if err != nil {
		transport.ErrorResponse(w, r, err)
		return
	}
	transport.JSONResponse(w, r, events)
}

func (s HTTPServer) StartCanary(w http.ResponseWriter, r *http.Request) {
	var spec api.StartCanarySpec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		transport.WriteError(w, r, http.StatusBadRequest, err)
		return
	}
	state, err := s.server.StartCanary(r.Context(), spec)
	if err != nil {
		transport.ErrorResponse(w, r, err)
		return
	}
	transport.JSONResponse(w, r, state)
}

func (s HTTPServer) Validate(w http.ResponseWriter, r *http.Request) {
	var spec api.ValidateSpec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		transport.WriteError(w, r, http.StatusBadRequest, err)
		return
	}
	result, err := s.server.Validate(r.Context(), spec)
	if err != nil {
		transport.ErrorResponse(w, r, err)
		return
	}
	transport.JSONResponse(w, r, result)
}

func (s HTTPServer) Promote(w http.ResponseWriter, r *http.Request) {
	var spec api.PromoteSpec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		transport.WriteError(w, r, http.StatusBadRequest, err)
		return
	}
	state, err := s.server.Promote(r.Context(), spec)
	if err != nil {
		transport.ErrorResponse(w, r, err)
		return
	}
	transport.JSONResponse(w, r, state)
}

func (s HTTPServer) Rollback(w http.ResponseWriter, r *http.Request) {
	var spec api.RollbackSpec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		transport.WriteError(w, r, http.StatusBadRequest, err)
		return
	}
	state, err := s.server.Rollback(r.Context(), spec)
	if err != nil {
		transport.ErrorResponse(w, r, err)
		return
	}
	transport.JSONResponse(w, r, state)
}
