package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"path"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"github.com/canarymesh/canary/pkg/cluster"
	"github.com/canarymesh/canary/pkg/release"
)

// NewAPIRouter declares the API routes. Handlers are attached
// separately (by the daemon); the client uses the same router to
// construct URLs.
func NewAPIRouter() *mux.Router {
	r := mux.NewRouter()

	r.NewRoute().Name(Ping).Methods("GET").Path("/v1/ping")
	r.NewRoute().Name(Version).Methods("GET").Path("/v1/version")
	r.NewRoute().Name(Status).Methods("GET").Path("/v1/status")
	r.NewRoute().Name(Events).Methods("GET").Path("/v1/events")

	r.NewRoute().Name(StartCanary).Methods("POST").Path("/v1/canary")
	r.NewRoute().Name(Validate).Methods("POST").Path("/v1/validate")
	r.NewRoute().Name(Promote).Methods("POST").Path("/v1/promote")
	r.NewRoute().Name(Rollback).Methods("POST").Path("/v1/rollback")

	return r
}

// MakeURL builds a request URL for a named route against the given
// endpoint.
func MakeURL(endpoint string, router *mux.Router, routeName string, urlParams ...string) (*url.URL, error) {
	if len(urlParams)%2 != 0 {
		panic("urlParams must be even!")
	}

	endpointURL, err := url.Parse(endpoint)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing endpoint %s", endpoint)
	}
	route := router.Get(routeName)
	if route == nil {
		return nil, errors.New("no route with name " + routeName)
	}
	routeURL, err := route.URLPath()
	if err != nil {
		return nil, errors.Wrapf(err, "retrieving route path %s", routeName)
	}

	v := url.Values{}
	for i := 0; i < len(urlParams); i += 2 {
		v.Add(urlParams[i], urlParams[i+1])
	}

	endpointURL.Path = path.Join(endpointURL.Path, routeURL.Path)
	endpointURL.RawQuery = v.Encode()
	return endpointURL, nil
}

func JSONResponse(w http.ResponseWriter, r *http.Request, result interface{}) {
	body, err := json.Marshal(result)
	if err != nil {
		ErrorResponse(w, r, err)
		return
	}

	w.Header().Set(http.CanonicalHeaderKey("Content-Type"), "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

// ErrorResponse renders err as JSON, picking the status code from
// the release error taxonomy where one applies.
func ErrorResponse(w http.ResponseWriter, r *http.Request, apiError error) {
	WriteError(w, r, statusCode(apiError), apiError)
}

func statusCode(err error) int {
	switch errors.Cause(err).(type) {
	case *release.Error:
		switch release.ErrorKind(errors.Cause(err)) {
		case release.InvalidWeight, release.InvalidPhaseTransition:
			return http.StatusBadRequest
		case release.ConflictingOperation:
			return http.StatusConflict
		case release.ValidationFailed:
			return http.StatusUnprocessableEntity
		case release.ClusterUnavailable, release.RolloutTimeout:
			return http.StatusBadGateway
		case release.Cancelled:
			return http.StatusServiceUnavailable
		}
	case cluster.ErrNotFound:
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func WriteError(w http.ResponseWriter, r *http.Request, code int, err error) {
	body, encodeErr := json.Marshal(err)
	if encodeErr != nil || string(body) == "{}" {
		// not one of our structured errors; send the text
		body, encodeErr = json.Marshal(map[string]string{"error": err.Error()})
	}
	if encodeErr != nil {
		w.Header().Set(http.CanonicalHeaderKey("Content-Type"), "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprintf(w, "Error encoding error response: %s\n\nOriginal error: %s", encodeErr.Error(), err.Error())
		return
	}
	w.Header().Set(http.CanonicalHeaderKey("Content-Type"), "application/json; charset=utf-8")
	w.WriteHeader(code)
	w.Write(body)
}
