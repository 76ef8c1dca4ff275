/*
Copyright 2024 CommerceKube.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package errors

import (
	"encoding/json"
	"errors"
	"net/http"

	"sigs.k8s.io/controller-runtime/pkg/log"
)

// ErrRequest is raised for all handler errors.
var ErrRequest = errors.New("request error")

// HTTPError wraps ErrRequest with contextual information used to
// propagate and create suitable responses.
type HTTPError struct {
	// status is the HTTP error code.
	status int

	// description is returned to the user and logged.
	description string

	// err is set when the originator was an error.  This is only used
	// for logging so as not to leak server internals to the client.
	err error

	// values are arbitrary key value pairs for logging.
	values []interface{}
}

func newHTTPError(status int, description string) *HTTPError {
	return &HTTPError{
		status:      status,
		description: description,
	}
}

// WithError augments the error with an error from a library.
func (e *HTTPError) WithError(err error) *HTTPError {
	e.err = err

	return e
}

// WithValues augments the error with a set of K/V pairs.
// Values should not use the "error" key as that's implicitly defined
// by WithError and could collide.
func (e *HTTPError) WithValues(values ...interface{}) *HTTPError {
	e.values = values

	return e
}

// Unwrap implements Go 1.13 errors.
func (e *HTTPError) Unwrap() error {
	return ErrRequest
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	return e.description
}

// Write returns the error code and description to the client.
func (e *HTTPError) Write(w http.ResponseWriter, r *http.Request) {
	// Log out any detail from the error that shouldn't be reported to
	// the client.  Do it before things can error and return.
	logger := log.FromContext(r.Context())

	var details []interface{}

	if e.description != "" {
		details = append(details, "detail", e.description)
	}

	if e.err != nil {
		details = append(details, "error", e.err)
	}

	if e.values != nil {
		details = append(details, e.values...)
	}

	logger.Info("error detail", details...)

	w.Header().Add("Cache-Control", "no-cache")
	w.Header().Add("Content-Type", "application/json")
	w.WriteHeader(e.status)

	body, err := json.Marshal(map[string]string{"message": e.description})
	if err != nil {
		logger.Error(err, "failed to marshal error response")

		return
	}

	if _, err := w.Write(body); err != nil {
		logger.Error(err, "failed to write error response")

		return
	}
}

// HTTPBadRequest indicates a client validation error.
func HTTPBadRequest(description string) *HTTPError {
	return newHTTPError(http.StatusBadRequest, description)
}

// HTTPNotFound indicates the resource doesn't exist.
func HTTPNotFound(description string) *HTTPError {
	return newHTTPError(http.StatusNotFound, description)
}

// HTTPConflict indicates the request contradicts live state, e.g. a name
// that is already taken.
func HTTPConflict(description string) *HTTPError {
	return newHTTPError(http.StatusConflict, description)
}

// HTTPMethodNotAllowed indicates an unroutable method.
func HTTPMethodNotAllowed() *HTTPError {
	return newHTTPError(http.StatusMethodNotAllowed, "the requested method was not allowed")
}

// HTTPInternalServerError tells the client we are at fault, this should
// never be seen in production.  If so then our testing needs to improve.
func HTTPInternalServerError(description string) *HTTPError {
	return newHTTPError(http.StatusInternalServerError, description)
}

// toHTTPError is a handy unwrapper to get a HTTP error from a generic one.
func toHTTPError(err error) *HTTPError {
	var httpErr *HTTPError

	if !errors.As(err, &httpErr) {
		return nil
	}

	return httpErr
}

// HandleError is the top level error handler that should be called from
// all path handlers on error.
func HandleError(w http.ResponseWriter, r *http.Request, err error) {
	if httpError := toHTTPError(err); httpError != nil {
		httpError.Write(w, r)

		return
	}

	log.FromContext(r.Context()).Error(err, "unhandled error")

	HTTPInternalServerError("unhandled error").Write(w, r)
}
