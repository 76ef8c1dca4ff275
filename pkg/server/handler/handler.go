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

// Package handler translates the REST surface into store store calls and
// worker submissions.  It holds no state of its own and never reaches
// into the worker beyond enqueueing.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	chi "github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/commercekube/storeplane/pkg/constants"
	serverrors "github.com/commercekube/storeplane/pkg/server/errors"
	"github.com/commercekube/storeplane/pkg/store"
)

// Submitter is the face of the worker pool the API needs: enqueue and
// forget.  Provisioning outcomes are only ever observed via the store.
type Submitter interface {
	SubmitInstall(id string)
	SubmitDelete(id string)
}

// Handler services the REST API.
type Handler struct {
	store    *store.Store
	worker   Submitter
	validate *validator.Validate
}

// New creates a request handler.
func New(s *store.Store, worker Submitter) *Handler {
	return &Handler{
		store:    s,
		worker:   worker,
		validate: validator.New(),
	}
}

// AddRoutes registers the API surface on the router.
func (h *Handler) AddRoutes(router chi.Router) {
	router.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", h.health)
		r.Get("/stores", h.listStores)
		r.Post("/stores", h.createStore)
		r.Get("/stores/{id}", h.getStore)
		r.Delete("/stores/{id}", h.deleteStore)
	})
}

// NotFound is the top level handler for unroutable paths.
func NotFound(w http.ResponseWriter, r *http.Request) {
	serverrors.HTTPNotFound("resource not found").Write(w, r)
}

// MethodNotAllowed is the top level handler for unroutable methods.
func MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	serverrors.HTTPMethodNotAllowed().Write(w, r)
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.FromContext(r.Context()).Error(err, "failed to write response body")
	}
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": constants.Service,
	})
}

func (h *Handler) listStores(w http.ResponseWriter, r *http.Request) {
	records, err := h.store.List(r.Context())
	if err != nil {
		serverrors.HandleError(w, r, err)

		return
	}

	stores := make([]storeResponse, len(records))

	for i := range records {
		stores[i] = newStoreResponse(&records[i])
	}

	writeJSON(w, r, http.StatusOK, listResponse{Stores: stores})
}

func (h *Handler) getStore(w http.ResponseWriter, r *http.Request) {
	record, err := h.store.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			serverrors.HTTPNotFound("store not found").WithError(err).Write(w, r)

			return
		}

		serverrors.HandleError(w, r, err)

		return
	}

	writeJSON(w, r, http.StatusOK, newStoreResponse(record))
}

func (h *Handler) createStore(w http.ResponseWriter, r *http.Request) {
	request := &createStoreRequest{}

	if err := json.NewDecoder(r.Body).Decode(request); err != nil {
		serverrors.HTTPBadRequest("request body is not valid JSON").WithError(err).Write(w, r)

		return
	}

	if err := h.validateCreate(request); err != nil {
		err.Write(w, r)

		return
	}

	record, err := h.store.Create(r.Context(), &store.CreateRequest{
		Name:          request.Name,
		Engine:        store.Engine(request.Engine),
		AdminUsername: request.AdminUsername,
		AdminEmail:    request.AdminEmail,
		AdminPassword: request.AdminPassword,
	})
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNameConflict):
			serverrors.HTTPConflict("store name already in use").WithError(err).Write(w, r)
		case errors.Is(err, store.ErrInvalid):
			serverrors.HTTPBadRequest(err.Error()).Write(w, r)
		default:
			serverrors.HandleError(w, r, err)
		}

		return
	}

	h.worker.SubmitInstall(record.ID)

	writeJSON(w, r, http.StatusAccepted, newStoreResponse(record))
}

func (h *Handler) validateCreate(request *createStoreRequest) *serverrors.HTTPError {
	if err := h.validate.Struct(request); err != nil {
		var fieldErrors validator.ValidationErrors

		if errors.As(err, &fieldErrors) && len(fieldErrors) > 0 {
			field := fieldErrors[0]

			return serverrors.HTTPBadRequest("field " + field.Field() + " failed " + field.Tag() + " validation").WithError(err)
		}

		return serverrors.HTTPBadRequest("invalid request").WithError(err)
	}

	if !store.NameValid(request.Name) {
		return serverrors.HTTPBadRequest("name must be 3-50 lowercase alphanumerics or hyphens, starting and ending alphanumeric")
	}

	return nil
}

func (h *Handler) deleteStore(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	record, err := h.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			serverrors.HTTPNotFound("store not found").WithError(err).Write(w, r)

			return
		}

		serverrors.HandleError(w, r, err)

		return
	}

	switch record.Status {
	case store.StatusDeleted:
		serverrors.HTTPConflict("store already deleted").Write(w, r)

		return

	case store.StatusDeleting:
		// Deletion already requested, resubmitting is harmless as the
		// worker abandons tasks whose precondition fails.

	default:
		if err := h.store.UpdateStatus(r.Context(), id, store.StatusDeleting, "", ""); err != nil {
			if !errors.Is(err, store.ErrIllegalTransition) {
				serverrors.HandleError(w, r, err)

				return
			}

			// A concurrent DELETE won the transition between our read
			// and the update.  Re-read and treat the result like the
			// branches above.
			current, gerr := h.store.Get(r.Context(), id)
			if gerr != nil {
				serverrors.HandleError(w, r, gerr)

				return
			}

			switch current.Status {
			case store.StatusDeleting:
				// Enqueue below, resubmission is harmless.

			case store.StatusDeleted:
				serverrors.HTTPConflict("store already deleted").WithError(err).Write(w, r)

				return

			default:
				serverrors.HandleError(w, r, err)

				return
			}
		}
	}

	h.worker.SubmitDelete(id)

	writeJSON(w, r, http.StatusAccepted, map[string]string{
		"id":     id,
		"status": string(store.StatusDeleting),
	})
}
