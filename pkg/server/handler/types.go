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

package handler

import (
	"time"

	"github.com/commercekube/storeplane/pkg/store"
)

// createStoreRequest is the POST /stores body.  All fields are required.
type createStoreRequest struct {
	Name          string `json:"name" validate:"required"`
	Engine        string `json:"engine" validate:"required,oneof=woocommerce medusa"`
	AdminUsername string `json:"admin_username" validate:"required"`
	AdminEmail    string `json:"admin_email" validate:"required,email"`
	AdminPassword string `json:"admin_password" validate:"required,min=8"`
}

// storeResponse is the wire form of a record.  Passwords never appear
// here, the admin and database credentials are write-only by design of
// the type, not by filtering.
type storeResponse struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Engine        string    `json:"engine"`
	Namespace     string    `json:"namespace"`
	HelmRelease   string    `json:"helm_release"`
	Status        string    `json:"status"`
	StoreURL      string    `json:"store_url,omitempty"`
	FailureReason string    `json:"failure_reason,omitempty"`
	AdminUsername string    `json:"admin_username"`
	AdminEmail    string    `json:"admin_email"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type listResponse struct {
	Stores []storeResponse `json:"stores"`
}

func newStoreResponse(record *store.Record) storeResponse {
	return storeResponse{
		ID:            record.ID,
		Name:          record.Name,
		Engine:        string(record.Engine),
		Namespace:     record.Namespace,
		HelmRelease:   record.HelmRelease,
		Status:        string(record.Status),
		StoreURL:      record.StoreURL,
		FailureReason: record.FailureReason,
		AdminUsername: record.AdminUsername,
		AdminEmail:    record.AdminEmail,
		CreatedAt:     record.CreatedAt.UTC(),
		UpdatedAt:     record.UpdatedAt.UTC(),
	}
}
