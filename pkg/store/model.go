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

package store

import (
	"time"

	"github.com/commercekube/storeplane/pkg/constants"
)

// Status is the lifecycle state of a store.  The database enforces the
// transition graph, so an observed pair of statuses on the same record is
// always an edge of the state machine.
type Status string

const (
	StatusProvisioning Status = "PROVISIONING"
	StatusReady        Status = "READY"
	StatusFailed       Status = "FAILED"
	StatusDeleting     Status = "DELETING"
	StatusDeleted      Status = "DELETED"
)

// Terminal tells you whether a status can never change again, with the
// caveat that READY and FAILED may still be deleted.
func (s Status) Terminal() bool {
	return s == StatusReady || s == StatusFailed || s == StatusDeleted
}

// transitions is the edge set of the state machine.  Records are born
// PROVISIONING, so nothing transitions into it.
var transitions = map[Status][]Status{
	StatusProvisioning: {StatusReady, StatusFailed, StatusDeleting},
	StatusReady:        {StatusDeleting},
	StatusFailed:       {StatusDeleting},
	StatusDeleting:     {StatusDeleted},
	StatusDeleted:      {},
}

// CanTransition reports whether from -> to is a legal edge.
func (s Status) CanTransition(to Status) bool {
	for _, t := range transitions[s] {
		if t == to {
			return true
		}
	}

	return false
}

// Engine identifies the ecommerce engine a store runs.
type Engine string

const (
	EngineWooCommerce Engine = "woocommerce"
	EngineMedusa      Engine = "medusa"
)

// Valid reports whether the engine is part of the closed set.  Medusa is
// accepted here, the chart may still reject it downstream.
func (e Engine) Valid() bool {
	return e == EngineWooCommerce || e == EngineMedusa
}

// Record is the one persisted entity.  The database owning these rows is
// the source of truth for idempotency and crash recovery; everything the
// cluster shows is derived, observed state.
type Record struct {
	// ID is the primary identifier, derived from the name at creation.
	// It doubles as the Helm release name and is immutable.
	ID string `db:"id"`

	// Name is the user supplied label, unique across live records.
	Name string `db:"name"`

	// Engine is the ecommerce engine.
	Engine Engine `db:"engine"`

	// Namespace is deterministically store-<id>.
	Namespace string `db:"namespace"`

	// HelmRelease equals ID.  Persisted separately as an audit aid.
	HelmRelease string `db:"helm_release"`

	// Status is the current lifecycle state.
	Status Status `db:"status"`

	// StoreURL is set if and only if the status is READY.
	StoreURL string `db:"store_url"`

	// FailureReason is set if and only if the status is FAILED.
	FailureReason string `db:"failure_reason"`

	// AdminUsername, AdminEmail and AdminPassword are passed through to
	// Helm values.  The password is write-only at the API.
	AdminUsername string `db:"admin_username"`
	AdminEmail    string `db:"admin_email"`
	AdminPassword string `db:"admin_password"`

	// Database credentials generated at creation and handed to the
	// chart.  Write-only at the API like the admin password.
	DBName         string `db:"db_name"`
	DBUsername     string `db:"db_username"`
	DBPassword     string `db:"db_password"`
	DBRootPassword string `db:"db_root_password"`

	// CreatedAt and UpdatedAt are UTC audit timestamps.  UpdatedAt
	// advances on every mutation.
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// NamespaceForID derives the namespace a store's release lives in.
func NamespaceForID(id string) string {
	return constants.NamespacePrefix + id
}
