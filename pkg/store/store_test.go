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

package store_test

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/commercekube/storeplane/pkg/store"
)

var idRE = regexp.MustCompile(`^demo-shop-[0-9a-f]{8}$`)

func newStore(t *testing.T) *store.Store {
	t.Helper()

	s, err := store.Open(context.Background(), ":memory:")
	require.NoError(t, err)

	t.Cleanup(func() {
		s.Close()
	})

	return s
}

func createRequest() *store.CreateRequest {
	return &store.CreateRequest{
		Name:          "demo-shop",
		Engine:        store.EngineWooCommerce,
		AdminUsername: "admin",
		AdminEmail:    "admin@example.com",
		AdminPassword: "sup3rsecret",
	}
}

// TestCreate checks a new record gets a derived identity and generated
// database credentials, and starts in PROVISIONING.
func TestCreate(t *testing.T) {
	t.Parallel()

	s := newStore(t)

	record, err := s.Create(context.Background(), createRequest())
	require.NoError(t, err)

	assert.Regexp(t, idRE, record.ID)
	assert.Equal(t, "store-"+record.ID, record.Namespace)
	assert.Equal(t, record.ID, record.HelmRelease)
	assert.Equal(t, store.StatusProvisioning, record.Status)
	assert.Empty(t, record.StoreURL)
	assert.Empty(t, record.FailureReason)

	assert.Equal(t, "wordpress", record.DBName)
	assert.Equal(t, "store", record.DBUsername)
	assert.NotEmpty(t, record.DBPassword)
	assert.NotEmpty(t, record.DBRootPassword)
	assert.NotEqual(t, record.DBPassword, record.DBRootPassword)

	// And it round-trips.
	read, err := s.Get(context.Background(), record.ID)
	require.NoError(t, err)

	assert.Equal(t, record.ID, read.ID)
	assert.Equal(t, record.Name, read.Name)
	assert.Equal(t, store.StatusProvisioning, read.Status)
	assert.Equal(t, record.AdminPassword, read.AdminPassword)
}

// TestCreateMedusaDatabaseName checks the engine selects the database name.
func TestCreateMedusaDatabaseName(t *testing.T) {
	t.Parallel()

	s := newStore(t)

	request := createRequest()
	request.Engine = store.EngineMedusa

	record, err := s.Create(context.Background(), request)
	require.NoError(t, err)

	assert.Equal(t, "medusa", record.DBName)
}

// TestCreateInvalid checks attribute validation happens before any insert.
func TestCreateInvalid(t *testing.T) {
	t.Parallel()

	s := newStore(t)

	tests := []struct {
		name   string
		mutate func(*store.CreateRequest)
	}{
		{"bad name", func(r *store.CreateRequest) { r.Name = "Demo_Shop!" }},
		{"name too short", func(r *store.CreateRequest) { r.Name = "ab" }},
		{"bad engine", func(r *store.CreateRequest) { r.Engine = "shopify" }},
		{"missing username", func(r *store.CreateRequest) { r.AdminUsername = "" }},
		{"short password", func(r *store.CreateRequest) { r.AdminPassword = "short" }},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			request := createRequest()
			test.mutate(request)

			_, err := s.Create(context.Background(), request)
			assert.ErrorIs(t, err, store.ErrInvalid)
		})
	}
}

// TestCreateNameConflict checks a live record blocks reuse of its name.
func TestCreateNameConflict(t *testing.T) {
	t.Parallel()

	s := newStore(t)

	_, err := s.Create(context.Background(), createRequest())
	require.NoError(t, err)

	_, err = s.Create(context.Background(), createRequest())
	assert.ErrorIs(t, err, store.ErrNameConflict)
}

// TestCreateNameReuseAfterDelete checks a DELETED record releases its name.
func TestCreateNameReuseAfterDelete(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	ctx := context.Background()

	record, err := s.Create(ctx, createRequest())
	require.NoError(t, err)

	require.NoError(t, s.UpdateStatus(ctx, record.ID, store.StatusDeleting, "", ""))
	require.NoError(t, s.UpdateStatus(ctx, record.ID, store.StatusDeleted, "", ""))

	replacement, err := s.Create(ctx, createRequest())
	require.NoError(t, err)

	assert.NotEqual(t, record.ID, replacement.ID)
}

// TestGetNotFound checks unknown IDs yield the sentinel.
func TestGetNotFound(t *testing.T) {
	t.Parallel()

	s := newStore(t)

	_, err := s.Get(context.Background(), "nope-00000000")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

// TestList checks ordering is newest first and DELETED records remain
// visible.
func TestList(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	ctx := context.Background()

	first, err := s.Create(ctx, createRequest())
	require.NoError(t, err)

	// Distinct creation timestamps make the ordering deterministic.
	time.Sleep(5 * time.Millisecond)

	second := createRequest()
	second.Name = "other-shop"

	latest, err := s.Create(ctx, second)
	require.NoError(t, err)

	require.NoError(t, s.UpdateStatus(ctx, first.ID, store.StatusDeleting, "", ""))
	require.NoError(t, s.UpdateStatus(ctx, first.ID, store.StatusDeleted, "", ""))

	records, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, latest.ID, records[0].ID)
	assert.Equal(t, first.ID, records[1].ID)
	assert.Equal(t, store.StatusDeleted, records[1].Status)
}

// TestListNonTerminal checks only PROVISIONING and DELETING records are
// returned to recovery.
func TestListNonTerminal(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	ctx := context.Background()

	provisioning, err := s.Create(ctx, createRequest())
	require.NoError(t, err)

	readyRequest := createRequest()
	readyRequest.Name = "ready-shop"

	ready, err := s.Create(ctx, readyRequest)
	require.NoError(t, err)
	require.NoError(t, s.UpdateStatus(ctx, ready.ID, store.StatusReady, "http://ready-shop.localhost", ""))

	deletingRequest := createRequest()
	deletingRequest.Name = "dying-shop"

	deleting, err := s.Create(ctx, deletingRequest)
	require.NoError(t, err)
	require.NoError(t, s.UpdateStatus(ctx, deleting.ID, store.StatusDeleting, "", ""))

	records, err := s.ListNonTerminal(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)

	ids := []string{records[0].ID, records[1].ID}
	assert.Contains(t, ids, provisioning.ID)
	assert.Contains(t, ids, deleting.ID)
}

// TestUpdateStatus walks the happy paths of the state machine.
func TestUpdateStatus(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	ctx := context.Background()

	record, err := s.Create(ctx, createRequest())
	require.NoError(t, err)

	require.NoError(t, s.UpdateStatus(ctx, record.ID, store.StatusReady, "http://demo-shop.localhost", ""))

	read, err := s.Get(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusReady, read.Status)
	assert.Equal(t, "http://demo-shop.localhost", read.StoreURL)
	assert.True(t, read.UpdatedAt.After(read.CreatedAt) || read.UpdatedAt.Equal(read.CreatedAt))

	require.NoError(t, s.UpdateStatus(ctx, record.ID, store.StatusDeleting, "", ""))
	require.NoError(t, s.UpdateStatus(ctx, record.ID, store.StatusDeleted, "", ""))

	read, err = s.Get(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusDeleted, read.Status)

	// READY's URL is cleared on the way out.
	assert.Empty(t, read.StoreURL)
}

// TestUpdateStatusFailure checks the failure reason is persisted and
// cleared again when deletion begins.
func TestUpdateStatusFailure(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	ctx := context.Background()

	record, err := s.Create(ctx, createRequest())
	require.NoError(t, err)

	require.NoError(t, s.UpdateStatus(ctx, record.ID, store.StatusFailed, "", "Helm install failed: boom"))

	read, err := s.Get(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusFailed, read.Status)
	assert.Equal(t, "Helm install failed: boom", read.FailureReason)

	require.NoError(t, s.UpdateStatus(ctx, record.ID, store.StatusDeleting, "", ""))

	read, err = s.Get(ctx, record.ID)
	require.NoError(t, err)
	assert.Empty(t, read.FailureReason)
}

// TestUpdateStatusIllegal checks non-edges of the state machine are
// rejected without modifying the record.
func TestUpdateStatusIllegal(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	ctx := context.Background()

	record, err := s.Create(ctx, createRequest())
	require.NoError(t, err)

	require.NoError(t, s.UpdateStatus(ctx, record.ID, store.StatusDeleting, "", ""))
	require.NoError(t, s.UpdateStatus(ctx, record.ID, store.StatusDeleted, "", ""))

	err = s.UpdateStatus(ctx, record.ID, store.StatusDeleting, "", "")
	assert.ErrorIs(t, err, store.ErrIllegalTransition)

	err = s.UpdateStatus(ctx, record.ID, store.StatusReady, "http://demo-shop.localhost", "")
	assert.ErrorIs(t, err, store.ErrIllegalTransition)

	read, err := s.Get(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusDeleted, read.Status)
}

// TestUpdateStatusInvariants checks the URL and reason column rules.
func TestUpdateStatusInvariants(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	ctx := context.Background()

	record, err := s.Create(ctx, createRequest())
	require.NoError(t, err)

	// READY without a URL.
	assert.ErrorIs(t, s.UpdateStatus(ctx, record.ID, store.StatusReady, "", ""), store.ErrInvalid)

	// FAILED without a reason.
	assert.ErrorIs(t, s.UpdateStatus(ctx, record.ID, store.StatusFailed, "", ""), store.ErrInvalid)

	// A URL on a non-READY transition.
	assert.ErrorIs(t, s.UpdateStatus(ctx, record.ID, store.StatusDeleting, "http://x", ""), store.ErrInvalid)

	// A reason on a non-FAILED transition.
	assert.ErrorIs(t, s.UpdateStatus(ctx, record.ID, store.StatusDeleting, "", "oops"), store.ErrInvalid)

	// Unknown record.
	assert.ErrorIs(t, s.UpdateStatus(ctx, "nope-00000000", store.StatusDeleting, "", ""), store.ErrNotFound)
}

// TestCanTransition pins the edge set of the state machine.
func TestCanTransition(t *testing.T) {
	t.Parallel()

	legal := []struct {
		from store.Status
		to   store.Status
	}{
		{store.StatusProvisioning, store.StatusReady},
		{store.StatusProvisioning, store.StatusFailed},
		{store.StatusProvisioning, store.StatusDeleting},
		{store.StatusReady, store.StatusDeleting},
		{store.StatusFailed, store.StatusDeleting},
		{store.StatusDeleting, store.StatusDeleted},
	}

	for _, edge := range legal {
		assert.True(t, edge.from.CanTransition(edge.to), "%s -> %s", edge.from, edge.to)
	}

	illegal := []struct {
		from store.Status
		to   store.Status
	}{
		{store.StatusReady, store.StatusProvisioning},
		{store.StatusReady, store.StatusReady},
		{store.StatusFailed, store.StatusReady},
		{store.StatusDeleting, store.StatusReady},
		{store.StatusDeleted, store.StatusDeleting},
		{store.StatusDeleted, store.StatusProvisioning},
	}

	for _, edge := range illegal {
		assert.False(t, edge.from.CanTransition(edge.to), "%s -> %s", edge.from, edge.to)
	}
}

// TestNameValid pins the user supplied name shape.
func TestNameValid(t *testing.T) {
	t.Parallel()

	assert.True(t, store.NameValid("demo-shop"))
	assert.True(t, store.NameValid("abc"))
	assert.True(t, store.NameValid("a2c-4e6"))

	assert.False(t, store.NameValid("ab"))
	assert.False(t, store.NameValid("-demo"))
	assert.False(t, store.NameValid("demo-"))
	assert.False(t, store.NameValid("Demo"))
	assert.False(t, store.NameValid("demo shop"))
	assert.False(t, store.NameValid("demo_shop"))
}
