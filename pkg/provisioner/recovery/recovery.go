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

// Package recovery reconciles persisted intent against cluster reality on
// process start.  It is the sole mechanism that makes provisioning
// idempotent across crashes: a store that already has a release resumes
// readiness polling instead of re-invoking Helm.
package recovery

import (
	"context"
	"time"

	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/commercekube/storeplane/pkg/helm"
	"github.com/commercekube/storeplane/pkg/provisioner"
	"github.com/commercekube/storeplane/pkg/store"
	"github.com/commercekube/storeplane/pkg/util/retry"
)

// Controller scans the store database once on startup and re-enqueues
// every non-terminal record.
type Controller struct {
	store *store.Store
	helm  helm.Interface
	pool  *provisioner.Pool

	// retryPeriod paces release existence retries when the cluster is
	// unreachable.  Cluster unavailability is not a store failure, so
	// recovery defers rather than marking anything FAILED.
	retryPeriod time.Duration
}

// New creates a recovery controller.
func New(s *store.Store, h helm.Interface, pool *provisioner.Pool, retryPeriod time.Duration) *Controller {
	return &Controller{
		store:       s,
		helm:        h,
		pool:        pool,
		retryPeriod: retryPeriod,
	}
}

// Run performs the reconciliation scan.  It must complete before the API
// accepts traffic so a resumed task cannot race a fresh user submission.
// The only error returned is context cancellation during shutdown.
func (c *Controller) Run(ctx context.Context) error {
	logger := log.FromContext(ctx)

	records, err := c.store.ListNonTerminal(ctx)
	if err != nil {
		return err
	}

	if len(records) == 0 {
		logger.Info("recovery found nothing to resume")

		return nil
	}

	logger.Info("recovering non-terminal stores", "count", len(records))

	for i := range records {
		record := &records[i]

		switch record.Status {
		case store.StatusDeleting:
			// Uninstall is naturally idempotent, resubmit as-is.
			logger.Info("resuming deletion", "store", record.ID)
			c.pool.SubmitDelete(record.ID)

		case store.StatusProvisioning:
			if err := c.recoverProvisioning(ctx, record); err != nil {
				return err
			}
		}
	}

	return nil
}

func (c *Controller) recoverProvisioning(ctx context.Context, record *store.Record) error {
	logger := log.FromContext(ctx)

	var exists bool

	callback := func() error {
		e, err := c.helm.ReleaseExists(ctx, record.HelmRelease, record.Namespace)
		if err != nil {
			logger.Error(err, "recovery deferred, cannot read release state", "store", record.ID)

			return err
		}

		exists = e

		return nil
	}

	if err := retry.WithContext(ctx).WithPeriod(c.retryPeriod).Do(callback); err != nil {
		return err
	}

	if exists {
		logger.Info("release survives, resuming readiness checks", "store", record.ID)
		c.pool.SubmitResume(record.ID)

		return nil
	}

	logger.Info("release missing, restarting provisioning", "store", record.ID)
	c.pool.SubmitInstall(record.ID)

	return nil
}
