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

package provisioner

import (
	"context"
	"time"

	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/commercekube/storeplane/pkg/store"
)

// delete drives one store from DELETING to DELETED.  Uninstall errors are
// retried within the overall timeout; on exhaustion the record stays
// DELETING with the latest error logged for operators, a delete never
// transitions to FAILED.
func (p *Pool) delete(ctx context.Context, id string) {
	logger := log.FromContext(ctx)

	record, err := p.store.Get(ctx, id)
	if err != nil {
		logger.Error(err, "delete task cannot read record")

		return
	}

	if record.Status != store.StatusDeleting {
		logger.Info("abandoning delete task", "status", record.Status)

		return
	}

	deadline := time.Now().Add(p.options.Timeout)

	for {
		err := p.helm.Uninstall(ctx, record.HelmRelease, record.Namespace)
		if err == nil {
			break
		}

		if time.Now().After(deadline) {
			logger.Error(err, "uninstall retries exhausted, store stays DELETING")

			return
		}

		deleteRetriesTotal.Inc()

		logger.Error(err, "uninstall failed, retrying")

		select {
		case <-ctx.Done():
			logger.Info("deletion interrupted by shutdown")

			return
		case <-time.After(p.options.PollInterval):
		}
	}

	// The release owned everything in the namespace, removing the
	// namespace itself is best-effort tidying.
	if err := p.probe.DeleteNamespace(ctx, record.Namespace); err != nil {
		logger.Info("namespace deletion left to the cluster", "namespace", record.Namespace, "error", err)
	}

	if err := p.store.UpdateStatus(ctx, id, store.StatusDeleted, "", ""); err != nil {
		logger.Error(err, "could not mark store DELETED")

		return
	}

	logger.Info("store deleted")
}
