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
	"errors"
	"time"

	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/commercekube/storeplane/pkg/helm"
	"github.com/commercekube/storeplane/pkg/probe"
	"github.com/commercekube/storeplane/pkg/store"
)

const (
	// reasonTimeout is persisted when the readiness poll exhausts the
	// overall timeout.
	reasonTimeout = "Provisioning timed out"

	// reasonPodsNotReady is persisted on terminal pod failure.
	reasonPodsNotReady = "Pods not ready"

	// reasonSetupJobFailed is persisted when the setup job fails.
	reasonSetupJobFailed = "Setup job failed"

	// reasonExcerptLimit bounds persisted stderr excerpts.
	reasonExcerptLimit = 200
)

// provision drives one store from PROVISIONING to READY or FAILED.  With
// skipInstall the Helm step is bypassed entirely, recovery uses that when
// the release is already present.
func (p *Pool) provision(ctx context.Context, id string, skipInstall bool) {
	logger := log.FromContext(ctx)

	record, err := p.store.Get(ctx, id)
	if err != nil {
		logger.Error(err, "provisioning task cannot read record")

		return
	}

	if record.Status != store.StatusProvisioning {
		logger.Info("abandoning provisioning task", "status", record.Status)

		return
	}

	if !skipInstall {
		if ok := p.install(ctx, record); !ok {
			return
		}
	}

	url, reason := p.awaitReady(ctx, record)

	switch {
	case reason != "":
		p.fail(ctx, id, reason)
	case url != "":
		p.ready(ctx, id, url)
	default:
		// Shutdown mid-poll.  The record stays PROVISIONING and is
		// resumable on the next start.
		logger.Info("provisioning interrupted by shutdown")
	}
}

// install performs the install-if-absent step.  Returns false when the
// task is over because the store was marked FAILED.
func (p *Pool) install(ctx context.Context, record *store.Record) bool {
	logger := log.FromContext(ctx)

	exists, err := p.helm.ReleaseExists(ctx, record.HelmRelease, record.Namespace)
	if err != nil {
		// An unreadable release state is not fatal, the install path
		// classifies an existing release on its own.
		logger.Error(err, "release existence check failed, attempting install")
	}

	if exists {
		logger.Info("release already installed, entering readiness checks")

		return true
	}

	installsTotal.Inc()

	if err := p.helm.Install(ctx, p.installRequest(record)); err != nil {
		if !errors.Is(err, helm.ErrAlreadyExists) {
			p.fail(ctx, record.ID, "Helm install failed: "+helm.Excerpt(err, reasonExcerptLimit))

			return false
		}

		logger.Info("release appeared concurrently, entering readiness checks")
	}

	return true
}

func (p *Pool) installRequest(record *store.Record) *helm.InstallRequest {
	return &helm.InstallRequest{
		Release:        record.HelmRelease,
		Namespace:      record.Namespace,
		Name:           record.Name,
		Engine:         string(record.Engine),
		Domain:         p.options.Domain(record.Name),
		AdminUsername:  record.AdminUsername,
		AdminEmail:     record.AdminEmail,
		AdminPassword:  record.AdminPassword,
		DBName:         record.DBName,
		DBUsername:     record.DBUsername,
		DBPassword:     record.DBPassword,
		DBRootPassword: record.DBRootPassword,
	}
}

// awaitReady is the readiness poll loop.  It returns a store URL on
// success, a failure reason on terminal failure, or neither when shut
// down mid-poll.  Transient cluster errors are a no-op tick.
func (p *Pool) awaitReady(ctx context.Context, record *store.Record) (string, string) {
	logger := log.FromContext(ctx)

	deadline := time.Now().Add(p.options.Timeout)

	ticker := time.NewTicker(p.options.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return "", ""
		case <-ticker.C:
		}

		if time.Now().After(deadline) {
			return "", reasonTimeout
		}

		pods, err := p.probe.PodsReady(ctx, record.Namespace, record.HelmRelease)
		if err != nil {
			logger.V(1).Info("pod readiness deferred", "error", err)

			continue
		}

		if pods.AnyFailed {
			logger.Info("workload failed", "detail", pods.Detail)

			return "", reasonPodsNotReady
		}

		job, err := p.probe.JobStatus(ctx, record.Namespace, setupJobName(record))
		if err != nil {
			logger.V(1).Info("setup job status deferred", "error", err)

			continue
		}

		if job == probe.JobFailed {
			return "", reasonSetupJobFailed
		}

		host, err := p.probe.IngressHost(ctx, record.Namespace, record.HelmRelease)
		if err != nil {
			logger.V(1).Info("ingress lookup deferred", "error", err)

			continue
		}

		if pods.AllReady() && job == probe.JobSucceeded && host != "" {
			return p.options.Scheme() + "://" + host, ""
		}

		logger.V(1).Info("store not ready yet", "pods_ready", pods.Ready, "pods_total", pods.Total, "setup_job", job, "ingress", host)
	}
}

func (p *Pool) ready(ctx context.Context, id, url string) {
	logger := log.FromContext(ctx)

	if err := p.store.UpdateStatus(ctx, id, store.StatusReady, url, ""); err != nil {
		// Most likely the user deleted the store mid-provision and
		// the DELETING task owns it now.
		logger.Error(err, "could not mark store READY")

		return
	}

	provisionsTotal.WithLabelValues("ready").Inc()

	logger.Info("store ready", "url", url)
}

func (p *Pool) fail(ctx context.Context, id, reason string) {
	logger := log.FromContext(ctx)

	if err := p.store.UpdateStatus(ctx, id, store.StatusFailed, "", reason); err != nil {
		logger.Error(err, "could not mark store FAILED", "reason", reason)

		return
	}

	provisionsTotal.WithLabelValues("failed").Inc()

	logger.Info("store failed", "reason", reason)
}

// setupJobName is the conventional name of the chart's first-time
// configuration job.
func setupJobName(record *store.Record) string {
	return record.ID + "-" + string(record.Engine) + "-setup"
}
