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

// Package probe is the read-only window into the cluster.  It never
// creates or mutates store resources, that's Helm's job; the one
// exception is best-effort namespace deletion during tear-down.
package probe

import (
	"context"
	"errors"
	"fmt"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"

	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/config"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/commercekube/storeplane/pkg/constants"
)

// ErrTransient wraps cluster API errors that should be retried on the
// next poll tick rather than failing a store.
var ErrTransient = errors.New("transient cluster error")

// IsTransient reports whether an error is retryable.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// crashLoopRestartThreshold is how many restarts a crash looping
// container gets before the store is declared failed.
const crashLoopRestartThreshold = 3

// PodSummary aggregates the readiness of a release's workload pods.
type PodSummary struct {
	// Ready is the number of pods whose containers are all ready.
	Ready int

	// Total is the number of workload pods observed.  Pods that ran to
	// completion are excluded, a finished setup job is not a workload.
	Total int

	// AnyFailed is set when a pod is in a terminal failure state.
	AnyFailed bool

	// Detail carries a human readable hint for logs when AnyFailed.
	Detail string
}

// AllReady is the workload readiness predicate.
func (s *PodSummary) AllReady() bool {
	return s.Total >= 1 && s.Ready == s.Total && !s.AnyFailed
}

// JobState is a coarse summary of a batch job.
type JobState string

const (
	JobPending   JobState = "Pending"
	JobRunning   JobState = "Running"
	JobSucceeded JobState = "Succeeded"
	JobFailed    JobState = "Failed"
)

// Interface abstracts the probe for the worker and its tests.
type Interface interface {
	// PodsReady summarises the pods labelled with the release.
	PodsReady(ctx context.Context, namespace, release string) (*PodSummary, error)

	// JobStatus reports the state of a named job.  An absent job is
	// Pending, not an error.
	JobStatus(ctx context.Context, namespace, name string) (JobState, error)

	// IngressHost returns the first rule host of the release's
	// ingress, or empty when not yet available.
	IngressHost(ctx context.Context, namespace, release string) (string, error)

	// NamespaceExists reports whether the namespace is present.
	NamespaceExists(ctx context.Context, namespace string) (bool, error)

	// DeleteNamespace removes the namespace.  Already gone is success.
	DeleteNamespace(ctx context.Context, namespace string) error
}

// Probe implements Interface against a real cluster.
type Probe struct {
	client client.Client
}

var _ Interface = &Probe{}

// New wraps an initialized Kubernetes client.
func New(c client.Client) *Probe {
	return &Probe{client: c}
}

// NewClient builds a Kubernetes client from the usual config sources,
// honouring KUBECONFIG and in-cluster service accounts.
func NewClient() (client.Client, error) {
	cfg, err := config.GetConfig()
	if err != nil {
		return nil, fmt.Errorf("kubernetes config: %w", err)
	}

	c, err := client.New(cfg, client.Options{Scheme: clientgoscheme.Scheme})
	if err != nil {
		return nil, fmt.Errorf("kubernetes client: %w", err)
	}

	return c, nil
}

// PodsReady implements the Interface.
func (p *Probe) PodsReady(ctx context.Context, namespace, release string) (*PodSummary, error) {
	pods := &corev1.PodList{}

	options := []client.ListOption{
		client.InNamespace(namespace),
		client.MatchingLabels{constants.InstanceLabel: release},
	}

	if err := p.client.List(ctx, pods, options...); err != nil {
		return nil, fmt.Errorf("%w: pod list: %v", ErrTransient, err)
	}

	summary := &PodSummary{}

	for i := range pods.Items {
		pod := &pods.Items[i]

		if pod.Status.Phase == corev1.PodSucceeded {
			continue
		}

		summary.Total++

		if pod.Status.Phase == corev1.PodFailed {
			summary.AnyFailed = true
			summary.Detail = pod.Name + ": pod failed"

			continue
		}

		ready := len(pod.Status.ContainerStatuses) > 0

		for _, container := range pod.Status.ContainerStatuses {
			if !container.Ready {
				ready = false
			}

			if waiting := container.State.Waiting; waiting != nil {
				switch waiting.Reason {
				case "CrashLoopBackOff":
					if container.RestartCount > crashLoopRestartThreshold {
						summary.AnyFailed = true
						summary.Detail = fmt.Sprintf("%s: CrashLoopBackOff (restarts: %d)", pod.Name, container.RestartCount)
					}
				case "ImagePullBackOff", "ErrImagePull":
					summary.AnyFailed = true
					summary.Detail = pod.Name + ": " + waiting.Reason
				}
			}
		}

		if ready {
			summary.Ready++
		}
	}

	log.FromContext(ctx).V(1).Info("pod summary", "namespace", namespace, "ready", summary.Ready, "total", summary.Total, "failed", summary.AnyFailed)

	return summary, nil
}

// JobStatus implements the Interface.
func (p *Probe) JobStatus(ctx context.Context, namespace, name string) (JobState, error) {
	job := &batchv1.Job{}

	if err := p.client.Get(ctx, client.ObjectKey{Namespace: namespace, Name: name}, job); err != nil {
		if apierrors.IsNotFound(err) {
			// The chart may not have created the job yet.
			return JobPending, nil
		}

		return JobPending, fmt.Errorf("%w: job get: %v", ErrTransient, err)
	}

	for _, condition := range job.Status.Conditions {
		if condition.Status != corev1.ConditionTrue {
			continue
		}

		switch condition.Type {
		case batchv1.JobComplete:
			return JobSucceeded, nil
		case batchv1.JobFailed:
			return JobFailed, nil
		}
	}

	if job.Status.Active > 0 {
		return JobRunning, nil
	}

	return JobPending, nil
}

// IngressHost implements the Interface.
func (p *Probe) IngressHost(ctx context.Context, namespace, release string) (string, error) {
	ingress := &networkingv1.Ingress{}

	if err := p.client.Get(ctx, client.ObjectKey{Namespace: namespace, Name: release}, ingress); err != nil {
		if apierrors.IsNotFound(err) {
			return "", nil
		}

		return "", fmt.Errorf("%w: ingress get: %v", ErrTransient, err)
	}

	if len(ingress.Spec.Rules) == 0 {
		return "", nil
	}

	return ingress.Spec.Rules[0].Host, nil
}

// NamespaceExists implements the Interface.
func (p *Probe) NamespaceExists(ctx context.Context, namespace string) (bool, error) {
	ns := &corev1.Namespace{}

	if err := p.client.Get(ctx, client.ObjectKey{Name: namespace}, ns); err != nil {
		if apierrors.IsNotFound(err) {
			return false, nil
		}

		return false, fmt.Errorf("%w: namespace get: %v", ErrTransient, err)
	}

	return true, nil
}

// DeleteNamespace implements the Interface.
func (p *Probe) DeleteNamespace(ctx context.Context, namespace string) error {
	ns := &corev1.Namespace{}
	ns.Name = namespace

	if err := p.client.Delete(ctx, ns); err != nil {
		if apierrors.IsNotFound(err) {
			return nil
		}

		return fmt.Errorf("%w: namespace delete: %v", ErrTransient, err)
	}

	log.FromContext(ctx).Info("namespace deleted", "namespace", namespace)

	return nil
}
