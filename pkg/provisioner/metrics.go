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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

//nolint:gochecknoglobals
var (
	activeTasks = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "storeplane_worker_active_tasks",
		Help: "Tasks currently being executed by the worker pool.",
	})

	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "storeplane_worker_queue_depth",
		Help: "Tasks waiting for a free worker.",
	})

	installsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "storeplane_helm_installs_total",
		Help: "Helm install invocations issued.",
	})

	provisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storeplane_provisions_total",
		Help: "Provisioning attempts by terminal outcome.",
	}, []string{"outcome"})

	deleteRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "storeplane_delete_retries_total",
		Help: "Helm uninstall attempts that failed and were retried.",
	})
)
