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

package helm

import (
	"time"

	"github.com/spf13/pflag"

	"github.com/commercekube/storeplane/pkg/util"
)

// Options configure the Helm executor.  Defaults come from the
// environment so container deployments need not pass flags.
type Options struct {
	// Binary is the helm executable.
	Binary string

	// ChartPath locates the store chart.
	ChartPath string

	// ValuesFile is the base values file, relative to the chart.
	ValuesFile string

	// EnvValuesFile overlays environment specific values.
	EnvValuesFile string

	// InstallTimeout bounds a single CLI install invocation.  This is
	// not the provisioning readiness timeout.
	InstallTimeout time.Duration

	// UninstallTimeout bounds a single CLI uninstall invocation.
	UninstallTimeout time.Duration

	// StatusTimeout bounds status and version queries.
	StatusTimeout time.Duration
}

// NewOptions returns environment-defaulted options.
func NewOptions() *Options {
	return &Options{
		Binary:           util.Getenv("HELM_BINARY", "helm"),
		ChartPath:        util.Getenv("HELM_CHART_PATH", "helm/store"),
		ValuesFile:       util.Getenv("HELM_VALUES_FILE", "values.yaml"),
		EnvValuesFile:    util.Getenv("HELM_ENV_VALUES_FILE", "values-local.yaml"),
		InstallTimeout:   5 * time.Minute,
		UninstallTimeout: 2 * time.Minute,
		StatusTimeout:    30 * time.Second,
	}
}

// AddFlags allows the options to be overridden on the command line.
func (o *Options) AddFlags(f *pflag.FlagSet) {
	f.StringVar(&o.Binary, "helm-binary", o.Binary, "Helm executable to invoke.")
	f.StringVar(&o.ChartPath, "helm-chart-path", o.ChartPath, "Path to the store chart.")
	f.StringVar(&o.ValuesFile, "helm-values-file", o.ValuesFile, "Base values file, relative to the chart.")
	f.StringVar(&o.EnvValuesFile, "helm-env-values-file", o.EnvValuesFile, "Environment values file, relative to the chart.")
	f.DurationVar(&o.InstallTimeout, "helm-install-timeout", o.InstallTimeout, "Execution timeout for helm install.")
	f.DurationVar(&o.UninstallTimeout, "helm-uninstall-timeout", o.UninstallTimeout, "Execution timeout for helm uninstall.")
	f.DurationVar(&o.StatusTimeout, "helm-status-timeout", o.StatusTimeout, "Execution timeout for helm status queries.")
}
