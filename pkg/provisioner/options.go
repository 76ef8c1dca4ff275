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
	"time"

	"github.com/spf13/pflag"

	"github.com/commercekube/storeplane/pkg/util"
)

// Options configure the worker pool and the readiness poll loop.
type Options struct {
	// Workers bounds the number of simultaneously active tasks.
	Workers int

	// PollInterval is the readiness poll cadence.
	PollInterval time.Duration

	// Timeout bounds a whole provisioning (or deletion) attempt.  Helm
	// CLI time does not count against it, the CLI has its own
	// execution timeouts.
	Timeout time.Duration

	// BaseDomain is the suffix stores are exposed under.
	BaseDomain string

	// TLS selects the https scheme for store URLs.
	TLS bool
}

// NewOptions returns environment-defaulted options.
func NewOptions() *Options {
	return &Options{
		Workers:      util.GetenvInt("PROVISIONING_MAX_WORKERS", 5),
		PollInterval: util.GetenvSeconds("PROVISIONING_POLL_INTERVAL_SECONDS", 5*time.Second),
		Timeout:      util.GetenvSeconds("PROVISIONING_TIMEOUT_SECONDS", 600*time.Second),
		BaseDomain:   util.Getenv("BASE_DOMAIN", "localhost"),
		TLS:          util.Getenv("TLS_ENABLED", "") == "true",
	}
}

// AddFlags allows the options to be overridden on the command line.
func (o *Options) AddFlags(f *pflag.FlagSet) {
	f.IntVar(&o.Workers, "provisioning-max-workers", o.Workers, "Maximum concurrent provisioning tasks.")
	f.DurationVar(&o.PollInterval, "provisioning-poll-interval", o.PollInterval, "Readiness poll cadence.")
	f.DurationVar(&o.Timeout, "provisioning-timeout", o.Timeout, "Overall readiness timeout per store.")
	f.StringVar(&o.BaseDomain, "base-domain", o.BaseDomain, "Domain suffix stores are exposed under.")
	f.BoolVar(&o.TLS, "tls", o.TLS, "Emit https store URLs.")
}

// Scheme returns the URL scheme store URLs are built with.
func (o *Options) Scheme() string {
	if o.TLS {
		return "https"
	}

	return "http"
}

// Domain returns the external domain for a store name.
func (o *Options) Domain(name string) string {
	return name + "." + o.BaseDomain
}
