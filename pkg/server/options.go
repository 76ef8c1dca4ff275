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

package server

import (
	"time"

	"github.com/spf13/pflag"

	"github.com/commercekube/storeplane/pkg/util"
)

// Options are server specific options e.g. listener address etc.
type Options struct {
	// ListenAddress tells the server what to listen on, it's already
	// non-privileged and shouldn't clash with anything.
	ListenAddress string

	// ReadTimeout defines how long before we give up on the client,
	// this should be fairly short.
	ReadTimeout time.Duration

	// ReadHeaderTimeout defines how long before we give up on the client,
	// this should be fairly short.
	ReadHeaderTimeout time.Duration

	// WriteTimeout defines how long we take to respond before we give up.
	WriteTimeout time.Duration

	// RequestTimeout places a hard limit on all request processing.
	RequestTimeout time.Duration

	// OTLPEndpoint defines whether to ship spans to an OTLP consumer
	// or not, and where to send them to.
	OTLPEndpoint string

	// DSN names the persistence target.  A postgres URL or an SQLite
	// file path for local development.
	DSN string
}

// NewOptions returns environment-defaulted options.
func NewOptions() *Options {
	return &Options{
		ListenAddress:     util.Getenv("LISTEN_ADDRESS", ":8080"),
		ReadTimeout:       time.Second,
		ReadHeaderTimeout: time.Second,
		WriteTimeout:      10 * time.Second,
		RequestTimeout:    30 * time.Second,
		OTLPEndpoint:      util.Getenv("OTLP_ENDPOINT", ""),
		DSN:               util.Getenv("DATABASE_URL", "storeplane.db"),
	}
}

// AddFlags allows server options to be modified.
func (o *Options) AddFlags(f *pflag.FlagSet) {
	f.StringVar(&o.ListenAddress, "server-listen-address", o.ListenAddress, "API listener address.")
	f.DurationVar(&o.ReadTimeout, "server-read-timeout", o.ReadTimeout, "How long to wait for the client to send the request body.")
	f.DurationVar(&o.ReadHeaderTimeout, "server-read-header-timeout", o.ReadHeaderTimeout, "How long to wait for the client to send headers.")
	f.DurationVar(&o.WriteTimeout, "server-write-timeout", o.WriteTimeout, "How long to wait for the API to respond to the client.")
	f.DurationVar(&o.RequestTimeout, "server-request-timeout", o.RequestTimeout, "Hard limit on request processing.")
	f.StringVar(&o.OTLPEndpoint, "otlp-endpoint", o.OTLPEndpoint, "An OTLP endpoint to ship spans to.")
	f.StringVar(&o.DSN, "database-url", o.DSN, "Persistence target, a postgres URL or an SQLite file path.")
}
