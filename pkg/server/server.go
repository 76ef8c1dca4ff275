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
	"context"
	"flag"
	"net/http"

	chi "github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/trace"

	"github.com/commercekube/storeplane/pkg/helm"
	"github.com/commercekube/storeplane/pkg/provisioner"
	"github.com/commercekube/storeplane/pkg/server/handler"
	"github.com/commercekube/storeplane/pkg/server/middleware"
	"github.com/commercekube/storeplane/pkg/store"

	"sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"
)

type Server struct {
	// Options are server specific options e.g. listener address etc.
	Options Options

	// ZapOptions configure logging.
	ZapOptions zap.Options

	// HelmOptions configure the Helm CLI driver.
	HelmOptions helm.Options

	// ProvisionerOptions configure the worker pool.
	ProvisionerOptions provisioner.Options
}

// NewServer returns a server with environment-defaulted options, flags
// may override them.
func NewServer() *Server {
	return &Server{
		Options:            *NewOptions(),
		HelmOptions:        *helm.NewOptions(),
		ProvisionerOptions: *provisioner.NewOptions(),
	}
}

func (s *Server) AddFlags(flags *pflag.FlagSet) {
	s.Options.AddFlags(flags)
	s.ZapOptions.BindFlags(flag.CommandLine)
	s.HelmOptions.AddFlags(flags)
	s.ProvisionerOptions.AddFlags(flags)
}

func (s *Server) SetupLogging() {
	log.SetLogger(zap.New(zap.UseFlagOptions(&s.ZapOptions)))
}

// SetupOpenTelemetry adds a span processor that will print root spans to the
// logs by default, and optionally ship the spans to an OTLP listener.
func (s *Server) SetupOpenTelemetry(ctx context.Context) error {
	otel.SetLogger(log.Log)

	opts := []trace.TracerProviderOption{
		trace.WithSpanProcessor(&middleware.LoggingSpanProcessor{}),
	}

	if s.Options.OTLPEndpoint != "" {
		exporter, err := otlptracehttp.New(ctx,
			otlptracehttp.WithEndpoint(s.Options.OTLPEndpoint),
			otlptracehttp.WithInsecure(),
		)

		if err != nil {
			return err
		}

		opts = append(opts, trace.WithBatcher(exporter))
	}

	otel.SetTracerProvider(trace.NewTracerProvider(opts...))

	return nil
}

// GetServer assembles the API router over the store and the worker pool.
func (s *Server) GetServer(store *store.Store, pool *provisioner.Pool) *http.Server {
	// Middleware specified here is applied to all requests pre-routing.
	router := chi.NewRouter()
	router.Use(middleware.Logger())
	router.Use(chimiddleware.Timeout(s.Options.RequestTimeout))
	router.NotFound(http.HandlerFunc(handler.NotFound))
	router.MethodNotAllowed(http.HandlerFunc(handler.MethodNotAllowed))

	router.Method(http.MethodGet, "/metrics", promhttp.Handler())

	handler.New(store, pool).AddRoutes(router)

	server := &http.Server{
		Addr:              s.Options.ListenAddress,
		ReadTimeout:       s.Options.ReadTimeout,
		ReadHeaderTimeout: s.Options.ReadHeaderTimeout,
		WriteTimeout:      s.Options.WriteTimeout,
		Handler:           router,
	}

	return server
}
