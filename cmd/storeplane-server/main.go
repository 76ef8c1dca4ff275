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

// The storeplane server is a single binary: REST API, provisioning worker
// pool and crash recovery run in one process, sharing the store database
// as the source of truth.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/commercekube/storeplane/pkg/constants"
	"github.com/commercekube/storeplane/pkg/helm"
	"github.com/commercekube/storeplane/pkg/probe"
	"github.com/commercekube/storeplane/pkg/provisioner"
	"github.com/commercekube/storeplane/pkg/provisioner/recovery"
	"github.com/commercekube/storeplane/pkg/server"
	"github.com/commercekube/storeplane/pkg/store"
)

func main() {
	s := server.NewServer()
	s.AddFlags(pflag.CommandLine)

	pflag.Parse()

	// Get logging going first, log sinks will expect JSON formatted
	// output for everything.
	s.SetupLogging()

	logger := log.Log.WithName(constants.Application)

	logger.Info("service starting", "application", constants.Application, "version", constants.Version, "revision", constants.Revision)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, s); err != nil {
		logger.Error(err, "service terminated abnormally")
		os.Exit(1)
	}

	logger.Info("service stopped")
}

func run(ctx context.Context, s *server.Server) error {
	logger := log.Log.WithName(constants.Application)

	if err := s.SetupOpenTelemetry(ctx); err != nil {
		return err
	}

	db, err := store.Open(ctx, s.Options.DSN)
	if err != nil {
		return err
	}

	defer db.Close()

	helmClient := helm.New(&s.HelmOptions, &helm.ExecRunner{})

	if err := helmClient.Verify(ctx); err != nil {
		return err
	}

	kube, err := probe.NewClient()
	if err != nil {
		return err
	}

	pool := provisioner.New(&s.ProvisionerOptions, db, helmClient, probe.New(kube))

	// Reconcile persisted intent before accepting traffic, a resumed
	// task must not race a fresh user submission for the same store.
	if err := recovery.New(db, helmClient, pool, s.ProvisionerOptions.PollInterval).Run(ctx); err != nil {
		return err
	}

	httpServer := s.GetServer(db, pool)

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return pool.Run(groupCtx)
	})

	group.Go(func() error {
		logger.Info("listening", "address", httpServer.Addr)

		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}

		return nil
	})

	group.Go(func() error {
		<-groupCtx.Done()

		// A fresh context, the group's is already cancelled.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.Options.WriteTimeout)
		defer cancel()

		return httpServer.Shutdown(shutdownCtx)
	})

	return group.Wait()
}
