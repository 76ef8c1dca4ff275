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

// Package helm adapts the external Helm CLI.  The control plane never
// renders manifests itself, everything that touches cluster state for a
// store goes through a release install or uninstall here.
package helm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"sigs.k8s.io/controller-runtime/pkg/log"
)

var (
	// ErrCLINotFound is returned when the helm binary isn't installed.
	ErrCLINotFound = errors.New("helm CLI not found")

	// ErrChartNotFound is returned when the chart path is missing or
	// the CLI reports it cannot load the chart.
	ErrChartNotFound = errors.New("helm chart not found")

	// ErrAlreadyExists is returned when the release name is taken.
	// Install callers treat this as success after a crash.
	ErrAlreadyExists = errors.New("helm release already exists")

	// ErrTimeout is returned when the CLI overruns its execution
	// timeout.  This is distinct from the provisioning readiness
	// timeout, which the worker owns.
	ErrTimeout = errors.New("helm command timed out")
)

// InstallRequest carries the dynamic identity of one store release.
// Everything else comes from the chart's values files.
type InstallRequest struct {
	Release   string
	Namespace string

	Name   string
	Engine string
	Domain string

	AdminUsername string
	AdminEmail    string
	AdminPassword string

	DBName         string
	DBUsername     string
	DBPassword     string
	DBRootPassword string
}

// Interface for driving Helm releases.
type Interface interface {
	// Verify checks the CLI is runnable and the chart is present.
	Verify(ctx context.Context) error

	// Install installs the release, creating the namespace if needed.
	// Not idempotent: pair with ReleaseExists before retrying.
	Install(ctx context.Context, request *InstallRequest) error

	// Uninstall removes the release.  A missing release is success.
	Uninstall(ctx context.Context, release, namespace string) error

	// ReleaseExists reports whether the release is installed.
	ReleaseExists(ctx context.Context, release, namespace string) (bool, error)
}

// CLI drives the helm binary through a Runner.
type CLI struct {
	options *Options
	runner  Runner
}

var _ Interface = &CLI{}

// New returns a CLI executor with the given options.
func New(options *Options, runner Runner) *CLI {
	return &CLI{
		options: options,
		runner:  runner,
	}
}

// Verify implements the Interface.
func (c *CLI) Verify(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.options.StatusTimeout)
	defer cancel()

	out, err := c.runner.Run(ctx, c.options.Binary, "version", "--short")
	if err != nil {
		return fmt.Errorf("%w: %s", ErrCLINotFound, err)
	}

	log.FromContext(ctx).Info("helm CLI available", "version", strings.TrimSpace(string(out)))

	if _, err := os.Stat(filepath.Join(c.options.ChartPath, "Chart.yaml")); err != nil {
		return fmt.Errorf("%w: %s", ErrChartNotFound, c.options.ChartPath)
	}

	return nil
}

// Install implements the Interface.
func (c *CLI) Install(ctx context.Context, request *InstallRequest) error {
	logger := log.FromContext(ctx)

	logger.Info("installing release", "release", request.Release, "namespace", request.Namespace, "engine", request.Engine)

	args := []string{
		"install", request.Release, c.options.ChartPath,
		"--namespace", request.Namespace,
		"--create-namespace",
		"-f", filepath.Join(c.options.ChartPath, c.options.ValuesFile),
		"-f", filepath.Join(c.options.ChartPath, c.options.EnvValuesFile),
	}

	values := []struct {
		key   string
		value string
	}{
		{"store.id", request.Release},
		{"store.name", request.Name},
		{"store.namespace", request.Namespace},
		{"store.engine", request.Engine},
		{"store.domain", request.Domain},
		{"admin.username", request.AdminUsername},
		{"admin.email", request.AdminEmail},
		{"admin.password", request.AdminPassword},
		{"database.name", request.DBName},
		{"database.username", request.DBUsername},
		{"database.password", request.DBPassword},
		{"database.rootPassword", request.DBRootPassword},
	}

	for _, v := range values {
		args = append(args, "--set", v.key+"="+v.value)
	}

	ctx, cancel := context.WithTimeout(ctx, c.options.InstallTimeout)
	defer cancel()

	if _, err := c.runner.Run(ctx, c.options.Binary, args...); err != nil {
		return classifyInstallError(err)
	}

	logger.Info("release installed", "release", request.Release)

	return nil
}

// Uninstall implements the Interface.
func (c *CLI) Uninstall(ctx context.Context, release, namespace string) error {
	logger := log.FromContext(ctx)

	logger.Info("uninstalling release", "release", release, "namespace", namespace)

	ctx, cancel := context.WithTimeout(ctx, c.options.UninstallTimeout)
	defer cancel()

	_, err := c.runner.Run(ctx, c.options.Binary, "uninstall", release, "--namespace", namespace)
	if err != nil {
		if releaseNotFound(err) {
			logger.Info("release already absent", "release", release)

			return nil
		}

		return err
	}

	logger.Info("release uninstalled", "release", release)

	return nil
}

// ReleaseExists implements the Interface.
func (c *CLI) ReleaseExists(ctx context.Context, release, namespace string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, c.options.StatusTimeout)
	defer cancel()

	_, err := c.runner.Run(ctx, c.options.Binary, "status", release, "--namespace", namespace, "-o", "json")
	if err != nil {
		if releaseNotFound(err) {
			return false, nil
		}

		return false, err
	}

	return true, nil
}

// classifyInstallError maps CLI failures onto the executor's error kinds.
// Anything unrecognized is returned as-is, typically an ExitError whose
// stderr becomes the persisted failure reason.
func classifyInstallError(err error) error {
	if errors.Is(err, ErrTimeout) || errors.Is(err, ErrCLINotFound) {
		return err
	}

	var exitErr *ExitError

	if !errors.As(err, &exitErr) {
		return err
	}

	stderr := strings.ToLower(exitErr.Stderr())

	switch {
	case strings.Contains(stderr, "cannot re-use a name that is still in use"),
		strings.Contains(stderr, "already exists"):
		return fmt.Errorf("%w: %s", ErrAlreadyExists, exitErr.Stderr())
	case strings.Contains(stderr, "chart") && strings.Contains(stderr, "not found"):
		return fmt.Errorf("%w: %s", ErrChartNotFound, exitErr.Stderr())
	default:
		return err
	}
}

// releaseNotFound matches the CLI's "release: not found" stderr, which
// both uninstall and status emit for absent releases.
func releaseNotFound(err error) bool {
	var exitErr *ExitError

	if !errors.As(err, &exitErr) {
		return false
	}

	return strings.Contains(strings.ToLower(exitErr.Stderr()), "not found")
}

// Excerpt trims an error down to something short enough for a persisted
// failure reason, preferring the CLI's stderr when available.
func Excerpt(err error, limit int) string {
	message := err.Error()

	var exitErr *ExitError

	if errors.As(err, &exitErr) && exitErr.Stderr() != "" {
		message = exitErr.Stderr()
	}

	message = strings.TrimSpace(message)

	if len(message) > limit {
		message = message[:limit]
	}

	return message
}
