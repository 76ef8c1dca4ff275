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
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// call records a single CLI invocation for assertions.
type call struct {
	command string
	args    []string
}

// fakeRunner scripts CLI outcomes per leading argument.
type fakeRunner struct {
	calls []call

	// errs maps the first argument (the subcommand) to a scripted
	// failure.
	errs map[string]error

	// out is returned on success.
	out []byte
}

func (r *fakeRunner) Run(ctx context.Context, command string, args ...string) ([]byte, error) {
	r.calls = append(r.calls, call{command: command, args: args})

	if len(args) > 0 {
		if err, ok := r.errs[args[0]]; ok {
			return nil, err
		}
	}

	return r.out, nil
}

func (r *fakeRunner) last() call {
	return r.calls[len(r.calls)-1]
}

func testOptions(t *testing.T) *Options {
	t.Helper()

	options := NewOptions()
	options.ChartPath = t.TempDir()

	return options
}

func installRequest() *InstallRequest {
	return &InstallRequest{
		Release:        "demo-shop-0a1b2c3d",
		Namespace:      "store-demo-shop-0a1b2c3d",
		Name:           "demo-shop",
		Engine:         "woocommerce",
		Domain:         "demo-shop.localhost",
		AdminUsername:  "admin",
		AdminEmail:     "admin@example.com",
		AdminPassword:  "sup3rsecret",
		DBName:         "wordpress",
		DBUsername:     "store",
		DBPassword:     "dbpass",
		DBRootPassword: "rootpass",
	}
}

// TestInstall checks the CLI invocation carries the full release identity.
func TestInstall(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{}
	options := testOptions(t)

	require.NoError(t, New(options, runner).Install(context.Background(), installRequest()))
	require.Len(t, runner.calls, 1)

	invocation := runner.last()
	assert.Equal(t, options.Binary, invocation.command)

	args := strings.Join(invocation.args, " ")

	assert.Contains(t, args, "install demo-shop-0a1b2c3d "+options.ChartPath)
	assert.Contains(t, args, "--namespace store-demo-shop-0a1b2c3d")
	assert.Contains(t, args, "--create-namespace")
	assert.Contains(t, args, "-f "+filepath.Join(options.ChartPath, options.ValuesFile))
	assert.Contains(t, args, "-f "+filepath.Join(options.ChartPath, options.EnvValuesFile))

	assert.Contains(t, args, "--set store.id=demo-shop-0a1b2c3d")
	assert.Contains(t, args, "--set store.name=demo-shop")
	assert.Contains(t, args, "--set store.engine=woocommerce")
	assert.Contains(t, args, "--set store.domain=demo-shop.localhost")
	assert.Contains(t, args, "--set admin.username=admin")
	assert.Contains(t, args, "--set admin.email=admin@example.com")
	assert.Contains(t, args, "--set admin.password=sup3rsecret")
	assert.Contains(t, args, "--set database.name=wordpress")
	assert.Contains(t, args, "--set database.rootPassword=rootpass")
}

// TestInstallAlreadyExists checks the re-use stderr maps to the sentinel
// install callers tolerate after a crash.
func TestInstallAlreadyExists(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{
		errs: map[string]error{
			"install": newExitError("helm", 1, "Error: INSTALLATION FAILED: cannot re-use a name that is still in use"),
		},
	}

	err := New(testOptions(t), runner).Install(context.Background(), installRequest())
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

// TestInstallChartNotFound checks chart resolution failures are
// classified.
func TestInstallChartNotFound(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{
		errs: map[string]error{
			"install": newExitError("helm", 1, `Error: chart "store" not found`),
		},
	}

	err := New(testOptions(t), runner).Install(context.Background(), installRequest())
	assert.ErrorIs(t, err, ErrChartNotFound)
}

// TestInstallOpaqueFailure checks unclassified failures pass through with
// their stderr intact for the persisted failure reason.
func TestInstallOpaqueFailure(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{
		errs: map[string]error{
			"install": newExitError("helm", 1, "Error: timed out waiting for the condition"),
		},
	}

	err := New(testOptions(t), runner).Install(context.Background(), installRequest())
	require.Error(t, err)

	var exitErr *ExitError

	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 1, exitErr.ExitStatus())
	assert.Contains(t, exitErr.Stderr(), "timed out waiting")
}

// TestUninstall checks a clean uninstall and that an absent release is
// treated as success.
func TestUninstall(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{}
	cli := New(testOptions(t), runner)

	require.NoError(t, cli.Uninstall(context.Background(), "demo-shop-0a1b2c3d", "store-demo-shop-0a1b2c3d"))

	invocation := runner.last()
	assert.Equal(t, []string{"uninstall", "demo-shop-0a1b2c3d", "--namespace", "store-demo-shop-0a1b2c3d"}, invocation.args)

	runner.errs = map[string]error{
		"uninstall": newExitError("helm", 1, "Error: uninstall: Release not loaded: demo-shop-0a1b2c3d: release: not found"),
	}

	assert.NoError(t, cli.Uninstall(context.Background(), "demo-shop-0a1b2c3d", "store-demo-shop-0a1b2c3d"))
}

// TestUninstallFailure checks genuine uninstall errors propagate for the
// worker's retry loop.
func TestUninstallFailure(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{
		errs: map[string]error{
			"uninstall": newExitError("helm", 1, "Error: context deadline exceeded"),
		},
	}

	err := New(testOptions(t), runner).Uninstall(context.Background(), "demo-shop-0a1b2c3d", "store-demo-shop-0a1b2c3d")
	assert.Error(t, err)
}

// TestReleaseExists checks the status query maps presence, absence and
// genuine failure distinctly.
func TestReleaseExists(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{out: []byte(`{"info":{"status":"deployed"}}`)}
	cli := New(testOptions(t), runner)

	exists, err := cli.ReleaseExists(context.Background(), "demo-shop-0a1b2c3d", "store-demo-shop-0a1b2c3d")
	require.NoError(t, err)
	assert.True(t, exists)

	runner.errs = map[string]error{
		"status": newExitError("helm", 1, "Error: release: not found"),
	}

	exists, err = cli.ReleaseExists(context.Background(), "demo-shop-0a1b2c3d", "store-demo-shop-0a1b2c3d")
	require.NoError(t, err)
	assert.False(t, exists)

	runner.errs = map[string]error{
		"status": newExitError("helm", 1, "Error: Kubernetes cluster unreachable"),
	}

	_, err = cli.ReleaseExists(context.Background(), "demo-shop-0a1b2c3d", "store-demo-shop-0a1b2c3d")
	assert.Error(t, err)
}

// TestVerify checks both halves, the CLI probe and the chart presence.
func TestVerify(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{out: []byte("v3.13.2+g2a2fb3b\n")}
	options := testOptions(t)

	// No Chart.yaml yet.
	err := New(options, runner).Verify(context.Background())
	assert.ErrorIs(t, err, ErrChartNotFound)

	require.NoError(t, os.WriteFile(filepath.Join(options.ChartPath, "Chart.yaml"), []byte("apiVersion: v2\nname: store\n"), 0o600))

	assert.NoError(t, New(options, runner).Verify(context.Background()))

	runner.errs = map[string]error{
		"version": newExitError("helm", 127, "command not found"),
	}

	err = New(options, runner).Verify(context.Background())
	assert.ErrorIs(t, err, ErrCLINotFound)
}

// TestExcerpt checks failure reasons prefer stderr and are bounded.
func TestExcerpt(t *testing.T) {
	t.Parallel()

	err := newExitError("helm", 1, "Error: "+strings.Repeat("x", 500))

	excerpt := Excerpt(err, 200)
	assert.Len(t, excerpt, 200)
	assert.True(t, strings.HasPrefix(excerpt, "Error: "))

	plain := Excerpt(assert.AnError, 200)
	assert.Equal(t, assert.AnError.Error(), plain)
}
