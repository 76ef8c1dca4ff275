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

package constants

import (
	"fmt"
	"os"
	"path"
)

var (
	// Application is the application name.
	//nolint:gochecknoglobals
	Application = path.Base(os.Args[0])

	// Version is the application version, injected at build time
	// with -ldflags.
	//nolint:gochecknoglobals
	Version string

	// Revision is the git revision, injected at build time with
	// -ldflags.
	//nolint:gochecknoglobals
	Revision string
)

// VersionString returns a canonical version string.  It's based on
// HTTP's User-Agent so can be used to set that too, if this ever has to
// call out to other micro services.
func VersionString() string {
	return fmt.Sprintf("%s/%s (revision/%s)", Application, Version, Revision)
}

const (
	// Service is the canonical service name reported by the health
	// endpoint and attached to telemetry.
	Service = "storeplane"

	// InstanceLabel is the label Helm stamps onto every workload in a
	// release.  The probe selects a store's pods with it.
	InstanceLabel = "app.kubernetes.io/instance"

	// NamespacePrefix is prepended to a store ID to derive the
	// namespace the release is installed into.
	NamespacePrefix = "store-"
)
