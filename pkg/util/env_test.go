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

package util_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/commercekube/storeplane/pkg/util"
)

func TestGetenv(t *testing.T) {
	assert.Equal(t, "fallback", util.Getenv("STOREPLANE_TEST_UNSET", "fallback"))

	t.Setenv("STOREPLANE_TEST_SET", "value")
	assert.Equal(t, "value", util.Getenv("STOREPLANE_TEST_SET", "fallback"))

	t.Setenv("STOREPLANE_TEST_EMPTY", "")
	assert.Equal(t, "fallback", util.Getenv("STOREPLANE_TEST_EMPTY", "fallback"))
}

func TestGetenvInt(t *testing.T) {
	assert.Equal(t, 5, util.GetenvInt("STOREPLANE_TEST_UNSET", 5))

	t.Setenv("STOREPLANE_TEST_INT", "10")
	assert.Equal(t, 10, util.GetenvInt("STOREPLANE_TEST_INT", 5))

	t.Setenv("STOREPLANE_TEST_BAD_INT", "ten")
	assert.Equal(t, 5, util.GetenvInt("STOREPLANE_TEST_BAD_INT", 5))
}

func TestGetenvSeconds(t *testing.T) {
	assert.Equal(t, time.Minute, util.GetenvSeconds("STOREPLANE_TEST_UNSET", time.Minute))

	t.Setenv("STOREPLANE_TEST_SECONDS", "600")
	assert.Equal(t, 10*time.Minute, util.GetenvSeconds("STOREPLANE_TEST_SECONDS", time.Minute))
}
