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

package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/commercekube/storeplane/pkg/util/retry"
)

// TestRetrySucceedsEventually checks the loop runs until the callback
// settles.
func TestRetrySucceedsEventually(t *testing.T) {
	t.Parallel()

	attempts := 0

	callback := func() error {
		attempts++

		if attempts < 3 {
			return errors.New("not yet")
		}

		return nil
	}

	assert.NoError(t, retry.Forever().WithPeriod(time.Millisecond).Do(callback))
	assert.Equal(t, 3, attempts)
}

// TestRetryImmediateSuccess checks a passing callback never waits for a
// tick.
func TestRetryImmediateSuccess(t *testing.T) {
	t.Parallel()

	start := time.Now()

	assert.NoError(t, retry.WithTimeout(time.Minute).WithPeriod(time.Minute).Do(func() error {
		return nil
	}))

	assert.Less(t, time.Since(start), time.Second)
}

// TestRetryTimeout checks the bounded variant gives up.
func TestRetryTimeout(t *testing.T) {
	t.Parallel()

	err := retry.WithTimeout(20*time.Millisecond).WithPeriod(time.Millisecond).Do(func() error {
		return errors.New("never")
	})

	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// TestRetryContextCancel checks external cancellation stops the loop.
func TestRetryContextCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := retry.WithContext(ctx).WithPeriod(time.Millisecond).Do(func() error {
		return errors.New("never")
	})

	assert.ErrorIs(t, err, context.Canceled)
}
