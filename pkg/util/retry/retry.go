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

package retry

import (
	"context"
	"time"
)

// Func is a callback that must return nil to escape the retry loop.
type Func func() error

// Retrier implements retry loop logic.
type Retrier struct {
	// context terminates the retry loop on timeout or cancellation
	// from another routine.  If not set it will retry forever.
	context context.Context

	// cancel is associated with a context to free resources.
	cancel func()

	// period defines the retry period, defaulting to 1 second.
	period time.Duration
}

// Forever returns a retrier that will retry something until a nil error
// is returned.
func Forever() *Retrier {
	return &Retrier{
		context: context.TODO(),
		period:  time.Second,
	}
}

// WithContext returns a retrier bounded by a caller supplied context,
// e.g. when a timeout spans a whole transaction and not just one retry.
func WithContext(c context.Context) *Retrier {
	return &Retrier{
		context: c,
		period:  time.Second,
	}
}

// WithTimeout returns a retrier that will execute for a specific length of time.
func WithTimeout(timeout time.Duration) *Retrier {
	c, cancel := context.WithTimeout(context.TODO(), timeout)

	return &Retrier{
		context: c,
		cancel:  cancel,
		period:  time.Second,
	}
}

// WithPeriod defines how often to perform the retry.
func (r *Retrier) WithPeriod(period time.Duration) *Retrier {
	r.period = period

	return r
}

// Do starts the retry loop.  It runs until the context times out or is
// cancelled, or the retry function returns nil indicating success.
func (r *Retrier) Do(f Func) error {
	if r.cancel != nil {
		defer r.cancel()
	}

	t := time.NewTicker(r.period)
	defer t.Stop()

	for {
		if err := f(); err == nil {
			return nil
		}

		select {
		case <-r.context.Done():
			return r.context.Err()
		case <-t.C:
		}
	}
}
