// Copyright 2025 The ZfDash Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package util

import (
	"fmt"
	"time"
)

// Retry calls function f until it has been called attempts times, or succeeds.
// Retry delays for delay between calls of f. If f does not succeed after
// attempts calls, the error from the last call is returned.
func Retry(attempts int, delay time.Duration, f func() error) error {
	var err error
	for i := 0; i < attempts; i++ {
		err = f()
		if err == nil {
			break
		}
		if i < attempts-1 {
			time.Sleep(delay)
		}
	}
	return err
}

// RetryUntilTimeout calls function f until it succeeds or until the given
// timeout is reached, waiting delay between tries.
func RetryUntilTimeout(timeout, delay time.Duration, f func() error) error {
	after := time.After(timeout)
	var err error
	for {
		select {
		case <-after:
			if err != nil {
				return fmt.Errorf("time limit exceeded: %v", err)
			}
			return fmt.Errorf("time limit exceeded")
		default:
		}
		if err = f(); err == nil {
			return nil
		}
		time.Sleep(delay)
	}
}

// WaitUntilReady polls checkFunction until it reports done, an error, or the
// timeout elapses.
func WaitUntilReady(timeout, delay time.Duration, checkFunction func() (bool, error)) error {
	after := time.After(timeout)
	for {
		select {
		case <-after:
			return fmt.Errorf("time limit exceeded")
		default:
		}
		done, err := checkFunction()
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		time.Sleep(delay)
	}
}
