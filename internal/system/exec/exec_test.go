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

package exec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKillRunningChild(t *testing.T) {
	cmd := Command("/bin/sh", "-c", "sleep 30")
	require.NoError(t, cmd.Start())
	assert.Greater(t, cmd.Pid(), 0)

	// Kill reaps the child; dying from our SIGKILL is not an error.
	require.NoError(t, cmd.Kill())
	assert.True(t, cmd.Signaled())
}

func TestKillExitedChild(t *testing.T) {
	cmd := Command("/bin/true")
	require.NoError(t, cmd.Start())
	require.NoError(t, cmd.Wait())

	// Safe even when the child is already gone.
	assert.NoError(t, cmd.Kill())
	assert.False(t, cmd.Signaled())
}

func TestWaitResultIsCached(t *testing.T) {
	cmd := Command("/bin/sh", "-c", "exit 7")
	require.NoError(t, cmd.Start())

	first := cmd.Wait()
	second := cmd.Wait()
	require.Error(t, first)
	assert.Equal(t, first, second)
}

func TestIsCmdNotFound(t *testing.T) {
	cmd := Command("definitely-not-a-real-tool-zfdash")
	err := cmd.Start()
	require.Error(t, err)
	assert.True(t, IsCmdNotFound(err))

	cmd = Command("/bin/true")
	require.NoError(t, cmd.Start())
	assert.NoError(t, cmd.Wait())
}
