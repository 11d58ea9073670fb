package monitor

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chronoportal/server/internal/game"
	"github.com/chronoportal/server/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	calls atomic.Int32
}

func (f *fakeSource) Status() game.Status {
	n := f.calls.Add(1)
	return game.Status{Running: true, SessionID: 3, LatestTick: core.TimeIndex(n)}
}

func readStatus(t *testing.T, path string) game.Status {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var st game.Status
	require.NoError(t, json.Unmarshal(data, &st))
	return st
}

func TestWriteStatus(t *testing.T) {
	path := filepath.Join(t.TempDir(), "status.json")
	s := NewService(Dependencies{Source: &fakeSource{}, StatusPath: path})

	require.NoError(t, s.WriteStatus())
	st := readStatus(t, path)
	assert.True(t, st.Running)
	assert.Equal(t, uint(3), st.SessionID)

	require.NoError(t, s.WriteStatus())
	assert.Equal(t, core.TimeIndex(2), readStatus(t, path).LatestTick)
}

func TestStartStop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "status.json")
	src := &fakeSource{}
	s := NewService(Dependencies{Source: src, StatusPath: path, Interval: 5 * time.Millisecond})

	require.NoError(t, s.Start())
	assert.True(t, s.IsRunning())
	// second start is a no-op
	require.NoError(t, s.Start())

	assert.Eventually(t, func() bool { return src.calls.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)

	s.Stop()
	assert.False(t, s.IsRunning())
	s.Stop()

	_, err := os.Stat(path)
	assert.NoError(t, err)
}

func TestStart_MissingDependencies(t *testing.T) {
	s := NewService(Dependencies{})
	assert.Error(t, s.Start())
	assert.False(t, s.IsRunning())
}
