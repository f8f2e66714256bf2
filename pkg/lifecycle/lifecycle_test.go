package lifecycle_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JaimeStill/steward/pkg/lifecycle"
)

type flag struct{ ok atomic.Bool }

func (f *flag) Ready() bool { return f.ok.Load() }

func TestReadyAfterStartup(t *testing.T) {
	lc := lifecycle.New()
	assert.False(t, lc.Ready())

	var count atomic.Int32
	for range 3 {
		lc.OnStartup(func() { count.Add(1) })
	}
	lc.WaitForStartup()

	assert.Equal(t, int32(3), count.Load())
	assert.True(t, lc.Ready())
}

func TestRequire(t *testing.T) {
	lc := lifecycle.New()
	db := &flag{}
	lc.Require("database", db)
	lc.WaitForStartup()

	assert.False(t, lc.Ready())
	assert.Equal(t, []string{"database"}, lc.NotReady())

	db.ok.Store(true)
	assert.True(t, lc.Ready())
	assert.Empty(t, lc.NotReady())
}

func TestShutdown(t *testing.T) {
	lc := lifecycle.New()

	var cleaned atomic.Bool
	lc.OnShutdown(func() {
		<-lc.Context().Done()
		cleaned.Store(true)
	})
	lc.WaitForStartup()

	require.NoError(t, lc.Shutdown(5*time.Second))
	assert.True(t, cleaned.Load())
	assert.Error(t, lc.Context().Err())
}

func TestShutdownTimeout(t *testing.T) {
	lc := lifecycle.New()
	lc.OnShutdown(func() {
		<-lc.Context().Done()
		time.Sleep(500 * time.Millisecond)
	})
	lc.WaitForStartup()

	assert.Error(t, lc.Shutdown(50*time.Millisecond))
}
