package lock

import (
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMutexMap_SerializesSameKey(t *testing.T) {
	m := NewMutexMap()
	var counter int64

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Lock("asset:1")
			atomic.AddInt64(&counter, 1)
			m.Unlock("asset:1")
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(100), counter)
	assert.Equal(t, 0, m.Len(), "released keys must not accumulate")
}

func TestMutexMap_DifferentKeysDoNotBlock(t *testing.T) {
	m := NewMutexMap()
	done := make(chan struct{})

	m.Lock("asset:1")
	go func() {
		m.Lock("asset:2")
		m.Unlock("asset:2")
		close(done)
	}()

	<-done
	m.Unlock("asset:1")
}

func TestMutexMap_WithReturnsError(t *testing.T) {
	m := NewMutexMap()
	want := errors.New("boom")

	err := m.With("asset:1", func() error { return want })

	assert.ErrorIs(t, err, want)
	assert.Equal(t, 0, m.Len())
}

func TestFileLock_SecondLockFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "worker.lock")

	first := NewFileLock(path)
	require.NoError(t, first.TryLock())

	second := NewFileLock(path)
	assert.Error(t, second.TryLock())

	require.NoError(t, first.Unlock())
	require.NoError(t, second.TryLock())
	require.NoError(t, second.Unlock())
}
