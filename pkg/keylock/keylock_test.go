package keylock

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoSerializesSameKey(t *testing.T) {
	k := New()

	const workers = 50
	counter := 0
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			_ = k.Do("apt-1", func() error {
				counter++
				return nil
			})
		}()
	}
	wg.Wait()

	assert.Equal(t, workers, counter)
}

func TestDifferentKeysDoNotBlock(t *testing.T) {
	k := New()
	k.Lock("a")
	defer k.Unlock("a")

	done := make(chan struct{})
	go func() {
		_ = k.Do("b", func() error { return nil })
		close(done)
	}()
	<-done
}

func TestDoPropagatesError(t *testing.T) {
	k := New()
	want := errors.New("boom")
	err := k.Do("apt-1", func() error { return want })
	require.ErrorIs(t, err, want)
}

func TestEntriesDroppedAfterRelease(t *testing.T) {
	k := New()
	_ = k.Do("apt-1", func() error { return nil })
	_ = k.Do("apt-2", func() error { return nil })

	k.mu.Lock()
	defer k.mu.Unlock()
	assert.Empty(t, k.locks)
}

func TestUnlockUnheldPanics(t *testing.T) {
	k := New()
	assert.Panics(t, func() { k.Unlock("nope") })
}
