package engine

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUserLocks_SerializesSameUser(t *testing.T) {
	l := newUserLocks()

	var wg sync.WaitGroup
	counter := 0
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := l.lock("user-1")
			counter++
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 100, counter)
	assert.Equal(t, 0, l.size(), "entries should be released")
}

func TestUserLocks_IndependentUsers(t *testing.T) {
	l := newUserLocks()

	unlockA := l.lock("a")
	// Must not block while "a" is held.
	unlockB := l.lock("b")
	assert.Equal(t, 2, l.size())

	unlockB()
	unlockA()
	assert.Equal(t, 0, l.size())
}
