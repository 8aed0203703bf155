package helpers

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/launchdarkly/test-engine/framework/opt"
)

func TestNonBlockingSend(t *testing.T) {
	assert.False(t, NonBlockingSend(make(chan int), 1))

	ch := make(chan int, 1)
	assert.True(t, NonBlockingSend(ch, 1))
	assert.False(t, NonBlockingSend(ch, 2))
	assert.Equal(t, 1, <-ch)
}

func TestTryReceive(t *testing.T) {
	ch := make(chan int, 1)
	assert.Equal(t, opt.None[int](), TryReceive(ch, time.Millisecond))

	go func() {
		time.Sleep(time.Millisecond * 20)
		ch <- 2
	}()
	assert.Equal(t, opt.Some(2), TryReceive(ch, time.Second))
}

func TestRequireValue(t *testing.T) {
	ch := make(chan string, 1)

	r := &testRecorder{}
	assert.PanicsWithValue(t, r, func() { RequireValue(r, ch, time.Millisecond) })
	assert.Len(t, r.errors, 1)
	assert.Contains(t, r.errors[0], "waiting for value of type string")

	ch <- "a"
	r = &testRecorder{}
	assert.Equal(t, "a", RequireValue(r, ch, time.Millisecond))
	assert.Empty(t, r.errors)
}

func TestRequireNoMoreValues(t *testing.T) {
	ch := make(chan string, 1)

	r := &testRecorder{}
	RequireNoMoreValues(r, ch, time.Millisecond)
	assert.Empty(t, r.errors)

	ch <- "extra"
	assert.Panics(t, func() { RequireNoMoreValues(r, ch, time.Millisecond) })
	assert.Equal(t, []string{"received unexpected extra value: extra"}, r.errors)
}
