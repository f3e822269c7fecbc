package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFakeAdvanceFiresDueTimers(t *testing.T) {
	c := NewFake(epoch)

	var fired []string
	c.AfterFunc(20*time.Millisecond, func() { fired = append(fired, "b") })
	c.AfterFunc(10*time.Millisecond, func() { fired = append(fired, "a") })
	c.AfterFunc(50*time.Millisecond, func() { fired = append(fired, "c") })

	c.Advance(25 * time.Millisecond)
	assert.Equal(t, []string{"a", "b"}, fired)
	assert.Equal(t, epoch.Add(25*time.Millisecond), c.Now())
	assert.Equal(t, 1, c.Pending())

	c.Advance(25 * time.Millisecond)
	assert.Equal(t, []string{"a", "b", "c"}, fired)
	assert.Equal(t, 0, c.Pending())
}

func TestFakeCallbackSeesDueTime(t *testing.T) {
	c := NewFake(epoch)

	var at time.Time
	c.AfterFunc(10*time.Millisecond, func() { at = c.Now() })
	c.Advance(time.Second)

	assert.Equal(t, epoch.Add(10*time.Millisecond), at)
	assert.Equal(t, epoch.Add(time.Second), c.Now())
}

func TestFakeStop(t *testing.T) {
	c := NewFake(epoch)

	fired := false
	timer := c.AfterFunc(10*time.Millisecond, func() { fired = true })

	require.True(t, timer.Stop())
	assert.False(t, timer.Stop(), "second stop reports false")

	c.Advance(time.Second)
	assert.False(t, fired)
}

func TestFakeStopAfterFire(t *testing.T) {
	c := NewFake(epoch)

	timer := c.AfterFunc(time.Millisecond, func() {})
	c.Advance(time.Millisecond)

	assert.False(t, timer.Stop())
}

func TestFakeTimerScheduledFromCallback(t *testing.T) {
	c := NewFake(epoch)

	count := 0
	var tick func()
	tick = func() {
		count++
		if count < 3 {
			c.AfterFunc(10*time.Millisecond, tick)
		}
	}
	c.AfterFunc(10*time.Millisecond, tick)

	c.Advance(100 * time.Millisecond)
	assert.Equal(t, 3, count)
}

func TestFakeZeroDelayFiresOnAdvanceZero(t *testing.T) {
	c := NewFake(epoch)

	fired := false
	c.AfterFunc(0, func() { fired = true })
	c.Advance(0)

	assert.True(t, fired)
}

func TestRealClock(t *testing.T) {
	c := Real()

	done := make(chan struct{})
	c.AfterFunc(time.Millisecond, func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("real timer did not fire")
	}
	assert.False(t, c.Now().IsZero())
}
