package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var testEpoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFake_AdvanceFiresDueTimers(t *testing.T) {
	c := NewFake(testEpoch)
	var fired []string

	c.AfterFunc(2*time.Second, func() { fired = append(fired, "b") })
	c.AfterFunc(time.Second, func() { fired = append(fired, "a") })
	c.AfterFunc(5*time.Second, func() { fired = append(fired, "c") })

	c.Advance(3 * time.Second)
	assert.Equal(t, []string{"a", "b"}, fired)
	assert.Equal(t, testEpoch.Add(3*time.Second), c.Now())
	assert.Equal(t, 1, c.Pending())
}

func TestFake_StopPreventsFiring(t *testing.T) {
	c := NewFake(testEpoch)
	fired := false

	timer := c.AfterFunc(time.Second, func() { fired = true })
	assert.True(t, timer.Stop())
	assert.False(t, timer.Stop(), "second stop reports already stopped")

	c.Advance(time.Minute)
	assert.False(t, fired)
	assert.Equal(t, 0, c.Pending())
}

func TestFake_CallbackSeesDeadlineTime(t *testing.T) {
	c := NewFake(testEpoch)
	var at time.Time

	c.AfterFunc(10*time.Second, func() { at = c.Now() })
	c.Advance(time.Minute)

	assert.Equal(t, testEpoch.Add(10*time.Second), at)
}

func TestFake_RearmInsideCallback(t *testing.T) {
	c := NewFake(testEpoch)
	count := 0

	var arm func()
	arm = func() {
		c.AfterFunc(time.Second, func() {
			count++
			arm()
		})
	}
	arm()

	c.Advance(3500 * time.Millisecond)
	assert.Equal(t, 3, count)
}

func TestFake_StopAfterFire(t *testing.T) {
	c := NewFake(testEpoch)
	timer := c.AfterFunc(time.Millisecond, func() {})
	c.Advance(time.Second)
	assert.False(t, timer.Stop())
}
