package poller

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAdaptive_BacksOffAfterStaticStreak(t *testing.T) {
	p := NewAdaptive(2*time.Second, 500*time.Millisecond, 10*time.Second, 5)

	for i := 0; i < 5; i++ {
		p.OnNoChange()
	}
	assert.Equal(t, 2*time.Second, p.Interval(), "streak must exceed 5, not just reach it")

	p.OnNoChange()
	assert.Greater(t, p.Interval(), 2*time.Second)
}

func TestAdaptive_ClampsToMax(t *testing.T) {
	p := NewAdaptive(8*time.Second, 500*time.Millisecond, 10*time.Second, 0)

	for i := 0; i < 10; i++ {
		p.OnNoChange()
	}

	assert.Equal(t, 10*time.Second, p.Interval())
}

func TestAdaptive_ChangeNoMatchResetsToBase(t *testing.T) {
	p := NewAdaptive(2*time.Second, 500*time.Millisecond, 10*time.Second, 0)
	p.OnNoChange()
	p.OnNoChange()

	p.OnChangeNoMatch()

	assert.Equal(t, 2*time.Second, p.Interval())
}

func TestAdaptive_PartialSpeedsUpAndClampsToMin(t *testing.T) {
	p := NewAdaptive(1*time.Second, 500*time.Millisecond, 10*time.Second, 0)

	p.OnPartial()
	assert.Equal(t, 500*time.Millisecond, p.Interval())

	p.OnPartial()
	assert.Equal(t, 500*time.Millisecond, p.Interval())
}

func TestFixed_NeverChanges(t *testing.T) {
	p := NewFixed(3 * time.Second)

	p.OnNoChange()
	p.OnPartial()
	p.OnChangeNoMatch()

	assert.Equal(t, 3*time.Second, p.Interval())
}
