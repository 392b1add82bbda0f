package doom

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestZeroValue_NeverDooms(t *testing.T) {
	var d Doom
	farFuture := time.Now().Add(24 * time.Hour)
	assert.False(t, d.SoftDoom(farFuture))
	assert.False(t, d.HardDoom(farFuture))
	assert.Zero(t, d.TimeLeft(farFuture))
}

func TestFromTimeout_SoftBeforeHard(t *testing.T) {
	now := time.Now()
	d := FromTimeout(now, 100*time.Millisecond, 0.9)

	assert.Equal(t, now.Add(90*time.Millisecond), d.Soft)
	assert.Equal(t, now.Add(100*time.Millisecond), d.Hard)

	at := now.Add(95 * time.Millisecond)
	assert.True(t, d.SoftDoom(at))
	assert.False(t, d.HardDoom(at))

	at = now.Add(100 * time.Millisecond)
	assert.True(t, d.HardDoom(at))
}

func TestFromTimeout_FactorAboveOne_ClampsHard(t *testing.T) {
	now := time.Now()
	d := FromTimeout(now, 100*time.Millisecond, 1.5)
	assert.False(t, d.Hard.Before(d.Soft))
}

func TestTimeLeft_NeverNegative(t *testing.T) {
	now := time.Now()
	d := FromTimeout(now, 50*time.Millisecond, 1.0)
	assert.Equal(t, 20*time.Millisecond, d.TimeLeft(now.Add(30*time.Millisecond)))
	assert.Zero(t, d.TimeLeft(now.Add(80*time.Millisecond)))
}
