package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIntervalPriority(t *testing.T) {
	base := time.Unix(10_000, 0)
	cur := base
	now := func() time.Time { return cur }

	m := New(DefaultConfig(), now)

	// No signals yet: idle.
	cur = base.Add(time.Hour)
	assert.Equal(t, 30*time.Second, m.Interval())

	// Recent activity beats idle.
	m.RecordActivity()
	assert.Equal(t, 4*time.Second, m.Interval())

	// Editing beats recent activity.
	m.SetEditing(true)
	assert.Equal(t, 2*time.Second, m.Interval())

	m.SetEditing(false)
	cur = cur.Add(61 * time.Second) // outside ActivityWindow now
	m.RecordConflict()
	assert.Equal(t, 3*time.Second, m.Interval())

	cur = cur.Add(5 * time.Minute) // outside ConflictHistoryWindow
	assert.Equal(t, 30*time.Second, m.Interval())
}

func TestRunStopsOnCancel(t *testing.T) {
	m := New(Config{ActiveInterval: time.Millisecond, IdleInterval: time.Millisecond, ActivityWindow: time.Second, ConflictDecisionWindow: time.Second, ConflictHistoryWindow: time.Second}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	ticks := 0
	done := make(chan struct{})
	go func() {
		m.Run(ctx, func(context.Context) { ticks++ })
		close(done)
	}()
	<-done
	assert.Greater(t, ticks, 0)
}
