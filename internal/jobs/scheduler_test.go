package jobs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduler_TickStartsJobAndSkipsWhileActive(t *testing.T) {
	b := newBlockingRunner()
	s := NewSupervisor(b.run, 0)
	defer s.Close()

	sched, err := NewScheduler("@every 1h", s, opts("/pics"))
	require.NoError(t, err)

	sched.Tick()
	require.Len(t, s.List(), 1)
	sched.Tick()
	assert.Len(t, s.List(), 1, "an active job must not be started twice")

	close(b.release)
	wait(t, s, s.List()[0].ID)
	sched.Tick()
	assert.Len(t, s.List(), 2)
}

func TestScheduler_StartStop(t *testing.T) {
	s := NewSupervisor(newBlockingRunner().run, 0)
	defer s.Close()

	sched, err := NewScheduler("0 3 * * *", s, opts("/pics"))
	require.NoError(t, err)
	sched.Start()

	done := make(chan struct{})
	go func() {
		sched.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return")
	}
}

func TestScheduler_InvalidSpec(t *testing.T) {
	s := NewSupervisor(newBlockingRunner().run, 0)
	defer s.Close()
	_, err := NewScheduler("every tuesday", s, opts("/pics"))
	assert.Error(t, err)
}
