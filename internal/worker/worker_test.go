package worker

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"zibai/internal/workerpool"
	"zibai/internal/zlog"
)

type fakeScheduler struct {
	ran chan struct{}
}

func (f *fakeScheduler) Run(ln net.Listener, handle workerpool.ConnHandler, draining func() bool) {
	for !draining() {
		time.Sleep(time.Millisecond)
	}
	close(f.ran)
}

func TestRunCompletesWhenSchedulerDrains(t *testing.T) {
	is := assert.New(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	is.NoError(err)
	defer ln.Close()

	sched := &fakeScheduler{ran: make(chan struct{})}
	w := New(Config{
		Listeners:           []net.Listener{ln},
		Scheduler:           sched,
		Sinks:               zlog.New(zlog.Options{}),
		GracefulExitTimeout: time.Second,
	})

	go w.StartDraining()

	done := make(chan int, 1)
	go func() { done <- w.Run() }()

	select {
	case code := <-done:
		is.Equal(0, code)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not exit")
	}
}

func TestShouldCloseAfterCurrentReflectsDraining(t *testing.T) {
	is := assert.New(t)

	w := New(Config{Sinks: zlog.New(zlog.Options{})})
	is.False(w.ShouldCloseAfterCurrent())
	w.StartDraining()
	is.True(w.ShouldCloseAfterCurrent())
}

func TestStartDrainingOnlyClosesListenersOnce(t *testing.T) {
	is := assert.New(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	is.NoError(err)

	w := New(Config{Listeners: []net.Listener{ln}, Sinks: zlog.New(zlog.Options{})})
	is.True(w.StartDraining())
	is.False(w.StartDraining())
}
