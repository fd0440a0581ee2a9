package workerpool

import (
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestThreadedServesAllConnections(t *testing.T) {
	is := assert.New(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	is.NoError(err)
	defer ln.Close()

	var served int64
	go (&Threaded{Concurrency: 2}).Run(ln, func(conn net.Conn) {
		atomic.AddInt64(&served, 1)
		conn.Close()
	}, func() bool { return false })

	for i := 0; i < 5; i++ {
		conn, err := net.Dial("tcp", ln.Addr().String())
		is.NoError(err)
		conn.Close()
	}

	is.Eventually(func() bool {
		return atomic.LoadInt64(&served) == 5
	}, time.Second, 10*time.Millisecond)
}

func TestThreadedStopsAcceptingWhenDraining(t *testing.T) {
	is := assert.New(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	is.NoError(err)
	defer ln.Close()

	var draining atomic.Bool
	var served int64
	done := make(chan struct{})
	go func() {
		(&Threaded{Concurrency: 2}).Run(ln, func(conn net.Conn) {
			atomic.AddInt64(&served, 1)
			conn.Close()
		}, draining.Load)
		close(done)
	}()

	draining.Store(true)
	ln.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after listener closed")
	}
}
