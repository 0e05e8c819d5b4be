package locks

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAcquire_SerializesSameAccount(t *testing.T) {
	r := NewRegistry()
	var active int32
	var maxActive int32
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g := r.Acquire("A")
			defer g.Release()

			n := atomic.AddInt32(&active, 1)
			if n > atomic.LoadInt32(&maxActive) {
				atomic.StoreInt32(&maxActive, n)
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&active, -1)
		}()
	}
	wg.Wait()

	require.Equal(t, int32(1), maxActive)
}

func TestAcquire_DifferentAccountsDoNotBlock(t *testing.T) {
	r := NewRegistry()
	done := make(chan struct{})

	gA := r.Acquire("A")
	go func() {
		gB := r.Acquire("B")
		gB.Release()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("acquiring a different account blocked on a held one")
	}
	gA.Release()
}
