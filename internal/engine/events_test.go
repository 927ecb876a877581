package engine

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublisherFanOut(t *testing.T) {
	p := NewPublisher(4)
	a, unsubA := p.Subscribe()
	b, unsubB := p.Subscribe()
	defer unsubB()
	assert.Equal(t, 2, p.Subscribers())

	p.Publish(Event{Type: EventSignal, Symbol: "BTCUSDT"})

	evA := <-a
	evB := <-b
	assert.Equal(t, EventSignal, evA.Type)
	assert.Equal(t, "BTCUSDT", evB.Symbol)
	assert.False(t, evA.Time.IsZero())

	unsubA()
	unsubA()
	_, open := <-a
	assert.False(t, open)
	assert.Equal(t, 1, p.Subscribers())
}

func TestPublisherDropsWhenSubscriberIsFull(t *testing.T) {
	p := NewPublisher(1)
	ch, unsub := p.Subscribe()
	defer unsub()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			p.Publish(Event{Type: EventSafety})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}
	assert.Len(t, ch, 1)
}

func TestKeyedMutexSerializesPerKey(t *testing.T) {
	k := newKeyedMutex()

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock("BTCUSDT")
			defer unlock()
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside)
	assert.Zero(t, k.size())
}

func TestKeyedMutexIndependentKeys(t *testing.T) {
	k := newKeyedMutex()
	unlockBTC := k.Lock("BTCUSDT")

	acquired := make(chan struct{})
	go func() {
		unlock := k.Lock("ETHUSDT")
		unlock()
		close(acquired)
	}()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("lock on a different key was blocked")
	}
	require.Equal(t, 1, k.size())
	unlockBTC()
	assert.Zero(t, k.size())
}
