package bus

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFanOut_BroadcastsToAll(t *testing.T) {
	fo := New[string](10)
	_, out1 := fo.Subscribe()
	_, out2 := fo.Subscribe()

	assert.Equal(t, 2, fo.Publish("BTCUSDT"))

	for _, out := range []<-chan string{out1, out2} {
		select {
		case v := <-out:
			assert.Equal(t, "BTCUSDT", v)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for value")
		}
	}
}

func TestFanOut_SlowConsumerDropped(t *testing.T) {
	fo := New[int](1)
	slowID, slow := fo.Subscribe()
	_, fast := fo.Subscribe()

	var mu sync.Mutex
	var drops []int
	fo.OnDrop = func(id int) {
		mu.Lock()
		drops = append(drops, id)
		mu.Unlock()
	}

	assert.Equal(t, 2, fo.Publish(1))
	<-fast
	assert.Equal(t, 1, fo.Publish(2))

	mu.Lock()
	assert.Equal(t, []int{slowID}, drops)
	mu.Unlock()
	assert.Equal(t, 1, <-slow)
	assert.Equal(t, 2, <-fast)
}

func TestFanOut_Unsubscribe(t *testing.T) {
	fo := New[int](1)
	id, ch := fo.Subscribe()
	fo.Unsubscribe(id)
	fo.Unsubscribe(id)

	_, ok := <-ch
	assert.False(t, ok)
	assert.Equal(t, 0, fo.Len())
	assert.Equal(t, 0, fo.Publish(1))
}

func TestFanOut_Close(t *testing.T) {
	fo := New[int](1)
	_, before := fo.Subscribe()
	fo.Close()
	fo.Close()

	_, ok := <-before
	assert.False(t, ok)

	_, after := fo.Subscribe()
	_, ok = <-after
	assert.False(t, ok)
	assert.Equal(t, 0, fo.Publish(1))
}
