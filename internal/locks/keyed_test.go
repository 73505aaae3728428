package locks

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestKeyedMutexSerializesSameKey(t *testing.T) {
	km := NewKeyedMutex()
	var active, maxActive int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := km.Lock("group:1:user:a")
			defer unlock()
			n := atomic.AddInt32(&active, 1)
			for {
				cur := atomic.LoadInt32(&maxActive)
				if n <= cur || atomic.CompareAndSwapInt32(&maxActive, cur, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&active, -1)
		}()
	}
	wg.Wait()
	if maxActive != 1 {
		t.Fatalf("max concurrent holders = %d, want 1", maxActive)
	}
	if km.Len() != 0 {
		t.Fatalf("entries leaked: %d", km.Len())
	}
}

func TestKeyedMutexIndependentKeys(t *testing.T) {
	km := NewKeyedMutex()
	unlockA := km.Lock("a")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlock := km.Lock("b")
		unlock()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on a different key blocked")
	}
}

func TestKeyedMutexTryLock(t *testing.T) {
	km := NewKeyedMutex()
	unlock, ok := km.TryLock("group:7")
	if !ok {
		t.Fatal("TryLock on a free key failed")
	}
	if _, ok := km.TryLock("group:7"); ok {
		t.Fatal("TryLock on a held key succeeded")
	}
	if other, ok := km.TryLock("group:8"); !ok {
		t.Fatal("TryLock on a different key failed")
	} else {
		other()
	}
	unlock()
	if km.Len() != 0 {
		t.Fatalf("entries leaked: %d", km.Len())
	}
	again, ok := km.TryLock("group:7")
	if !ok {
		t.Fatal("TryLock after release failed")
	}
	again()
}
