package async

import (
	"errors"
	"testing"

	"embervm/internal/heap"
)

func TestSpawnResolvesWithInvokeResult(t *testing.T) {
	r := NewRegistry()
	fut := r.Spawn(func(fn *heap.Function, args []any) (any, error) {
		return 42, nil
	}, nil, nil)

	v, err := fut.Await()
	if err != nil {
		t.Fatalf("Await() error = %v, want nil", err)
	}
	if v != 42 {
		t.Fatalf("Await() value = %v, want 42", v)
	}
	r.Drain()
}

func TestSpawnResolvesWithInvokeError(t *testing.T) {
	r := NewRegistry()
	wantErr := errors.New("boom")
	fut := r.Spawn(func(fn *heap.Function, args []any) (any, error) {
		return nil, wantErr
	}, nil, nil)

	_, err := fut.Await()
	if err != wantErr {
		t.Fatalf("Await() error = %v, want %v", err, wantErr)
	}
	r.Drain()
}

func TestSpawnRecoversPanicIntoFutureError(t *testing.T) {
	r := NewRegistry()
	fut := r.Spawn(func(fn *heap.Function, args []any) (any, error) {
		panic("kaboom")
	}, nil, nil)

	_, err := fut.Await()
	if err == nil {
		t.Fatal("Await() returned nil error after a panicking invoke, want a recovered error")
	}
	r.Drain()
}

func TestDrainWaitsForAllOutstandingWorkers(t *testing.T) {
	r := NewRegistry()
	const n = 10
	started := make(chan struct{}, n)
	release := make(chan struct{})

	for i := 0; i < n; i++ {
		r.Spawn(func(fn *heap.Function, args []any) (any, error) {
			started <- struct{}{}
			<-release
			return nil, nil
		}, nil, nil)
	}

	for i := 0; i < n; i++ {
		<-started
	}
	close(release)
	r.Drain() // must return once every worker above has resolved
}

func TestWalkPendingOmitsResolvedFutures(t *testing.T) {
	r := NewRegistry()
	block := make(chan struct{})
	r.Spawn(func(fn *heap.Function, args []any) (any, error) {
		<-block
		return nil, nil
	}, nil, nil)

	count := 0
	r.WalkPending(func(f *heap.Future) { count++ })
	if count != 1 {
		t.Fatalf("WalkPending visited %d futures while one worker is blocked, want 1", count)
	}

	close(block)
	r.Drain()

	count = 0
	r.WalkPending(func(f *heap.Future) { count++ })
	if count != 0 {
		t.Fatalf("WalkPending visited %d futures after Drain, want 0 (registry entry removed on completion)", count)
	}
}
