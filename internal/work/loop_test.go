package work

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testCommand struct {
	value      int
	completion *Completion[int]
}

func TestLoop_ProcessesInArrivalOrder(t *testing.T) {
	var mu sync.Mutex
	var seen []int

	loop := NewLoop("test", func(ctx context.Context, cmd testCommand) {
		mu.Lock()
		seen = append(seen, cmd.value)
		mu.Unlock()
		if cmd.completion != nil {
			cmd.completion.Complete(cmd.value, nil)
		}
	}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	go loop.Run(ctx)

	last := NewCompletion[int]()
	for i := 1; i <= 5; i++ {
		cmd := testCommand{value: i}
		if i == 5 {
			cmd.completion = last
		}
		loop.Enqueue(cmd)
	}

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer waitCancel()
	_, err := last.Wait(waitCtx)
	require.NoError(t, err)

	mu.Lock()
	assert.Equal(t, []int{1, 2, 3, 4, 5}, seen)
	mu.Unlock()

	cancel()
	loop.Wait()
}

func TestLoop_ManyProducers(t *testing.T) {
	const producers = 8
	const perProducer = 50

	processed := make(chan int, producers*perProducer)
	loop := NewLoop("test", func(ctx context.Context, cmd testCommand) {
		processed <- cmd.value
	}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	go loop.Run(ctx)

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				loop.Enqueue(testCommand{value: i})
			}
		}()
	}
	wg.Wait()

	deadline := time.After(5 * time.Second)
	for i := 0; i < producers*perProducer; i++ {
		select {
		case <-processed:
		case <-deadline:
			t.Fatalf("only %d of %d commands processed", i, producers*perProducer)
		}
	}

	cancel()
	loop.Wait()
}

func TestCompletion_CompletesExactlyOnce(t *testing.T) {
	c := NewCompletion[string]()
	c.Complete("first", nil)
	c.Complete("second", errors.New("ignored"))

	result, err := c.Wait(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, "first", result)
}

func TestCompletion_Failure(t *testing.T) {
	c := NewCompletion[string]()
	wantErr := errors.New("fetch failed")
	c.Complete("", wantErr)

	_, err := c.Wait(context.Background())
	assert.ErrorIs(t, err, wantErr)
}

func TestCompletion_WaitCancellation(t *testing.T) {
	c := NewCompletion[int]()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled, "cancellation is reported as the context error")
}

func TestLoop_StopsOnContextCancel(t *testing.T) {
	loop := NewLoop("test", func(ctx context.Context, cmd testCommand) {}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	go loop.Run(ctx)
	cancel()

	done := make(chan struct{})
	go func() {
		loop.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop after context cancellation")
	}
}
