// Copyright 2026 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package batch_test

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/blinklabs-io/tally/batch"
	"github.com/blinklabs-io/tally/contract"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"pgregory.net/rapid"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// echoReader answers each call with the integer passed as its first
// argument. failures maps the first call index of a chunk to the number of
// times that chunk should fail before succeeding.
type echoReader struct {
	mu       sync.Mutex
	failures map[int64]int
	failErr  error
	inFlight atomic.Int32
	maxSeen  atomic.Int32
	calls    atomic.Int32
	delay    time.Duration
}

func (r *echoReader) BatchCall(ctx context.Context, calls []contract.Call) ([]contract.Result, error) {
	r.calls.Add(1)
	cur := r.inFlight.Add(1)
	defer r.inFlight.Add(-1)
	for {
		prev := r.maxSeen.Load()
		if cur <= prev || r.maxSeen.CompareAndSwap(prev, cur) {
			break
		}
	}
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	first := calls[0].Args[0].(int64)
	r.mu.Lock()
	if r.failures[first] > 0 {
		r.failures[first]--
		r.mu.Unlock()
		return nil, r.failErr
	}
	r.mu.Unlock()
	ret := make([]contract.Result, len(calls))
	for i, call := range calls {
		ret[i] = contract.NewResult(big.NewInt(call.Args[0].(int64)))
	}
	return ret, nil
}

func makeCalls(n int) []contract.Call {
	calls := make([]contract.Call, n)
	for i := range calls {
		calls[i] = contract.NewCall(contract.Voting, "getVotePower", int64(i))
	}
	return calls
}

func resultValues(t *testing.T, results []contract.Result) []uint64 {
	t.Helper()
	ret := make([]uint64, len(results))
	for i, res := range results {
		v, err := res.Uint64(0)
		require.NoError(t, err)
		ret[i] = v
	}
	return ret
}

func newExecutor(t *testing.T, reader contract.Reader, chunkSize, concurrency int) *batch.Executor {
	t.Helper()
	e, err := batch.NewExecutor(batch.Config{
		Reader:      reader,
		ChunkSize:   chunkSize,
		Concurrency: concurrency,
		RetryBase:   time.Millisecond,
		RetryMax:    5 * time.Millisecond,
	})
	require.NoError(t, err)
	return e
}

func TestExecuteOrderingAcrossChunkSizes(t *testing.T) {
	calls := makeCalls(237)
	expected := make([]uint64, len(calls))
	for i := range expected {
		expected[i] = uint64(i)
	}
	for _, chunkSize := range []int{1, 7, 100} {
		for _, concurrency := range []int{1, 2, 4} {
			t.Run(fmt.Sprintf("chunk=%d/concurrency=%d", chunkSize, concurrency), func(t *testing.T) {
				reader := &echoReader{}
				results, err := newExecutor(t, reader, chunkSize, concurrency).
					Execute(context.Background(), calls)
				require.NoError(t, err)
				assert.Equal(t, expected, resultValues(t, results))
				assert.Equal(t, int32((237+chunkSize-1)/chunkSize), reader.calls.Load())
				assert.LessOrEqual(t, reader.maxSeen.Load(), int32(concurrency))
			})
		}
	}
}

func TestExecuteOrderingProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(0, 300).Draw(rt, "calls")
		chunkSize := rapid.IntRange(1, 120).Draw(rt, "chunkSize")
		concurrency := rapid.IntRange(1, 4).Draw(rt, "concurrency")
		e, err := batch.NewExecutor(batch.Config{
			Reader:      &echoReader{},
			ChunkSize:   chunkSize,
			Concurrency: concurrency,
		})
		if err != nil {
			rt.Fatal(err)
		}
		results, err := e.Execute(context.Background(), makeCalls(n))
		if err != nil {
			rt.Fatal(err)
		}
		if len(results) != n {
			rt.Fatalf("got %d results for %d calls", len(results), n)
		}
		for i, res := range results {
			v, err := res.Uint64(0)
			if err != nil || v != uint64(i) {
				rt.Fatalf("result %d = %d (%v)", i, v, err)
			}
		}
	})
}

func TestExecuteRetriesTransientFailure(t *testing.T) {
	reg := prometheus.NewRegistry()
	reader := &echoReader{
		failures: map[int64]int{7: 2},
		failErr:  fmt.Errorf("%w: connection reset", contract.ErrTransientRead),
	}
	e, err := batch.NewExecutor(batch.Config{
		Reader:       reader,
		ChunkSize:    7,
		RetryBase:    time.Millisecond,
		PromRegistry: reg,
	})
	require.NoError(t, err)
	results, err := e.Execute(context.Background(), makeCalls(20))
	require.NoError(t, err)
	assert.Len(t, results, 20)
	assert.InDelta(t, 2, counterValue(t, reg, "tally_batch_retries_total"), 0)
}

func TestExecuteChunkExhaustsRetries(t *testing.T) {
	reader := &echoReader{
		failures: map[int64]int{14: 10},
		failErr:  fmt.Errorf("%w: timeout", contract.ErrTransientRead),
	}
	_, err := newExecutor(t, reader, 7, 2).Execute(context.Background(), makeCalls(30))
	require.Error(t, err)
	var chunkErr *batch.ChunkError
	require.ErrorAs(t, err, &chunkErr)
	assert.Equal(t, 2, chunkErr.Chunk)
	assert.Equal(t, 14, chunkErr.Start)
	assert.Equal(t, 21, chunkErr.End)
	assert.Equal(t, batch.DefaultMaxAttempts, chunkErr.Attempts)
	assert.ErrorIs(t, err, contract.ErrTransientRead)
}

func TestExecuteDoesNotRetryPermanentFailure(t *testing.T) {
	testDefs := []struct {
		name string
		err  error
	}{
		{"malformed result", contract.ErrMalformedResult},
		{"reverted call", contract.ErrCallReverted},
	}
	for _, testDef := range testDefs {
		t.Run(testDef.name, func(t *testing.T) {
			reader := &echoReader{
				failures: map[int64]int{0: 10},
				failErr:  fmt.Errorf("%w: getVotePower", testDef.err),
			}
			_, err := newExecutor(t, reader, 10, 1).Execute(context.Background(), makeCalls(5))
			var chunkErr *batch.ChunkError
			require.ErrorAs(t, err, &chunkErr)
			assert.Equal(t, 1, chunkErr.Attempts)
			assert.Equal(t, int32(1), reader.calls.Load())
			assert.ErrorIs(t, err, testDef.err)
		})
	}
}

func TestExecuteCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	reader := &echoReader{
		failures: map[int64]int{0: 10},
		failErr:  errors.New("unreachable"),
	}
	_, err := newExecutor(t, reader, 10, 1).Execute(ctx, makeCalls(5))
	require.Error(t, err)
}

func TestExecuteEmpty(t *testing.T) {
	reader := &echoReader{}
	results, err := newExecutor(t, reader, 10, 1).Execute(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Zero(t, reader.calls.Load())
}

func TestNewExecutorRequiresReader(t *testing.T) {
	_, err := batch.NewExecutor(batch.Config{})
	require.Error(t, err)
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == name {
			return mf.GetMetric()[0].GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %s not found", name)
	return 0
}
