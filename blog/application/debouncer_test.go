package application

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dfryer1193/mdblog/shared/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testQuiet = 40 * time.Millisecond

func TestPathDebouncer_CoalescesBurst(t *testing.T) {
	d := NewPathDebouncer(testQuiet)
	defer d.Close()
	coalescedBefore := testutil.ToFloat64(metrics.DebounceCoalescedTotal)

	var runs atomic.Int32
	var last atomic.Int32
	for i := int32(1); i <= 3; i++ {
		d.Notify("notes/a", func() {
			runs.Add(1)
			last.Store(i)
		})
	}

	require.Eventually(t, func() bool { return runs.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(2 * testQuiet)
	assert.EqualValues(t, 1, runs.Load())
	assert.EqualValues(t, 3, last.Load(), "the last notification's action runs")
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.DebounceCoalescedTotal)-coalescedBefore)
	assert.Zero(t, d.Pending())
}

func TestPathDebouncer_KeysAreIndependent(t *testing.T) {
	d := NewPathDebouncer(testQuiet)
	defer d.Close()

	var mu sync.Mutex
	ran := map[string]int{}
	for _, key := range []string{"a", "b", "a"} {
		d.Notify(key, func() {
			mu.Lock()
			ran[key]++
			mu.Unlock()
		})
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return ran["a"] == 1 && ran["b"] == 1
	}, time.Second, 5*time.Millisecond)
}

func TestPathDebouncer_WindowRestartsOnNotify(t *testing.T) {
	d := NewPathDebouncer(100 * time.Millisecond)
	defer d.Close()

	var ran atomic.Bool
	start := time.Now()
	d.Notify("a", func() { ran.Store(true) })
	time.Sleep(60 * time.Millisecond)
	d.Notify("a", func() { ran.Store(true) })

	require.Eventually(t, ran.Load, time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, time.Since(start), 160*time.Millisecond)
}

func TestPathDebouncer_Cancel(t *testing.T) {
	d := NewPathDebouncer(testQuiet)
	defer d.Close()

	var ran atomic.Bool
	d.Notify("a", func() { ran.Store(true) })
	assert.True(t, d.Cancel("a"))
	assert.False(t, d.Cancel("a"))

	time.Sleep(3 * testQuiet)
	assert.False(t, ran.Load())
}

func TestPathDebouncer_CloseDropsPending(t *testing.T) {
	d := NewPathDebouncer(testQuiet)

	var ran atomic.Bool
	d.Notify("a", func() { ran.Store(true) })
	d.Close()
	assert.False(t, d.Notify("b", func() { ran.Store(true) }))

	time.Sleep(3 * testQuiet)
	assert.False(t, ran.Load())
	assert.Zero(t, d.Pending())
}

func TestPathDebouncer_CloseWaitsForRunningAction(t *testing.T) {
	d := NewPathDebouncer(time.Millisecond)

	started := make(chan struct{})
	var finished atomic.Bool
	d.Notify("a", func() {
		close(started)
		time.Sleep(50 * time.Millisecond)
		finished.Store(true)
	})

	<-started
	d.Close()
	assert.True(t, finished.Load())
}
