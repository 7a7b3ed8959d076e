package correlation

import (
	"sync"
	"testing"

	"github.com/ChuLiYu/faction-ambush/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingObserver struct {
	mu                                             sync.Mutex
	issued, completed, missed, cancelled, panicked int
	lastPending                                    int
}

func (o *countingObserver) MarkerIssued()    { o.mu.Lock(); o.issued++; o.mu.Unlock() }
func (o *countingObserver) MarkerCompleted() { o.mu.Lock(); o.completed++; o.mu.Unlock() }
func (o *countingObserver) MarkerMissed()    { o.mu.Lock(); o.missed++; o.mu.Unlock() }
func (o *countingObserver) MarkerCancelled() { o.mu.Lock(); o.cancelled++; o.mu.Unlock() }
func (o *countingObserver) CallbackPanicked() {
	o.mu.Lock()
	o.panicked++
	o.mu.Unlock()
}
func (o *countingObserver) PendingMarkers(n int) { o.mu.Lock(); o.lastPending = n; o.mu.Unlock() }

func TestIssueMarkerUnique(t *testing.T) {
	r := NewRegistry()
	seen := make(map[Marker]bool)
	for i := 0; i < 10000; i++ {
		m := r.IssueMarker()
		require.False(t, seen[m], "marker %d issued twice", m)
		assert.GreaterOrEqual(t, m, DefaultBase)
		seen[m] = true
	}
}

func TestIssueMarkerConcurrent(t *testing.T) {
	r := NewRegistry()
	const goroutines, perG = 16, 500

	var mu sync.Mutex
	seen := make(map[Marker]bool)
	var wg sync.WaitGroup
	wg.Add(goroutines)
	for g := 0; g < goroutines; g++ {
		go func() {
			defer wg.Done()
			local := make([]Marker, 0, perG)
			for i := 0; i < perG; i++ {
				local = append(local, r.IssueMarker())
			}
			mu.Lock()
			for _, m := range local {
				seen[m] = true
			}
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Len(t, seen, goroutines*perG)
}

func TestExactlyOncePerCompletion(t *testing.T) {
	r := NewRegistry()
	m := r.IssueMarker()

	var got []types.Entity
	r.Register(m, 3, "ctx", func(e types.Entity, marker Marker, ctx any) {
		assert.Equal(t, m, marker)
		assert.Equal(t, "ctx", ctx)
		got = append(got, e)
	})

	assert.True(t, r.TryComplete(m, 10))
	assert.True(t, r.TryComplete(m, 11))
	remaining, ok := r.Remaining(m)
	require.True(t, ok)
	assert.Equal(t, 1, remaining)
	assert.True(t, r.TryComplete(m, 12))

	assert.False(t, r.TryComplete(m, 13), "retired marker must report not found")
	assert.Equal(t, []types.Entity{10, 11, 12}, got)
	assert.Equal(t, 0, r.Pending())
}

func TestRegisterClampsExpectedCount(t *testing.T) {
	tests := []struct {
		name     string
		expected int
	}{
		{"zero", 0},
		{"negative", -4},
		{"one", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry()
			m := r.IssueMarker()
			calls := 0
			r.Register(m, tt.expected, nil, func(types.Entity, Marker, any) { calls++ })

			assert.True(t, r.TryComplete(m, 1))
			assert.False(t, r.TryComplete(m, 2))
			assert.Equal(t, 1, calls)
		})
	}
}

func TestTryCompleteUnknownMarker(t *testing.T) {
	r := NewRegistry()
	obs := &countingObserver{}
	r.SetObserver(obs)

	assert.False(t, r.TryComplete(42, 1))
	assert.False(t, r.TryComplete(r.IssueMarker(), 1))
	assert.Equal(t, 2, obs.missed)
}

func TestCallbackPanicIsSwallowed(t *testing.T) {
	r := NewRegistry()
	obs := &countingObserver{}
	r.SetObserver(obs)

	bad := r.IssueMarker()
	good := r.IssueMarker()
	r.Register(bad, 2, nil, func(types.Entity, Marker, any) { panic("boom") })

	goodCalls := 0
	r.Register(good, 1, nil, func(types.Entity, Marker, any) { goodCalls++ })

	assert.NotPanics(t, func() {
		assert.True(t, r.TryComplete(bad, 1))
	})
	// the failing callback still counts down
	remaining, ok := r.Remaining(bad)
	require.True(t, ok)
	assert.Equal(t, 1, remaining)

	assert.True(t, r.TryComplete(good, 2))
	assert.Equal(t, 1, goodCalls)
	assert.Equal(t, 1, obs.panicked)
}

func TestCancel(t *testing.T) {
	r := NewRegistry()
	obs := &countingObserver{}
	r.SetObserver(obs)

	m := r.IssueMarker()
	called := false
	r.Register(m, 2, nil, func(types.Entity, Marker, any) { called = true })

	assert.True(t, r.Cancel(m))
	assert.False(t, r.Cancel(m))
	assert.False(t, r.TryComplete(m, 1))
	assert.False(t, called)
	assert.Equal(t, 1, obs.cancelled)
	assert.Equal(t, 0, obs.lastPending)
}

func TestRegisterTwiceLastWriteWins(t *testing.T) {
	r := NewRegistry()
	m := r.IssueMarker()

	first, second := 0, 0
	r.Register(m, 1, nil, func(types.Entity, Marker, any) { first++ })
	r.Register(m, 1, nil, func(types.Entity, Marker, any) { second++ })

	assert.True(t, r.TryComplete(m, 1))
	assert.Equal(t, 0, first)
	assert.Equal(t, 1, second)
}

func TestCallbackMayRegisterNewMarker(t *testing.T) {
	r := NewRegistry()
	outer := r.IssueMarker()
	var inner Marker

	r.Register(outer, 1, nil, func(types.Entity, Marker, any) {
		inner = r.IssueMarker()
		r.Register(inner, 1, nil, func(types.Entity, Marker, any) {})
	})

	require.True(t, r.TryComplete(outer, 1))
	assert.Equal(t, 1, r.Pending())
	assert.True(t, r.TryComplete(inner, 2))
}

func TestNewRegistryFrom(t *testing.T) {
	r := NewRegistryFrom(5)
	assert.Equal(t, Marker(5), r.Base())
	assert.Equal(t, Marker(5), r.IssueMarker())
	assert.Equal(t, Marker(6), r.IssueMarker())
}
