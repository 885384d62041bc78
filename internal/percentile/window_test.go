package percentile

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPercentileBasic(t *testing.T) {
	w := NewWindow(100)
	for i := 1; i <= 100; i++ {
		w.Add(float64(i))
	}
	require.Equal(t, 100, w.Len())
	require.InDelta(t, 50, w.Percentile(50), 1)
	require.InDelta(t, 99, w.Percentile(99), 1)
}

func TestPercentileEvictsOldest(t *testing.T) {
	w := NewWindow(10)
	for i := 1; i <= 20; i++ {
		w.Add(float64(i))
	}
	require.Equal(t, 10, w.Len())
	// Window should now hold 11..20.
	require.Equal(t, float64(11), w.Percentile(1))
}

// TestLatencySpikeTwoConsecutive mirrors scenario S4: 200 samples at 10ms,
// then 200 at 500ms, threshold 100ms, evaluating every 100 samples.
func TestLatencySpikeTwoConsecutive(t *testing.T) {
	const threshold = 100.0
	w := NewWindow(1000)

	consecutiveBreaches := 0
	triggered := 0
	evaluate := func() {
		if w.Percentile(99) > threshold {
			consecutiveBreaches++
			if consecutiveBreaches == 2 {
				triggered++
			}
		} else {
			consecutiveBreaches = 0
		}
	}

	for i := 0; i < 200; i++ {
		w.Add(10)
		if (i+1)%100 == 0 {
			evaluate()
		}
	}
	require.Equal(t, 0, triggered)

	for i := 0; i < 200; i++ {
		w.Add(500)
		if (i+1)%100 == 0 {
			evaluate()
		}
	}
	require.Equal(t, 1, triggered)
}
