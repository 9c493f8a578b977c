package sanitizer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/resonatorlab/laser-precision-adjust/internal/status"
)

func feed(s *Sanitizer, channel int, shot bool, freq float64) {
	s.Ingest(status.Status{CurrentChannel: channel, ShotMark: shot, CurrentFrequency: freq})
}

func Test_ShotMark_ResetsToWaiting(t *testing.T) {
	s := New(0.01)

	feed(s, 1, true, 100)
	cur, _ := s.Current()
	assert.Equal(t, Waiting, cur.Kind)
}

func Test_ConstantWindow_IsStable(t *testing.T) {
	s := New(0.01)

	feed(s, 1, true, 100)
	for i := 0; i < 6; i++ {
		feed(s, 1, false, 100)
	}

	cur, _ := s.Current()
	assert.Equal(t, Stable, cur.Kind)
	assert.Equal(t, 100.0, cur.StableFrequency)
}

func Test_ChannelChangeWithoutShot_ResetsToWaiting(t *testing.T) {
	s := New(0.01)

	feed(s, 1, true, 100)
	feed(s, 1, false, 100)
	feed(s, 2, false, 50)

	cur, _ := s.Current()
	assert.Equal(t, Waiting, cur.Kind)
	assert.Equal(t, 2, cur.Channel)
}

func Test_RisingWindow_IsCoolingOrUnstable(t *testing.T) {
	s := New(0.01)

	feed(s, 1, true, 1.0)
	vals := []float64{1.0, 1.5, 1.8, 1.95, 2.0}
	for _, v := range vals {
		feed(s, 1, false, v)
	}

	cur, _ := s.Current()
	assert.Contains(t, []Kind{Cooling, Unstable}, cur.Kind)
}

func Test_TryGetCorrect_ReturnsStable(t *testing.T) {
	s := New(0.01)
	feed(s, 1, true, 100)

	done := make(chan Reading, 1)
	go func() {
		r, err := s.TryGetCorrect(context.Background(), time.Second)
		require.NoError(t, err)
		done <- r
	}()

	time.Sleep(10 * time.Millisecond)
	for i := 0; i < 6; i++ {
		feed(s, 1, false, 100)
	}

	select {
	case r := <-done:
		assert.Equal(t, Stable, r.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("TryGetCorrect did not return")
	}
}

func Test_TryGetCorrect_TimesOutWithLastState(t *testing.T) {
	s := New(0.01)
	feed(s, 1, true, 100)

	_, err := s.TryGetCorrect(context.Background(), 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
}
