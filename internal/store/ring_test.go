package store

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/appshare1603/VanLive/internal/domain"
)

var base = time.Date(2026, time.March, 14, 9, 0, 0, 0, time.UTC)

func sampleAt(vehicleID string, i int) domain.Sample {
	return domain.Sample{
		VehicleID: vehicleID,
		Timestamp: base.Add(time.Duration(i) * time.Second),
		GasPpm:    domain.Int(i),
	}
}

func TestRingStoreRejectsNonPositiveCapacity(t *testing.T) {
	_, err := NewRingStore(0)
	require.Error(t, err)
}

func TestRingStoreLatestUnknownVehicle(t *testing.T) {
	s, err := NewRingStore(4)
	require.NoError(t, err)

	_, err = s.Latest("van-404")
	require.ErrorIs(t, err, domain.ErrNotFound)
	_, err = s.History("van-404", 10)
	require.ErrorIs(t, err, domain.ErrNotFound)
	_, err = s.Window("van-404", time.Minute)
	require.ErrorIs(t, err, domain.ErrNotFound)
	require.Zero(t, s.Len("van-404"))
}

func TestRingStoreEvictsOldestFirst(t *testing.T) {
	const capacity = 5
	s, err := NewRingStore(capacity)
	require.NoError(t, err)

	const k = 12
	for i := 0; i < k; i++ {
		_, err := s.Append(sampleAt("van-1", i))
		require.NoError(t, err)
	}

	require.Equal(t, capacity, s.Len("van-1"))

	hist, err := s.History("van-1", capacity)
	require.NoError(t, err)
	require.Len(t, hist, capacity)
	for i, got := range hist {
		require.Equal(t, k-capacity+i, *got.GasPpm)
	}

	all, err := s.History("van-1", 0)
	require.NoError(t, err)
	require.Equal(t, hist, all)

	latest, err := s.Latest("van-1")
	require.NoError(t, err)
	require.Equal(t, k-1, *latest.GasPpm)
}

func TestRingStoreHistoryLimit(t *testing.T) {
	s, err := NewRingStore(10)
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		_, err := s.Append(sampleAt("van-1", i))
		require.NoError(t, err)
	}

	hist, err := s.History("van-1", 2)
	require.NoError(t, err)
	require.Len(t, hist, 2)
	require.Equal(t, 2, *hist[0].GasPpm)
	require.Equal(t, 3, *hist[1].GasPpm)

	hist, err = s.History("van-1", 50)
	require.NoError(t, err)
	require.Len(t, hist, 4)
}

func TestRingStoreWindow(t *testing.T) {
	s, err := NewRingStore(100)
	require.NoError(t, err)
	for i := 0; i < 60; i++ {
		_, err := s.Append(sampleAt("van-1", i))
		require.NoError(t, err)
	}

	win, err := s.Window("van-1", 10*time.Second)
	require.NoError(t, err)
	require.Len(t, win, 11)
	require.Equal(t, 49, *win[0].GasPpm)
	require.Equal(t, 59, *win[len(win)-1].GasPpm)

	win, err = s.Window("van-1", 0)
	require.NoError(t, err)
	require.Len(t, win, 1)
}

func TestRingStoreRejectsOutOfOrderTimestamp(t *testing.T) {
	s, err := NewRingStore(4)
	require.NoError(t, err)

	_, err = s.Append(sampleAt("van-1", 5))
	require.NoError(t, err)

	_, err = s.Append(sampleAt("van-1", 4))
	var verr *domain.ValidationError
	require.True(t, errors.As(err, &verr))
	require.True(t, verr.Has("timestamp"))
	require.Equal(t, 1, s.Len("van-1"))

	_, err = s.Append(sampleAt("van-1", 5))
	require.NoError(t, err, "equal timestamps are allowed")
}

func TestRingStoreAppendFuncFailureLeavesStoreUntouched(t *testing.T) {
	s, err := NewRingStore(4)
	require.NoError(t, err)
	_, err = s.Append(sampleAt("van-1", 0))
	require.NoError(t, err)

	committed := false
	_, err = s.AppendFunc("van-1", func(tail *domain.Sample) (domain.Sample, error) {
		require.NotNil(t, tail)
		return domain.Sample{}, fmt.Errorf("nope")
	}, func(domain.Sample) { committed = true })
	require.Error(t, err)
	require.False(t, committed)
	require.Equal(t, 1, s.Len("van-1"))
}

func TestRingStoreKeepsPrivateCopies(t *testing.T) {
	s, err := NewRingStore(4)
	require.NoError(t, err)

	gas := 400
	in := domain.Sample{VehicleID: "van-1", Timestamp: base, GasPpm: &gas}
	_, err = s.Append(in)
	require.NoError(t, err)

	gas = 5
	latest, err := s.Latest("van-1")
	require.NoError(t, err)
	require.Equal(t, 400, *latest.GasPpm, "caller edits after append do not reach the store")

	*latest.GasPpm = 7
	history, err := s.History("van-1", 0)
	require.NoError(t, err)
	require.Equal(t, 400, *history[0].GasPpm, "reader edits do not reach the store")

	*history[0].GasPpm = 9
	window, err := s.Window("van-1", time.Minute)
	require.NoError(t, err)
	require.Equal(t, 400, *window[0].GasPpm)
}

func TestRingStoreVehiclesAndRemove(t *testing.T) {
	s, err := NewRingStore(4)
	require.NoError(t, err)
	for _, id := range []string{"van-b", "van-a"} {
		_, err := s.Append(sampleAt(id, 0))
		require.NoError(t, err)
	}
	require.Equal(t, []string{"van-a", "van-b"}, s.Vehicles())

	require.True(t, s.Remove("van-a"))
	require.False(t, s.Remove("van-a"))
	_, err = s.Latest("van-a")
	require.ErrorIs(t, err, domain.ErrNotFound)
	require.Equal(t, []string{"van-b"}, s.Vehicles())
}

func TestRingStoreConcurrentVehicles(t *testing.T) {
	s, err := NewRingStore(50)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for v := 0; v < 8; v++ {
		vehicleID := fmt.Sprintf("van-%d", v)
		wg.Add(2)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				_, err := s.Append(sampleAt(vehicleID, i))
				require.NoError(t, err)
			}
		}()
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				hist, err := s.History(vehicleID, 0)
				if errors.Is(err, domain.ErrNotFound) {
					continue
				}
				require.NoError(t, err)
				for j := 1; j < len(hist); j++ {
					require.Equal(t, *hist[j-1].GasPpm+1, *hist[j].GasPpm)
				}
			}
		}()
	}
	wg.Wait()

	for v := 0; v < 8; v++ {
		latest, err := s.Latest(fmt.Sprintf("van-%d", v))
		require.NoError(t, err)
		require.Equal(t, 199, *latest.GasPpm)
	}
}
