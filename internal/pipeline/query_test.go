package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/appshare1603/VanLive/internal/domain"
)

func TestQueryUnknownVehicle(t *testing.T) {
	h := newHarness(t, 10, 4, nil)

	_, err := h.query.Latest("ghost")
	require.ErrorIs(t, err, domain.ErrNotFound)
	_, err = h.query.History("ghost", 5)
	require.ErrorIs(t, err, domain.ErrNotFound)
	_, err = h.query.Window("ghost", time.Minute)
	require.ErrorIs(t, err, domain.ErrNotFound)
	require.Empty(t, h.query.Fleet())
}

func TestQueryRecomputesAlertsWithCurrentThresholds(t *testing.T) {
	h := newHarness(t, 10, 4, nil)
	_, err := h.ingestor.Submit(context.Background(), TransportHTTP, domain.Sample{VehicleID: "van-1", GasPpm: domain.Int(300)})
	require.NoError(t, err)

	snap, err := h.query.Latest("van-1")
	require.NoError(t, err)
	require.Empty(t, snap.Alerts)

	require.NoError(t, h.thresholds.SetOverrides(SourceDatabase, map[string]map[string]float64{
		"van-1": {domain.ThresholdGasPpmMax: 250},
	}))
	snap, err = h.query.Latest("van-1")
	require.NoError(t, err)
	require.True(t, snap.Alerts.Has(domain.AlertGasAlarm))
}

func TestQueryFleetAndRemove(t *testing.T) {
	h := newHarness(t, 10, 4, nil)
	ctx := context.Background()
	for _, id := range []string{"van-b", "van-a"} {
		_, err := h.ingestor.Submit(ctx, TransportHTTP, domain.Sample{VehicleID: id})
		require.NoError(t, err)
	}

	fleet := h.query.Fleet()
	require.Len(t, fleet, 2)
	require.Equal(t, "van-a", fleet[0].Sample.VehicleID)
	require.Equal(t, "van-b", fleet[1].Sample.VehicleID)

	require.True(t, h.query.Remove("van-a"))
	require.False(t, h.query.Remove("van-a"))
	require.Len(t, h.query.Fleet(), 1)
}

func TestQueryHistoryAndWindow(t *testing.T) {
	h := newHarness(t, 10, 4, nil)
	ctx := context.Background()
	for i := 0; i < 12; i++ {
		h.freezeClock(t0.Add(time.Duration(i) * time.Second))
		_, err := h.ingestor.Submit(ctx, TransportHTTP, domain.Sample{VehicleID: "van-1", GasPpm: domain.Int(i)})
		require.NoError(t, err)
	}

	hist, err := h.query.History("van-1", 0)
	require.NoError(t, err)
	require.Len(t, hist, 10)
	require.Equal(t, 2, *hist[0].GasPpm)

	win, err := h.query.Window("van-1", 3*time.Second)
	require.NoError(t, err)
	require.Len(t, win, 4)
	require.Equal(t, 8, *win[0].GasPpm)
}
