package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestStreamBytesTotalIncrements(t *testing.T) {
	StreamBytesTotal.Reset()
	StreamBytesTotal.WithLabelValues("tcp", "send").Add(1024)

	got := testutil.ToFloat64(StreamBytesTotal.WithLabelValues("tcp", "send"))
	if got != 1024 {
		t.Errorf("StreamBytesTotal = %v, want 1024", got)
	}
}

func TestActiveStreamsGauge(t *testing.T) {
	ActiveStreams.Set(0)
	ActiveStreams.Inc()
	ActiveStreams.Inc()
	ActiveStreams.Dec()

	if got := testutil.ToFloat64(ActiveStreams); got != 1 {
		t.Errorf("ActiveStreams = %v, want 1", got)
	}
}
