package stats

import (
	"testing"
	"time"
)

func TestSnapshotBelowMinWindowReportsZero(t *testing.T) {
	start := time.Unix(0, 0)
	c := New(start)
	c.RecordDownload(1 << 20)

	snap := c.Snapshot(start.Add(10*time.Millisecond), 0)
	if snap.DownloadBPS != 0 {
		t.Fatalf("DownloadBPS = %v, want 0 for sub-threshold window", snap.DownloadBPS)
	}
}

func TestSnapshotComputesBitsPerSecond(t *testing.T) {
	start := time.Unix(0, 0)
	c := New(start)
	c.RecordDownload(1_000_000)

	snap := c.Snapshot(start.Add(1*time.Second), 0)
	want := 8_000_000.0
	if snap.DownloadBPS != want {
		t.Fatalf("DownloadBPS = %v, want %v", snap.DownloadBPS, want)
	}
}

func TestSnapshotWindowResetsBaseline(t *testing.T) {
	start := time.Unix(0, 0)
	c := New(start)
	c.RecordDownload(1_000_000)
	_ = c.Snapshot(start.Add(1*time.Second), 0)

	// No new bytes downloaded; second window should report zero, not
	// re-count the first window's bytes.
	snap := c.Snapshot(start.Add(2*time.Second), 0)
	if snap.DownloadBPS != 0 {
		t.Fatalf("DownloadBPS = %v, want 0 on second empty window", snap.DownloadBPS)
	}
}

func TestCacheHitRate(t *testing.T) {
	c := New(time.Unix(0, 0))
	if got := c.Snapshot(time.Unix(0, 0), 0).CacheHitRate; got != 0 {
		t.Fatalf("CacheHitRate with no requests = %v, want 0", got)
	}

	c.RecordRequest(100, 25)
	snap := c.Snapshot(time.Unix(1, 0), 0)
	if snap.CacheHitRate != 0.25 {
		t.Fatalf("CacheHitRate = %v, want 0.25", snap.CacheHitRate)
	}
}

func TestActiveWorkers(t *testing.T) {
	c := New(time.Unix(0, 0))
	c.WorkerStarted()
	c.WorkerStarted()
	c.WorkerStopped()
	snap := c.Snapshot(time.Unix(1, 0), 0)
	if snap.ActiveWorkers != 1 {
		t.Fatalf("ActiveWorkers = %d, want 1", snap.ActiveWorkers)
	}
}

func TestAggregateSumsAndMeansHitRate(t *testing.T) {
	agg := Aggregate([]Snapshot{
		{DownloadBPS: 100, ServeBPS: 50, ActiveWorkers: 2, CacheHitRate: 0.5, BufferedAhead: 10},
		{DownloadBPS: 200, ServeBPS: 150, ActiveWorkers: 3, CacheHitRate: 1.0, BufferedAhead: 20},
	})
	if agg.DownloadBPS != 300 || agg.ServeBPS != 200 || agg.ActiveWorkers != 5 || agg.BufferedAhead != 30 {
		t.Fatalf("Aggregate sums wrong: %+v", agg)
	}
	if agg.CacheHitRate != 0.75 {
		t.Fatalf("CacheHitRate = %v, want mean 0.75", agg.CacheHitRate)
	}
}

func TestAggregateEmpty(t *testing.T) {
	agg := Aggregate(nil)
	if agg != (Snapshot{}) {
		t.Fatalf("Aggregate(nil) = %+v, want zero value", agg)
	}
}
