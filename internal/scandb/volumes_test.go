package scandb

import (
	"context"
	"math"
	"strings"
	"testing"
	"time"
)

var volT0 = time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC)

func TestVolumeRoundTrip(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	vol := make([]float64, 1000)
	for i := range vol {
		vol[i] = math.Sin(float64(i) / 30)
	}
	if err := db.SaveVolume(ctx, volT0, vol); err != nil {
		t.Fatalf("SaveVolume failed: %v", err)
	}

	got, err := db.LoadVolume(ctx, volT0)
	if err != nil {
		t.Fatalf("LoadVolume failed: %v", err)
	}
	if len(got) != len(vol) {
		t.Fatalf("Expected %d nodes, got %d", len(vol), len(got))
	}
	for i := range vol {
		if got[i] != vol[i] {
			t.Fatalf("Node %d: expected %v, got %v", i, vol[i], got[i])
		}
	}
}

func TestSaveVolumeReplaces(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if err := db.SaveVolume(ctx, volT0, []float64{1, 2, 3}); err != nil {
		t.Fatalf("SaveVolume failed: %v", err)
	}
	if err := db.SaveVolume(ctx, volT0, []float64{4, 5, 6}); err != nil {
		t.Fatalf("SaveVolume replace failed: %v", err)
	}

	got, err := db.LoadVolume(ctx, volT0)
	if err != nil {
		t.Fatalf("LoadVolume failed: %v", err)
	}
	if got[0] != 4 {
		t.Errorf("Expected replaced volume, got %v", got)
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM volumes").Scan(&count); err != nil {
		t.Fatalf("Failed to count volumes: %v", err)
	}
	if count != 1 {
		t.Errorf("Expected 1 volume row, got %d", count)
	}
}

func TestSaveVolumeEmpty(t *testing.T) {
	db := newTestDB(t)

	if err := db.SaveVolume(context.Background(), volT0, nil); err == nil {
		t.Error("Expected error saving an empty volume")
	}
}

func TestLoadVolumeMissing(t *testing.T) {
	db := newTestDB(t)

	_, err := db.LoadVolume(context.Background(), volT0)
	if err == nil {
		t.Fatal("Expected error for missing volume")
	}
	if !strings.Contains(err.Error(), "no volume stored") {
		t.Errorf("Expected missing-volume error, got: %v", err)
	}
}

func TestPruneVolumesBefore(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		tick := volT0.Add(time.Duration(i) * time.Second)
		if err := db.SaveVolume(ctx, tick, []float64{float64(i)}); err != nil {
			t.Fatalf("SaveVolume %d failed: %v", i, err)
		}
	}

	n, err := db.PruneVolumesBefore(ctx, volT0.Add(2*time.Second))
	if err != nil {
		t.Fatalf("PruneVolumesBefore failed: %v", err)
	}
	if n != 2 {
		t.Errorf("Expected 2 pruned volumes, got %d", n)
	}

	if _, err := db.LoadVolume(ctx, volT0); err == nil {
		t.Error("Expected pruned volume to be gone")
	}
	if _, err := db.LoadVolume(ctx, volT0.Add(2*time.Second)); err != nil {
		t.Errorf("Expected cutoff volume to survive: %v", err)
	}
}
