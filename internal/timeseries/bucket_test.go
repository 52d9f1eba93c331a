package timeseries

import "testing"

func TestBucketSize(t *testing.T) {
	tests := []struct {
		name         string
		totalSeconds int64
		want         int64
	}{
		{"zero window", 0, 60},
		{"negative window", -100, 60},
		{"five minutes", 300, 60},
		{"thirty minutes", 1800, 60},
		{"one hour", 3600, 60},
		{"just over one hour", 3700, 120},
		{"six hours", 21600, 120},
		{"just over six hours", 21700, 1800},
		{"one day", 86400, 3600},
		{"just over one day", 86500, 10800},
		{"one week", 604800, 10800},
		{"just over one week", 604900, 21600},
		{"thirty days", 2592000, 21600},
		{"forty days", 40 * 86400, 43200},
		{"one year", 365 * 86400, 86400},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BucketSize(tt.totalSeconds)
			if got != tt.want {
				t.Errorf("BucketSize(%d) = %d, want %d", tt.totalSeconds, got, tt.want)
			}
		})
	}
}

func TestBucketSizeAlwaysStandard(t *testing.T) {
	standard := map[int64]bool{}
	for _, s := range StandardBucketSizes {
		standard[s] = true
	}
	windows := []int64{0, 1, 59, 60, 3600, 3601, 86400, 86401, 604800, 2592000, 40 * 86400, 3650 * 86400}
	for _, w := range windows {
		if got := BucketSize(w); !standard[got] {
			t.Errorf("BucketSize(%d) = %d, not a standard bucket size", w, got)
		}
	}
}

func TestBucketSizeMonotonic(t *testing.T) {
	prev := int64(0)
	for w := int64(60); w <= 100*86400; w += 3600 {
		got := BucketSize(w)
		if got < prev {
			t.Fatalf("BucketSize(%d) = %d, smaller than previous %d", w, got, prev)
		}
		prev = got
	}
}

func TestBucketSizeCapped(t *testing.T) {
	if got := BucketSize(100 * 365 * 86400); got != 86400 {
		t.Errorf("BucketSize(100y) = %d, want cap of 86400", got)
	}
}

func TestBucketSizeWithMaxRespectsBudget(t *testing.T) {
	totalSeconds := int64(6 * 3600)
	got := BucketSizeWithMax(totalSeconds, 50)
	if totalSeconds/got > 50 {
		t.Errorf("BucketSizeWithMax(%d, 50) = %d yields %d buckets", totalSeconds, got, totalSeconds/got)
	}
}

func TestStep(t *testing.T) {
	tests := []struct {
		name         string
		totalSeconds int64
		userStep     int64
		vendorMin    int64
		want         int64
	}{
		{"user step kept", 3600, 300, 60, 300},
		{"user step clamped to vendor min", 3600, 10, 60, 60},
		{"no user step falls back to bucket size", 3600, 0, 60, 60},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Step(tt.totalSeconds, tt.userStep, tt.vendorMin)
			if got != tt.want {
				t.Errorf("Step(%d, %d, %d) = %d, want %d", tt.totalSeconds, tt.userStep, tt.vendorMin, got, tt.want)
			}
		})
	}
}
