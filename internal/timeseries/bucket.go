// Package timeseries holds the shared time-bucketing logic used by the
// timeseries executors: given a query window, pick an aggregation step that
// keeps the datapoint count bounded without producing degenerately fine
// buckets over long windows.
package timeseries

// StandardBucketSizes are the "nice" step sizes, ascending, in seconds:
// 30s, 1m, 2m, 5m, 10m, 15m, 30m, 1h, 3h, 6h, 12h, 1d.
var StandardBucketSizes = []int64{30, 60, 120, 300, 600, 900, 1800, 3600, 10800, 21600, 43200, 86400}

// MinBucketSeconds is the global minimum step.
const MinBucketSeconds = 60

// DefaultMaxBuckets is the default datapoint-count target for the shared
// helper; callers with tighter vendor limits pass their own.
const DefaultMaxBuckets = 350

// durationFloors maps window durations to the minimum acceptable step for
// that duration, descending. First matching threshold wins.
var durationFloors = []struct {
	thresholdSeconds int64
	minBucketSeconds int64
}{
	{2592001, 43200}, // > 30 days -> at least 12h
	{604801, 21600},  // > 7 days -> at least 6h
	{86401, 10800},   // > 1 day -> at least 3h
	{43201, 3600},    // > 12 hours -> at least 1h
	{21601, 1800},    // > 6 hours -> at least 30m
	{3601, 120},      // > 1 hour -> at least 2m
	{1801, 60},       // > 30 minutes -> at least 1m
}

// BucketSize returns the bucket size in seconds for a query window of
// totalSeconds, targeting at most DefaultMaxBuckets datapoints.
func BucketSize(totalSeconds int64) int64 {
	return BucketSizeWithMax(totalSeconds, DefaultMaxBuckets)
}

// BucketSizeWithMax picks the smallest standard bucket size that yields at
// most maxBuckets buckets and respects the duration floor for the window.
// Deterministic and pure.
func BucketSizeWithMax(totalSeconds, maxBuckets int64) int64 {
	if totalSeconds <= 0 {
		return MinBucketSeconds
	}
	if maxBuckets <= 0 {
		maxBuckets = DefaultMaxBuckets
	}

	ideal := (totalSeconds + maxBuckets - 1) / maxBuckets

	floor := int64(MinBucketSeconds)
	for _, t := range durationFloors {
		if totalSeconds >= t.thresholdSeconds {
			floor = t.minBucketSeconds
			break
		}
	}

	need := max64(MinBucketSeconds, max64(ideal, floor))

	for _, standard := range StandardBucketSizes {
		if need <= standard {
			return standard
		}
	}
	return StandardBucketSizes[len(StandardBucketSizes)-1]
}

// Step returns the user-supplied step clamped to vendorMin when present,
// otherwise the calculated bucket size for the window.
func Step(totalSeconds int64, userStep int64, vendorMin int64) int64 {
	if userStep > 0 {
		if userStep < vendorMin {
			return vendorMin
		}
		return userStep
	}
	return BucketSize(totalSeconds)
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
