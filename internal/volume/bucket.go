// Package volume resolves daily and cumulative DEX volume from subgraph endpoints.
package volume

import (
	"strings"
	"time"
)

// SecondsPerDay is the width of one day bucket
const SecondsPerDay int64 = 86400

// StartOfDay returns the Unix timestamp of the UTC midnight at or before ts
func StartOfDay(ts int64) int64 {
	t := time.Unix(ts, 0).UTC()
	utc := time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, time.UTC).Unix()
	return floorDiv(utc, SecondsPerDay) * SecondsPerDay
}

// DayBucketID returns the number of whole days since the epoch for ts.
// Subgraphs key their per-day aggregate records by this id.
func DayBucketID(ts int64) int64 {
	return StartOfDay(ts) / SecondsPerDay
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// Pluralize returns the collection name for an entity, appending "s" unless
// the name already ends in one.
func Pluralize(name string) string {
	if name == "" || strings.HasSuffix(strings.ToLower(name), "s") {
		return name
	}
	return name + "s"
}
