// Package timeindex maps heights onto calendar buckets and rolls per-height
// series up into per-bucket series.
package timeindex

import (
	"fmt"
	"time"
)

// Resolution is a calendar bucket size.
type Resolution string

const (
	Date  Resolution = "date"
	Week  Resolution = "week"
	Month Resolution = "month"
	Year  Resolution = "year"
)

// Resolutions lists every supported resolution from finest to coarsest.
var Resolutions = []Resolution{Date, Week, Month, Year}

// epoch is the start of bucket zero at every resolution.
var epoch = time.Date(2009, time.January, 1, 0, 0, 0, 0, time.UTC)

const secondsPerDay = 86_400

// ParseResolution parses a resolution name.
func ParseResolution(s string) (Resolution, error) {
	for _, r := range Resolutions {
		if string(r) == s {
			return r, nil
		}
	}
	return "", fmt.Errorf("unknown resolution %q", s)
}

// Index returns the bucket of a unix timestamp. Timestamps before 2009-01-01
// fall into bucket zero.
func (r Resolution) Index(ts int64) uint64 {
	if ts < epoch.Unix() {
		return 0
	}
	switch r {
	case Date:
		return uint64((ts - epoch.Unix()) / secondsPerDay)
	case Week:
		return uint64((ts-epoch.Unix())/secondsPerDay) / 7
	case Month:
		t := time.Unix(ts, 0).UTC()
		return uint64((t.Year()-epoch.Year())*12 + int(t.Month()) - 1)
	case Year:
		return uint64(time.Unix(ts, 0).UTC().Year() - epoch.Year())
	}
	panic(fmt.Sprintf("unknown resolution %q", string(r)))
}

// Start returns the first instant of bucket k.
func (r Resolution) Start(k uint64) time.Time {
	switch r {
	case Date:
		return epoch.AddDate(0, 0, int(k))
	case Week:
		return epoch.AddDate(0, 0, int(k)*7)
	case Month:
		return epoch.AddDate(0, int(k), 0)
	case Year:
		return epoch.AddDate(int(k), 0, 0)
	}
	panic(fmt.Sprintf("unknown resolution %q", string(r)))
}

// Series returns the name of the roll-up of a per-height series.
func (r Resolution) Series(name string) string {
	return name + "@" + string(r)
}
