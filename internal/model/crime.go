// Package model defines the value types shared by the grid, scoring and
// storage layers.
package model

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// Incident is a single reported crime. Incidents are created once at ingestion
// and only read afterwards.
type Incident struct {
	ID           string    `json:"id,omitempty"`
	Category     string    `json:"category"`
	Month        time.Time `json:"month"`
	Location     Point     `json:"location"`
	LocationDesc string    `json:"location_desc,omitempty"`
	Outcome      string    `json:"outcome,omitempty"`
	ForceID      string    `json:"force_id,omitempty"`
}

// Category is reference data describing a crime category and its harm weight.
type Category struct {
	ID         string  `json:"id" yaml:"id"`
	Name       string  `json:"name" yaml:"name"`
	HarmWeight float64 `json:"harm_weight" yaml:"harm_weight"`
	IsPersonal bool    `json:"is_personal" yaml:"is_personal"`
	IsProperty bool    `json:"is_property" yaml:"is_property"`
}

// TimeBucket partitions the 24-hour day for time-of-day weighting.
type TimeBucket string

const (
	BucketNight   TimeBucket = "night"
	BucketMorning TimeBucket = "morning"
	BucketDay     TimeBucket = "day"
	BucketEvening TimeBucket = "evening"
)

// TimeBuckets lists every bucket in day order starting at midnight.
var TimeBuckets = []TimeBucket{BucketNight, BucketMorning, BucketDay, BucketEvening}

// ParseTimeBucket parses a bucket name. The empty string means "no time filter"
// and returns an empty bucket with a nil error.
func ParseTimeBucket(s string) (TimeBucket, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return "", nil
	}
	for _, b := range TimeBuckets {
		if string(b) == s {
			return b, nil
		}
	}
	return "", NewInputError("time_of_day", "%q is not one of night, morning, day, evening", s)
}

// MonthStart truncates t to the first instant of its month in UTC.
func MonthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// ParseMonth parses a "YYYY-MM" month string as used by police.uk exports.
func ParseMonth(s string) (time.Time, error) {
	t, err := time.Parse("2006-01", strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, eris.Wrapf(err, "model: parse month %q", s)
	}
	return t, nil
}
