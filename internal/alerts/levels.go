package alerts

import (
	"fmt"
	"math"
	"time"
)

// MaxLevel is the level of an expired document.
const MaxLevel = 5

// Thresholds are the day brackets of alert levels 1 to 4.
type Thresholds struct {
	First  int
	Second int
	Third  int
	Fourth int
}

// DefaultThresholds are 30/15/7/1 days.
var DefaultThresholds = Thresholds{First: 30, Second: 15, Third: 7, Fourth: 1}

// Validate requires strictly decreasing, positive brackets.
func (t Thresholds) Validate() error {
	if t.Fourth < 1 || t.Third <= t.Fourth || t.Second <= t.Third || t.First <= t.Second {
		return fmt.Errorf("alert thresholds must satisfy first > second > third > fourth >= 1, got %d/%d/%d/%d",
			t.First, t.Second, t.Third, t.Fourth)
	}
	return nil
}

// DaysUntil returns the whole days until exp, rounded up. A document expiring
// later today is 1 day away; one that expired less than a day ago is 0.
func DaysUntil(exp, now time.Time) int {
	return int(math.Ceil(exp.Sub(now).Hours() / 24))
}

// LevelFor maps days until expiration to an alert level; 0 means no alert.
func (t Thresholds) LevelFor(days int) int {
	switch {
	case days <= 0:
		return MaxLevel
	case days <= t.Fourth:
		return 4
	case days <= t.Third:
		return 3
	case days <= t.Second:
		return 2
	case days <= t.First:
		return 1
	default:
		return 0
	}
}
