package engine

import (
	"fmt"
	"strings"

	"github.com/dyluth/tribunal/pkg/audit"
)

// CheckDissent reports whether the spread between the highest and lowest
// score exceeds threshold, and if so describes who disagreed.
func CheckDissent(opinions []audit.Opinion, threshold int) (bool, string) {
	if len(opinions) < 2 {
		return false, ""
	}

	lo, hi := opinions[0].Score, opinions[0].Score
	for _, o := range opinions[1:] {
		if o.Score < lo {
			lo = o.Score
		}
		if o.Score > hi {
			hi = o.Score
		}
	}
	spread := hi - lo
	if spread <= threshold {
		return false, ""
	}

	var low, high []string
	for _, o := range opinions {
		switch o.Score {
		case lo:
			low = append(low, string(o.Role))
		case hi:
			high = append(high, string(o.Role))
		}
	}
	return true, fmt.Sprintf("dissent: %s scored %d while %s scored %d (spread %d exceeds %d)",
		strings.Join(low, "/"), lo, strings.Join(high, "/"), hi, spread, threshold)
}
