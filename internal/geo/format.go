package geo

import (
	"fmt"
	"math"

	"github.com/dustin/go-humanize"
)

// FormatDistance renders meters for people: "850 m" below a kilometer,
// "1,234.5 km" above.
func FormatDistance(meters float64) string {
	if math.IsNaN(meters) || meters < 0 {
		meters = 0
	}
	if meters < 1000 {
		return fmt.Sprintf("%.0f m", meters)
	}
	return humanize.CommafWithDigits(meters/1000, 1) + " km"
}
