package channel

// gearThresholds are the upper speed bounds (exclusive) of gears 1 through 5.
var gearThresholds = [...]float64{15, 30, 50, 70, 90}

// Gear derives the selected gear (1-6) from road speed.
func Gear(speed float64) int {
	for i, limit := range gearThresholds {
		if speed < limit {
			return i + 1
		}
	}

	return len(gearThresholds) + 1
}
