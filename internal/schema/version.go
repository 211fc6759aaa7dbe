package schema

// CorrectVersion applies the corruption heuristic to a version read from a
// store without a trusted header.
//
// Values that look like two version numbers run together are considered
// corrupted: a two-digit value ending in 0 is corrected to its leading digit
// (40 -> 4, 10 -> 1) and a larger value ending in 0 resets to 0 (150 -> 0).
// Negative values reset to 0. Everything else is returned unchanged.
func CorrectVersion(v int) (corrected int, corrupted bool) {
	switch {
	case v < 0:
		return 0, true
	case v >= 10 && v%10 == 0:
		if v < 100 {
			return v / 10, true
		}
		return 0, true
	default:
		return v, false
	}
}
