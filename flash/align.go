package flash

// AlignUp rounds value up to the next multiple of unit.
//
// AlignUp(0, unit) is 0. A zero unit leaves value unchanged.
func AlignUp(value, unit uint32) uint32 {
	if value == 0 || unit == 0 {
		return value
	}
	return ((value-1)/unit + 1) * unit
}
