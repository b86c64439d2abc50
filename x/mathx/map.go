package mathx

// MapU32 scales x from [inMin,inMax] onto [outMin,outMax], saturating at
// the ends. Intermediates are 64-bit.
func MapU32(x, inMin, inMax, outMin, outMax uint32) uint32 {
	if inMax <= inMin || x <= inMin {
		return outMin
	}
	if x >= inMax {
		return outMax
	}
	num := uint64(x-inMin) * uint64(outMax-outMin)
	return outMin + uint32(num/uint64(inMax-inMin))
}
