package audio

// Resample converts b to rate by linear interpolation, plane by plane. The
// output keeps the duration of the input, rounded down to whole frames. A
// buffer already at rate, or an invalid rate on either side, is returned
// as is.
func Resample(b Buffer, rate int) Buffer {
	if rate <= 0 || b.SampleRate <= 0 || rate == b.SampleRate || b.Frames() == 0 {
		return b
	}
	n := int(int64(b.Frames()) * int64(rate) / int64(b.SampleRate))
	step := float64(b.SampleRate) / float64(rate)

	planes := make([][]float32, len(b.Planes))
	for ch, src := range b.Planes {
		dst := make([]float32, n)
		last := len(src) - 1
		for i := range dst {
			pos := float64(i) * step
			j := int(pos)
			if j >= last {
				dst[i] = src[last]
				continue
			}
			frac := float32(pos - float64(j))
			dst[i] = src[j] + (src[j+1]-src[j])*frac
		}
		planes[ch] = dst
	}
	return Buffer{Planes: planes, SampleRate: rate}
}
