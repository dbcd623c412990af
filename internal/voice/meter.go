package voice

// FFTSize is the analyser window; it yields FFTSize/2 frequency bins.
const FFTSize = 256

// VolumeScale converts average bin energy into the 0..100 meter range.
const VolumeScale = 2.5

// Volume returns min(100, average(bins) * VolumeScale).
func Volume(bins []byte) float64 {
	if len(bins) == 0 {
		return 0
	}
	var sum int
	for _, b := range bins {
		sum += int(b)
	}
	v := float64(sum) / float64(len(bins)) * VolumeScale
	if v > 100 {
		return 100
	}
	return v
}
