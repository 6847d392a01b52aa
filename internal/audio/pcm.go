package audio

import "math"

// Clamp limits s to [-1,1].
func Clamp(s float32) float32 {
	if s > 1 {
		return 1
	}
	if s < -1 {
		return -1
	}
	return s
}

// ToInt16 quantizes a float sample to 16-bit PCM. The sample is clamped to
// [-1,1], positive values scale by 32767 and negative by 32768, and the
// result is rounded half away from zero. NaN maps to 0.
func ToInt16(s float32) int16 {
	if s != s {
		return 0
	}
	v := float64(Clamp(s))
	if v >= 0 {
		v = math.Round(v * 32767)
	} else {
		v = math.Round(v * 32768)
	}
	if v > 32767 {
		return 32767
	} else if v < -32768 {
		return -32768
	}
	return int16(v)
}

// FromInt16 is the inverse of ToInt16.
func FromInt16(v int16) float32 {
	if v >= 0 {
		return float32(v) / 32767
	}
	return float32(v) / 32768
}

// FloatsToInt16 converts a block of float samples into dst, growing it as needed.
func FloatsToInt16(dst []int16, src []float32) []int16 {
	if cap(dst) < len(src) {
		dst = make([]int16, len(src))
	}
	dst = dst[:len(src)]
	for i, s := range src {
		dst[i] = ToInt16(s)
	}
	return dst
}
