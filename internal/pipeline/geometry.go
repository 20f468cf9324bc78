package pipeline

// FallbackWidth is the fixed width tried when the requested size is rejected.
const FallbackWidth = 720

// Round16 rounds v up to the next multiple of 16.
func Round16(v int) int {
	return (v + 15) / 16 * 16
}

// TargetSize caps the larger of w and h at maxSize, preserving the aspect
// ratio with integer truncation. Sizes already within the cap are returned
// unchanged.
func TargetSize(w, h, maxSize int) (int, int) {
	if maxSize <= 0 {
		return w, h
	}
	switch {
	case w >= h && w > maxSize:
		return maxSize, h * maxSize / w
	case h > w && h > maxSize:
		return w * maxSize / h, maxSize
	}
	return w, h
}

// FallbackSize returns the retry size for a rejected w×h request.
func FallbackSize(w, h int) (int, int) {
	if w <= 0 {
		return FallbackWidth, 0
	}
	return FallbackWidth, Round16(h * FallbackWidth / w)
}
