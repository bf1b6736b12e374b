package guard

import "strings"

// Route normalization constants.
const (
	// segmentPlaceholder replaces identifier-shaped path segments.
	segmentPlaceholder = ":id"

	// maxSegmentLen bounds kept segments against pathological or
	// attacker-crafted URLs.
	maxSegmentLen = 60

	// hyphenIDMinLen is the minimum length of a hyphenated segment
	// treated as an identifier (catches UUID-shaped tokens).
	hyphenIDMinLen = 8

	// hexIDMinLen is the minimum length of an all-hex segment treated
	// as an identifier.
	hexIDMinLen = 6
)

// RouteTemplate collapses a concrete request path into a
// low-cardinality template: identifier-shaped segments become a
// placeholder and the rest are length-bounded. Callers should prefer a
// router-resolved template when the framework exposes one.
func RouteTemplate(path string) string {
	segments := strings.Split(path, "/")
	for i, seg := range segments {
		segments[i] = normalizeSegment(seg)
	}
	return strings.Join(segments, "/")
}

func normalizeSegment(seg string) string {
	if seg == "" {
		return seg
	}
	if isAllDigits(seg) {
		return segmentPlaceholder
	}
	if len(seg) >= hyphenIDMinLen && strings.ContainsRune(seg, '-') {
		return segmentPlaceholder
	}
	if len(seg) >= hexIDMinLen && isAllHex(seg) {
		return segmentPlaceholder
	}
	if len(seg) > maxSegmentLen {
		return seg[:maxSegmentLen]
	}
	return seg
}

func isAllDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func isAllHex(s string) bool {
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'f':
		case r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}
