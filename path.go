package vault

import (
	"strings"
)

// Cleartext path rules. A path is a /-separated sequence of UTF-8
// segments; the root is "/". Comparison is literal-byte equality with no
// Unicode normalization — callers that want NFC-stable names must
// normalize before calling the engine.
const (
	// MaxSegmentBytes is the maximum length of one path segment.
	MaxSegmentBytes = 255
	// MaxPathDepth is the maximum number of segments in a path.
	MaxPathDepth = 64
)

// splitPath validates p and returns its segments. The root path returns
// an empty slice. All constraint violations surface before any store
// call.
func splitPath(op, p string) ([]string, error) {
	if p == "" || p[0] != '/' {
		return nil, errf(CodeInvalidInput, op, p)
	}
	if p == "/" {
		return nil, nil
	}
	// One trailing slash is stripped whatever the path names, so "/f/"
	// and "/f" resolve alike.
	trimmed := strings.TrimSuffix(p[1:], "/")
	segments := strings.Split(trimmed, "/")
	if len(segments) > MaxPathDepth {
		return nil, errf(CodeInvalidInput, op, p)
	}
	for _, seg := range segments {
		if err := validateSegment(seg); err != nil {
			return nil, errf(CodeInvalidInput, op, p)
		}
	}
	return segments, nil
}

// validateSegment rejects empty segments, dot traversal, embedded
// separators and NUL, and oversized names.
func validateSegment(seg string) error {
	if seg == "" || seg == "." || seg == ".." {
		return errf(CodeInvalidInput, "", "")
	}
	if len(seg) > MaxSegmentBytes {
		return errf(CodeInvalidInput, "", "")
	}
	if strings.ContainsAny(seg, "/\x00") {
		return errf(CodeInvalidInput, "", "")
	}
	return nil
}

// splitParent validates p and returns the parent segments and the final
// segment. The root has no parent and is rejected.
func splitParent(op, p string) (parent []string, name string, err error) {
	segments, err := splitPath(op, p)
	if err != nil {
		return nil, "", err
	}
	if len(segments) == 0 {
		return nil, "", errf(CodeInvalidInput, op, p)
	}
	return segments[:len(segments)-1], segments[len(segments)-1], nil
}
