package utils

import "unicode/utf8"

// IsBinary reports whether the provided byte slice appears to contain binary data.
func IsBinary(data []byte) bool {
	if len(data) == 0 {
		return false
	}
	if !utf8.Valid(data) {
		return true
	}
	for _, byteValue := range data {
		if byteValue == 0 {
			return true
		}
	}
	return false
}

// TrimToRuneBoundary returns the longest prefix of data no longer than limit
// bytes that does not end inside a multi-byte UTF-8 sequence.
func TrimToRuneBoundary(data []byte, limit int) []byte {
	if limit < 0 {
		limit = 0
	}
	if len(data) <= limit {
		return data
	}
	boundary := limit
	for boundary > 0 && boundary > limit-utf8.UTFMax && !utf8.RuneStart(data[boundary]) {
		boundary--
	}
	return data[:boundary]
}
