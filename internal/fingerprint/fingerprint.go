// Package fingerprint computes content fingerprints used as token cache keys.
package fingerprint

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/zeebo/blake3"
)

// symlinkPrefix separates link-target fingerprints from content fingerprints.
const symlinkPrefix = "symlink:"

// File streams the file at path through BLAKE3 and returns the lowercase hex
// digest. Every byte hashed is also written to observers, which lets a caller
// inspect exactly the content the fingerprint describes.
//
// #nosec G304
func File(path string, observers ...io.Writer) (string, error) {
	fileHandle, openFileError := os.Open(path)
	if openFileError != nil {
		return "", openFileError
	}
	defer fileHandle.Close()
	var reader io.Reader = fileHandle
	if len(observers) > 0 {
		reader = io.TeeReader(fileHandle, io.MultiWriter(observers...))
	}
	return Reader(reader)
}

// Reader hashes every byte read from reader.
func Reader(reader io.Reader) (string, error) {
	hasher := blake3.New()
	if _, copyError := io.Copy(hasher, reader); copyError != nil {
		return "", fmt.Errorf("hash content: %w", copyError)
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// Bytes returns the fingerprint of data.
func Bytes(data []byte) string {
	digest := blake3.Sum256(data)
	return hex.EncodeToString(digest[:])
}

// Symlink returns the fingerprint of a symbolic link's target text.
func Symlink(target string) string {
	return Bytes([]byte(symlinkPrefix + target))
}
