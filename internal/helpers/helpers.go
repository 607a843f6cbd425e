package helpers

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"math"
	"os"
	"regexp"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
	"lukechampine.com/blake3"
)

var (
	unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9 _-]+`)
	separatorRuns       = regexp.MustCompile(`[\s-]+`)
)

// SafeFilename turns an untrusted free-text title into a filename: characters
// outside [A-Za-z0-9 _-] are stripped and runs of whitespace/hyphens collapse
// to a single hyphen. Returns "untitled" if nothing survives.
func SafeFilename(title string) string {
	name := unsafeFilenameChars.ReplaceAllString(title, "")
	name = separatorRuns.ReplaceAllString(name, "-")
	name = strings.Trim(name, "-_")
	if name == "" {
		return "untitled"
	}
	return name
}

// ParseSize converts a human-readable size string from a catalog listing into
// a byte count. Suffixes kb/mb/gb are case-insensitive; a bare number is
// already bytes. Unparseable text yields (0, false), never an error.
func ParseSize(raw string) (int64, bool) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return 0, false
	}

	multiplier := int64(1)
	switch {
	case strings.Contains(s, "kb"):
		multiplier = 1024
		s = strings.TrimSpace(strings.Replace(s, "kb", "", 1))
	case strings.Contains(s, "mb"):
		multiplier = 1024 * 1024
		s = strings.TrimSpace(strings.Replace(s, "mb", "", 1))
	case strings.Contains(s, "gb"):
		multiplier = 1024 * 1024 * 1024
		s = strings.TrimSpace(strings.Replace(s, "gb", "", 1))
	}

	value, err := strconv.ParseFloat(s, 64)
	if err != nil || value < 0 {
		return 0, false
	}
	return int64(value * float64(multiplier)), true
}

// BytesToSize converts a byte count into a human-readable string (KB, MB, GB, etc.).
func BytesToSize(bytes uint64) string {
	sizes := []string{"B", "KB", "MB", "GB", "TB"}
	if bytes == 0 {
		return "0B"
	}
	i := int(math.Floor(math.Log(float64(bytes)) / math.Log(1024)))
	if i >= len(sizes) {
		i = len(sizes) - 1
	}
	return fmt.Sprintf("%.2f%s", float64(bytes)/math.Pow(1024, float64(i)), sizes[i])
}

// FileChecksums computes hex-encoded SHA256 and BLAKE3 digests of the file at
// path in a single streaming pass.
func FileChecksums(path string) (sha string, b3 string, err error) {
	f, err := os.Open(path)
	if err != nil {
		return "", "", fmt.Errorf("opening %s for checksum: %w", path, err)
	}
	defer f.Close()

	shaHasher := sha256.New()
	b3Hasher := blake3.New(32, nil)
	if _, err := io.Copy(io.MultiWriter(shaHasher, b3Hasher), f); err != nil {
		return "", "", fmt.Errorf("hashing %s: %w", path, err)
	}
	return hex.EncodeToString(shaHasher.Sum(nil)), hex.EncodeToString(b3Hasher.Sum(nil)), nil
}

// CheckAndMakeDir ensures a directory exists, creating it if necessary.
func CheckAndMakeDir(dir string) bool {
	if err := os.MkdirAll(dir, 0700); err != nil {
		log.WithError(err).Errorf("Error creating directory %s", dir)
		return false
	}
	return true
}

// CounterWriter tracks the number of bytes written to the underlying writer.
// It's used for download progress accounting.
type CounterWriter struct {
	Total  uint64
	Writer io.Writer
}

func (cw *CounterWriter) Write(p []byte) (int, error) {
	n, err := cw.Writer.Write(p)
	cw.Total += uint64(n)
	return n, err
}
