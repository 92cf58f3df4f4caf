package preflight

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// MarkerFile is the name of the file that indicates preflight checks have passed.
const MarkerFile = ".preflight-passed"

// MarkerTTL is how long a passed check is trusted before it runs again.
const MarkerTTL = 7 * 24 * time.Hour

// NeedsCheck returns true if the marker in dataDir is missing, unreadable
// or older than MarkerTTL.
func NeedsCheck(dataDir string) bool {
	passed, ok := markerTime(dataDir)
	return !ok || time.Since(passed) > MarkerTTL
}

// MarkPassed records the current time as the last successful check.
func MarkPassed(dataDir string) error {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("create marker directory: %w", err)
	}
	content := []byte(time.Now().UTC().Format(time.RFC3339))
	return os.WriteFile(filepath.Join(dataDir, MarkerFile), content, 0o644)
}

// ClearMarker removes the marker file, forcing a re-check on next run.
func ClearMarker(dataDir string) error {
	err := os.Remove(filepath.Join(dataDir, MarkerFile))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove marker file: %w", err)
	}
	return nil
}

// MarkerAge returns how long ago the preflight check passed, or zero
// without a valid marker.
func MarkerAge(dataDir string) time.Duration {
	passed, ok := markerTime(dataDir)
	if !ok {
		return 0
	}
	return time.Since(passed)
}

func markerTime(dataDir string) (time.Time, bool) {
	content, err := os.ReadFile(filepath.Join(dataDir, MarkerFile))
	if err != nil {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, string(content))
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
