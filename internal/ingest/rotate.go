package ingest

import (
	"fmt"
	"os"
	"time"
)

// maxRotations bounds the numeric-suffix probe so a pathological directory
// cannot loop forever.
const maxRotations = 100

// Rotate renames path out of the way once the observer has shut down, so
// the next session starts a fresh log. The rotated name is
// "<path>.<YYYY-MM-DD>"; when that already exists a numeric suffix is
// appended (".<date>.1", ".<date>.2", ...). Returns the rotated path.
func Rotate(path string, now time.Time) (string, error) {
	base := fmt.Sprintf("%s.%s", path, now.Format("2006-01-02"))
	candidate := base
	for i := 1; ; i++ {
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			break
		} else if err != nil {
			return "", fmt.Errorf("stat %s: %w", candidate, err)
		}
		if i > maxRotations {
			return "", fmt.Errorf("rotate %s: too many rotated logs", path)
		}
		candidate = fmt.Sprintf("%s.%d", base, i)
	}
	if err := os.Rename(path, candidate); err != nil {
		return "", fmt.Errorf("rotate %s: %w", path, err)
	}
	return candidate, nil
}
