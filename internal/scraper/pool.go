package scraper

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// preferredTier is the number of leading instances shuffled as their own group.
const preferredTier = 5

// FallbackInstances is used when no snapshot is available. The first entries
// are the mirrors that serve video.
var FallbackInstances = []string{
	"https://xcancel.com",
	"https://nitter.privacyredirect.com",
	"https://nitter.net",
	"https://nitter.catsarch.com",
	"https://nitter.tiekoetter.com",
	"https://nitter.poast.org",
	"https://nuku.trabun.org",
	"https://lightbrd.com",
	"https://nitter.space",
}

// Shuffler permutes n elements through swap, matching rand.Shuffle.
type Shuffler func(n int, swap func(i, j int))

// LoadInstances reads the snapshot at path and falls back to
// FallbackInstances when it is missing, unreadable, malformed or empty.
func LoadInstances(path string, logger *zap.Logger) []string {
	if logger == nil {
		logger = zap.NewNop()
	}
	if path != "" {
		instances, err := readSnapshot(path)
		switch {
		case err == nil && len(instances) > 0:
			logger.Info("loaded instance snapshot", zap.String("path", path), zap.Int("count", len(instances)))
			return instances
		case err != nil && !os.IsNotExist(err):
			logger.Warn("instance snapshot unreadable", zap.String("path", path), zap.Error(err))
		}
	}
	logger.Info("using built-in instance list", zap.Int("count", len(FallbackInstances)))
	return append([]string(nil), FallbackInstances...)
}

func readSnapshot(path string) ([]string, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- operator-supplied snapshot path.
	if err != nil {
		return nil, err
	}
	var raw []string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return NormalizeInstances(raw), nil
}

// SaveInstances writes a snapshot readable by LoadInstances.
func SaveInstances(path string, instances []string) error {
	data, err := json.MarshalIndent(NormalizeInstances(instances), "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".instances-*.json")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // already renamed on success
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

// NormalizeInstances trims, strips trailing slashes and drops duplicates,
// keeping the first occurrence.
func NormalizeInstances(raw []string) []string {
	seen := make(map[string]struct{}, len(raw))
	out := make([]string, 0, len(raw))
	for _, entry := range raw {
		entry = strings.TrimRight(strings.TrimSpace(entry), "/")
		if entry == "" {
			continue
		}
		if _, ok := seen[entry]; ok {
			continue
		}
		seen[entry] = struct{}{}
		out = append(out, entry)
	}
	return out
}

// ShuffleForAttempt returns a shuffled copy of instances. Lists longer than
// five entries are shuffled as two tiers, the first five ahead of the rest.
func ShuffleForAttempt(instances []string, shuffle Shuffler) []string {
	if shuffle == nil {
		shuffle = rand.Shuffle
	}
	out := append([]string(nil), instances...)
	if len(out) <= preferredTier {
		shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
		return out
	}
	head, tail := out[:preferredTier], out[preferredTier:]
	shuffle(len(head), func(i, j int) { head[i], head[j] = head[j], head[i] })
	shuffle(len(tail), func(i, j int) { tail[i], tail[j] = tail[j], tail[i] })
	return out
}
