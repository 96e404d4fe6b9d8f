package usage

import (
	"bufio"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/codexola/codexola/internal/proto"
)

// Limits on the fallback log scan. Session logs live in a shallow
// year/month/day hierarchy, so six levels is generous.
const (
	scanMaxDepth    = 6
	scanMaxLineSize = 4 * 1024 * 1024
)

// ScanSessionTokens walks the codex session log directory and rebuilds the
// token observations inside the window ending at now. Files whose
// modification time predates the window are skipped without being opened.
func ScanSessionTokens(root string, now time.Time) ([]proto.UsagePoint, error) {
	cutoff := now.Add(-windowDuration)

	var points []proto.UsagePoint
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return nil
		}
		depth := strings.Count(rel, string(filepath.Separator))
		if d.IsDir() {
			if depth >= scanMaxDepth {
				return fs.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(d.Name(), ".jsonl") {
			return nil
		}
		if info, err := d.Info(); err == nil && info.ModTime().Before(cutoff) {
			return nil
		}
		points = append(points, scanSessionFile(path, cutoff)...)
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	sort.Slice(points, func(i, j int) bool { return points[i].TimestampMS < points[j].TimestampMS })
	return points, nil
}

// scanSessionFile extracts token-count events from one rollout log. Each
// line is an independent JSON record; anything unparseable is skipped.
func scanSessionFile(path string, cutoff time.Time) []proto.UsagePoint {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	var points []proto.UsagePoint
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), scanMaxLineSize)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		if gjson.GetBytes(line, "type").String() != "event_msg" {
			continue
		}
		payload := gjson.GetBytes(line, "payload")
		if payload.Get("type").String() != "token_count" {
			continue
		}
		ts, ok := lineTimestamp(line)
		if !ok || ts.Before(cutoff) {
			continue
		}
		info := payload.Get("info")
		total := info.Get("last_token_usage.total_tokens")
		if !total.Exists() {
			total = info.Get("lastTokenUsage.totalTokens")
		}
		if tokens := total.Int(); tokens > 0 {
			points = append(points, proto.UsagePoint{
				TimestampMS: ts.UnixMilli(),
				Tokens:      tokens,
			})
		}
	}
	return points
}

func lineTimestamp(line []byte) (time.Time, bool) {
	raw := gjson.GetBytes(line, "timestamp").String()
	if raw == "" {
		return time.Time{}, false
	}
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}
