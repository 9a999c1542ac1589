// Package scan enumerates indexable image files under a set of folders,
// applying the extension allow-list, exclude patterns and recency caps.
package scan

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/merlian/merlian/internal/logutil"
)

// Extensions is the allow-list of indexable file extensions (lower case).
var Extensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".webp": true,
}

// File is one eligible image found on disk.
type File struct {
	Path    string
	ModTime time.Time
	Size    int64
}

// MTime returns the modification time as float seconds since the epoch.
func (f File) MTime() float64 {
	return float64(f.ModTime.UnixNano()) / 1e9
}

// Eligible reports whether name carries an allow-listed extension.
func Eligible(name string) bool {
	return Extensions[strings.ToLower(filepath.Ext(name))]
}

// Walk returns every eligible file under folders, sorted by path. Files
// reachable from more than one folder are reported once. Hidden directories
// and entries matching excludes are skipped; a pattern with a trailing slash
// only matches directories.
func Walk(ctx context.Context, folders []string, excludes []string) ([]File, error) {
	seen := make(map[string]bool)
	var out []File

	for _, root := range folders {
		abs, err := filepath.Abs(root)
		if err != nil {
			return nil, fmt.Errorf("cannot resolve %s: %w", root, err)
		}
		info, err := os.Stat(abs)
		if err != nil {
			return nil, fmt.Errorf("cannot stat folder %s: %w", abs, err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("not a directory: %s", abs)
		}

		err = filepath.WalkDir(abs, func(path string, d fs.DirEntry, walkErr error) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if walkErr != nil {
				if path == abs {
					return walkErr
				}
				logutil.GetLogger(ctx).Warn("skipping unreadable entry", zap.String("path", path), zap.Error(walkErr))
				if d != nil && d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if path == abs {
				return nil
			}
			rel, err := filepath.Rel(abs, path)
			if err != nil {
				return err
			}
			if d.IsDir() {
				if strings.HasPrefix(d.Name(), ".") || matchesExclude(rel, excludes, true) {
					return filepath.SkipDir
				}
				return nil
			}
			if !d.Type().IsRegular() || !Eligible(d.Name()) || matchesExclude(rel, excludes, false) {
				return nil
			}
			if seen[path] {
				return nil
			}
			fi, err := d.Info()
			if err != nil {
				logutil.GetLogger(ctx).Warn("cannot stat file", zap.String("path", path), zap.Error(err))
				return nil
			}
			seen[path] = true
			out = append(out, File{Path: path, ModTime: fi.ModTime(), Size: fi.Size()})
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("cannot scan %s: %w", abs, err)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// Limits caps the candidate set.
type Limits struct {
	RecentOnly bool
	RecentDays int
	MaxItems   int
	Now        time.Time
}

// Select applies limits to files. With MaxItems set, the most recently
// modified files win. The result is sorted by path.
func Select(files []File, l Limits) []File {
	out := make([]File, 0, len(files))
	if l.RecentOnly {
		now := l.Now
		if now.IsZero() {
			now = time.Now()
		}
		days := l.RecentDays
		if days <= 0 {
			days = 30
		}
		cutoff := now.Add(-time.Duration(days) * 24 * time.Hour)
		for _, f := range files {
			if !f.ModTime.Before(cutoff) {
				out = append(out, f)
			}
		}
	} else {
		out = append(out, files...)
	}

	if l.MaxItems > 0 && len(out) > l.MaxItems {
		sort.SliceStable(out, func(i, j int) bool {
			if out[i].ModTime.Equal(out[j].ModTime) {
				return out[i].Path < out[j].Path
			}
			return out[i].ModTime.After(out[j].ModTime)
		})
		out = out[:l.MaxItems]
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// matchesExclude reports whether relPath matches any of the given glob patterns.
func matchesExclude(relPath string, patterns []string, isDir bool) bool {
	name := filepath.Base(relPath)
	for _, pattern := range patterns {
		dirOnly := strings.HasSuffix(pattern, "/")
		if dirOnly {
			if !isDir {
				continue
			}
			pattern = strings.TrimSuffix(pattern, "/")
		}
		// Match against the full relative path AND just the basename.
		if matched, _ := filepath.Match(pattern, name); matched {
			return true
		}
		if matched, _ := filepath.Match(pattern, relPath); matched {
			return true
		}
	}
	return false
}
