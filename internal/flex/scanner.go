// SPDX-License-Identifier: MIT

// Package flex discovers recordings on the nine city shares. Flex servers
// model a single drive root, so discovery is strictly surface-level: the scan
// never descends into subdirectories.
package flex

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ctvcoop/archivist/internal/config"
	"github.com/ctvcoop/archivist/internal/log"
	"golang.org/x/sync/errgroup"
)

// VideoAsset is a candidate recording on a mount. The absolute path uniquely
// identifies the asset.
type VideoAsset struct {
	Path    string
	Size    int64
	ModTime time.Time
	City    string
}

// VideoExtensions are the recording container formats the HELO boxes produce.
var VideoExtensions = []string{".mp4", ".mkv", ".mov", ".ts", ".mpeg"}

const (
	// DefaultScanLimit bounds one directory listing.
	DefaultScanLimit = 50
	// DefaultMinSize filters out stub files the capture devices leave behind.
	DefaultMinSize = 1 << 20 // 1 MiB
	// readDirDeadline bounds a single readdir; a hung NFS mount must not
	// stall the whole sweep.
	readDirDeadline = 15 * time.Second
)

// Scanner enumerates candidate videos per city share.
type Scanner struct {
	servers   map[string]config.FlexServer
	ScanLimit int
	MinSize   int64
}

// NewScanner builds a scanner over the fixed city table.
func NewScanner(servers []config.FlexServer) *Scanner {
	byID := make(map[string]config.FlexServer, len(servers))
	for _, s := range servers {
		byID[s.ID] = s
	}
	return &Scanner{
		servers:   byID,
		ScanLimit: DefaultScanLimit,
		MinSize:   DefaultMinSize,
	}
}

// Servers returns the configured city table.
func (s *Scanner) Servers() []config.FlexServer {
	out := make([]config.FlexServer, 0, len(s.servers))
	for _, srv := range s.servers {
		out = append(out, srv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Discover lists video files directly in the city's mount root, newest first.
// An unreadable or absent mount yields an empty result, logged at warning;
// stat failures on individual entries are skipped.
func (s *Scanner) Discover(ctx context.Context, cityID string) []VideoAsset {
	logger := log.WithComponentFromContext(ctx, "flex.scanner")

	srv, ok := s.servers[cityID]
	if !ok {
		logger.Warn().Str(log.FieldCity, cityID).Msg("unknown city id, skipping")
		return nil
	}

	entries, err := readDirWithDeadline(ctx, srv.MountPath)
	if err != nil {
		logger.Warn().
			Err(err).
			Str(log.FieldCity, cityID).
			Str(log.FieldMount, srv.MountPath).
			Msg("mount unreadable, skipping city")
		return nil
	}

	assets := make([]VideoAsset, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !hasVideoExtension(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			logger.Debug().
				Err(err).
				Str(log.FieldPath, filepath.Join(srv.MountPath, entry.Name())).
				Msg("stat failed, skipping entry")
			continue
		}
		if info.Size() < s.MinSize {
			continue
		}
		assets = append(assets, VideoAsset{
			Path:    filepath.Join(srv.MountPath, entry.Name()),
			Size:    info.Size(),
			ModTime: info.ModTime(),
			City:    cityID,
		})
	}

	// Newest first; ties broken by path for determinism.
	sort.Slice(assets, func(i, j int) bool {
		if assets[i].ModTime.Equal(assets[j].ModTime) {
			return assets[i].Path < assets[j].Path
		}
		return assets[i].ModTime.After(assets[j].ModTime)
	})

	limit := s.ScanLimit
	if limit <= 0 {
		limit = DefaultScanLimit
	}
	if len(assets) > limit {
		assets = assets[:limit]
	}
	return assets
}

// FindUntranscribed filters Discover's output down to videos without a
// sidecar .scc next to them.
func (s *Scanner) FindUntranscribed(ctx context.Context, cityID string) []VideoAsset {
	assets := s.Discover(ctx, cityID)
	out := assets[:0]
	for _, a := range assets {
		if _, err := os.Stat(SidecarPath(a.Path)); err == nil {
			continue
		}
		out = append(out, a)
	}
	return out
}

// PickNewestUncaptioned scans every city in parallel and returns up to
// maxPerCity uncaptioned paths each, newest first.
func (s *Scanner) PickNewestUncaptioned(ctx context.Context, maxPerCity int) map[string][]VideoAsset {
	if maxPerCity <= 0 {
		maxPerCity = 1
	}

	var mu sync.Mutex
	picks := make(map[string][]VideoAsset)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, srv := range s.Servers() {
		g.Go(func() error {
			assets := s.FindUntranscribed(gctx, srv.ID)
			if len(assets) > maxPerCity {
				assets = assets[:maxPerCity]
			}
			if len(assets) > 0 {
				mu.Lock()
				picks[srv.ID] = assets
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait() // per-city failures are swallowed inside Discover

	return picks
}

// SidecarPath returns the caption path co-located with a video: same
// directory, same base name, ".scc" extension.
func SidecarPath(videoPath string) string {
	ext := filepath.Ext(videoPath)
	return strings.TrimSuffix(videoPath, ext) + ".scc"
}

func hasVideoExtension(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, v := range VideoExtensions {
		if ext == v {
			return true
		}
	}
	return false
}

// readDirWithDeadline lists a directory under a hard deadline so a hung
// network mount cannot stall the caller.
func readDirWithDeadline(ctx context.Context, dir string) ([]os.DirEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, readDirDeadline)
	defer cancel()

	type result struct {
		entries []os.DirEntry
		err     error
	}
	ch := make(chan result, 1)
	go func() {
		entries, err := os.ReadDir(dir)
		ch <- result{entries, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		return r.entries, r.err
	}
}
