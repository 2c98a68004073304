// File: internal/snapshot/fs.go
// Description: Append-only filesystem snapshot store. Each snapshot is one
// write-once JSON file named by zero-padded version and logical timestamp;
// an in-process btree ordered by version makes Latest O(1) and historical
// lookups O(log n). The index is rebuilt from the directory on open, so the
// layout itself is the durable source of truth.

package snapshot

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/tidwall/btree"
	"go.uber.org/zap"

	"github.com/xkilldash9x/capgraph/api/schemas"
	"github.com/xkilldash9x/capgraph/internal/observability"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const snapPrefix = "snap-"

// snapMeta is one index entry: enough to locate and order a snapshot file
// without loading its payload.
type snapMeta struct {
	Version uint64
	Stamp   int64 // UnixNano
	Path    string
}

// FSStore persists snapshots as individual files in a single directory.
type FSStore struct {
	dir   string
	index *btree.BTreeG[snapMeta]
	log   *zap.Logger
}

var _ schemas.SnapshotStore = (*FSStore)(nil)

// NewFSStore opens (creating if needed) the snapshot directory and rebuilds
// the version index from its contents. A file that exists but cannot be
// parsed back into an index entry fails the open: silently skipping durable
// state is how a cold start ends up on an empty graph.
func NewFSStore(dir string, logger *zap.Logger) (*FSStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating snapshot dir %s: %w", dir, err)
	}

	s := &FSStore{
		dir:   dir,
		index: btree.NewBTreeG(func(a, b snapMeta) bool { return a.Version < b.Version }),
		log:   logger.Named("SnapshotFS"),
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("listing snapshot dir %s: %w", dir, err)
	}
	for _, entry := range entries {
		// Only published snapshots count. Temp files a crash left behind
		// (anything not ending in .json) are stale partial writes, not state.
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), snapPrefix) || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		meta, err := parseSnapName(entry.Name())
		if err != nil {
			return nil, fmt.Errorf("unreadable snapshot file %s: %w", entry.Name(), err)
		}
		meta.Path = filepath.Join(dir, entry.Name())
		s.index.Set(meta)
	}

	s.log.Info("Snapshot store opened", zap.String("dir", dir), zap.Int("snapshots", s.index.Len()))
	return s, nil
}

// Save persists a snapshot as a new write-once file. The payload goes to a
// temp file first and is published with a rename, so a crash mid-write never
// leaves a partial snapshot visible.
func (s *FSStore) Save(ctx context.Context, snap schemas.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	name := snapName(snap.Version, snap.Timestamp.UnixNano())
	final := filepath.Join(s.dir, name)
	if _, err := os.Stat(final); err == nil {
		return fmt.Errorf("snapshot version %d already persisted", snap.Version)
	}

	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encoding snapshot v%d: %w", snap.Version, err)
	}

	tmp, err := os.CreateTemp(s.dir, ".tmp-"+name+"-*")
	if err != nil {
		return fmt.Errorf("creating temp snapshot file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing snapshot v%d: %w", snap.Version, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("syncing snapshot v%d: %w", snap.Version, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing snapshot v%d: %w", snap.Version, err)
	}
	if err := os.Rename(tmpName, final); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("publishing snapshot v%d: %w", snap.Version, err)
	}

	s.index.Set(snapMeta{Version: snap.Version, Stamp: snap.Timestamp.UnixNano(), Path: final})
	observability.SnapshotsWritten.Inc()
	s.log.Info("Snapshot persisted",
		zap.Uint64("version", snap.Version),
		zap.Int("nodes", len(snap.Nodes)),
		zap.Int("edges", len(snap.Edges)),
		zap.Int("bytes", len(payload)))
	return nil
}

// Latest returns the most recent snapshot, or ErrNoSnapshots.
func (s *FSStore) Latest(ctx context.Context) (schemas.Snapshot, error) {
	meta, ok := s.index.Max()
	if !ok {
		return schemas.Snapshot{}, schemas.ErrNoSnapshots
	}
	return s.load(ctx, meta)
}

// At returns the closest snapshot with version <= the request.
func (s *FSStore) At(ctx context.Context, version uint64) (schemas.Snapshot, error) {
	var found *snapMeta
	s.index.Descend(snapMeta{Version: version}, func(m snapMeta) bool {
		found = &m
		return false
	})
	if found == nil {
		return schemas.Snapshot{}, schemas.ErrNoSnapshots
	}
	return s.load(ctx, *found)
}

// AtTime returns the closest snapshot taken at or before ts.
func (s *FSStore) AtTime(ctx context.Context, ts time.Time) (schemas.Snapshot, error) {
	cutoff := ts.UnixNano()
	var found *snapMeta
	s.index.Reverse(func(m snapMeta) bool {
		if m.Stamp <= cutoff {
			found = &m
			return false
		}
		return true
	})
	if found == nil {
		return schemas.Snapshot{}, schemas.ErrNoSnapshots
	}
	return s.load(ctx, *found)
}

// Close is a no-op for the filesystem backend.
func (s *FSStore) Close() error { return nil }

func (s *FSStore) load(ctx context.Context, meta snapMeta) (schemas.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return schemas.Snapshot{}, err
	}
	payload, err := os.ReadFile(meta.Path)
	if err != nil {
		return schemas.Snapshot{}, fmt.Errorf("reading snapshot v%d: %w", meta.Version, err)
	}
	var snap schemas.Snapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return schemas.Snapshot{}, fmt.Errorf("decoding snapshot v%d: %w", meta.Version, err)
	}
	return snap, nil
}

func snapName(version uint64, stamp int64) string {
	return fmt.Sprintf("%s%020d-%d.json", snapPrefix, version, stamp)
}

func parseSnapName(name string) (snapMeta, error) {
	trimmed := strings.TrimSuffix(strings.TrimPrefix(name, snapPrefix), ".json")
	parts := strings.SplitN(trimmed, "-", 2)
	if len(parts) != 2 {
		return snapMeta{}, fmt.Errorf("malformed snapshot name %q", name)
	}
	version, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return snapMeta{}, fmt.Errorf("malformed version in %q: %w", name, err)
	}
	stamp, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return snapMeta{}, fmt.Errorf("malformed timestamp in %q: %w", name, err)
	}
	return snapMeta{Version: version, Stamp: stamp}, nil
}
