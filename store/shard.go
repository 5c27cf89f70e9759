package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress/zstd"

	"github.com/brensch/xqzero/executor/selfplay"
)

var shardSeq atomic.Uint64

// ShardInfo describes a finished shard. Path is empty when the writer was
// closed without any game.
type ShardInfo struct {
	Path       string
	Games      int
	Rows       int
	MinVersion uint64
	MaxVersion uint64
}

// ShardWriter streams whole games into one parquet shard. The file is
// written as a hidden temp file next to its final name and only renamed into
// place by Close, so ListShards never returns a partial shard.
type ShardWriter struct {
	dir    string
	name   string
	file   *os.File
	writer *parquet.GenericWriter[GameRow]
	info   ShardInfo
	closed bool
}

// NewShardWriter prepares a shard in dir named prefix_<time>_<seq>.parquet.
// Nothing touches the disk until the first game is added.
func NewShardWriter(dir, prefix string) (*ShardWriter, error) {
	if dir == "" {
		return nil, fmt.Errorf("shard dir is required")
	}
	if prefix == "" {
		prefix = "games"
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		abs = dir
	}
	return &ShardWriter{dir: abs, name: shardName(prefix)}, nil
}

func shardName(prefix string) string {
	return prefix + "_" + strconv.FormatInt(time.Now().UnixNano(), 10) + "_" + strconv.FormatUint(shardSeq.Add(1), 10) + ".parquet"
}

func (w *ShardWriter) tmpPath() string { return filepath.Join(w.dir, "."+w.name+".tmp") }

func (w *ShardWriter) Path() string { return filepath.Join(w.dir, w.name) }

// Games is the number of games added so far.
func (w *ShardWriter) Games() int { return w.info.Games }

func (w *ShardWriter) open() error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("create shard dir: %w", err)
	}
	f, err := os.OpenFile(w.tmpPath(), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open shard: %w", err)
	}
	w.file = f
	w.writer = parquet.NewGenericWriter[GameRow](f,
		parquet.Compression(&zstd.Codec{Level: zstd.SpeedBetterCompression}),
	)
	w.writer.SetKeyValueMetadata("schema", GameRowSchema)
	return nil
}

// Add appends every position of a finished game.
func (w *ShardWriter) Add(rec *selfplay.GameRecord, source string) error {
	if w.closed {
		return fmt.Errorf("shard %s already closed", w.name)
	}
	rows := RowsFromRecord(rec, source)
	if len(rows) == 0 {
		return nil
	}
	if w.file == nil {
		if err := w.open(); err != nil {
			return err
		}
	}
	if _, err := w.writer.Write(rows); err != nil {
		return fmt.Errorf("write game %s: %w", rec.ID, err)
	}

	if w.info.Games == 0 || rec.SnapshotVersion < w.info.MinVersion {
		w.info.MinVersion = rec.SnapshotVersion
	}
	if rec.SnapshotVersion > w.info.MaxVersion {
		w.info.MaxVersion = rec.SnapshotVersion
	}
	w.info.Games++
	w.info.Rows += len(rows)
	return nil
}

// Close finishes the shard and moves it into place.
func (w *ShardWriter) Close() (ShardInfo, error) {
	if w.closed {
		return w.info, nil
	}
	w.closed = true
	if w.file == nil {
		return ShardInfo{}, nil
	}

	w.writer.SetKeyValueMetadata("games", strconv.Itoa(w.info.Games))
	w.writer.SetKeyValueMetadata("snapshot_versions", fmt.Sprintf("%d-%d", w.info.MinVersion, w.info.MaxVersion))
	err := w.writer.Close()
	if err == nil {
		err = w.file.Sync()
	}
	if cerr := w.file.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(w.tmpPath(), w.Path())
	}
	if err != nil {
		_ = os.Remove(w.tmpPath())
		return ShardInfo{}, fmt.Errorf("finish shard %s: %w", w.name, err)
	}
	w.info.Path = w.Path()
	return w.info, nil
}

// Abort drops everything written so far.
func (w *ShardWriter) Abort() {
	if w.closed {
		return
	}
	w.closed = true
	if w.file != nil {
		_ = w.file.Close()
		_ = os.Remove(w.tmpPath())
	}
}
