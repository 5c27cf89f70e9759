package replay

import (
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/brensch/xqzero/store"
)

// Ledger remembers which shards were loaded. *store.Registry implements it.
type Ledger interface {
	Ingested(name string) (bool, error)
	MarkIngested(names ...string) error
}

// Loader feeds parquet game shards written by a separate self-play process
// into a buffer. Shards are marked in the ledger once loaded so a restart
// does not load them twice. A nil Ledger loads every shard on every poll.
type Loader struct {
	Dir    string
	Buffer *Buffer
	Ledger Ledger
	Logger zerolog.Logger
}

// Poll loads every shard in Dir not yet ingested and returns the number of
// entries added.
func (l *Loader) Poll() (int, error) {
	shards, err := store.ListShards(l.Dir)
	if err != nil {
		return 0, fmt.Errorf("list shards: %w", err)
	}
	added := 0
	for _, path := range shards {
		key := filepath.Base(path)
		if l.Ledger != nil {
			done, err := l.Ledger.Ingested(key)
			if err != nil {
				return added, err
			}
			if done {
				continue
			}
		}
		rows, err := store.ReadGameParquet(path)
		if err != nil {
			return added, err
		}
		entries := make([]Entry, 0, len(rows))
		skipped := 0
		for i := range rows {
			e, err := FromRow(&rows[i])
			if err != nil {
				skipped++
				continue
			}
			entries = append(entries, e)
		}
		l.Buffer.Add(entries...)
		added += len(entries)

		if l.Ledger != nil {
			if err := l.Ledger.MarkIngested(key); err != nil {
				return added, err
			}
		}
		level := zerolog.InfoLevel
		if skipped > 0 {
			level = zerolog.WarnLevel
		}
		l.Logger.WithLevel(level).Str("shard", key).Int("entries", len(entries)).Int("skipped", skipped).Msg("ingested shard")
	}
	return added, nil
}
