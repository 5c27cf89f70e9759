package store

import (
	"context"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/brensch/xqzero/executor/inference"
	"github.com/brensch/xqzero/executor/mcts"
	"github.com/brensch/xqzero/executor/selfplay"
	"github.com/brensch/xqzero/game"
)

func playShortGame(t *testing.T, seed int64) *selfplay.GameRecord {
	t.Helper()
	mc := mcts.DefaultConfig()
	mc.Simulations = 4
	cfg := selfplay.Config{MCTS: mc, MaxPlies: 6}
	rec, err := selfplay.PlayGame(context.Background(), 0, cfg, inference.Uniform{}, rand.New(rand.NewSource(seed)), nil)
	if err != nil {
		t.Fatalf("PlayGame: %v", err)
	}
	rec.SnapshotVersion = 3
	return rec
}

func TestMoveEncoding(t *testing.T) {
	m := game.Move{From: game.Sq(9, 1), To: game.Sq(7, 2)}
	got := DecodeMove(EncodeMove(m))
	if !got.Same(m) {
		t.Fatalf("decoded %v, want %v", got, m)
	}
}

func TestParquetRoundTrip(t *testing.T) {
	rec := playShortGame(t, 1)
	rows := RowsFromRecord(rec, "test")
	if len(rows) != len(rec.Entries) {
		t.Fatalf("got %d rows for %d entries", len(rows), len(rec.Entries))
	}

	path := filepath.Join(t.TempDir(), "game.parquet")
	if err := WriteGameParquet(path, rows); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("temp file left behind")
	}

	back, err := ReadGameParquet(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(back) != len(rows) {
		t.Fatalf("read %d rows, wrote %d", len(back), len(rows))
	}
	for i := range rows {
		want, got := rows[i], back[i]
		if got.GameID != want.GameID || got.Ply != want.Ply || got.Board != want.Board || got.Value != want.Value {
			t.Fatalf("row %d: got %+v want %+v", i, got, want)
		}
		if got.Result != want.Result || got.Reason != want.Reason || got.SnapshotVersion != 3 {
			t.Fatalf("row %d: result fields %q %q %d", i, got.Result, got.Reason, got.SnapshotVersion)
		}
		if len(got.Moves) != len(want.Moves) || len(got.Policy) != len(want.Policy) {
			t.Fatalf("row %d: %d/%d moves, %d/%d probs", i, len(got.Moves), len(want.Moves), len(got.Policy), len(want.Policy))
		}
		for j := range want.Moves {
			if got.Moves[j] != want.Moves[j] || got.Policy[j] != want.Policy[j] {
				t.Fatalf("row %d move %d differs", i, j)
			}
		}

		pos, err := got.Position()
		if err != nil {
			t.Fatalf("row %d position: %v", i, err)
		}
		if pos.Board != rec.Entries[i].Board || pos.ToMove != rec.Entries[i].ToMove {
			t.Fatalf("row %d position differs from entry", i)
		}
	}
}

func TestShardWriter(t *testing.T) {
	dir := t.TempDir()
	w, err := NewShardWriter(dir, "selfplay")
	if err != nil {
		t.Fatalf("NewShardWriter: %v", err)
	}
	want := 0
	for i := int64(0); i < 2; i++ {
		rec := playShortGame(t, i+10)
		rec.SnapshotVersion = uint64(4 + i)
		want += len(rec.Entries)
		if err := w.Add(rec, "selfplay"); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	if shards, _ := ListShards(dir); len(shards) != 0 {
		t.Fatalf("shard visible before Close: %v", shards)
	}

	info, err := w.Close()
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	if info.Games != 2 || info.Rows != want || info.MinVersion != 4 || info.MaxVersion != 5 {
		t.Fatalf("info = %+v, want 2 games %d rows versions 4-5", info, want)
	}
	shards, err := ListShards(dir)
	if err != nil {
		t.Fatalf("ListShards: %v", err)
	}
	if len(shards) != 1 || shards[0] != info.Path {
		t.Fatalf("shards %v, want [%s]", shards, info.Path)
	}
	read, err := ReadGameParquet(info.Path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(read) != want {
		t.Fatalf("read %d rows, want %d", len(read), want)
	}
	if err := w.Add(playShortGame(t, 3), "selfplay"); err == nil {
		t.Fatalf("Add after Close succeeded")
	}
}

func TestShardWriterEmptyAndAbort(t *testing.T) {
	dir := t.TempDir()
	w, err := NewShardWriter(dir, "")
	if err != nil {
		t.Fatalf("NewShardWriter: %v", err)
	}
	info, err := w.Close()
	if err != nil || info.Path != "" || info.Games != 0 {
		t.Fatalf("empty close: %+v %v", info, err)
	}

	w, _ = NewShardWriter(dir, "")
	if err := w.Add(playShortGame(t, 2), "selfplay"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	w.Abort()
	left, _ := os.ReadDir(dir)
	if len(left) != 0 {
		t.Fatalf("abort left %d files", len(left))
	}
}

func TestRegistry(t *testing.T) {
	dir := t.TempDir()
	r, err := OpenRegistry(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	if _, ok, err := r.Best(); err != nil || ok {
		t.Fatalf("fresh registry has best: %v %v", ok, err)
	}
	if err := r.SetBest(7); err == nil {
		t.Fatalf("SetBest accepted unknown version")
	}

	for v := uint64(1); v <= 3; v++ {
		if err := r.PutSnapshot(SnapshotMeta{Version: v, Step: int64(v) * 100, Path: "p"}); err != nil {
			t.Fatalf("put %d: %v", v, err)
		}
	}
	if err := r.SetBest(2); err != nil {
		t.Fatalf("SetBest: %v", err)
	}
	if err := r.MarkIngested("a.parquet", "b.parquet"); err != nil {
		t.Fatalf("mark: %v", err)
	}
	if err := r.MarkIngested(""); err == nil {
		t.Fatalf("accepted empty shard name")
	}
	if _, err := r.AddCounter("games", 5); err != nil {
		t.Fatalf("counter: %v", err)
	}
	if n, err := r.AddCounter("games", 2); err != nil || n != 7 {
		t.Fatalf("counter = %d, %v", n, err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	r, err = OpenRegistry(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer r.Close()

	best, ok, err := r.Best()
	if err != nil || !ok || best.Version != 2 || !best.Promoted || best.Step != 200 {
		t.Fatalf("best = %+v %v %v", best, ok, err)
	}
	all, err := r.Snapshots()
	if err != nil || len(all) != 3 || all[0].Version != 1 || all[2].Version != 3 {
		t.Fatalf("snapshots = %+v %v", all, err)
	}
	counters, err := r.Counters()
	if err != nil || counters["games"] != 7 {
		t.Fatalf("counters = %v %v", counters, err)
	}
	if done, err := r.Ingested("a.parquet"); err != nil || !done {
		t.Fatalf("ingested mark lost: %v %v", done, err)
	}
	if done, _ := r.Ingested("c.parquet"); done {
		t.Fatalf("unmarked shard reported ingested")
	}
}

func TestRegistryInMemory(t *testing.T) {
	r, err := OpenRegistry("")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer r.Close()
	if err := r.PutSnapshot(SnapshotMeta{Version: 1}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, ok, err := r.Snapshot(1); err != nil || !ok {
		t.Fatalf("snapshot: %v %v", ok, err)
	}
}
