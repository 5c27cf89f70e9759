package store

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress/zstd"

	"github.com/brensch/xqzero/executor/selfplay"
	"github.com/brensch/xqzero/game"
)

const GameRowSchema = "xq_game_row_v1"

// GameRow is one recorded position of a self-play game.
//
// Board is the FEN of the position before the move. Moves are the legal
// moves searched at the root, encoded as from*90+to in absolute board
// coordinates, and Policy is the search distribution aligned with them.
// Value is the final outcome from the side to move's point of view.
type GameRow struct {
	GameID          string    `parquet:"game_id,dict"`
	Ply             int32     `parquet:"ply"`
	Board           string    `parquet:"board"`
	ToMove          int32     `parquet:"to_move"`
	Moves           []int32   `parquet:"moves"`
	Policy          []float32 `parquet:"policy"`
	Value           float32   `parquet:"value"`
	Result          string    `parquet:"result,dict"`
	Reason          string    `parquet:"reason,dict"`
	Plies           int32     `parquet:"plies"`
	SnapshotVersion int64     `parquet:"snapshot_version"`
	Source          string    `parquet:"source,dict"`
}

func EncodeMove(m game.Move) int32 { return int32(m.From)*game.NumSquares + int32(m.To) }

func DecodeMove(v int32) game.Move {
	return game.Move{From: game.Square(v / game.NumSquares), To: game.Square(v % game.NumSquares)}
}

// RowsFromRecord flattens a finished game into rows.
func RowsFromRecord(rec *selfplay.GameRecord, source string) []GameRow {
	rows := make([]GameRow, 0, len(rec.Entries))
	for i := range rec.Entries {
		e := &rec.Entries[i]
		moves := make([]int32, len(e.Moves))
		for j, m := range e.Moves {
			moves[j] = EncodeMove(m)
		}
		policy := make([]float32, len(e.Policy))
		copy(policy, e.Policy)
		rows = append(rows, GameRow{
			GameID:          rec.ID,
			Ply:             int32(e.Ply),
			Board:           e.State().FEN(),
			ToMove:          int32(e.ToMove),
			Moves:           moves,
			Policy:          policy,
			Value:           e.Value,
			Result:          rec.Result.Outcome.String(),
			Reason:          rec.Result.Reason.String(),
			Plies:           int32(rec.Plies),
			SnapshotVersion: int64(rec.SnapshotVersion),
			Source:          source,
		})
	}
	return rows
}

// Position parses the row's board back into a state.
func (r *GameRow) Position() (*game.State, error) {
	s, err := game.ParseFEN(r.Board)
	if err != nil {
		return nil, err
	}
	if game.Side(r.ToMove) != s.ToMove {
		return nil, fmt.Errorf("row %s/%d: to_move %d disagrees with board %q", r.GameID, r.Ply, r.ToMove, r.Board)
	}
	s.Ply = int(r.Ply)
	return s, nil
}

// WriteGameParquet writes rows to outPath via a temp file and rename.
func WriteGameParquet(outPath string, rows []GameRow) error {
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	// Write to a temp file and rename atomically.
	tmpPath := outPath + ".tmp"
	_ = os.Remove(tmpPath)

	if err := parquet.WriteFile(tmpPath, rows,
		parquet.Compression(&zstd.Codec{Level: zstd.SpeedBetterCompression}),
		parquet.KeyValueMetadata("schema", GameRowSchema),
	); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write parquet: %w", err)
	}

	if err := os.Rename(tmpPath, outPath); err != nil {
		return fmt.Errorf("rename parquet: %w", err)
	}
	return nil
}

// WriteBatchParquet writes rows of any number of games as one shard in
// outDir and returns its path.
func WriteBatchParquet(outDir string, rows []GameRow) (string, error) {
	outPath := filepath.Join(outDir, shardName("batch"))
	if err := WriteGameParquet(outPath, rows); err != nil {
		return "", err
	}
	return outPath, nil
}

// ReadGameParquet loads every row of a shard.
func ReadGameParquet(path string) ([]GameRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader := parquet.NewGenericReader[GameRow](f)
	defer reader.Close()

	var rows []GameRow
	for {
		// Fresh buffer each round: the reader may reuse slice fields.
		buf := make([]GameRow, 256)
		n, err := reader.Read(buf)
		rows = append(rows, buf[:n]...)
		if errors.Is(err, io.EOF) {
			return rows, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read parquet %s: %w", path, err)
		}
	}
}

// ListShards returns the finished parquet shards in dir, oldest name first.
func ListShards(dir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.parquet"))
	if err != nil {
		return nil, err
	}
	return matches, nil
}
