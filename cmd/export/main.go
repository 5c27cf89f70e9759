// Command export turns game shards into training shards with the network
// input already encoded, for trainers outside this module (the ONNX models
// loaded by the executor are trained that way).
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress/zstd"
	"golang.org/x/sync/errgroup"

	"github.com/brensch/xqzero/executor/convert"
	"github.com/brensch/xqzero/replay"
	"github.com/brensch/xqzero/store"
)

const TrainingRowSchema = "xq_training_row_v1"

// TrainingRow is one encoded example. X holds Channels*Rows*Cols one-hot
// bytes in the side to move's orientation; the policy is sparse over the
// move encoding.
type TrainingRow struct {
	GameID string `parquet:"game_id,dict"`
	Ply    int32  `parquet:"ply"`

	X          []byte    `parquet:"x"`
	PolicyIdx  []int32   `parquet:"policy_idx"`
	PolicyProb []float32 `parquet:"policy_prob"`
	Value      float32   `parquet:"value"`

	XC int32 `parquet:"x_c"`
	XH int32 `parquet:"x_h"`
	XW int32 `parquet:"x_w"`

	SnapshotVersion int64  `parquet:"snapshot_version"`
	Source          string `parquet:"source,dict"`
}

func main() {
	inDir := flag.String("in-dir", "", "Directory containing game parquet shards")
	outDir := flag.String("out-dir", "", "Output directory for training parquet shards")
	workers := flag.Int("workers", runtime.NumCPU(), "Shards converted in parallel")
	force := flag.Bool("force", false, "Convert shards that already have an output")
	flag.Parse()

	if *inDir == "" || *outDir == "" {
		fmt.Fprintln(os.Stderr, "-in-dir and -out-dir are required")
		os.Exit(2)
	}
	absIn, _ := filepath.Abs(*inDir)
	absOut, _ := filepath.Abs(*outDir)
	if absIn == absOut {
		fmt.Fprintln(os.Stderr, "out-dir must be different from in-dir")
		os.Exit(2)
	}

	inputs, err := store.ListShards(absIn)
	if err != nil {
		fmt.Fprintf(os.Stderr, "list shards: %v\n", err)
		os.Exit(1)
	}
	if err := os.MkdirAll(absOut, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "create out-dir: %v\n", err)
		os.Exit(2)
	}

	var shards, rows atomic.Int64
	var g errgroup.Group
	g.SetLimit(max(*workers, 1))
	for _, in := range inputs {
		out := trainingPath(absOut, in)
		if _, err := os.Stat(out); err == nil && !*force {
			continue
		}
		g.Go(func() error {
			n, err := convertOne(in, out)
			if err != nil {
				// One bad shard should not stop the rest.
				fmt.Fprintf(os.Stderr, "convert %s: %v\n", filepath.Base(in), err)
				return nil
			}
			if n > 0 {
				shards.Add(1)
				rows.Add(int64(n))
			}
			return nil
		})
	}
	_ = g.Wait()

	if shards.Load() == 0 {
		fmt.Fprintln(os.Stderr, "no output written (nothing new to convert)")
		os.Exit(1)
	}
	fmt.Printf("wrote %d rows in %d shards to %s\n", rows.Load(), shards.Load(), absOut)
}

func trainingPath(outDir, inPath string) string {
	base := filepath.Base(inPath)
	return filepath.Join(outDir, strings.TrimSuffix(base, filepath.Ext(base))+".train.parquet")
}

// encodeRow builds the training row for one stored position.
func encodeRow(row *store.GameRow) (TrainingRow, error) {
	e, err := replay.FromRow(row)
	if err != nil {
		return TrainingRow{}, err
	}
	x := make([]byte, convert.FloatSize)
	for _, f := range convert.ActiveFeatures(&e.Board, e.ToMove, make([]int32, 0, convert.MaxActive)) {
		x[f] = 1
	}
	return TrainingRow{
		GameID:          row.GameID,
		Ply:             row.Ply,
		X:               x,
		PolicyIdx:       e.PolicyIdx,
		PolicyProb:      e.PolicyProb,
		Value:           e.Value,
		XC:              int32(convert.Channels),
		XH:              int32(convert.Rows),
		XW:              int32(convert.Cols),
		SnapshotVersion: row.SnapshotVersion,
		Source:          row.Source,
	}, nil
}

// convertOne encodes every row of one game shard and writes the result via
// a temp file and rename. Shards without rows produce no output.
func convertOne(inPath, outPath string) (int, error) {
	rows, err := store.ReadGameParquet(inPath)
	if err != nil {
		return 0, err
	}
	out := make([]TrainingRow, 0, len(rows))
	for i := range rows {
		tr, err := encodeRow(&rows[i])
		if err != nil {
			return 0, fmt.Errorf("game %s ply %d: %w", rows[i].GameID, rows[i].Ply, err)
		}
		out = append(out, tr)
	}
	if len(out) == 0 {
		return 0, nil
	}

	tmp := outPath + ".tmp"
	if err := parquet.WriteFile(tmp, out,
		parquet.Compression(&zstd.Codec{Level: zstd.SpeedBetterCompression}),
		parquet.KeyValueMetadata("schema", TrainingRowSchema),
	); err != nil {
		_ = os.Remove(tmp)
		return 0, fmt.Errorf("write parquet: %w", err)
	}
	if err := os.Rename(tmp, outPath); err != nil {
		_ = os.Remove(tmp)
		return 0, err
	}
	return len(out), nil
}
