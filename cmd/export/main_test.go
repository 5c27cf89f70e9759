package main

import (
	"context"
	"errors"
	"io"
	"math/rand"
	"os"
	"testing"

	"github.com/parquet-go/parquet-go"

	"github.com/brensch/xqzero/executor/convert"
	"github.com/brensch/xqzero/executor/inference"
	"github.com/brensch/xqzero/executor/mcts"
	"github.com/brensch/xqzero/executor/selfplay"
	"github.com/brensch/xqzero/store"
)

func writeShard(t *testing.T, dir string) (string, int) {
	t.Helper()
	mc := mcts.DefaultConfig()
	mc.Simulations = 4
	rec, err := selfplay.PlayGame(context.Background(), 0, selfplay.Config{MCTS: mc, MaxPlies: 6}, inference.Uniform{}, rand.New(rand.NewSource(5)), nil)
	if err != nil {
		t.Fatalf("PlayGame: %v", err)
	}
	w, err := store.NewShardWriter(dir, "test")
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Add(rec, "test"); err != nil {
		t.Fatal(err)
	}
	info, err := w.Close()
	if err != nil {
		t.Fatal(err)
	}
	return info.Path, info.Rows
}

func TestConvertOne(t *testing.T) {
	in, rows := writeShard(t, t.TempDir())
	out := trainingPath(t.TempDir(), in)

	n, err := convertOne(in, out)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if n != rows {
		t.Fatalf("converted %d rows, want %d", n, rows)
	}
	if _, err := os.Stat(out + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("temp file left behind")
	}

	f, err := os.Open(out)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	r := parquet.NewGenericReader[TrainingRow](f)
	defer r.Close()
	buf := make([]TrainingRow, 64)
	got := 0
	for {
		k, err := r.Read(buf)
		for _, tr := range buf[:k] {
			if len(tr.X) != convert.FloatSize || tr.XC != convert.Channels {
				t.Fatalf("x has %d bytes, %d channels", len(tr.X), tr.XC)
			}
			set := 0
			for _, b := range tr.X {
				set += int(b)
			}
			if set < 2 || set > 32 {
				t.Fatalf("ply %d: %d features set", tr.Ply, set)
			}
			var sum float32
			for i, idx := range tr.PolicyIdx {
				if idx < 0 || int(idx) >= convert.PolicySize {
					t.Fatalf("policy index %d out of range", idx)
				}
				sum += tr.PolicyProb[i]
			}
			if sum < 0.999 || sum > 1.001 {
				t.Fatalf("ply %d: policy sums to %v", tr.Ply, sum)
			}
		}
		got += k
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			t.Fatal(err)
		}
	}
	if got != rows {
		t.Fatalf("read back %d rows", got)
	}
}
