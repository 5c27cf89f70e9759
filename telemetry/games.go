package telemetry

import (
	"context"
	"database/sql"
	"strings"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/brensch/xqzero/store"
)

type OutcomeCount struct {
	Result   string  `json:"result"`
	Reason   string  `json:"reason"`
	Games    int64   `json:"games"`
	AvgPlies float64 `json:"avg_plies"`
}

type VersionCount struct {
	SnapshotVersion int64 `json:"snapshot_version"`
	Games           int64 `json:"games"`
	Positions       int64 `json:"positions"`
}

// GamesSummary aggregates the stored self-play shards.
type GamesSummary struct {
	Shards    int            `json:"shards"`
	Games     int64          `json:"games"`
	Positions int64          `json:"positions"`
	Outcomes  []OutcomeCount `json:"outcomes"`
	Versions  []VersionCount `json:"versions"`
}

func escapeSQLString(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

// openDuckDB opens an in-memory DuckDB with a "positions" view over files.
func openDuckDB(files []string) (*sql.DB, error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, err
	}
	// Basic pragmas; ignore errors for compatibility across versions.
	_, _ = db.Exec("PRAGMA threads=2")

	arr := make([]string, 0, len(files))
	for _, p := range files {
		arr = append(arr, "'"+escapeSQLString(p)+"'")
	}
	sqlText := "CREATE OR REPLACE VIEW positions AS SELECT * FROM read_parquet([" + strings.Join(arr, ",") + "])"
	if _, err := db.Exec(sqlText); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// SummarizeGames queries every finished shard in dir.
func SummarizeGames(ctx context.Context, dir string) (GamesSummary, error) {
	var out GamesSummary
	files, err := store.ListShards(dir)
	if err != nil {
		return out, err
	}
	out.Shards = len(files)
	out.Outcomes = []OutcomeCount{}
	out.Versions = []VersionCount{}
	if len(files) == 0 {
		return out, nil
	}

	db, err := openDuckDB(files)
	if err != nil {
		return out, err
	}
	defer db.Close()

	if err := db.QueryRowContext(ctx, `SELECT COUNT(DISTINCT game_id), COUNT(*) FROM positions`).Scan(&out.Games, &out.Positions); err != nil {
		return out, err
	}

	rows, err := db.QueryContext(ctx, `
		SELECT result, reason, COUNT(*) AS games, AVG(plies) AS avg_plies
		FROM (
			SELECT game_id, ANY_VALUE(result) AS result, ANY_VALUE(reason) AS reason, MAX(plies) AS plies
			FROM positions GROUP BY game_id
		)
		GROUP BY result, reason
		ORDER BY games DESC, result, reason`)
	if err != nil {
		return out, err
	}
	for rows.Next() {
		var oc OutcomeCount
		if err := rows.Scan(&oc.Result, &oc.Reason, &oc.Games, &oc.AvgPlies); err != nil {
			rows.Close()
			return out, err
		}
		out.Outcomes = append(out.Outcomes, oc)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return out, err
	}

	rows, err = db.QueryContext(ctx, `
		SELECT snapshot_version, COUNT(DISTINCT game_id), COUNT(*)
		FROM positions
		GROUP BY snapshot_version
		ORDER BY snapshot_version`)
	if err != nil {
		return out, err
	}
	defer rows.Close()
	for rows.Next() {
		var vc VersionCount
		if err := rows.Scan(&vc.SnapshotVersion, &vc.Games, &vc.Positions); err != nil {
			return out, err
		}
		out.Versions = append(out.Versions, vc)
	}
	return out, rows.Err()
}
