// Command dbcheck inspects and repairs the evaluation tables.
//
//	dbcheck                       table counts
//	dbcheck sources               evaluations per source and dataset
//	dbcheck fix-counts [apply]    recompute summary columns from hypothesis_scores
//	dbcheck purge <age> [apply]   delete evaluations older than age (e.g. 720h)
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	pool, err := pgxpool.New(context.Background(), os.Getenv("DATABASE_URL"))
	if err != nil {
		panic(err)
	}
	defer pool.Close()

	ctx := context.Background()
	args := os.Args[1:]
	apply := func(i int) bool { return len(args) > i && args[i] == "apply" }

	if len(args) == 0 {
		tableCounts(ctx, pool)
		return
	}

	switch args[0] {
	case "sources":
		sources(ctx, pool)
	case "fix-counts":
		fixCounts(ctx, pool, !apply(1))
	case "purge":
		if len(args) < 2 {
			fmt.Println("usage: dbcheck purge <age> [apply]")
			os.Exit(2)
		}
		age, err := time.ParseDuration(args[1])
		if err != nil || age <= 0 {
			fmt.Printf("invalid age %q\n", args[1])
			os.Exit(2)
		}
		purge(ctx, pool, age, !apply(2))
	default:
		fmt.Printf("unknown command %q\n", args[0])
		os.Exit(2)
	}
}

func tableCounts(ctx context.Context, pool *pgxpool.Pool) {
	fmt.Println("Table                    Count")
	fmt.Println("─────────────────────────────────")
	for _, t := range []string{"evaluations", "hypothesis_scores"} {
		var count int64
		if err := pool.QueryRow(ctx, "SELECT count(*) FROM "+t).Scan(&count); err != nil {
			fmt.Printf("%-25s error: %v\n", t, err)
			continue
		}
		fmt.Printf("%-25s %d\n", t, count)
	}
}

func sources(ctx context.Context, pool *pgxpool.Pool) {
	fmt.Println("── Evaluations by source ──")
	rows, err := pool.Query(ctx, `
		SELECT source, COALESCE(dataset, ''), count(*), sum(improved), sum(hypotheses),
			min(created_at), max(created_at)
		FROM evaluations
		GROUP BY source, dataset
		ORDER BY source, dataset
	`)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	defer rows.Close()
	for rows.Next() {
		var (
			source, dataset       string
			count, improved, hyps int64
			first, last           time.Time
		)
		if err := rows.Scan(&source, &dataset, &count, &improved, &hyps, &first, &last); err != nil {
			fmt.Printf("Error scanning: %v\n", err)
			return
		}
		if dataset == "" {
			dataset = "-"
		}
		fmt.Printf("  %-8s %-22s %6d evaluations, %d/%d hypotheses improved (%s .. %s)\n",
			source, dataset, count, improved, hyps,
			first.Format(time.DateTime), last.Format(time.DateTime))
	}
}

func purge(ctx context.Context, pool *pgxpool.Pool, age time.Duration, dryRun bool) {
	cutoff := time.Now().Add(-age)
	var count int64
	if err := pool.QueryRow(ctx, `SELECT count(*) FROM evaluations WHERE created_at < $1`, cutoff).Scan(&count); err != nil {
		fmt.Printf("Error counting: %v\n", err)
		return
	}
	fmt.Printf("Found %d evaluations created before %s\n", count, cutoff.Format(time.RFC3339))
	if count == 0 {
		return
	}
	if dryRun {
		fmt.Println("Dry run, no changes made. Run with 'purge <age> apply' to delete.")
		return
	}
	tag, err := pool.Exec(ctx, `DELETE FROM evaluations WHERE created_at < $1`, cutoff)
	if err != nil {
		fmt.Printf("Error deleting: %v\n", err)
		return
	}
	fmt.Printf("Deleted %d evaluations\n", tag.RowsAffected())
}
