package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// fixCounts finds evaluations whose summary columns disagree with their
// hypothesis_scores rows.
func fixCounts(ctx context.Context, pool *pgxpool.Pool, dryRun bool) {
	const findMismatches = `
		SELECT e.id, e.improved, COALESCE(s.improved, 0), e.hypotheses - e.failed, COALESCE(s.scored, 0)
		FROM evaluations e
		LEFT JOIN (
			SELECT evaluation_id,
				count(*) FILTER (WHERE improved) AS improved,
				count(*) AS scored
			FROM hypothesis_scores
			GROUP BY evaluation_id
		) s ON s.evaluation_id = e.id
		WHERE e.improved != COALESCE(s.improved, 0)
		   OR e.hypotheses - e.failed != COALESCE(s.scored, 0)
		ORDER BY e.created_at
	`

	rows, err := pool.Query(ctx, findMismatches)
	if err != nil {
		fmt.Printf("Error finding mismatches: %v\n", err)
		return
	}
	type mismatch struct {
		id                       string
		improved, actualImproved int
		scored, actualScored     int
	}
	var found []mismatch
	for rows.Next() {
		var m mismatch
		if err := rows.Scan(&m.id, &m.improved, &m.actualImproved, &m.scored, &m.actualScored); err != nil {
			rows.Close()
			fmt.Printf("Error scanning mismatch: %v\n", err)
			return
		}
		found = append(found, m)
	}
	rows.Close()

	fmt.Printf("Found %d evaluations with inconsistent counts\n", len(found))
	if len(found) == 0 {
		return
	}

	if dryRun {
		fmt.Println("Dry run, no changes made. Run with 'fix-counts apply' to fix.")
		for i, m := range found {
			if i >= 10 {
				fmt.Printf("  ... and %d more\n", len(found)-10)
				break
			}
			fmt.Printf("  %s: improved %d (scores say %d), scored %d (scores say %d)\n",
				m.id, m.improved, m.actualImproved, m.scored, m.actualScored)
		}
		return
	}

	// Scores are authoritative: rewrite improved, and treat hypotheses
	// without a score row as failed.
	const fixSQL = `
		UPDATE evaluations e
		SET improved = COALESCE(s.improved, 0),
			failed = e.hypotheses - COALESCE(s.scored, 0)
		FROM evaluations e2
		LEFT JOIN (
			SELECT evaluation_id,
				count(*) FILTER (WHERE improved) AS improved,
				count(*) AS scored
			FROM hypothesis_scores
			GROUP BY evaluation_id
		) s ON s.evaluation_id = e2.id
		WHERE e.id = e2.id AND e.id = ANY($1)
	`
	ids := make([]string, len(found))
	for i, m := range found {
		ids[i] = m.id
	}
	tag, err := pool.Exec(ctx, fixSQL, ids)
	if err != nil {
		fmt.Printf("Error fixing counts: %v\n", err)
		return
	}
	fmt.Printf("Fixed %d evaluations\n", tag.RowsAffected())
}
