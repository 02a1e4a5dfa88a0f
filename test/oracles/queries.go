package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Oracle is a query that must return no rows while the ledger is consistent.
type Oracle struct {
	Name string
	SQL  string
}

func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_escrow_custody",
			SQL:  `SELECT address, balance, deposited, released FROM escrows WHERE balance <> deposited - released`,
		},
		{
			Name: "O2_unsettled_escrow_totals",
			SQL: `SELECT address, balance FROM escrows
                  WHERE settled_at IS NULL
                    AND balance <> bonds + stakes + jurors_for_challenger + jurors_for_defender`,
		},
		{
			Name: "O3_dispute_mirrors_escrow",
			SQL: `SELECT d.address FROM disputes d
                  JOIN escrows e ON e.subject_address = d.subject_address AND e.round = d.round
                  WHERE d.defender_stake <> e.bonds
                     OR d.challenger_stake <> e.stakes
                     OR d.juror_stake_for_challenger <> e.jurors_for_challenger
                     OR d.juror_stake_for_defender <> e.jurors_for_defender`,
		},
		{
			Name: "O4_released_equals_payouts",
			SQL: `SELECT e.address, e.released, COALESCE(r.paid, 0) FROM escrows e
                  LEFT JOIN (
                      SELECT subject_address, round, SUM(payout) AS paid FROM records
                      WHERE claimed GROUP BY subject_address, round
                  ) r ON r.subject_address = e.subject_address AND r.round = e.round
                  WHERE e.released <> COALESCE(r.paid, 0)`,
		},
		{
			Name: "O5_record_counts",
			SQL: `SELECT e.address FROM escrows e
                  LEFT JOIN (
                      SELECT subject_address, round,
                             COUNT(*) FILTER (WHERE side = 'challenger') AS challengers,
                             COUNT(*) FILTER (WHERE side = 'defender') AS defenders
                      FROM records GROUP BY subject_address, round
                  ) r ON r.subject_address = e.subject_address AND r.round = e.round
                  WHERE e.challenger_records <> COALESCE(r.challengers, 0)
                     OR e.defender_records <> COALESCE(r.defenders, 0)`,
		},
		{
			Name: "O6_drained_when_all_claimed",
			SQL:  `SELECT address, balance FROM escrows WHERE settled_at IS NOT NULL AND pending_claims = 0 AND balance <> 0`,
		},
		{
			Name: "O7_status_matches_open_dispute",
			SQL: `SELECT s.subject_id, s.status FROM subjects s
                  LEFT JOIN disputes d ON d.subject_address = s.address AND d.status = 'Voting'
                  WHERE (s.status IN ('Disputed', 'Restoring')) <> (d.address IS NOT NULL)
                     OR (d.address IS NOT NULL AND d.round <> s.current_round)`,
		},
		{
			Name: "O8_restoration_status",
			SQL: `SELECT s.subject_id FROM subjects s
                  JOIN disputes d ON d.subject_address = s.address AND d.status = 'Voting'
                  WHERE (d.kind = 'restoration') <> (s.status = 'Restoring')`,
		},
		{
			Name: "O9_claim_timestamps",
			SQL:  `SELECT address FROM records WHERE claimed <> (claimed_at IS NOT NULL) OR (NOT claimed AND payout <> 0)`,
		},
		{
			Name: "O10_open_round_has_escrow",
			SQL: `SELECT s.subject_id FROM subjects s
                  LEFT JOIN escrows e ON e.subject_address = s.address AND e.round = s.current_round
                  WHERE e.address IS NULL AND s.status IN ('Disputed', 'Restoring')`,
		},
		{
			Name: "O11_pending_counts_unclaimed_winners",
			SQL: `SELECT e.address, e.pending_claims, COUNT(r.address) FROM escrows e
                  LEFT JOIN records r ON r.subject_address = e.subject_address AND r.round = e.round
                       AND NOT r.claimed AND r.stake > 0
                       AND (e.outcome = 'NoParticipation'
                            OR (e.outcome = 'ChallengerWins' AND r.side = 'challenger')
                            OR (e.outcome = 'DefenderWins' AND r.side = 'defender'))
                  WHERE e.settled_at IS NOT NULL
                  GROUP BY e.address, e.pending_claims
                  HAVING e.pending_claims <> COUNT(r.address)`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample
// row text) or an empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		has := rows.Next()
		if has {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
	}
	return "", "", nil
}
