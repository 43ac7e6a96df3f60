package store

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/Skufu/deprescribe/internal/clinical"
	"github.com/Skufu/deprescribe/internal/criteria"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Querier is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

const stopQuery = `SELECT id, system, drug_classes, condition, criterion, rationale, severity, action, monitoring
FROM criteria_stop ORDER BY position, id`

const startQuery = `SELECT id, system, drug_classes, condition, criterion, indication, recommendation, evidence
FROM criteria_start ORDER BY position, id`

// Migrate applies the bundled schema files in name order. Every statement is
// idempotent so it is safe to run on each start.
func Migrate(ctx context.Context, q Querier) error {
	names, err := fs.Glob(migrations, "migrations/*.sql")
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}
	sort.Strings(names)
	for _, name := range names {
		sql, err := migrations.ReadFile(name)
		if err != nil {
			return fmt.Errorf("read %s: %w", name, err)
		}
		if _, err := q.Exec(ctx, string(sql)); err != nil {
			return fmt.Errorf("apply %s: %w", name, err)
		}
	}
	return nil
}

// LoadStop reads the STOP table in position order.
func LoadStop(ctx context.Context, q Querier) ([]criteria.StopCriterion, error) {
	rows, err := q.Query(ctx, stopQuery)
	if err != nil {
		return nil, fmt.Errorf("query criteria_stop: %w", err)
	}
	defer rows.Close()

	var out []criteria.StopCriterion
	for rows.Next() {
		var (
			c         criteria.StopCriterion
			condition []byte
			severity  string
		)
		if err := rows.Scan(&c.ID, &c.System, &c.DrugClasses, &condition, &c.Criterion,
			&c.Rationale, &severity, &c.Action, &c.Monitoring); err != nil {
			return nil, fmt.Errorf("scan criteria_stop: %w", err)
		}
		if err := decodeCondition(condition, &c.Condition); err != nil {
			return nil, fmt.Errorf("criteria_stop %s: %w", c.ID, err)
		}
		c.Severity = clinical.Severity(severity)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate criteria_stop: %w", err)
	}
	return out, nil
}

// LoadStart reads the START table in position order.
func LoadStart(ctx context.Context, q Querier) ([]criteria.StartCriterion, error) {
	rows, err := q.Query(ctx, startQuery)
	if err != nil {
		return nil, fmt.Errorf("query criteria_start: %w", err)
	}
	defer rows.Close()

	var out []criteria.StartCriterion
	for rows.Next() {
		var (
			c         criteria.StartCriterion
			condition []byte
			evidence  string
		)
		if err := rows.Scan(&c.ID, &c.System, &c.DrugClasses, &condition, &c.Criterion,
			&c.Indication, &c.Recommendation, &evidence); err != nil {
			return nil, fmt.Errorf("scan criteria_start: %w", err)
		}
		if err := decodeCondition(condition, &c.Condition); err != nil {
			return nil, fmt.Errorf("criteria_start %s: %w", c.ID, err)
		}
		c.Evidence = clinical.Evidence(evidence)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate criteria_start: %w", err)
	}
	return out, nil
}

// LoadRepository builds a repository whose STOP and START tables come from
// Postgres. The alias, herb, interaction, taper and time-to-benefit tables
// stay embedded. An empty STOP table is an error.
func LoadRepository(ctx context.Context, q Querier) (*criteria.Repository, error) {
	ds, err := criteria.EmbeddedDataset()
	if err != nil {
		return nil, err
	}
	if ds.Stop, err = LoadStop(ctx, q); err != nil {
		return nil, err
	}
	if len(ds.Stop) == 0 {
		return nil, fmt.Errorf("criteria_stop is empty; run `criteria seed` first")
	}
	if ds.Start, err = LoadStart(ctx, q); err != nil {
		return nil, err
	}
	return criteria.New(ds)
}

// Seed upserts the given tables, keeping their order in the position column.
func Seed(ctx context.Context, q Querier, stop []criteria.StopCriterion, start []criteria.StartCriterion) error {
	for i, c := range stop {
		cond, err := json.Marshal(c.Condition)
		if err != nil {
			return fmt.Errorf("encode %s condition: %w", c.ID, err)
		}
		if _, err := q.Exec(ctx, `INSERT INTO criteria_stop
	(id, position, system, drug_classes, condition, criterion, rationale, severity, action, monitoring)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (id) DO UPDATE SET
	position = EXCLUDED.position, system = EXCLUDED.system, drug_classes = EXCLUDED.drug_classes,
	condition = EXCLUDED.condition, criterion = EXCLUDED.criterion, rationale = EXCLUDED.rationale,
	severity = EXCLUDED.severity, action = EXCLUDED.action, monitoring = EXCLUDED.monitoring,
	updated_at = NOW()`,
			c.ID, i, c.System, c.DrugClasses, cond, c.Criterion, c.Rationale, string(c.Severity), c.Action, nonNil(c.Monitoring),
		); err != nil {
			return fmt.Errorf("seed %s: %w", c.ID, err)
		}
	}
	for i, c := range start {
		cond, err := json.Marshal(c.Condition)
		if err != nil {
			return fmt.Errorf("encode %s condition: %w", c.ID, err)
		}
		if _, err := q.Exec(ctx, `INSERT INTO criteria_start
	(id, position, system, drug_classes, condition, criterion, indication, recommendation, evidence)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (id) DO UPDATE SET
	position = EXCLUDED.position, system = EXCLUDED.system, drug_classes = EXCLUDED.drug_classes,
	condition = EXCLUDED.condition, criterion = EXCLUDED.criterion, indication = EXCLUDED.indication,
	recommendation = EXCLUDED.recommendation, evidence = EXCLUDED.evidence, updated_at = NOW()`,
			c.ID, i, c.System, c.DrugClasses, cond, c.Criterion, c.Indication, c.Recommendation, string(c.Evidence),
		); err != nil {
			return fmt.Errorf("seed %s: %w", c.ID, err)
		}
	}
	return nil
}

func decodeCondition(raw []byte, p *criteria.Predicate) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, p); err != nil {
		return fmt.Errorf("decode condition: %w", err)
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
