// Package plans is the SQL command catalog for the job store. Every statement
// is parameterized only by the schema identifier, which is quoted once in New;
// all values are bound as $n parameters by the caller.
package plans

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"

	"job-queue/pkg/job"
)

// SchemaVersion is recorded in the version table by the create plan.
const SchemaVersion = "1"

const DefaultSchema = "jobqueue"

var ErrInvalidSchema = errors.New("plans: invalid schema name")

var schemaPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// jobColumns is the column list shared by the job and archive tables.
const jobColumns = `id, name, priority, data, state, retry_limit, retry_count, start_in, started_on,
	singleton_key, singleton_on, expire_in, created_on, completed_on`

// selectJobColumns reads intervals back as seconds so they scan into float64.
const selectJobColumns = `id, name, priority, data, state::text, retry_limit, retry_count,
	extract(epoch from start_in)::float8, started_on, singleton_key, singleton_on,
	extract(epoch from expire_in)::float8, created_on, completed_on`

// Plans holds every statement for one schema.
type Plans struct {
	Schema string

	VersionTableExists string
	GetVersion         string
	InsertVersion      string

	FetchNextJob string
	CompleteJob  string
	CompleteJobs string
	CancelJob    string
	CancelJobs   string
	FailJob      string
	FailJobs     string
	InsertJob    string
	GetJob       string
	GetArchived  string

	Expire      string
	Archive     string
	Purge       string
	RetryFailed string
	CountStates string
}

func New(schema string) (*Plans, error) {
	if !schemaPattern.MatchString(schema) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSchema, schema)
	}
	s := pgx.Identifier{schema}.Sanitize()

	return &Plans{
		Schema:             schema,
		VersionTableExists: versionTableExists(schema),
		GetVersion:         `SELECT version FROM ` + s + `.version`,
		InsertVersion:      `INSERT INTO ` + s + `.version (version) VALUES ($1) ON CONFLICT DO NOTHING`,
		FetchNextJob:       fetchNextJob(s),
		CompleteJob:        resolveJob(s, job.StateComplete, true, true),
		CompleteJobs:       resolveJob(s, job.StateComplete, true, false),
		CancelJob:          resolveJob(s, job.StateCancelled, false, true),
		CancelJobs:         resolveJob(s, job.StateCancelled, false, false),
		FailJob:            resolveJob(s, job.StateFailed, false, true),
		FailJobs:           resolveJob(s, job.StateFailed, false, false),
		InsertJob:          insertJob(s),
		GetJob:             `SELECT ` + selectJobColumns + ` FROM ` + s + `.job WHERE id = $1`,
		GetArchived:        `SELECT ` + selectJobColumns + `, archived_on FROM ` + s + `.archive WHERE id = $1`,
		Expire:             expire(s),
		Archive:            archive(s),
		Purge:              `DELETE FROM ` + s + `.archive WHERE archived_on < now() - make_interval(secs => $1::float8)`,
		RetryFailed:        retryFailed(s),
		CountStates:        countStates(s),
	}, nil
}

// Create returns the statements that build the schema, in order. Each is
// idempotent, so the plan can run against an existing schema.
func (p *Plans) Create() []string {
	s := pgx.Identifier{p.Schema}.Sanitize()
	stmts := []string{
		`CREATE SCHEMA IF NOT EXISTS ` + s,
		`CREATE TABLE IF NOT EXISTS ` + s + `.version (version text PRIMARY KEY)`,
		createJobStateEnum(s),
		createJobTable(s),
		`CREATE TABLE IF NOT EXISTS ` + s + `.archive (LIKE ` + s + `.job)`,
		`ALTER TABLE ` + s + `.archive ADD COLUMN IF NOT EXISTS archived_on timestamptz NOT NULL DEFAULT now()`,
		`CREATE INDEX IF NOT EXISTS job_fetch ON ` + s + `.job (name, priority DESC, created_on, id) WHERE state < '` + string(job.StateActive) + `'`,
		`CREATE INDEX IF NOT EXISTS archive_archived_on ON ` + s + `.archive (archived_on)`,
	}
	for _, idx := range job.UniqueIndexes() {
		stmts = append(stmts, createUniqueIndex(s, idx))
	}
	return stmts
}

func versionTableExists(schema string) string {
	// to_regclass takes the qualified name as text; bind-safe because schema
	// already passed schemaPattern.
	return `SELECT to_regclass('` + pgx.Identifier{schema, "version"}.Sanitize() + `') IS NOT NULL`
}

// createJobStateEnum declares the states in ordinal order. Postgres compares
// enum values by declaration order, which the state filters rely on.
func createJobStateEnum(s string) string {
	labels := make([]string, 0, len(job.States()))
	for _, st := range job.States() {
		labels = append(labels, "'"+string(st)+"'")
	}
	return `DO $$ BEGIN
	CREATE TYPE ` + s + `.job_state AS ENUM (` + strings.Join(labels, ", ") + `);
EXCEPTION WHEN duplicate_object THEN NULL;
END $$`
}

func createJobTable(s string) string {
	return `CREATE TABLE IF NOT EXISTS ` + s + `.job (
	id uuid PRIMARY KEY NOT NULL,
	name text NOT NULL,
	priority integer NOT NULL DEFAULT 0,
	data jsonb,
	state ` + s + `.job_state NOT NULL DEFAULT '` + string(job.StateCreated) + `',
	retry_limit integer NOT NULL DEFAULT 0,
	retry_count integer NOT NULL DEFAULT 0,
	start_in interval NOT NULL DEFAULT interval '0',
	started_on timestamptz,
	singleton_key text,
	singleton_on timestamptz,
	expire_in interval NOT NULL DEFAULT interval '15 minutes',
	created_on timestamptz NOT NULL DEFAULT now(),
	completed_on timestamptz
)`
}

func createUniqueIndex(s string, idx job.UniqueIndex) string {
	where := `state < '` + string(idx.Below) + `'`
	if idx.Where != "" {
		where += ` AND ` + idx.Where
	}
	return `CREATE UNIQUE INDEX IF NOT EXISTS ` + idx.Name + ` ON ` + s + `.job (` +
		strings.Join(idx.Columns, ", ") + `) WHERE ` + where
}

// fetchNextJob claims up to $2 jobs of queue $1. SKIP LOCKED makes competing
// claims pass over rows another transaction holds instead of waiting on them.
func fetchNextJob(s string) string {
	return `WITH next_job AS (
	SELECT id
	FROM ` + s + `.job
	WHERE state < '` + string(job.StateActive) + `'
		AND name = $1
		AND (created_on + start_in) < now()
	ORDER BY priority DESC, created_on, id
	LIMIT $2
	FOR UPDATE SKIP LOCKED
)
UPDATE ` + s + `.job j SET
	state = '` + string(job.StateActive) + `',
	started_on = now(),
	retry_count = CASE WHEN j.state = '` + string(job.StateRetry) + `' THEN j.retry_count + 1 ELSE j.retry_count END
FROM next_job
WHERE j.id = next_job.id
RETURNING j.id, j.name, j.data, j.priority, j.created_on`
}

// resolveJob moves a job to a terminal state. Complete requires the job to be
// active; cancel and fail accept any open state. single selects between the
// by-id form ($1 uuid, returns the row) and the batch form ($1 uuid[]).
func resolveJob(s string, to job.State, fromActive, single bool) string {
	guard := `state < '` + string(job.StateComplete) + `'`
	if fromActive {
		guard = `state = '` + string(job.StateActive) + `'`
	}
	match := `id = ANY($1::uuid[])`
	if single {
		match = `id = $1`
	}
	q := `UPDATE ` + s + `.job
SET completed_on = now(),
	state = '` + string(to) + `'
WHERE ` + match + `
	AND ` + guard
	if single {
		q += `
RETURNING id, name, data`
	}
	return q
}

func insertJob(s string) string {
	return `INSERT INTO ` + s + `.job (id, name, priority, state, retry_limit, start_in, expire_in, data, singleton_key, singleton_on)
VALUES (
	$1, $2, $3, '` + string(job.StateCreated) + `', $4,
	make_interval(secs => $5::float8),
	make_interval(secs => $6::float8),
	$7, $8, $9
)
ON CONFLICT DO NOTHING`
}

func expire(s string) string {
	return `WITH expired AS (
	UPDATE ` + s + `.job
	SET state = CASE WHEN retry_count < retry_limit
			THEN '` + string(job.StateRetry) + `'::` + s + `.job_state
			ELSE '` + string(job.StateExpired) + `'::` + s + `.job_state END,
		completed_on = CASE WHEN retry_count < retry_limit THEN NULL ELSE now() END
	WHERE state = '` + string(job.StateActive) + `'
		AND (started_on + expire_in) < now()
	RETURNING id, name, state, data
)
SELECT id, name, data FROM expired WHERE state = '` + string(job.StateExpired) + `'`
}

// archive moves finished jobs older than $1 seconds, and marker jobs matching
// the LIKE pattern $2 that were created longer than $1 ago, in one statement.
func archive(s string) string {
	return `WITH archived_rows AS (
	DELETE FROM ` + s + `.job
	WHERE completed_on + make_interval(secs => $1::float8) < now()
		OR (
			state = '` + string(job.StateCreated) + `'
			AND $2::text IS NOT NULL
			AND name LIKE $2::text
			AND created_on + make_interval(secs => $1::float8) < now()
		)
	RETURNING ` + jobColumns + `
)
INSERT INTO ` + s + `.archive (` + jobColumns + `)
SELECT ` + jobColumns + ` FROM archived_rows`
}

func retryFailed(s string) string {
	return `UPDATE ` + s + `.job
SET state = '` + string(job.StateRetry) + `'::` + s + `.job_state,
	completed_on = NULL
WHERE state = '` + string(job.StateFailed) + `'
	AND retry_count < retry_limit`
}

// countStates excludes names matching the marker pattern $1 (NULL disables).
func countStates(s string) string {
	return `SELECT name, state::text, count(*) AS size
FROM ` + s + `.job
WHERE $1::text IS NULL OR name NOT LIKE $1::text
GROUP BY rollup(name), rollup(state)`
}
