package database

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"job-queue/pkg/job"
)

// Insert adds a job in the created state. When a singleton index rejects the
// row the insert is a no-op and inserted is false.
func (c *Client) Insert(ctx context.Context, req job.Request) (id uuid.UUID, inserted bool, err error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return uuid.Nil, false, err
	}

	id = req.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	expireIn := req.ExpireIn
	if expireIn == 0 {
		expireIn = c.defaultExpireIn
	}
	var key *string
	if req.SingletonKey != "" {
		key = &req.SingletonKey
	}
	var data any
	if len(req.Data) > 0 {
		data = []byte(req.Data)
	}

	tag, err := c.db.Exec(ctx, c.plans.InsertJob,
		id, req.Name, req.Priority, req.RetryLimit,
		req.StartIn.Seconds(), expireIn.Seconds(),
		data, key, req.SingletonOn(c.now()),
	)
	if err != nil {
		if isDuplicateKey(err) {
			return id, false, nil
		}
		return uuid.Nil, false, fmt.Errorf("database: insert job: %w", err)
	}
	return id, tag.RowsAffected() == 1, nil
}

type claimed struct {
	ref       job.Ref
	priority  int
	createdOn time.Time
}

// Fetch claims up to batchSize eligible jobs of the named queue and returns
// them highest priority first, then oldest, then by id.
func (c *Client) Fetch(ctx context.Context, name string, batchSize int) ([]job.Ref, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: queue name is required", job.ErrInvalidRequest)
	}
	if batchSize < 1 {
		return nil, fmt.Errorf("%w: batch size must be positive", job.ErrInvalidRequest)
	}

	rows, err := c.db.Query(ctx, c.plans.FetchNextJob, name, batchSize)
	if err != nil {
		return nil, fmt.Errorf("database: fetch jobs: %w", err)
	}
	defer rows.Close()

	var jobs []claimed
	for rows.Next() {
		var (
			cl   claimed
			data []byte
		)
		if err := rows.Scan(&cl.ref.ID, &cl.ref.Name, &data, &cl.priority, &cl.createdOn); err != nil {
			return nil, fmt.Errorf("database: scan fetched job: %w", err)
		}
		cl.ref.Data = rawJSON(data)
		jobs = append(jobs, cl)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("database: fetch jobs: %w", err)
	}

	// RETURNING order is unspecified; restore the claim order.
	sort.Slice(jobs, func(i, j int) bool {
		a, b := jobs[i], jobs[j]
		if a.priority != b.priority {
			return a.priority > b.priority
		}
		if !a.createdOn.Equal(b.createdOn) {
			return a.createdOn.Before(b.createdOn)
		}
		return bytes.Compare(a.ref.ID[:], b.ref.ID[:]) < 0
	})

	refs := make([]job.Ref, len(jobs))
	for i, cl := range jobs {
		refs[i] = cl.ref
	}
	return refs, nil
}

// Complete marks an active job complete. A nil ref with a nil error means the
// job was not active, usually because someone else already resolved it.
func (c *Client) Complete(ctx context.Context, id uuid.UUID) (*job.Ref, error) {
	return c.resolveOne(ctx, "complete", c.plans.CompleteJob, id)
}

// Cancel moves an open job to cancelled.
func (c *Client) Cancel(ctx context.Context, id uuid.UUID) (*job.Ref, error) {
	return c.resolveOne(ctx, "cancel", c.plans.CancelJob, id)
}

// Fail moves an open job to failed.
func (c *Client) Fail(ctx context.Context, id uuid.UUID) (*job.Ref, error) {
	return c.resolveOne(ctx, "fail", c.plans.FailJob, id)
}

func (c *Client) CompleteMany(ctx context.Context, ids []uuid.UUID) (int64, error) {
	return c.resolveMany(ctx, "complete", c.plans.CompleteJobs, ids)
}

func (c *Client) CancelMany(ctx context.Context, ids []uuid.UUID) (int64, error) {
	return c.resolveMany(ctx, "cancel", c.plans.CancelJobs, ids)
}

func (c *Client) FailMany(ctx context.Context, ids []uuid.UUID) (int64, error) {
	return c.resolveMany(ctx, "fail", c.plans.FailJobs, ids)
}

func (c *Client) resolveOne(ctx context.Context, op, query string, id uuid.UUID) (*job.Ref, error) {
	if id == uuid.Nil {
		return nil, fmt.Errorf("%w: nil id", job.ErrInvalidID)
	}
	var (
		ref  job.Ref
		data []byte
	)
	err := c.db.QueryRow(ctx, query, id).Scan(&ref.ID, &ref.Name, &data)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("database: %s job: %w", op, err)
	}
	ref.Data = rawJSON(data)
	return &ref, nil
}

func (c *Client) resolveMany(ctx context.Context, op, query string, ids []uuid.UUID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := c.db.Exec(ctx, query, uuidStrings(ids))
	if err != nil {
		return 0, fmt.Errorf("database: %s jobs: %w", op, err)
	}
	return tag.RowsAffected(), nil
}

// Expire times out stalled active jobs. Jobs with retry budget left go back
// to retry; the rest become expired and are returned.
func (c *Client) Expire(ctx context.Context) ([]job.Ref, error) {
	rows, err := c.db.Query(ctx, c.plans.Expire)
	if err != nil {
		return nil, fmt.Errorf("database: expire jobs: %w", err)
	}
	defer rows.Close()

	var refs []job.Ref
	for rows.Next() {
		var (
			ref  job.Ref
			data []byte
		)
		if err := rows.Scan(&ref.ID, &ref.Name, &data); err != nil {
			return nil, fmt.Errorf("database: scan expired job: %w", err)
		}
		ref.Data = rawJSON(data)
		refs = append(refs, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("database: expire jobs: %w", err)
	}
	return refs, nil
}

// Archive moves jobs finished more than olderThan ago into the archive table.
func (c *Client) Archive(ctx context.Context, olderThan time.Duration) (int64, error) {
	tag, err := c.db.Exec(ctx, c.plans.Archive, olderThan.Seconds(), c.marker.LikePattern())
	if err != nil {
		return 0, fmt.Errorf("database: archive jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Purge deletes archive rows archived more than olderThan ago.
func (c *Client) Purge(ctx context.Context, olderThan time.Duration) (int64, error) {
	tag, err := c.db.Exec(ctx, c.plans.Purge, olderThan.Seconds())
	if err != nil {
		return 0, fmt.Errorf("database: purge archive: %w", err)
	}
	return tag.RowsAffected(), nil
}

// RetryFailed puts failed jobs that still have retry budget back in retry.
func (c *Client) RetryFailed(ctx context.Context) (int64, error) {
	tag, err := c.db.Exec(ctx, c.plans.RetryFailed)
	if err != nil {
		return 0, fmt.Errorf("database: retry failed jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (c *Client) CountStates(ctx context.Context) (job.StateCounts, error) {
	rows, err := c.db.Query(ctx, c.plans.CountStates, c.marker.LikePattern())
	if err != nil {
		return job.StateCounts{}, fmt.Errorf("database: count states: %w", err)
	}
	defer rows.Close()

	var counts []job.CountRow
	for rows.Next() {
		var (
			row   job.CountRow
			state *string
		)
		if err := rows.Scan(&row.Name, &state, &row.Size); err != nil {
			return job.StateCounts{}, fmt.Errorf("database: scan state count: %w", err)
		}
		if state != nil {
			s, err := job.ParseState(*state)
			if err != nil {
				return job.StateCounts{}, fmt.Errorf("database: count states: %w", err)
			}
			row.State = &s
		}
		counts = append(counts, row)
	}
	if err := rows.Err(); err != nil {
		return job.StateCounts{}, fmt.Errorf("database: count states: %w", err)
	}
	return job.TallyStates(counts), nil
}

// GetJob reads a live job by id.
func (c *Client) GetJob(ctx context.Context, id uuid.UUID) (*job.Job, error) {
	j, err := scanJob(c.db.QueryRow(ctx, c.plans.GetJob, id), false)
	if isNoRows(err) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("database: get job: %w", err)
	}
	return j, nil
}

// GetArchivedJob reads a job from the archive table by id.
func (c *Client) GetArchivedJob(ctx context.Context, id uuid.UUID) (*job.Job, error) {
	j, err := scanJob(c.db.QueryRow(ctx, c.plans.GetArchived, id), true)
	if isNoRows(err) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("database: get archived job: %w", err)
	}
	return j, nil
}

func scanJob(row pgx.Row, archived bool) (*job.Job, error) {
	var (
		j        job.Job
		data     []byte
		state    string
		startIn  float64
		expireIn float64
	)
	dest := []any{
		&j.ID, &j.Name, &j.Priority, &data, &state, &j.RetryLimit, &j.RetryCount,
		&startIn, &j.StartedOn, &j.SingletonKey, &j.SingletonOn,
		&expireIn, &j.CreatedOn, &j.CompletedOn,
	}
	if archived {
		dest = append(dest, &j.ArchivedOn)
	}
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	j.Data = rawJSON(data)
	j.State = job.State(state)
	j.StartIn = secondsToDuration(startIn)
	j.ExpireIn = secondsToDuration(expireIn)
	return &j, nil
}

func rawJSON(b []byte) json.RawMessage {
	if len(b) == 0 {
		return nil
	}
	return json.RawMessage(b)
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}
