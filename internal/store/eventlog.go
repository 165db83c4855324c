package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rendis/flowforge/pkg/schema"
)

// Append writes an entry with a monotonically increasing per-run sequence.
// The sequence read and the insert share one transaction so concurrent
// writers to the same run cannot interleave.
func (s *LibSQLStore) Append(ctx context.Context, entry *LogEntry) error {
	if entry.RunID == "" || entry.NodeID == "" {
		return schema.NewError(schema.ErrCodeValidation, "log entry requires run id and node id")
	}
	input, err := marshalAny(entry.Input)
	if err != nil {
		return fmt.Errorf("marshal entry input: %w", err)
	}
	output, err := marshalAny(entry.Output)
	if err != nil {
		return fmt.Errorf("marshal entry output: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var seq int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM execution_log WHERE run_id = ?`, entry.RunID,
	).Scan(&seq)
	if err != nil {
		return fmt.Errorf("get next sequence: %w", err)
	}

	entry.StartedAt = timeOrNow(entry.StartedAt)
	res, err := tx.ExecContext(ctx,
		`INSERT INTO execution_log (run_id, sequence, node_id, node_name, node_type, status, input, output, error, started_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.RunID, seq, entry.NodeID, nullStr(entry.NodeName), string(entry.NodeType), string(entry.Status),
		input, output, nullStr(entry.Error), entry.StartedAt, nullTime(entry.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("insert log entry: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit log entry: %w", err)
	}

	entry.Sequence = seq
	if id, err := res.LastInsertId(); err == nil {
		entry.ID = id
	}
	return nil
}

// Entries returns every entry of a run ordered by sequence.
func (s *LibSQLStore) Entries(ctx context.Context, runID string) ([]*LogEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, sequence, node_id, node_name, node_type, status, input, output, error, started_at, completed_at
		 FROM execution_log WHERE run_id = ? ORDER BY sequence ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*LogEntry
	for rows.Next() {
		e := &LogEntry{}
		var name, input, output, errMsg sql.NullString
		var nodeType, status string
		var completedAt sql.NullTime
		if err := rows.Scan(&e.ID, &e.RunID, &e.Sequence, &e.NodeID, &name, &nodeType, &status,
			&input, &output, &errMsg, &e.StartedAt, &completedAt); err != nil {
			return nil, err
		}
		e.NodeName = name.String
		e.NodeType = schema.NodeKind(nodeType)
		e.Status = schema.NodeStatus(status)
		e.Input = unmarshalAny(input)
		e.Output = unmarshalAny(output)
		e.Error = errMsg.String
		if completedAt.Valid {
			e.CompletedAt = &completedAt.Time
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// NodeState is the folded view of one node across a run's log.
type NodeState struct {
	NodeID     string            `json:"node_id"`
	Status     schema.NodeStatus `json:"status"`
	Output     any               `json:"output,omitempty"`
	Error      string            `json:"error,omitempty"`
	DurationMs int64             `json:"duration_ms,omitempty"`
}

// Snapshot folds a run's entries into the latest state per node.
// Entries must be ordered by sequence starting at 1; a gap is an error.
func Snapshot(entries []*LogEntry) (map[string]*NodeState, error) {
	states := make(map[string]*NodeState)
	started := make(map[string]time.Time)

	for i, e := range entries {
		if expected := int64(i + 1); e.Sequence != expected {
			return nil, schema.NewErrorf(schema.ErrCodeStore,
				"sequence gap in run %s: expected %d, got %d", e.RunID, expected, e.Sequence)
		}

		ns, ok := states[e.NodeID]
		if !ok {
			ns = &NodeState{NodeID: e.NodeID, Status: schema.NodeStatusPending}
			states[e.NodeID] = ns
		}
		ns.Status = e.Status

		switch e.Status {
		case schema.NodeStatusRunning:
			started[e.NodeID] = e.StartedAt
		case schema.NodeStatusSuccess:
			ns.Output = e.Output
			if t0, ok := started[e.NodeID]; ok && e.CompletedAt != nil {
				ns.DurationMs = e.CompletedAt.Sub(t0).Milliseconds()
			}
		case schema.NodeStatusError:
			ns.Error = e.Error
		}
	}
	return states, nil
}
