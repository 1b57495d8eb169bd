package queuestore

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/lucasnoah/aelitaqueue/internal/ids"
)

// These free functions hold the actual SQL for each Store operation. They
// take an execer so the same statement can run either directly against
// *sql.DB (the non-transactional Store methods) or against an open
// *sql.Tx (both the single-statement TakeRunning/PopQueue/... methods,
// which still need read-then-write atomicity, and the multi-statement
// Transaction body).

func pushQueue(db execer, d Dialect, pipeline ids.PipelineID, entry QueueEntry) error {
	_, err := db.Exec(rebind(d, `INSERT INTO queue (pipeline_id, pr_id, pr_remote, pull_commit, message) VALUES (?, ?, ?, ?, ?)`),
		int64(pipeline), entry.PR.String(), entry.PR.Remote(), entry.Commit.String(), entry.Message)
	if err != nil {
		return fmt.Errorf("push queue: %w", err)
	}
	return nil
}

func popQueue(db execer, d Dialect, pipeline ids.PipelineID) (QueueEntry, bool, error) {
	row := db.QueryRow(rebind(d, `SELECT id, pr_id, pr_remote, pull_commit, message FROM queue WHERE pipeline_id = ? ORDER BY id ASC LIMIT 1`), int64(pipeline))
	var rowID int64
	var prID, prRemote, commit, message string
	if err := row.Scan(&rowID, &prID, &prRemote, &commit, &message); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return QueueEntry{}, false, nil
		}
		return QueueEntry{}, false, fmt.Errorf("pop queue: %w", err)
	}
	if _, err := db.Exec(rebind(d, `DELETE FROM queue WHERE id = ?`), rowID); err != nil {
		return QueueEntry{}, false, fmt.Errorf("pop queue delete: %w", err)
	}
	return QueueEntry{PR: ids.NewPR(prID, prRemote), Commit: ids.Commit(commit), Message: message}, true, nil
}

func listQueue(db execer, d Dialect, pipeline ids.PipelineID) ([]QueueEntry, error) {
	rows, err := db.Query(rebind(d, `SELECT pr_id, pr_remote, pull_commit, message FROM queue WHERE pipeline_id = ? ORDER BY id ASC`), int64(pipeline))
	if err != nil {
		return nil, fmt.Errorf("list queue: %w", err)
	}
	defer rows.Close()

	var out []QueueEntry
	for rows.Next() {
		var prID, prRemote, commit, message string
		if err := rows.Scan(&prID, &prRemote, &commit, &message); err != nil {
			return nil, fmt.Errorf("list queue scan: %w", err)
		}
		out = append(out, QueueEntry{PR: ids.NewPR(prID, prRemote), Commit: ids.Commit(commit), Message: message})
	}
	return out, rows.Err()
}

func putRunning(db execer, d Dialect, pipeline ids.PipelineID, entry RunningEntry) error {
	if _, err := db.Exec(rebind(d, `DELETE FROM running WHERE pipeline_id = ?`), int64(pipeline)); err != nil {
		return fmt.Errorf("put running delete: %w", err)
	}
	_, err := db.Exec(rebind(d, `INSERT INTO running (pipeline_id, pr_id, pr_remote, pull_commit, merge_commit, message, canceled, built, built_by)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		int64(pipeline), entry.PR.String(), entry.PR.Remote(), entry.PullCommit.String(), entry.MergeCommit.String(),
		entry.Message, entry.Canceled, entry.Built, marshalBuiltBy(entry.BuiltBy))
	if err != nil {
		return fmt.Errorf("put running: %w", err)
	}
	return nil
}

func scanRunning(row interface{ Scan(...interface{}) error }) (RunningEntry, error) {
	var prID, prRemote, pullCommit, mergeCommit, message, builtBy string
	var canceled, built bool
	if err := row.Scan(&prID, &prRemote, &pullCommit, &mergeCommit, &message, &canceled, &built, &builtBy); err != nil {
		return RunningEntry{}, err
	}
	return RunningEntry{
		PR:          ids.NewPR(prID, prRemote),
		PullCommit:  ids.Commit(pullCommit),
		MergeCommit: ids.Commit(mergeCommit),
		Message:     message,
		Canceled:    canceled,
		Built:       built,
		BuiltBy:     unmarshalBuiltBy(builtBy),
	}, nil
}

func takeRunning(db execer, d Dialect, pipeline ids.PipelineID) (RunningEntry, bool, error) {
	row := db.QueryRow(rebind(d, `SELECT pr_id, pr_remote, pull_commit, merge_commit, message, canceled, built, built_by FROM running WHERE pipeline_id = ?`), int64(pipeline))
	entry, err := scanRunning(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return RunningEntry{}, false, nil
		}
		return RunningEntry{}, false, fmt.Errorf("take running: %w", err)
	}
	if _, err := db.Exec(rebind(d, `DELETE FROM running WHERE pipeline_id = ?`), int64(pipeline)); err != nil {
		return RunningEntry{}, false, fmt.Errorf("take running delete: %w", err)
	}
	return entry, true, nil
}

func peekRunning(db execer, d Dialect, pipeline ids.PipelineID) (RunningEntry, bool, error) {
	row := db.QueryRow(rebind(d, `SELECT pr_id, pr_remote, pull_commit, merge_commit, message, canceled, built, built_by FROM running WHERE pipeline_id = ?`), int64(pipeline))
	entry, err := scanRunning(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return RunningEntry{}, false, nil
		}
		return RunningEntry{}, false, fmt.Errorf("peek running: %w", err)
	}
	return entry, true, nil
}

func addPending(db execer, d Dialect, pipeline ids.PipelineID, entry PendingEntry) error {
	if _, err := db.Exec(rebind(d, `DELETE FROM pending WHERE pipeline_id = ? AND pr_id = ?`), int64(pipeline), entry.PR.String()); err != nil {
		return fmt.Errorf("add pending delete: %w", err)
	}
	_, err := db.Exec(rebind(d, `INSERT INTO pending (pipeline_id, pr_id, pr_remote, pull_commit, title, url) VALUES (?, ?, ?, ?, ?, ?)`),
		int64(pipeline), entry.PR.String(), entry.PR.Remote(), entry.Commit.String(), entry.Title, entry.URL)
	if err != nil {
		return fmt.Errorf("add pending: %w", err)
	}
	return nil
}

func peekPendingByPR(db execer, d Dialect, pipeline ids.PipelineID, pr ids.PR) (PendingEntry, bool, error) {
	row := db.QueryRow(rebind(d, `SELECT pr_id, pr_remote, pull_commit, title, url FROM pending WHERE pipeline_id = ? AND pr_id = ?`), int64(pipeline), pr.String())
	var prID, prRemote, commit, title, url string
	if err := row.Scan(&prID, &prRemote, &commit, &title, &url); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return PendingEntry{}, false, nil
		}
		return PendingEntry{}, false, fmt.Errorf("peek pending: %w", err)
	}
	return PendingEntry{PR: ids.NewPR(prID, prRemote), Commit: ids.Commit(commit), Title: title, URL: url}, true, nil
}

func takePendingByPR(db execer, d Dialect, pipeline ids.PipelineID, pr ids.PR) (PendingEntry, bool, error) {
	entry, ok, err := peekPendingByPR(db, d, pipeline, pr)
	if err != nil || !ok {
		return entry, ok, err
	}
	if _, err := db.Exec(rebind(d, `DELETE FROM pending WHERE pipeline_id = ? AND pr_id = ?`), int64(pipeline), pr.String()); err != nil {
		return PendingEntry{}, false, fmt.Errorf("take pending delete: %w", err)
	}
	return entry, true, nil
}

func listPending(db execer, d Dialect, pipeline ids.PipelineID) ([]PendingEntry, error) {
	rows, err := db.Query(rebind(d, `SELECT pr_id, pr_remote, pull_commit, title, url FROM pending WHERE pipeline_id = ? ORDER BY id ASC`), int64(pipeline))
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	defer rows.Close()

	var out []PendingEntry
	for rows.Next() {
		var prID, prRemote, commit, title, url string
		if err := rows.Scan(&prID, &prRemote, &commit, &title, &url); err != nil {
			return nil, fmt.Errorf("list pending scan: %w", err)
		}
		out = append(out, PendingEntry{PR: ids.NewPR(prID, prRemote), Commit: ids.Commit(commit), Title: title, URL: url})
	}
	return out, rows.Err()
}

func cancelByPRSQL(db execer, d Dialect, pipeline ids.PipelineID, pr ids.PR) error {
	if _, err := db.Exec(rebind(d, `DELETE FROM queue WHERE pipeline_id = ? AND pr_id = ?`), int64(pipeline), pr.String()); err != nil {
		return fmt.Errorf("cancel by pr: %w", err)
	}
	if _, err := db.Exec(rebind(d, `UPDATE running SET canceled = ? WHERE pipeline_id = ? AND pr_id = ?`), true, int64(pipeline), pr.String()); err != nil {
		return fmt.Errorf("cancel by pr running: %w", err)
	}
	return nil
}

func cancelByPRDifferentCommitSQL(db execer, d Dialect, pipeline ids.PipelineID, pr ids.PR, commit ids.Commit) (bool, error) {
	res, err := db.Exec(rebind(d, `DELETE FROM queue WHERE pipeline_id = ? AND pr_id = ? AND pull_commit <> ?`), int64(pipeline), pr.String(), commit.String())
	if err != nil {
		return false, fmt.Errorf("cancel by pr different commit queue: %w", err)
	}
	rowsDeleted, _ := res.RowsAffected()

	res, err = db.Exec(rebind(d, `UPDATE running SET canceled = ? WHERE pipeline_id = ? AND pr_id = ? AND pull_commit <> ?`),
		true, int64(pipeline), pr.String(), commit.String())
	if err != nil {
		return false, fmt.Errorf("cancel by pr different commit running: %w", err)
	}
	rowsUpdated, _ := res.RowsAffected()

	return rowsDeleted > 0 || rowsUpdated > 0, nil
}
