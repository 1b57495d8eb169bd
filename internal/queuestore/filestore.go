package queuestore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/lucasnoah/aelitaqueue/internal/ids"
)

// FileStore is the embedded, file-based Store implementation: one JSON
// document per pipeline under baseDir, written atomically (temp file +
// rename), guarded by an in-process mutex per pipeline. This mirrors the
// teacher's pipeline.Store atomic read-modify-write pattern, generalized
// to the three-collection queue-store shape and given a write-ahead
// journal so Transaction can be rolled forward after a crash between the
// journal append and the state rename.
type FileStore struct {
	baseDir string

	mu    sync.Mutex // guards the locks map itself
	locks map[ids.PipelineID]*sync.Mutex
}

// NewFileStore creates a FileStore rooted at baseDir, creating it if
// needed.
func NewFileStore(baseDir string) (*FileStore, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", baseDir, err)
	}
	return &FileStore{baseDir: baseDir, locks: make(map[ids.PipelineID]*sync.Mutex)}, nil
}

func (s *FileStore) lockFor(pipeline ids.PipelineID) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[pipeline]
	if !ok {
		l = &sync.Mutex{}
		s.locks[pipeline] = l
	}
	return l
}

func (s *FileStore) pipelineDir(pipeline ids.PipelineID) string {
	return filepath.Join(s.baseDir, pipeline.String())
}

func (s *FileStore) statePath(pipeline ids.PipelineID) string {
	return filepath.Join(s.pipelineDir(pipeline), "state.json")
}

func (s *FileStore) journalPath(pipeline ids.PipelineID) string {
	return filepath.Join(s.pipelineDir(pipeline), "txn.log")
}

// fileState is the on-disk shape of one pipeline's queue store.
type fileState struct {
	Pending []PendingEntry `json:"pending"`
	Queue   []QueueEntry   `json:"queue"`
	Running *RunningEntry  `json:"running,omitempty"`
}

// load reads pipeline's state, rolling forward a pending journal entry
// first if one is present (crash recovery: the journal is written before
// the state file is replaced, so a journal with no matching state update
// means the process died mid-write and the journaled state is authoritative).
func (s *FileStore) load(pipeline ids.PipelineID) (*fileState, error) {
	jpath := s.journalPath(pipeline)
	if data, err := os.ReadFile(jpath); err == nil {
		var st fileState
		if unmarshalErr := json.Unmarshal(data, &st); unmarshalErr == nil {
			// Roll forward: the journaled state becomes the state file, then
			// the journal is cleared.
			if err := writeStateDoc(s.statePath(pipeline), &st); err != nil {
				return nil, fmt.Errorf("%w: roll forward journal: %v", ErrTransient, err)
			}
			_ = os.Remove(jpath)
		}
	}

	var st fileState
	if err := readStateDoc(s.statePath(pipeline), &st); err != nil {
		if os.IsNotExist(err) {
			return &fileState{}, nil
		}
		return nil, fmt.Errorf("%w: read state: %v", ErrTransient, err)
	}
	return &st, nil
}

// save journals the new state, then commits it as the canonical state
// file, then clears the journal. Any interruption between the journal
// write and the rename is recovered by load's roll-forward above.
func (s *FileStore) save(pipeline ids.PipelineID, st *fileState) error {
	if err := writeStateDoc(s.journalPath(pipeline), st); err != nil {
		return fmt.Errorf("%w: write journal: %v", ErrTransient, err)
	}
	if err := writeStateDoc(s.statePath(pipeline), st); err != nil {
		return fmt.Errorf("%w: write state: %v", ErrTransient, err)
	}
	_ = os.Remove(s.journalPath(pipeline))
	return nil
}

// writeStateDoc pretty-prints a fileState as JSON and commits it to path
// atomically: write to a sibling temp file, then rename over path, so a
// reader (or a crash) never observes a half-written state.json or txn.log.
func writeStateDoc(path string, st *fileState) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if tmpName != "" {
			os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename %s -> %s: %w", tmpName, path, err)
	}
	tmpName = ""
	return nil
}

// readStateDoc reads the state document at path, which is always a
// fileState (state.json or txn.log never hold anything else).
func readStateDoc(path string, st *fileState) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, st); err != nil {
		return fmt.Errorf("unmarshal %s: %w", path, err)
	}
	return nil
}

// withState loads, mutates, and saves pipeline's state under its lock.
func (s *FileStore) withState(pipeline ids.PipelineID, fn func(*fileState) error) error {
	l := s.lockFor(pipeline)
	l.Lock()
	defer l.Unlock()

	st, err := s.load(pipeline)
	if err != nil {
		return err
	}
	if err := fn(st); err != nil {
		return err
	}
	return s.save(pipeline, st)
}

func (s *FileStore) PushQueue(pipeline ids.PipelineID, entry QueueEntry) error {
	return s.withState(pipeline, func(st *fileState) error {
		st.Queue = append(st.Queue, entry)
		return nil
	})
}

func (s *FileStore) PopQueue(pipeline ids.PipelineID) (QueueEntry, bool, error) {
	var out QueueEntry
	var ok bool
	err := s.withState(pipeline, func(st *fileState) error {
		if len(st.Queue) == 0 {
			return nil
		}
		out = st.Queue[0]
		st.Queue = st.Queue[1:]
		ok = true
		return nil
	})
	return out, ok, err
}

func (s *FileStore) ListQueue(pipeline ids.PipelineID) ([]QueueEntry, error) {
	st, err := s.load(pipeline)
	if err != nil {
		return nil, err
	}
	out := make([]QueueEntry, len(st.Queue))
	copy(out, st.Queue)
	return out, nil
}

func (s *FileStore) PutRunning(pipeline ids.PipelineID, entry RunningEntry) error {
	return s.withState(pipeline, func(st *fileState) error {
		e := entry
		st.Running = &e
		return nil
	})
}

func (s *FileStore) TakeRunning(pipeline ids.PipelineID) (RunningEntry, bool, error) {
	var out RunningEntry
	var ok bool
	err := s.withState(pipeline, func(st *fileState) error {
		if st.Running == nil {
			return nil
		}
		out = *st.Running
		st.Running = nil
		ok = true
		return nil
	})
	return out, ok, err
}

func (s *FileStore) PeekRunning(pipeline ids.PipelineID) (RunningEntry, bool, error) {
	st, err := s.load(pipeline)
	if err != nil {
		return RunningEntry{}, false, err
	}
	if st.Running == nil {
		return RunningEntry{}, false, nil
	}
	return *st.Running, true, nil
}

func (s *FileStore) AddPending(pipeline ids.PipelineID, entry PendingEntry) error {
	return s.withState(pipeline, func(st *fileState) error {
		for i, p := range st.Pending {
			if p.PR.Equal(entry.PR) {
				st.Pending[i] = entry
				return nil
			}
		}
		st.Pending = append(st.Pending, entry)
		return nil
	})
}

func (s *FileStore) PeekPendingByPR(pipeline ids.PipelineID, pr ids.PR) (PendingEntry, bool, error) {
	st, err := s.load(pipeline)
	if err != nil {
		return PendingEntry{}, false, err
	}
	for _, p := range st.Pending {
		if p.PR.Equal(pr) {
			return p, true, nil
		}
	}
	return PendingEntry{}, false, nil
}

func (s *FileStore) TakePendingByPR(pipeline ids.PipelineID, pr ids.PR) (PendingEntry, bool, error) {
	var out PendingEntry
	var ok bool
	err := s.withState(pipeline, func(st *fileState) error {
		for i, p := range st.Pending {
			if p.PR.Equal(pr) {
				out = p
				ok = true
				st.Pending = append(st.Pending[:i], st.Pending[i+1:]...)
				return nil
			}
		}
		return nil
	})
	return out, ok, err
}

func (s *FileStore) ListPending(pipeline ids.PipelineID) ([]PendingEntry, error) {
	st, err := s.load(pipeline)
	if err != nil {
		return nil, err
	}
	out := make([]PendingEntry, len(st.Pending))
	copy(out, st.Pending)
	return out, nil
}

func (s *FileStore) CancelByPR(pipeline ids.PipelineID, pr ids.PR) error {
	return s.withState(pipeline, func(st *fileState) error {
		cancelByPR(st, pr)
		return nil
	})
}

func (s *FileStore) CancelByPRDifferentCommit(pipeline ids.PipelineID, pr ids.PR, commit ids.Commit) (bool, error) {
	var canceled bool
	err := s.withState(pipeline, func(st *fileState) error {
		canceled = cancelByPRDifferentCommit(st, pr, commit)
		return nil
	})
	return canceled, err
}

// cancelByPR removes all QueueEntry matching pr and flags a matching
// RunningEntry as canceled. Shared by the unconditional and
// commit-guarded variants below.
func cancelByPR(st *fileState, pr ids.PR) {
	kept := st.Queue[:0]
	for _, q := range st.Queue {
		if !q.PR.Equal(pr) {
			kept = append(kept, q)
		}
	}
	st.Queue = kept

	if st.Running != nil && st.Running.PR.Equal(pr) {
		st.Running.Canceled = true
	}
}

func cancelByPRDifferentCommit(st *fileState, pr ids.PR, commit ids.Commit) bool {
	var canceled bool

	kept := st.Queue[:0]
	for _, q := range st.Queue {
		if q.PR.Equal(pr) && q.Commit != commit {
			canceled = true
			continue
		}
		kept = append(kept, q)
	}
	st.Queue = kept

	if st.Running != nil && st.Running.PR.Equal(pr) && st.Running.PullCommit != commit {
		st.Running.Canceled = true
		canceled = true
	}
	return canceled
}

// Transaction executes body against an in-memory Tx backed by pipeline's
// current state, committing the whole batch atomically via withState.
func (s *FileStore) Transaction(pipeline ids.PipelineID, body func(tx Tx) error) error {
	return s.withState(pipeline, func(st *fileState) error {
		tx := &fileTx{state: st}
		return body(tx)
	})
}

func (s *FileStore) Close() error { return nil }

// fileTx is the transactional view handed to Store.Transaction's body. It
// operates directly on the fileState that withState will persist once
// body returns successfully, giving read-your-writes for free.
type fileTx struct {
	state *fileState
}

func (t *fileTx) PushQueue(entry QueueEntry) error {
	t.state.Queue = append(t.state.Queue, entry)
	return nil
}

func (t *fileTx) PopQueue() (QueueEntry, bool, error) {
	if len(t.state.Queue) == 0 {
		return QueueEntry{}, false, nil
	}
	out := t.state.Queue[0]
	t.state.Queue = t.state.Queue[1:]
	return out, true, nil
}

func (t *fileTx) ListQueue() ([]QueueEntry, error) {
	out := make([]QueueEntry, len(t.state.Queue))
	copy(out, t.state.Queue)
	return out, nil
}

func (t *fileTx) PutRunning(entry RunningEntry) error {
	e := entry
	t.state.Running = &e
	return nil
}

func (t *fileTx) TakeRunning() (RunningEntry, bool, error) {
	if t.state.Running == nil {
		return RunningEntry{}, false, nil
	}
	out := *t.state.Running
	t.state.Running = nil
	return out, true, nil
}

func (t *fileTx) PeekRunning() (RunningEntry, bool, error) {
	if t.state.Running == nil {
		return RunningEntry{}, false, nil
	}
	return *t.state.Running, true, nil
}

func (t *fileTx) AddPending(entry PendingEntry) error {
	for i, p := range t.state.Pending {
		if p.PR.Equal(entry.PR) {
			t.state.Pending[i] = entry
			return nil
		}
	}
	t.state.Pending = append(t.state.Pending, entry)
	return nil
}

func (t *fileTx) PeekPendingByPR(pr ids.PR) (PendingEntry, bool, error) {
	for _, p := range t.state.Pending {
		if p.PR.Equal(pr) {
			return p, true, nil
		}
	}
	return PendingEntry{}, false, nil
}

func (t *fileTx) TakePendingByPR(pr ids.PR) (PendingEntry, bool, error) {
	for i, p := range t.state.Pending {
		if p.PR.Equal(pr) {
			out := p
			t.state.Pending = append(t.state.Pending[:i], t.state.Pending[i+1:]...)
			return out, true, nil
		}
	}
	return PendingEntry{}, false, nil
}

func (t *fileTx) ListPending() ([]PendingEntry, error) {
	out := make([]PendingEntry, len(t.state.Pending))
	copy(out, t.state.Pending)
	return out, nil
}

func (t *fileTx) CancelByPR(pr ids.PR) error {
	cancelByPR(t.state, pr)
	return nil
}

func (t *fileTx) CancelByPRDifferentCommit(pr ids.PR, commit ids.Commit) (bool, error) {
	return cancelByPRDifferentCommit(t.state, pr, commit), nil
}
