// Package ids defines the small, string-round-trippable identifier types
// shared across the queue store, the pipeline state machine, and the
// adapters. Keeping these abstract lets VCS/review/CI backends use their
// own native formats without leaking into the state machine.
package ids

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// PipelineID is an opaque integer identifying a configured pipeline,
// globally unique within a process.
type PipelineID int64

func (p PipelineID) String() string { return strconv.FormatInt(int64(p), 10) }

// ParsePipelineID parses a PipelineID from its string form.
func ParsePipelineID(s string) (PipelineID, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse pipeline id %q: %w", s, err)
	}
	return PipelineID(n), nil
}

// CiID identifies one CI channel bound to a pipeline. A pipeline may be
// bound to more than one CiID, each reporting build success independently.
type CiID int64

func (c CiID) String() string { return strconv.FormatInt(int64(c), 10) }

// MarshalText implements encoding.TextMarshaler so CiID can be used as a
// JSON object key (e.g. RunningEntry.BuiltBy).
func (c CiID) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *CiID) UnmarshalText(text []byte) error {
	n, err := ParseCiID(string(text))
	if err != nil {
		return err
	}
	*c = n
	return nil
}

// ParseCiID parses a CiID from its string form.
func ParseCiID(s string) (CiID, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse ci id %q: %w", s, err)
	}
	return CiID(n), nil
}

// Commit is an opaque content-identifier whose concrete format (a git SHA,
// a changeset hash, ...) is delegated to the VCS adapter. It round-trips
// through its string form and supports equality by value.
type Commit string

func (c Commit) String() string { return string(c) }

// IsZero reports whether c is the empty commit value.
func (c Commit) IsZero() bool { return c == "" }

// PR identifies a review series (a "pull request" in GitHub parlance, a
// "merge request" elsewhere). It round-trips through its string form and
// knows how to produce the VCS-side ref used to fetch its reviewed head.
type PR struct {
	id     string
	remote string
}

// NewPR constructs a PR from its review-surface id and VCS-side remote
// refspec (e.g. "refs/pull/123/head").
func NewPR(id, remote string) PR {
	return PR{id: id, remote: remote}
}

// ParsePR parses a PR from the string form produced by String.
func ParsePR(s string) (PR, error) {
	return PR{id: s}, nil
}

func (p PR) String() string { return p.id }

// Remote returns the VCS-side reference used to fetch the reviewed head.
func (p PR) Remote() string { return p.remote }

// Equal reports whether two PRs refer to the same review series.
func (p PR) Equal(other PR) bool { return p.id == other.id }

// prWire is the JSON wire form of a PR, since its fields are unexported to
// keep callers from depending on the internal shape.
type prWire struct {
	ID     string `json:"id"`
	Remote string `json:"remote,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (p PR) MarshalJSON() ([]byte, error) {
	return json.Marshal(prWire{ID: p.id, Remote: p.remote})
}

// UnmarshalJSON implements json.Unmarshaler.
func (p *PR) UnmarshalJSON(data []byte) error {
	var w prWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	p.id = w.ID
	p.remote = w.Remote
	return nil
}
