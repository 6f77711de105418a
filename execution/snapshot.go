package execution

import (
	"encoding/json"

	process "github.com/goliatone/go-process"
)

// Snapshot is the persisted form of a tree.
type Snapshot struct {
	ProcessInstanceID string       `json:"processInstanceId"`
	DefinitionID      string       `json:"definitionId"`
	BusinessKey       string       `json:"businessKey,omitempty"`
	TenantID          string       `json:"tenantId,omitempty"`
	Seq               int64        `json:"seq"`
	Executions        []*Execution `json:"executions"`
}

// Snapshot captures the live executions.
func (t *Tree) Snapshot() Snapshot {
	execs := t.Executions()
	out := make([]*Execution, 0, len(execs))
	for _, e := range execs {
		out = append(out, e.clone())
	}
	return Snapshot{
		ProcessInstanceID: t.ProcessInstanceID,
		DefinitionID:      t.DefinitionID,
		BusinessKey:       t.BusinessKey,
		TenantID:          t.TenantID,
		Seq:               t.seq,
		Executions:        out,
	}
}

// FromSnapshot rebuilds a tree.
func FromSnapshot(s Snapshot, opts ...Option) (*Tree, error) {
	t := &Tree{
		ProcessInstanceID: s.ProcessInstanceID,
		DefinitionID:      s.DefinitionID,
		BusinessKey:       s.BusinessKey,
		TenantID:          s.TenantID,
		nodes:             make(map[string]*Execution, len(s.Executions)),
		removed:           make(map[string]*Execution),
		seq:               s.Seq,
		ids:               process.NewID,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}
	for _, e := range s.Executions {
		if e == nil {
			continue
		}
		cp := e.clone()
		t.nodes[cp.ID] = cp
		if cp.ParentID == "" {
			if t.rootID != "" {
				return nil, process.Internalf("process instance '%s' has more than one root execution", s.ProcessInstanceID)
			}
			t.rootID = cp.ID
		}
	}
	if t.rootID == "" {
		return nil, process.Internalf("process instance '%s' has no root execution", s.ProcessInstanceID)
	}
	return t, nil
}

// MarshalJSON encodes the tree as its snapshot.
func (t *Tree) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Snapshot())
}

// Decode parses a JSON snapshot.
func Decode(data []byte, opts ...Option) (*Tree, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, process.NewError(process.ErrInternal, "decode execution tree", err, nil)
	}
	return FromSnapshot(s, opts...)
}
