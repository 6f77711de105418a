package operation

import (
	process "github.com/goliatone/go-process"
	"github.com/goliatone/go-process/execution"
	"github.com/goliatone/go-process/instance"
)

// CancelActivityInstance removes the instance and everything below it. End
// listeners fire bottom-up. Scopes left empty by the removal are cancelled as
// well, up to but excluding the process instance.
func (s *Session) CancelActivityInstance(ai *instance.ActivityInstance) error {
	if ai == nil {
		return process.Validationf("activity instance is nil")
	}
	e, ok := s.tree.Get(ai.ExecutionID())
	if !ok {
		return process.Validationf("Activity instance '%s' does not exist", ai.ID)
	}
	if ai.Scope {
		if e.ParentID == "" {
			if err := s.cancelBelow(e); err != nil {
				return err
			}
			s.tree.ClearScope(e.ID)
			s.endedByCancel = true
			return nil
		}
		if err := s.cancelBelow(e); err != nil {
			return err
		}
		if err := s.cancelScopeInstance(e); err != nil {
			return err
		}
		holder, err := s.tree.RemoveScope(e.ID, true)
		if err != nil {
			return err
		}
		return s.afterCancel(holder.ID)
	}
	if err := s.cancelLeaf(e); err != nil {
		return err
	}
	s.tree.ClearLeaf(e.ID)
	return s.afterCancel(e.ID)
}

// CancelTransitionInstance removes a pending transition and its job.
func (s *Session) CancelTransitionInstance(ti *instance.TransitionInstance) error {
	if ti == nil {
		return process.Validationf("transition instance is nil")
	}
	e, ok := s.tree.Get(ti.ExecutionID)
	if !ok || e.Transition == nil || e.Transition.InstanceID != ti.ID {
		return process.Validationf("Transition instance '%s' does not exist", ti.ID)
	}
	if err := s.cancelLeaf(e); err != nil {
		return err
	}
	s.tree.ClearLeaf(e.ID)
	return s.afterCancel(e.ID)
}

// cancelBelow fires cancellation side effects for everything below e and for
// the leaf held by e, children first.
func (s *Session) cancelBelow(e *execution.Execution) error {
	children := s.tree.Children(e.ID)
	for i := len(children) - 1; i >= 0; i-- {
		child := children[i]
		if err := s.cancelBelow(child); err != nil {
			return err
		}
		if child.IsScope {
			if err := s.cancelScopeInstance(child); err != nil {
				return err
			}
		}
	}
	return s.cancelLeaf(e)
}

func (s *Session) cancelLeaf(e *execution.Execution) error {
	switch {
	case e.Transition != nil:
		s.tree.Record(execution.Effect{
			Kind:                 execution.EffectJobRemoved,
			ExecutionID:          e.ID,
			ActivityID:           e.Transition.ActivityID,
			TransitionInstanceID: e.Transition.InstanceID,
			JobID:                e.Transition.JobID,
		})
	case e.ActivityID != "" && !e.HoldsOwnScope():
		if err := s.fireEnd(e.ID, e.ActivityID, e.ActivityInstanceID, true); err != nil {
			return err
		}
		s.recordCanceled(e.ID, e.ActivityID, e.ActivityInstanceID)
	}
	return nil
}

func (s *Session) cancelScopeInstance(e *execution.Execution) error {
	if err := s.fireEnd(e.ID, e.ScopeActivityID, e.ScopeInstanceID, true); err != nil {
		return err
	}
	s.recordCanceled(e.ID, e.ScopeActivityID, e.ScopeInstanceID)
	s.tree.ReleaseSubscriptions(e.ID)
	return nil
}

// afterCancel prunes the now empty holder and cancels scopes it leaves
// empty.
func (s *Session) afterCancel(holderID string) error {
	scope, emptied := s.tree.RemoveBranch(holderID)
	if !emptied || scope == nil {
		return nil
	}
	if scope.ParentID == "" {
		s.endedByCancel = true
		return nil
	}
	if err := s.cancelScopeInstance(scope); err != nil {
		return err
	}
	holder, err := s.tree.RemoveScope(scope.ID, true)
	if err != nil {
		return err
	}
	return s.afterCancel(holder.ID)
}

func (s *Session) recordCanceled(executionID, activityID, aiID string) {
	s.tree.Record(execution.Effect{
		Kind:               execution.EffectActivityEnded,
		ExecutionID:        executionID,
		ActivityID:         activityID,
		ActivityInstanceID: aiID,
		Canceled:           true,
	})
}
