package execution

// AddSubscription attaches an event subscription to a scope execution.
func (t *Tree) AddSubscription(scopeID string, sub Subscription) {
	scope, ok := t.nodes[scopeID]
	if !ok {
		return
	}
	scope.Subscriptions = append(scope.Subscriptions, sub)
	t.Record(Effect{
		Kind:               EffectSubscriptionAdded,
		ExecutionID:        scopeID,
		ActivityID:         sub.ActivityID,
		ActivityInstanceID: sub.ActivityInstanceID,
		Name:               sub.EventType,
	})
}

// ReleaseSubscriptions removes every subscription rooted at the execution.
func (t *Tree) ReleaseSubscriptions(id string) []Subscription {
	e, ok := t.nodes[id]
	if !ok || len(e.Subscriptions) == 0 {
		return nil
	}
	released := e.Subscriptions
	e.Subscriptions = nil
	for _, sub := range released {
		t.Record(Effect{
			Kind:               EffectSubscriptionRemoved,
			ExecutionID:        id,
			ActivityID:         sub.ActivityID,
			ActivityInstanceID: sub.ActivityInstanceID,
			Name:               sub.EventType,
		})
	}
	return released
}

// MoveSubscriptions hands the subscriptions of a completing scope to the
// enclosing scope.
func (t *Tree) MoveSubscriptions(fromID, toID string) {
	from, ok := t.nodes[fromID]
	if !ok || len(from.Subscriptions) == 0 {
		return
	}
	to, ok := t.nodes[toID]
	if !ok {
		t.ReleaseSubscriptions(fromID)
		return
	}
	to.Subscriptions = append(to.Subscriptions, from.Subscriptions...)
	from.Subscriptions = nil
}

// Subscriptions lists subscriptions of the whole tree in execution order.
func (t *Tree) Subscriptions() []Subscription {
	var out []Subscription
	for _, e := range t.Executions() {
		out = append(out, e.Subscriptions...)
	}
	return out
}

// ClearScope cancels everything below the scope execution and clears its
// leaf. It is used when the process instance execution itself is cancelled.
func (t *Tree) ClearScope(id string) {
	e, ok := t.nodes[id]
	if !ok {
		return
	}
	for _, child := range t.Descendants(id) {
		t.drop(child, "", true)
	}
	e.clearLeaf()
}
