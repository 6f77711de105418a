package dispatcher

// Subscription removes a handler again.
type Subscription interface {
	Unsubscribe()
}

type subscription struct {
	dispatcher *Dispatcher
	key        string
	sub        *subscriber
}

func (s *subscription) Unsubscribe() {
	d := s.dispatcher
	d.mu.Lock()
	defer d.mu.Unlock()

	handlers := d.handlers[s.key]
	kept := make([]*subscriber, 0, len(handlers))
	for _, h := range handlers {
		if h != s.sub {
			kept = append(kept, h)
		}
	}
	if len(kept) == 0 {
		delete(d.handlers, s.key)
		return
	}
	d.handlers[s.key] = kept
}
