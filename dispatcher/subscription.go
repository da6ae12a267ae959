package dispatcher

type Subscription interface {
	Unsubscribe()
}

type subs struct {
	bus *Bus
	reg *registration
}

func (s *subs) Unsubscribe() {
	b := s.bus
	b.mu.Lock()
	defer b.mu.Unlock()

	regs := b.handlers[s.reg.topic]
	newList := make([]*registration, 0, len(regs))

	for _, reg := range regs {
		if reg != s.reg {
			newList = append(newList, reg)
		}
	}

	b.handlers[s.reg.topic] = newList
}
