package trip

// ChangeKind says which part of the trip changed.
type ChangeKind string

const (
	ChangeLoaded  ChangeKind = "loaded"
	ChangeEntries ChangeKind = "entries"
	ChangeDays    ChangeKind = "days"
	ChangePlan    ChangeKind = "plan"
)

// Source says whether a change came from a local edit or the channel.
type Source string

const (
	SourceLocal  Source = "local"
	SourceRemote Source = "remote"
)

// Change is delivered to subscribers after every state change.
// DayIndex is -1 when the change is not tied to one day.
type Change struct {
	Kind     ChangeKind
	Source   Source
	DayIndex int
	LocalID  string
}

// Subscribe registers fn for every subsequent change and returns a func that
// removes it. Each subscriber sees every change once; the order across
// subscribers is unspecified.
func (s *Store) Subscribe(fn func(Change)) (unsubscribe func()) {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

func (s *Store) notify(c Change) {
	s.subMu.Lock()
	fns := make([]func(Change), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()

	for _, fn := range fns {
		fn(c)
	}
}
