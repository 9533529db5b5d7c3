package internal

import "sync"

// currentSeqs maps a goroutine id to the sequencer whose task it is running.
// Property writes made inside a rule execution look up their goroutine's
// sequencer here so that cascaded rule runs join the batch already open,
// keeping a single wait-for-tasks over the whole cascade.
var currentSeqs sync.Map

// CurrentSequencer returns the sequencer running a task on this goroutine,
// or nil when called outside any task.
func CurrentSequencer() *Sequencer {
	if s, ok := currentSeqs.Load(getGID()); ok {
		return s.(*Sequencer)
	}
	return nil
}

func bindCurrent(s *Sequencer) {
	currentSeqs.Store(getGID(), s)
}

func unbindCurrent() {
	currentSeqs.Delete(getGID())
}
