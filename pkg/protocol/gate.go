package protocol

import "sync"

// FiredSet records which commands have run their after-restart hook in this
// process.
type FiredSet struct {
	fired sync.Map
}

// MarkFirst atomically marks name and reports whether this call was the
// first to do so.
func (s *FiredSet) MarkFirst(name string) bool {
	if _, ok := s.fired.Load(name); ok {
		return false
	}
	_, loaded := s.fired.LoadOrStore(name, struct{}{})
	return !loaded
}

// Fired reports whether name has been marked.
func (s *FiredSet) Fired(name string) bool {
	_, ok := s.fired.Load(name)
	return ok
}

// processGate is shared by every handler so the hook fires once per process
// regardless of how many handler instances the host creates.
var processGate = &FiredSet{}
