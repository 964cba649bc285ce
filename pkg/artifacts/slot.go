package artifacts

import "sync"

// recordingSlot holds at most one recording. take empties it in the same
// critical section that reads it, so a recording handed to finalization can
// never be observed or finalized a second time.
type recordingSlot struct {
	mu  sync.Mutex
	rec Recording
}

// put stores r if the slot is empty and reports whether it did
func (s *recordingSlot) put(r Recording) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rec != nil {
		return false
	}
	s.rec = r
	return true
}

func (s *recordingSlot) peek() Recording {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec
}

func (s *recordingSlot) take() Recording {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.rec
	s.rec = nil
	return r
}
