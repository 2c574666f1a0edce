package ucpool

// idleStack holds idle connections ordered by return time, oldest
// first. Reuse takes the newest one, eviction scans from the oldest.
type idleStack struct {
	conns []*pooledConn
}

func (s *idleStack) len() int {
	return len(s.conns)
}

func (s *idleStack) push(pc *pooledConn) {
	s.conns = append(s.conns, pc)
}

// pop returns the most recently returned connection or nil.
func (s *idleStack) pop() *pooledConn {
	n := len(s.conns)
	if n == 0 {
		return nil
	}
	pc := s.conns[n-1]
	s.conns[n-1] = nil
	s.conns = s.conns[:n-1]
	return pc
}

// removeFunc removes, oldest first, every connection fn selects and
// returns them. Relative order of the rest is kept.
func (s *idleStack) removeFunc(fn func(pc *pooledConn) bool) []*pooledConn {
	var removed []*pooledConn
	kept := s.conns[:0]
	for _, pc := range s.conns {
		if fn(pc) {
			removed = append(removed, pc)
			continue
		}
		kept = append(kept, pc)
	}
	for i := len(kept); i < len(s.conns); i++ {
		s.conns[i] = nil
	}
	s.conns = kept
	return removed
}

func (s *idleStack) drain() []*pooledConn {
	conns := s.conns
	s.conns = nil
	return conns
}
