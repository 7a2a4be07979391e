package media

// SequenceTracker tracks media stream sequence numbers.
// Stream sequence numbers are plain monotonically increasing integers
// assigned by the sender; unlike RTP there is no 16-bit rollover to
// handle. The tracker detects forward gaps (possible packet loss) and
// counts out-of-order arrivals without ever reordering frames.
type SequenceTracker struct {
	initialized bool
	lastSeq     uint64
	received    uint64 // Total frames received
	lost        uint64 // Total frames detected as lost
	reordered   uint64 // Frames that arrived after a later one
}

// NewSequenceTracker creates a new sequence tracker.
func NewSequenceTracker() *SequenceTracker {
	return &SequenceTracker{}
}

// Update records a received sequence number.
// It returns the number of frames skipped since the last accepted one
// (0 for consecutive delivery) and whether the frame arrived out of
// order. Out-of-order frames do not move the high-water mark.
func (s *SequenceTracker) Update(seq uint64) (gap int, outOfOrder bool) {
	s.received++

	if !s.initialized {
		s.initialized = true
		s.lastSeq = seq
		return 0, false
	}

	if seq <= s.lastSeq {
		// Duplicate or late frame. Forwarded as-is by the caller;
		// we only account for it here.
		s.reordered++
		return 0, true
	}

	gap = int(seq-s.lastSeq) - 1
	if gap > 0 {
		s.lost += uint64(gap)
	}
	s.lastSeq = seq
	return gap, false
}

// Stats returns cumulative statistics.
func (s *SequenceTracker) Stats() (received, lost, reordered uint64) {
	return s.received, s.lost, s.reordered
}

// LossRate returns the frame loss rate as a fraction (0.0 to 1.0).
func (s *SequenceTracker) LossRate() float64 {
	if s.received == 0 && s.lost == 0 {
		return 0.0
	}
	total := s.received + s.lost
	return float64(s.lost) / float64(total)
}

// Reset clears all tracking state.
func (s *SequenceTracker) Reset() {
	s.initialized = false
	s.lastSeq = 0
	s.received = 0
	s.lost = 0
	s.reordered = 0
}
