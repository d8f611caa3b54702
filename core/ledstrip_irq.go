package core

// dmaComplete is the channel's completion handler. It recovers the session
// from the channel rather than trusting the receiver, as the hardware
// vector does.
func (s *Strip) dmaComplete(ch DMAChannel) {
	v, ok := s.dma.Context(ch)
	sc, _ := v.(*Strip)
	if !ok || sc == nil {
		RecordEvent(EvtLostContext, s.cfg.OID, uint32(ch), 0)
		DebugAsync("[ledstrip] no session for dma channel " + itoa(int(ch)))
		return
	}
	sc.chunkDrained()
}

// chunkDrained runs once per drained buffer. The buffer named by bufFlag is
// the one the DMA just finished; the other one is in flight.
func (s *Strip) chunkDrained() {
	s.irqs++
	s.dma.ClearInterrupt(s.cfg.Channel)

	idx := s.bufFlag
	c := &s.chunks[idx]
	if c.owner != ownerHardware {
		panic("ledstrip: completion for buffer " + itoa(idx) + " the DMA does not own")
	}
	c.owner = ownerSoftware
	RecordEvent(EvtChunkDrained, s.cfg.OID, uint32(idx), uint32(s.leftSize))

	finished := false
	switch {
	case s.lli[idx].Next == nil:
		// Terminal descriptor: the chain has fully drained.
		finished = true
	case s.endFlag && s.leftSize > 0:
		s.refill(idx)
	case s.endFlag:
		s.endFlag = false
	}

	s.bufFlag ^= 1
	if finished {
		RecordEvent(EvtComplete, s.cfg.OID, uint32(s.irqs), 0)
		// The waiter owns the session from here on.
		s.done.Set()
	}
}
