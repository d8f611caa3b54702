package core

import "ledwire/nrz"

// perChunk is how many color bytes fit in one buffer once expanded.
func (s *Strip) perChunk() int {
	return ChunkCapacity / s.cfg.Chip.Coefficient()
}

// schedule fills one or both buffers for a fresh frame and links the
// descriptors. It returns how many chunks were queued.
func (s *Strip) schedule() int {
	per := s.perChunk()
	if s.total <= per {
		s.fill(0, s.total, true)
		s.lli[0].Next = nil
		s.endFlag = false
		return 1
	}

	s.fill(0, per, false)
	s.lli[0].Next = &s.lli[1]
	if s.leftSize <= per {
		s.fill(1, s.leftSize, true)
		s.lli[1].Next = nil
		return 2
	}

	s.fill(1, per, false)
	s.lli[1].Next = &s.lli[0]
	s.endFlag = true
	return 2
}

// refill loads the next slice of the frame into buffer idx, which the DMA
// has just released, and either keeps the ring closed or terminates it.
func (s *Strip) refill(idx int) {
	per := s.perChunk()
	if s.leftSize <= per {
		s.fill(idx, s.leftSize, true)
		s.lli[idx].Next = nil
		return
	}
	s.fill(idx, per, false)
	s.lli[idx].Next = &s.lli[idx^1]
}

// fill encodes n color bytes starting at dataIdx into buffer idx. A
// terminal chunk also gets the latch padding.
func (s *Strip) fill(idx, n int, terminal bool) {
	c := &s.chunks[idx]
	if c.owner != ownerSoftware {
		panic("ledstrip: writing buffer " + itoa(idx) + " while the DMA owns it")
	}
	first := s.dataIdx / nrz.PixelBytes
	written, err := s.conv.Convert(c.buf, s.pixels[first:first+n/nrz.PixelBytes])
	if err != nil {
		panic("ledstrip: " + err.Error())
	}
	if terminal {
		pad := c.buf[written : written+s.cfg.Chip.ResetBytes()]
		for i := range pad {
			pad[i] = 0
		}
		written += len(pad)
	}
	s.lli[idx].Src = c.buf[:written]
	s.dataIdx += n
	s.leftSize = s.total - s.dataIdx
	c.owner = ownerHardware
	RecordEvent(EvtRefill, s.cfg.OID, uint32(idx), uint32(n))
}
