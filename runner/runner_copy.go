package runner

import (
	"fmt"

	"github.com/notargets/SMCKernel/compute"
)

// Copy reorders the population so that slot i receives the record that was
// in slot indexMap[i]. Duplicates are allowed. Maps in which every source
// slot keeps its own record are applied in place on the device; any other
// map goes through CopyPre and CopyPost.
func (s *State) Copy(indexMap []int) error {
	s.checkIndexMap("State.Copy", indexMap)
	if s.phase == phaseCaptured {
		panic("State.Copy: called between CopyPre and CopyPost")
	}
	if !inPlaceSafe(indexMap) {
		if _, err := s.CopyPre(); err != nil {
			return err
		}
		return s.CopyPost(indexMap)
	}

	if err := s.ensureCopyKernels(); err != nil {
		return err
	}
	if err := s.writeSourceIndex(indexMap); err != nil {
		return err
	}
	if err := SetKernelArgs(s.copyKernel, 0, s.srcIdx.buf, s.stateBuffer); err != nil {
		return err
	}
	if err := s.launch(s.copyKernel, s.copyConfig); err != nil {
		return err
	}
	s.log.Debug("reordered in place", "size", s.size)
	return nil
}

// inPlaceSafe reports whether m[m[i]] == m[i] for all i, so no slot that
// is read is also written
func inPlaceSafe(m []int) bool {
	for _, from := range m {
		if m[from] != from {
			return false
		}
	}
	return true
}

func (s *State) checkIndexMap(op string, indexMap []int) {
	if len(indexMap) != s.size {
		panic(fmt.Sprintf("%s: index map has %d entries, population size is %d", op, len(indexMap), s.size))
	}
	for i, from := range indexMap {
		if from < 0 || from >= s.size {
			panic(fmt.Sprintf("%s: index map entry %d is %d, outside [0, %d)", op, i, from, s.size))
		}
	}
}

func (s *State) writeSourceIndex(indexMap []int) error {
	flags := compute.MemReadOnly | compute.MemHostWriteOnly
	if err := s.srcIdx.resize(s.device, int64(s.size)*8, flags); err != nil {
		return fmt.Errorf("source index buffer: %w", err)
	}
	idx := viewOf[uint64](s.srcIdx.host)
	for i, from := range indexMap {
		idx[i] = uint64(from)
	}
	return s.srcIdx.write()
}

// Snapshot is the host view of the state captured by CopyPre. It is valid
// until the next CopyPre or buffer reallocation.
type Snapshot struct {
	state *State
}

// Bytes is the whole snapshot, N*S bytes
func (sn *Snapshot) Bytes() []byte { return sn.state.snapshot.host }

// Record is the S bytes of particle id. Writes are applied by CopyPost
// without marking the slot touched; use StateUnpack for that.
func (sn *Snapshot) Record(id int) []byte {
	s := sn.state
	s.checkID("Snapshot.Record", id)
	return s.snapshot.host[id*s.stateSize : (id+1)*s.stateSize : (id+1)*s.stateSize]
}

// Touched reports whether StateUnpack wrote particle id since CopyPre
func (sn *Snapshot) Touched(id int) bool {
	sn.state.checkID("Snapshot.Touched", id)
	return sn.state.touched.host[id] != 0
}

// CopyPre captures the device state into the host snapshot and clears the
// touched flags. Calling it again before CopyPost panics.
func (s *State) CopyPre() (*Snapshot, error) {
	if s.phase == phaseCaptured {
		panic("State.CopyPre: snapshot already captured, call CopyPost first")
	}
	if err := s.touched.resize(s.device, int64(s.size),
		compute.MemReadOnly|compute.MemHostWriteOnly|compute.MemUseHostPtr); err != nil {
		return nil, fmt.Errorf("touched buffer: %w", err)
	}
	if err := s.snapshot.resize(s.device, int64(s.size)*int64(s.stateSize),
		compute.MemReadOnly|compute.MemUseHostPtr); err != nil {
		return nil, fmt.Errorf("snapshot buffer: %w", err)
	}
	clear(s.touched.host)
	if err := s.device.Read(s.stateBuffer, 0, s.snapshot.host); err != nil {
		return nil, fmt.Errorf("capture snapshot: %w", err)
	}
	s.phase = phaseCaptured
	return &Snapshot{state: s}, nil
}

// CopyPost writes the snapshot, touched flags and indexMap to the device and
// gathers slot i from snapshot record indexMap[i]. A nil indexMap is the
// identity, which only writes back unpacked records.
func (s *State) CopyPost(indexMap []int) error {
	if s.phase != phaseCaptured {
		panic(fmt.Sprintf("State.CopyPost: no snapshot captured (phase %s)", s.phase))
	}
	s.checkMirror("State.CopyPost")
	if indexMap == nil {
		indexMap = make([]int, s.size)
		for i := range indexMap {
			indexMap[i] = i
		}
	}
	s.checkIndexMap("State.CopyPost", indexMap)

	if err := s.ensureCopyKernels(); err != nil {
		return err
	}
	if err := s.writeSourceIndex(indexMap); err != nil {
		return err
	}
	if err := s.touched.write(); err != nil {
		return err
	}
	if err := s.snapshot.write(); err != nil {
		return err
	}
	if err := SetKernelArgs(s.copySnapKernel, 0, s.srcIdx.buf, s.snapshot.buf, s.stateBuffer); err != nil {
		return err
	}
	if err := s.launch(s.copySnapKernel, s.copySnapConfig); err != nil {
		return err
	}

	// keep the host mirror equal to the device state so StatePack stays
	// valid until the next launch
	prior := make([]byte, len(s.snapshot.host))
	copy(prior, s.snapshot.host)
	for i, from := range indexMap {
		copy(s.snapshot.host[i*s.stateSize:(i+1)*s.stateSize], prior[from*s.stateSize:(from+1)*s.stateSize])
	}
	s.phase = phaseApplied
	s.log.Debug("reordered through snapshot", "size", s.size)
	return nil
}

// TouchedBuffer is the device copy of the touched flags, one byte per
// particle, as written by the last CopyPost. Nil before the first CopyPre.
func (s *State) TouchedBuffer() compute.Buffer { return s.touched.buf }

// StatePack returns a copy of record id from the host mirror. The mirror is
// valid from CopyPre until the first launch after CopyPost.
func (s *State) StatePack(id int) []byte {
	s.checkID("State.StatePack", id)
	if s.phase == phaseIdle {
		panic("State.StatePack: host mirror is not current, call CopyPre first")
	}
	s.checkMirror("State.StatePack")
	pack := make([]byte, s.stateSize)
	copy(pack, s.snapshot.host[id*s.stateSize:])
	return pack
}

// StateUnpack overwrites record id in the snapshot and marks it touched.
// The device sees it after CopyPost.
func (s *State) StateUnpack(id int, pack []byte) {
	s.checkID("State.StateUnpack", id)
	if len(pack) < s.stateSize {
		panic(fmt.Sprintf("State.StateUnpack: pack of %d bytes is smaller than state size %d", len(pack), s.stateSize))
	}
	if s.phase != phaseCaptured {
		panic(fmt.Sprintf("State.StateUnpack: no snapshot captured (phase %s)", s.phase))
	}
	s.checkMirror("State.StateUnpack")
	s.touched.host[id] = 1
	copy(s.snapshot.host[id*s.stateSize:(id+1)*s.stateSize], pack)
}

func (s *State) checkID(op string, id int) {
	if id < 0 || id >= s.size {
		panic(fmt.Sprintf("%s: particle %d outside [0, %d)", op, id, s.size))
	}
}

// checkMirror panics when the mirrors were sized for another population or
// record size
func (s *State) checkMirror(op string) {
	if s.snapshot.size() != int64(s.size)*int64(s.stateSize) || s.touched.size() != int64(s.size) {
		panic(fmt.Sprintf("%s: snapshot sized for %d bytes, state is %d x %d",
			op, s.snapshot.size(), s.size, s.stateSize))
	}
}
