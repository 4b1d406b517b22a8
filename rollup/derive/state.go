package derive

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/specularl2/specular-node/eth"
	"github.com/specularl2/specular-node/rollup"
)

// State is the shared registry of L1 blocks and L2 head snapshots the
// derivation stages read from. The L1 watcher is the only writer of the L1
// index; the engine driver is the only writer of the heads. All derivation
// stages hold read access.
type State struct {
	mu sync.RWMutex

	l1Info   map[common.Hash]eth.L1BlockInfo
	l1Hashes map[uint64]common.Hash

	// currentEpochNum is the highest L1 block number observed.
	currentEpochNum uint64

	safeHead       eth.BlockRef
	safeEpoch      eth.Epoch
	unsafeHead     eth.BlockRef
	unsafeEpoch    eth.Epoch
	finalizedHead  eth.BlockRef
	finalizedEpoch eth.Epoch

	cfg *rollup.Config
}

func NewState(cfg *rollup.Config) *State {
	return &State{
		l1Info:   make(map[common.Hash]eth.L1BlockInfo),
		l1Hashes: make(map[uint64]common.Hash),
		cfg:      cfg,
	}
}

// PutL1BlockInfo indexes an L1 block by hash and number, and advances the
// current epoch number if the block is the highest seen.
func (s *State) PutL1BlockInfo(info eth.L1BlockInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.l1Info[info.Hash] = info
	s.l1Hashes[info.Number] = info.Hash
	if info.Number > s.currentEpochNum {
		s.currentEpochNum = info.Number
	}
	s.pruneLocked()
}

// pruneLocked drops L1 entries that have fallen out of every window the
// pipeline can still reference: anything older than the safe epoch by more
// than a sequencing window.
func (s *State) pruneLocked() {
	if s.safeEpoch.Number <= s.cfg.SeqWindowSize {
		return
	}
	horizon := s.safeEpoch.Number - s.cfg.SeqWindowSize
	for num, hash := range s.l1Hashes {
		if num < horizon {
			delete(s.l1Info, hash)
			delete(s.l1Hashes, num)
		}
	}
}

// L1InfoByHash returns the indexed L1 block with the given hash, if known.
func (s *State) L1InfoByHash(h common.Hash) (eth.L1BlockInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info, ok := s.l1Info[h]
	return info, ok
}

// L1InfoByNumber returns the indexed L1 block with the given number, if known.
func (s *State) L1InfoByNumber(n uint64) (eth.L1BlockInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	hash, ok := s.l1Hashes[n]
	if !ok {
		return eth.L1BlockInfo{}, false
	}
	info, ok := s.l1Info[hash]
	return info, ok
}

func (s *State) EpochByHash(h common.Hash) (eth.Epoch, bool) {
	info, ok := s.L1InfoByHash(h)
	if !ok {
		return eth.Epoch{}, false
	}
	return info.Epoch(), true
}

func (s *State) EpochByNumber(n uint64) (eth.Epoch, bool) {
	info, ok := s.L1InfoByNumber(n)
	if !ok {
		return eth.Epoch{}, false
	}
	return info.Epoch(), true
}

// CurrentEpochNum is the highest L1 block number observed.
func (s *State) CurrentEpochNum() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentEpochNum
}

func (s *State) SafeHead() (eth.BlockRef, eth.Epoch) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.safeHead, s.safeEpoch
}

func (s *State) UnsafeHead() (eth.BlockRef, eth.Epoch) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.unsafeHead, s.unsafeEpoch
}

func (s *State) FinalizedHead() (eth.BlockRef, eth.Epoch) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.finalizedHead, s.finalizedEpoch
}

// SetSafeHead is invoked by the engine driver only.
func (s *State) SetSafeHead(head eth.BlockRef, epoch eth.Epoch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.safeHead = head
	s.safeEpoch = epoch
}

// SetUnsafeHead is invoked by the engine driver only.
func (s *State) SetUnsafeHead(head eth.BlockRef, epoch eth.Epoch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unsafeHead = head
	s.unsafeEpoch = epoch
}

// SetFinalizedHead is invoked by the engine driver only.
func (s *State) SetFinalizedHead(head eth.BlockRef, epoch eth.Epoch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finalizedHead = head
	s.finalizedEpoch = epoch
}
