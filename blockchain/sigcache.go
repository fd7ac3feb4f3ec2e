package blockchain

import (
	"sync"

	"github.com/acbcd/acbcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
)

// sigCacheEntry is a cached (signature, public key) pair known to verify a
// given sighash, the memoized result of script/scriptcache.cpp's signature
// cache (spec.md's supplemented feature list).
type sigCacheEntry struct {
	sig    *ecdsa.Signature
	pubKey *btcec.PublicKey
}

// SigCache implements an ECDSA signature verification cache with a randomized
// entry eviction policy, analogous to Bitcoin Core's CSignatureCache.  Only
// valid signatures are added to the cache, so a cache hit guarantees the
// (sighash, signature, pubkey) triple was already verified once, letting a
// transaction re-seen in a block skip a redundant elliptic-curve operation
// after having already been validated for mempool admission (spec.md §4.A).
type SigCache struct {
	sync.RWMutex
	validSigs  map[chainhash.Hash]sigCacheEntry
	maxEntries uint
}

// NewSigCache creates and initializes a SigCache with the given maximum
// size in entries.
func NewSigCache(maxEntries uint) *SigCache {
	return &SigCache{
		validSigs:  make(map[chainhash.Hash]sigCacheEntry, maxEntries),
		maxEntries: maxEntries,
	}
}

// Exists returns whether sig over sigHash, verifiable by pubKey, is already
// known to the cache to be valid.
func (s *SigCache) Exists(sigHash chainhash.Hash, sig *ecdsa.Signature, pubKey *btcec.PublicKey) bool {
	s.RLock()
	defer s.RUnlock()

	entry, ok := s.validSigs[sigHash]
	return ok && entry.pubKey.IsEqual(pubKey) && entry.sig.IsEqual(sig)
}

// Add adds an already-validated (sigHash, sig, pubKey) triple to the cache.
// If the cache is at capacity, a pseudo-random existing entry is evicted to
// make room, trading strict LRU accuracy for O(1) eviction the way Bitcoin
// Core's own signature cache does.
func (s *SigCache) Add(sigHash chainhash.Hash, sig *ecdsa.Signature, pubKey *btcec.PublicKey) {
	s.Lock()
	defer s.Unlock()

	if s.maxEntries <= 0 {
		return
	}

	if uint(len(s.validSigs)) >= s.maxEntries {
		for k := range s.validSigs {
			delete(s.validSigs, k)
			break
		}
	}

	s.validSigs[sigHash] = sigCacheEntry{sig: sig, pubKey: pubKey}
}
