package dht

import (
	"encoding/binary"
	"net"
	"sync"
	"time"
)

const (
	MaxPeersPerTorrent = 2000
	MaxTorrents        = 10000
	PeerExpiration     = 2 * time.Hour
	cleanupInterval    = 10 * time.Minute
)

// Storage holds the announce_peer records this node has accepted,
// keyed by infohash, bounded in both torrent count and peers per
// torrent, with periodic expiration of stale entries.
type Storage struct {
	mut  sync.RWMutex
	data map[NodeId]*torrentPeers

	done chan struct{}
	wg   sync.WaitGroup
}

type torrentPeers struct {
	peers    map[[6]byte]time.Time // compact peer info -> last seen
	lastUsed time.Time
}

func NewStorage() *Storage {
	s := &Storage{
		data: make(map[NodeId]*torrentPeers),
		done: make(chan struct{}),
	}

	s.wg.Add(1)
	go func() { defer s.wg.Done(); s.cleanupLoop() }()

	return s
}

func (s *Storage) Stop() {
	close(s.done)
	s.wg.Wait()
}

// StorePeer records that infoHash is seeded/downloaded at peerInfo
// (the 6-byte compact peer address).
func (s *Storage) StorePeer(infoHash NodeId, peerInfo [6]byte) {
	s.mut.Lock()
	defer s.mut.Unlock()

	tp, exists := s.data[infoHash]
	if !exists {
		if len(s.data) >= MaxTorrents {
			s.evictOldestTorrentLocked()
		}
		tp = &torrentPeers{peers: make(map[[6]byte]time.Time), lastUsed: time.Now()}
		s.data[infoHash] = tp
	}
	tp.lastUsed = time.Now()

	if _, exists := tp.peers[peerInfo]; !exists && len(tp.peers) >= MaxPeersPerTorrent {
		return
	}
	tp.peers[peerInfo] = time.Now()
}

// GetPeers returns the peer records currently held for infoHash.
func (s *Storage) GetPeers(infoHash NodeId) [][6]byte {
	s.mut.Lock()
	defer s.mut.Unlock()

	tp, exists := s.data[infoHash]
	if !exists {
		return nil
	}
	tp.lastUsed = time.Now()

	peers := make([][6]byte, 0, len(tp.peers))
	for info := range tp.peers {
		peers = append(peers, info)
	}
	return peers
}

func (s *Storage) cleanupLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

func (s *Storage) cleanup() {
	s.mut.Lock()
	defer s.mut.Unlock()

	now := time.Now()
	for infoHash, tp := range s.data {
		for info, lastSeen := range tp.peers {
			if now.Sub(lastSeen) > PeerExpiration {
				delete(tp.peers, info)
			}
		}
		if len(tp.peers) == 0 {
			delete(s.data, infoHash)
		}
	}
}

// evictOldestTorrentLocked drops the least-recently-used torrent.
// Callers must hold s.mut.
func (s *Storage) evictOldestTorrentLocked() {
	var oldestHash NodeId
	var oldestTime time.Time
	first := true

	for hash, tp := range s.data {
		if first || tp.lastUsed.Before(oldestTime) {
			oldestHash, oldestTime, first = hash, tp.lastUsed, false
		}
	}
	delete(s.data, oldestHash)
}

// EncodePeerInfo packs an IPv4 peer address into its 6-byte compact
// form (4-byte address, 2-byte big-endian port).
func EncodePeerInfo(ip net.IP, port uint16) [6]byte {
	var info [6]byte
	ip4 := ip.To4()
	if ip4 == nil {
		return info
	}
	copy(info[:4], ip4)
	binary.BigEndian.PutUint16(info[4:6], port)
	return info
}

func DecodePeerInfo(info [6]byte) (net.IP, uint16) {
	ip := net.IPv4(info[0], info[1], info[2], info[3])
	port := binary.BigEndian.Uint16(info[4:6])
	return ip, port
}
