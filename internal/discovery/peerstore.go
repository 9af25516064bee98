package discovery

import (
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/grandcat/zeroconf"
)

// Peer is a node seen on the network.
type Peer struct {
	Instance  string   `json:"instance"`
	Hostname  string   `json:"hostname"`
	Port      int      `json:"port"`
	Addrs     []net.IP `json:"addrs"`
	ProgramID string   `json:"program_id"`
	Address   string   `json:"address"`
	Version   string   `json:"version"`
}

// APIURL is the peer's HTTP API base, or "" without an address.
func (p *Peer) APIURL() string {
	if len(p.Addrs) == 0 {
		return ""
	}
	return "http://" + net.JoinHostPort(p.Addrs[0].String(), strconv.Itoa(p.Port))
}

// PeerStore is a thread-safe set of peers keyed by instance.
type PeerStore struct {
	mtx   sync.RWMutex
	peers map[string]*Peer
}

func NewPeerStore() *PeerStore {
	return &PeerStore{peers: make(map[string]*Peer)}
}

// AddFromServiceEntry adds or replaces the peer behind e.
func (ps *PeerStore) AddFromServiceEntry(e *zeroconf.ServiceEntry) {
	if e == nil {
		return
	}
	peer := &Peer{
		Instance: e.Instance,
		Hostname: e.HostName,
		Port:     e.Port,
		Addrs:    append([]net.IP(nil), e.AddrIPv4...),
	}
	for _, t := range e.Text {
		key, value, ok := strings.Cut(t, "=")
		if !ok {
			continue
		}
		switch key {
		case "program":
			peer.ProgramID = value
		case "addr":
			peer.Address = value
		case "ver":
			peer.Version = value
		}
	}

	ps.mtx.Lock()
	defer ps.mtx.Unlock()
	ps.peers[e.Instance] = peer
}

func (ps *PeerStore) Remove(instance string) {
	ps.mtx.Lock()
	defer ps.mtx.Unlock()
	delete(ps.peers, instance)
}

// List returns the peers sorted by instance.
func (ps *PeerStore) List() []*Peer {
	ps.mtx.RLock()
	defer ps.mtx.RUnlock()
	out := make([]*Peer, 0, len(ps.peers))
	for _, p := range ps.peers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Instance < out[j].Instance })
	return out
}

// ForProgram keeps the peers announcing programID.
func ForProgram(peers []*Peer, programID string) []*Peer {
	out := peers[:0:0]
	for _, p := range peers {
		if p.ProgramID == programID {
			out = append(out, p)
		}
	}
	return out
}
