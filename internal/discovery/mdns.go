// Package discovery announces vbd nodes on the local network over mDNS and
// browses for them. The TXT record carries the program id so clients can
// tell bridges apart on a shared LAN.
package discovery

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/sirupsen/logrus"
)

// ServiceType is the mDNS service vbd registers.
const ServiceType = "_vaultbridge._tcp"

const domain = "local."

// Node is what a vbd instance announces about itself.
type Node struct {
	Instance  string
	Port      int
	ProgramID string
	Address   string
	Version   string
}

func (n Node) txt() []string {
	return []string{
		"program=" + n.ProgramID,
		"addr=" + n.Address,
		"ver=" + n.Version,
	}
}

// Announcer keeps a node registered until Stop.
type Announcer struct {
	server *zeroconf.Server
	log    *logrus.Entry
}

// Announce registers n. An empty Instance uses the hostname.
func Announce(n Node, log *logrus.Entry) (*Announcer, error) {
	if n.Instance == "" {
		host, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("hostname: %w", err)
		}
		n.Instance = host
	}
	server, err := zeroconf.Register(n.Instance, ServiceType, domain, n.Port, n.txt(), nil)
	if err != nil {
		return nil, fmt.Errorf("mdns register: %w", err)
	}
	log.WithFields(logrus.Fields{"instance": n.Instance, "port": n.Port}).Info("mDNS: announced node")
	return &Announcer{server: server, log: log}, nil
}

func (a *Announcer) Stop() {
	a.log.Debug("mDNS: withdrawing announcement")
	a.server.Shutdown()
}

// Browse collects announcements for wait and returns the peers seen.
func Browse(ctx context.Context, wait time.Duration) ([]*Peer, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("mdns resolver: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	store := NewPeerStore()
	entries := make(chan *zeroconf.ServiceEntry)
	go func() {
		for entry := range entries {
			if entry.TTL == 0 {
				store.Remove(entry.Instance)
				continue
			}
			store.AddFromServiceEntry(entry)
		}
	}()

	if err := resolver.Browse(ctx, ServiceType, domain, entries); err != nil {
		return nil, fmt.Errorf("mdns browse: %w", err)
	}
	<-ctx.Done()
	return store.List(), nil
}
