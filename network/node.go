package network

import (
	"crypto/tls"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/echonode/echoconsent/node"
	"github.com/echonode/echoconsent/protocol"
)

// DefaultMaxPeers is the default limit on simultaneous peer connections.
const DefaultMaxPeers = 50

// Node listens for incoming ring peers and routes every envelope it sees
// through a node.Router, shipping out whatever replies the router produces.
type Node struct {
	selfID     protocol.PeerID
	listenAddr string
	router     *node.Router
	tlsConfig  *tls.Config // nil → plain TCP
	maxPeers   int

	mu    sync.RWMutex
	peers map[protocol.PeerID]*Peer

	listener net.Listener
	stopCh   chan struct{}
}

// NewNode creates a Node that will listen on listenAddr and dispatch
// inbound envelopes to router.
func NewNode(selfID protocol.PeerID, listenAddr string, router *node.Router, tlsCfg *tls.Config) *Node {
	return &Node{
		selfID:     selfID,
		listenAddr: listenAddr,
		router:     router,
		tlsConfig:  tlsCfg,
		maxPeers:   DefaultMaxPeers,
		peers:      make(map[protocol.PeerID]*Peer),
		stopCh:     make(chan struct{}),
	}
}

// Start begins accepting connections.
func (n *Node) Start() error {
	var ln net.Listener
	var err error
	if n.tlsConfig != nil {
		ln, err = tls.Listen("tcp", n.listenAddr, n.tlsConfig)
	} else {
		ln, err = net.Listen("tcp", n.listenAddr)
	}
	if err != nil {
		return fmt.Errorf("listen %s: %w", n.listenAddr, err)
	}
	n.listener = ln
	go n.acceptLoop()
	return nil
}

// Stop shuts down the node.
func (n *Node) Stop() {
	close(n.stopCh)
	if n.listener != nil {
		n.listener.Close()
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, p := range n.peers {
		p.Close()
	}
}

// AddPeer dials addr, registers the connection under id, and seeds it into
// the router's ring.
func (n *Node) AddPeer(id protocol.PeerID, addr string) error {
	peer, err := Connect(id, addr, n.tlsConfig)
	if err != nil {
		return err
	}
	n.mu.Lock()
	n.peers[id] = peer
	n.mu.Unlock()
	n.router.SeedPeer(id)
	go n.readLoop(peer)
	return nil
}

// Peer returns the connected peer with the given id, or nil if not found.
func (n *Node) Peer(id protocol.PeerID) *Peer {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.peers[id]
}

// Dispatch ships out every envelope in envs, routing each by its Receiver
// field. Envelopes addressed to peers we hold no connection for are
// silently dropped; Dispatch neither queues nor resends them.
func (n *Node) Dispatch(envs []protocol.Envelope) {
	for _, env := range envs {
		n.mu.RLock()
		p, ok := n.peers[env.Receiver]
		n.mu.RUnlock()
		if !ok {
			continue
		}
		if err := p.Send(env); err != nil {
			log.Printf("[network] send to %d failed: %v", env.Receiver, err)
		}
	}
}

func (n *Node) acceptLoop() {
	for {
		conn, err := n.listener.Accept()
		if err != nil {
			select {
			case <-n.stopCh:
				return
			default:
				log.Printf("[network] accept error: %v", err)
				time.Sleep(100 * time.Millisecond)
				continue
			}
		}
		n.mu.RLock()
		peerCount := len(n.peers)
		n.mu.RUnlock()
		if peerCount >= n.maxPeers {
			log.Printf("[network] max peers (%d) reached, rejecting %s", n.maxPeers, conn.RemoteAddr())
			conn.Close()
			continue
		}
		// The peer's true ID is learned from the first envelope it sends;
		// until then it is tracked under a provisional zero ID.
		go n.greet(conn)
	}
}

func (n *Node) greet(conn net.Conn) {
	peer := NewPeer(0, conn.RemoteAddr().String(), conn)
	env, err := peer.Receive()
	if err != nil {
		peer.Close()
		return
	}
	peer.ID = env.Sender
	n.mu.Lock()
	n.peers[peer.ID] = peer
	n.mu.Unlock()
	n.router.SeedPeer(peer.ID)
	n.Dispatch(n.router.HandleMessage(env))
	n.readLoop(peer)
}

func (n *Node) readLoop(peer *Peer) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[network] readLoop panic from %d: %v", peer.ID, r)
		}
		peer.Close()
		n.mu.Lock()
		delete(n.peers, peer.ID)
		n.mu.Unlock()
	}()
	for {
		env, err := peer.Receive()
		if err != nil {
			return
		}
		n.Dispatch(n.router.HandleMessage(env))
	}
}
