// Command echonode runs a single Echo Consent ring peer: it loads (or
// creates and saves) an identity key, mines that key's address, bootstraps
// (or opens) its genesis chain, and joins the ring by dialing its
// configured seed peers.
package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/echonode/echoconsent/config"
	"github.com/echonode/echoconsent/crypto/certgen"
	"github.com/echonode/echoconsent/events"
	"github.com/echonode/echoconsent/genesis"
	"github.com/echonode/echoconsent/identity"
	"github.com/echonode/echoconsent/network"
	"github.com/echonode/echoconsent/node"
	"github.com/echonode/echoconsent/protocol"
	"github.com/echonode/echoconsent/storage"
	"github.com/echonode/echoconsent/wallet"
)

// tickInterval is how often the router's clock advances and pending
// requests are flushed to the network.
const tickInterval = 2 * time.Second

func main() {
	cfgPath := flag.String("config", "config.json", "path to config file")
	keyPath := flag.String("key", "identity.keystore", "path to identity keystore file")
	genKey := flag.Bool("genkey", false, "mine a new identity and exit")
	genCerts := flag.String("gencerts", "", "generate CA + node TLS certs into the given directory and exit")
	flag.Parse()

	password := os.Getenv("ECHO_PASSWORD")
	if password == "" {
		log.Println("WARNING: ECHO_PASSWORD not set — keystore will use an empty password")
	}

	if *genKey {
		runGenKey(*keyPath, password)
		return
	}

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	if *genCerts != "" {
		if err := certgen.GenerateAll(*genCerts, cfg.ListenAddr, nil); err != nil {
			log.Fatalf("gencerts: %v", err)
		}
		fmt.Printf("Certificates generated in %s\n", *genCerts)
		return
	}

	id, err := loadOrMineIdentity(*keyPath, password, cfg)
	if err != nil {
		log.Fatalf("identity: %v", err)
	}
	selfID := ringID(*id.PeerID())
	log.Printf("identity mined: peer id %d", selfID)

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		log.Fatalf("mkdir data dir: %v", err)
	}
	backend, err := storage.NewLevelBackend(cfg.DataDir + "/chain")
	if err != nil {
		log.Fatalf("open storage: %v", err)
	}
	defer backend.Close()

	if !backend.Blocks.Exists(1) {
		log.Println("fresh data dir, generating genesis chain")
		if err := genesis.Generate(backend, cfg.GenesisSpec()); err != nil {
			log.Fatalf("genesis: %v", err)
		}
	}

	sink := events.NewEmitter()
	sink.Subscribe(protocol.EventReorg, func(r events.Record) {
		log.Printf("[events] reorg at block %d (peer %d)", r.Event.BlockID, r.Peer)
	})

	router := node.NewWithSink(backend.Tokens, backend.Blocks, selfID, 0, sink)

	tlsCfg, err := config.LoadTLSConfig(cfg.TLS)
	if err != nil {
		log.Fatalf("tls: %v", err)
	}
	if tlsCfg != nil {
		log.Println("mTLS enabled for ring transport")
	}

	netNode := network.NewNode(selfID, cfg.ListenAddr, router, tlsCfg)
	if err := netNode.Start(); err != nil {
		log.Fatalf("listen: %v", err)
	}
	defer netNode.Stop()
	log.Printf("listening on %s", cfg.ListenAddr)

	for _, sp := range cfg.SeedPeers {
		peerID, err := parseSeedPeerID(sp.ID)
		if err != nil {
			log.Printf("seed peer %s: %v", sp.ID, err)
			continue
		}
		if err := netNode.AddPeer(peerID, sp.Addr); err != nil {
			log.Printf("seed peer %d (%s): %v", peerID, sp.Addr, err)
			continue
		}
		log.Printf("connected to seed peer %d (%s)", peerID, sp.Addr)
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go runTickLoop(router, netNode, stop, done)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Println("shutting down...")
	close(stop)
	<-done
	log.Println("shutdown complete")
}

func runTickLoop(r *node.Router, n *network.Node, stop, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			n.Dispatch(r.Tick())
		}
	}
}

func runGenKey(keyPath, password string) {
	id, err := identity.New()
	if err != nil {
		log.Fatal(err)
	}
	if err := wallet.SaveSecret(keyPath, password, id.StaticSecret()); err != nil {
		log.Fatal(err)
	}
	fmt.Printf("Generated identity keypair.\nSaved to: %s\n", keyPath)
	fmt.Println("Only the key is saved; the node mines its network address each time it starts.")
}

func loadOrMineIdentity(keyPath, password string, cfg *config.Config) (*identity.Identity, error) {
	idCfg, err := cfg.IdentityConfig()
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(keyPath); os.IsNotExist(err) {
		id, err := identity.New()
		if err != nil {
			return nil, err
		}
		if err := wallet.SaveSecret(keyPath, password, id.StaticSecret()); err != nil {
			return nil, err
		}
		id.Mine(idCfg)
		return id, nil
	}
	secret, err := wallet.LoadSecret(keyPath, password)
	if err != nil {
		return nil, fmt.Errorf("load keystore: %w", err)
	}
	id, err := identity.FromSecret(secret)
	if err != nil {
		return nil, err
	}
	id.Mine(idCfg)
	return id, nil
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Printf("config file not found at %s, using defaults", path)
			return config.DefaultConfig(), nil
		}
		return nil, err
	}
	return cfg, nil
}

// ringID truncates a mined 256-bit address to the 64-bit peer identifier
// the ring and token model operate on.
func ringID(p identity.PeerID) protocol.PeerID {
	return protocol.PeerID(binary.BigEndian.Uint64(p[:8]))
}

func parseSeedPeerID(s string) (protocol.PeerID, error) {
	var id uint64
	if _, err := fmt.Sscanf(s, "%d", &id); err != nil {
		return 0, fmt.Errorf("invalid seed peer id %q: %w", s, err)
	}
	return protocol.PeerID(id), nil
}
