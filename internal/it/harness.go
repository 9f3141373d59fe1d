package it

import (
	"context"
	"fmt"
	"net/url"
	"path/filepath"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"

	"relaystore/internal/config"
	"relaystore/internal/log"
	"relaystore/internal/relay"
)

// Cluster represents a test cluster of in-process relays
type Cluster struct {
	nodes      []*Node
	dataDir    string
	requireCAS bool
	logger     *log.Logger
	mu         sync.Mutex
}

// Node represents a single relay in the test cluster
type Node struct {
	ID           string
	Addr         string
	HealthAddr   string
	cfg          *config.RelayConfig
	server       *relay.Server
	conn         *grpc.ClientConn
	healthClient grpc_health_v1.HealthClient
}

// NewCluster creates a new test cluster harness storing relay databases
// under dataDir
func NewCluster(dataDir string, requireCAS bool) *Cluster {
	return &Cluster{
		nodes:      make([]*Node, 0),
		dataDir:    dataDir,
		requireCAS: requireCAS,
		logger:     log.DiscardLogger,
	}
}

// StartNode starts a single relay in the cluster
func (c *Cluster) StartNode(ctx context.Context, nodeID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	cfg := config.DefaultRelayConfig()
	cfg.Listen = "127.0.0.1:0"
	cfg.HealthListen = "127.0.0.1:0"
	cfg.CachePath = filepath.Join(c.dataDir, nodeID+".db")
	cfg.RequireCAS = c.requireCAS

	node := &Node{ID: nodeID, cfg: cfg}
	if err := c.start(ctx, node); err != nil {
		return fmt.Errorf("failed to start node %s: %w", nodeID, err)
	}

	// later restarts reuse the bound ports
	cfg.Listen = node.Addr
	cfg.HealthListen = node.HealthAddr

	c.nodes = append(c.nodes, node)
	return nil
}

func (c *Cluster) start(ctx context.Context, node *Node) error {
	store, err := relay.OpenStore(node.cfg)
	if err != nil {
		return err
	}

	server := relay.NewServer(node.cfg, store, c.logger.With("relay", node.ID))
	if err := server.Start(); err != nil {
		_ = store.Close()
		return err
	}
	node.server = server
	node.Addr = server.Addr().String()
	node.HealthAddr = server.HealthAddr().String()

	conn, err := grpc.NewClient(node.HealthAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		node.Stop()
		return fmt.Errorf("failed to dial health endpoint: %w", err)
	}
	node.conn = conn
	node.healthClient = grpc_health_v1.NewHealthClient(conn)

	if err := c.waitForReady(ctx, node, 10*time.Second); err != nil {
		node.Stop()
		return err
	}
	return nil
}

// waitForReady waits for a relay to be ready by checking its health endpoint
func (c *Cluster) waitForReady(ctx context.Context, node *Node, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if time.Now().After(deadline) {
				return fmt.Errorf("timeout waiting for node %s to be ready", node.ID)
			}

			healthCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			resp, err := node.healthClient.Check(healthCtx, &grpc_health_v1.HealthCheckRequest{Service: relay.HealthService})
			cancel()

			if err == nil && resp.GetStatus() == grpc_health_v1.HealthCheckResponse_SERVING {
				return nil
			}
		}
	}
}

// StartCluster starts n relays named n1..nN
func (c *Cluster) StartCluster(ctx context.Context, n int) error {
	for i := 1; i <= n; i++ {
		nodeID := fmt.Sprintf("n%d", i)
		if err := c.StartNode(ctx, nodeID); err != nil {
			c.Stop()
			return err
		}
	}
	return nil
}

// Stop stops all relays in the cluster
func (c *Cluster) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, node := range c.nodes {
		node.Stop()
	}
	c.nodes = nil
}

// Stop stops a single relay. Its database is kept.
func (n *Node) Stop() {
	if n.conn != nil {
		_ = n.conn.Close()
		n.conn = nil
	}
	if n.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = n.server.Stop(ctx)
		n.server = nil
	}
}

// URL returns the relay base URL
func (n *Node) URL() *url.URL {
	return &url.URL{Scheme: "http", Host: n.Addr}
}

// GetNode returns a node by ID
func (c *Cluster) GetNode(nodeID string) *Node {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, n := range c.nodes {
		if n.ID == nodeID {
			return n
		}
	}
	return nil
}

// RelayURLs returns the base URL of every relay, running or not
func (c *Cluster) RelayURLs() []*url.URL {
	c.mu.Lock()
	defer c.mu.Unlock()

	urls := make([]*url.URL, 0, len(c.nodes))
	for _, n := range c.nodes {
		urls = append(urls, n.URL())
	}
	return urls
}

// KillNode stops a specific relay
func (c *Cluster) KillNode(nodeID string) error {
	node := c.GetNode(nodeID)
	if node == nil {
		return fmt.Errorf("node %s not found", nodeID)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	node.Stop()
	return nil
}

// RestartNode restarts a specific relay on its previous addresses with its
// previous database
func (c *Cluster) RestartNode(ctx context.Context, nodeID string) error {
	node := c.GetNode(nodeID)
	if node == nil {
		return fmt.Errorf("node %s not found", nodeID)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	node.Stop()
	if err := c.start(ctx, node); err != nil {
		return fmt.Errorf("node %s failed to restart: %w", nodeID, err)
	}
	return nil
}
