package ursula

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/AdalynJs/nucypher/config"
	"github.com/AdalynJs/nucypher/pkg/discovery"
	"github.com/AdalynJs/nucypher/pkg/identity"
	"github.com/AdalynJs/nucypher/pkg/network"
	"github.com/AdalynJs/nucypher/pkg/repository"
	"github.com/AdalynJs/nucypher/pkg/repository/memory"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testNode struct {
	char   *identity.Character
	server *Server
	repo   *repository.Repository
	maps   *discovery.InMemoryStore
	http   *httptest.Server
}

func testAcceptance(t *testing.T) *AcceptancePolicy {
	t.Helper()
	acceptance, err := NewAcceptancePolicy(context.Background(), config.AcceptanceConfig{MinDeposit: 5})
	require.NoError(t, err)
	return acceptance
}

func newTestNode(t *testing.T, name string) *testNode {
	t.Helper()
	char := identity.NewCharacter(name)
	repo := memory.NewRepository()
	maps := discovery.NewInMemoryStore(0)

	srv := NewServer(char, repo, maps, testAcceptance(t), &config.Config{})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	srv.endpoint = ts.URL

	return &testNode{char: char, server: srv, repo: repo, maps: maps, http: ts}
}

// do sends a raw request through the node's router.
func (n *testNode) do(method, path string, body []byte) *httptest.ResponseRecorder {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	w := httptest.NewRecorder()
	n.server.Handler().ServeHTTP(w, httptest.NewRequest(method, path, r))
	return w
}

type cluster struct {
	nodes    []*testNode
	registry *discovery.InMemoryStore
	client   *network.NodeClient
}

// newCluster starts n nodes announced in a shared registry. Treasure maps
// are pushed to the nodes rather than a shared store.
func newCluster(t *testing.T, n int) *cluster {
	t.Helper()
	c := &cluster{registry: discovery.NewInMemoryStore(0)}
	for i := range n {
		node := newTestNode(t, fmt.Sprintf("ursula-%d", i))
		require.NoError(t, c.registry.Register(context.Background(), node.server.NodeInfo()))
		c.nodes = append(c.nodes, node)
	}
	c.client = network.NewNodeClient(c.registry, nil, network.NewHTTPTransport(5*time.Second))
	return c
}

func testNegotiationConfig() config.NegotiationConfig {
	return config.NegotiationConfig{
		MaxAttempts:       2,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        2 * time.Millisecond,
		Rounds:            2,
		MaxConcurrency:    4,
		DefaultExpiration: 24 * time.Hour,
		DefaultDeposit:    10,
	}
}
