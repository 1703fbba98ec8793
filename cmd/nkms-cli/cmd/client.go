package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/AdalynJs/nucypher/config"
	"github.com/AdalynJs/nucypher/pkg/discovery"
	"github.com/AdalynJs/nucypher/pkg/identity"
	"github.com/AdalynJs/nucypher/pkg/models"
	"github.com/AdalynJs/nucypher/pkg/network"
	"github.com/AdalynJs/nucypher/pkg/policy"
)

// APIClient reads the JSON endpoints of proxy nodes
type APIClient struct {
	HTTPClient *http.Client
	Token      string
}

// NewAPIClient creates a new API client
func NewAPIClient(timeout time.Duration) *APIClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &APIClient{HTTPClient: &http.Client{Timeout: timeout}}
}

// Get fetches baseURL+path and decodes the JSON answer into v
func (c *APIClient) Get(ctx context.Context, baseURL, path string, v interface{}) error {
	url := strings.TrimRight(baseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", network.ContentTypeJSON)
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	if verbose {
		fmt.Fprintf(debugWriter, "→ GET %s\n", url)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	if verbose {
		fmt.Fprintf(debugWriter, "← %s %s\n", resp.Status, resp.Proto)
	}
	if err := CheckResponse(resp); err != nil {
		return err
	}

	body, err := ReadResponseBody(resp)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// NodeInfo asks the node at baseURL to describe itself. The returned
// endpoint is baseURL, which is how this client reaches the node.
func (c *APIClient) NodeInfo(ctx context.Context, baseURL string) (models.NodeInfo, error) {
	var info models.NodeInfo
	if err := c.Get(ctx, baseURL, network.NodePath, &info); err != nil {
		return info, fmt.Errorf("node %s: %w", baseURL, err)
	}
	info.Endpoint = strings.TrimRight(baseURL, "/")
	return info, nil
}

// ReadResponseBody reads and closes the response body
func ReadResponseBody(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

// CheckResponse checks for API errors in the response
func CheckResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	body, err := ReadResponseBody(resp)
	if err != nil {
		return fmt.Errorf("HTTP %d: failed to read error response", resp.StatusCode)
	}

	var errorResp struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &errorResp); err != nil || errorResp.Error == "" {
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return fmt.Errorf("HTTP %d: %s", resp.StatusCode, errorResp.Error)
}

// session is what a command needs to talk to the proxy network.
type session struct {
	cfg      *config.Config
	registry discovery.NodeRegistry
	client   *network.NodeClient
	close    func() error
}

// openSession connects to the nodes given with --node, or to the configured
// discovery backend. Treasure maps go to the Redis directory when there is
// one and are pushed to the proxies otherwise.
func openSession(ctx context.Context) (*session, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	transport := network.NewHTTPTransport(cfg.Negotiation.CallTimeout)

	if len(nodeURLs) > 0 {
		registry := discovery.NewInMemoryStore(0)
		api := NewAPIClient(cfg.Negotiation.CallTimeout)
		for _, u := range nodeURLs {
			info, err := api.NodeInfo(ctx, u)
			if err != nil {
				return nil, err
			}
			if err := registry.Register(ctx, info); err != nil {
				return nil, err
			}
		}
		return &session{
			cfg:      cfg,
			registry: registry,
			client:   network.NewNodeClient(registry, nil, transport),
			close:    registry.Close,
		}, nil
	}

	backend, err := discovery.Open(cfg.Discovery)
	if err != nil {
		return nil, fmt.Errorf("failed to open discovery backend: %w", err)
	}
	if cfg.Discovery.SeedFile != "" {
		seeds, err := discovery.LoadSeedNodes(cfg.Discovery.SeedFile)
		if err == nil {
			err = discovery.Seed(ctx, backend, seeds)
		}
		if err != nil {
			backend.Close()
			return nil, err
		}
	}

	var store discovery.MapStore
	if strings.EqualFold(cfg.Discovery.Type, "redis") {
		store = discovery.WithValidator(backend, policy.ValidateTreasureMapRecord)
	}
	return &session{
		cfg:      cfg,
		registry: backend,
		client:   network.NewNodeClient(backend, store, transport),
		close:    backend.Close,
	}, nil
}

// loadCharacter reads the secret key named by --key.
func loadCharacter(ctx context.Context, name string) (*identity.Character, error) {
	return identity.NewLoader().Load(ctx, config.IdentityConfig{
		Name:      name,
		KeySource: identity.KeySourceFile,
		KeyFile:   keyFile,
	})
}
