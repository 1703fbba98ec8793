package discovery

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"

	"sigs.k8s.io/yaml"

	"github.com/AdalynJs/nucypher/pkg/models"
)

// SeedManifest lists nodes known before any of them has announced itself.
type SeedManifest struct {
	Nodes []SeedNode `json:"nodes" yaml:"nodes"`
}

// SeedNode is one manifest entry. Keys are hex encoded.
type SeedNode struct {
	InterfaceKey string `json:"interface_key" yaml:"interface_key"`
	PublicKey    string `json:"public_key" yaml:"public_key"`
	Endpoint     string `json:"endpoint" yaml:"endpoint"`
}

// LoadSeedNodes reads a YAML or JSON seed manifest.
func LoadSeedNodes(path string) ([]models.NodeInfo, error) {
	if path == "" {
		return nil, fmt.Errorf("seed manifest path is empty")
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed manifest: %w", err)
	}

	var manifest SeedManifest
	if err := yaml.Unmarshal(content, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse seed manifest: %w", err)
	}

	nodes := make([]models.NodeInfo, 0, len(manifest.Nodes))
	for i, seed := range manifest.Nodes {
		node, err := seed.nodeInfo()
		if err != nil {
			return nil, fmt.Errorf("seed node %d: %w", i, err)
		}
		nodes = append(nodes, node)
	}
	return nodes, nil
}

func (s SeedNode) nodeInfo() (models.NodeInfo, error) {
	iface, err := hex.DecodeString(s.InterfaceKey)
	if err != nil {
		return models.NodeInfo{}, fmt.Errorf("%w: interface_key: %v", models.ErrMalformedPayload, err)
	}
	pub, err := hex.DecodeString(s.PublicKey)
	if err != nil {
		return models.NodeInfo{}, fmt.Errorf("%w: public_key: %v", models.ErrMalformedPayload, err)
	}
	node := models.NodeInfo{InterfaceKey: iface, PublicKey: pub, Endpoint: s.Endpoint}
	return node, validateNode(node)
}

// Seed registers every node. Failures are collected so one bad entry does
// not hide the rest.
func Seed(ctx context.Context, registry NodeRegistry, nodes []models.NodeInfo) error {
	var errs []error
	for _, node := range nodes {
		if err := registry.Register(ctx, node); err != nil {
			errs = append(errs, fmt.Errorf("seed %s: %w", node.ID(), err))
		}
	}
	return errors.Join(errs...)
}
