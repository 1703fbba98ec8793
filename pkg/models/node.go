package models

import (
	"encoding/hex"
	"time"
)

// NodeInfo describes a proxy node as advertised on the discovery network.
// InterfaceKey is the node's discovery identifier, the digest of its public key.
type NodeInfo struct {
	InterfaceKey []byte    `json:"interface_key" codec:"interface_key"`
	PublicKey    []byte    `json:"public_key" codec:"public_key"`
	Endpoint     string    `json:"endpoint" codec:"endpoint"`
	LastSeen     time.Time `json:"last_seen" codec:"last_seen"`
}

// ID returns the hex form of the interface key.
func (n NodeInfo) ID() string {
	return hex.EncodeToString(n.InterfaceKey)
}

// IsZero reports whether no node is described.
func (n NodeInfo) IsZero() bool {
	return len(n.InterfaceKey) == 0 && len(n.PublicKey) == 0
}
