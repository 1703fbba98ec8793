package models

import (
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ArrangementStatus is the proxy-side view of a contract
type ArrangementStatus string

const (
	ArrangementAccepted ArrangementStatus = "accepted"
	ArrangementEnacted  ArrangementStatus = "enacted"
	ArrangementRevoked  ArrangementStatus = "revoked"
	ArrangementExpired  ArrangementStatus = "expired"
)

// Arrangement is what a proxy stores for a contract it accepted. KFrag is
// empty until the owner enacts the policy.
type Arrangement struct {
	ID         uuid.UUID         `json:"id" db:"id"`
	HRAC       []byte            `json:"hrac" db:"hrac"`
	PolicyID   []byte            `json:"policy_id" db:"policy_id"`
	OwnerKey   []byte            `json:"owner_key" db:"owner_key"`
	KFrag      []byte            `json:"-" db:"kfrag"`
	Status     ArrangementStatus `json:"status" db:"status"`
	Deposit    int64             `json:"deposit" db:"deposit"`
	Expiration time.Time         `json:"expiration" db:"expiration"`
	CreatedAt  time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at" db:"updated_at"`
}

// IsExpired checks if the arrangement has passed its expiration
func (a *Arrangement) IsExpired(now time.Time) bool {
	return !a.Expiration.IsZero() && now.After(a.Expiration)
}

// IsServable reports whether work orders may be honored against this arrangement.
func (a *Arrangement) IsServable(now time.Time) bool {
	return a.Status == ArrangementEnacted && len(a.KFrag) > 0 && !a.IsExpired(now)
}

// MarshalJSON renders byte fields as hex
func (a *Arrangement) MarshalJSON() ([]byte, error) {
	type Alias Arrangement
	return json.Marshal(&struct {
		*Alias
		ID       string `json:"id"`
		HRAC     string `json:"hrac"`
		PolicyID string `json:"policy_id"`
		OwnerKey string `json:"owner_key"`
		HasKFrag bool   `json:"has_kfrag"`
	}{
		Alias:    (*Alias)(a),
		ID:       a.ID.String(),
		HRAC:     hex.EncodeToString(a.HRAC),
		PolicyID: hex.EncodeToString(a.PolicyID),
		OwnerKey: hex.EncodeToString(a.OwnerKey),
		HasKFrag: len(a.KFrag) > 0,
	})
}
