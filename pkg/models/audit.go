package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EntityType represents the type of entity being audited
type EntityType string

const (
	EntityTypeArrangement EntityType = "arrangement"
	EntityTypeTreasureMap EntityType = "treasure_map"
	EntityTypeWorkOrder   EntityType = "work_order"
)

// AuditAction represents the action being audited
type AuditAction string

const (
	AuditActionAccept AuditAction = "accept"
	AuditActionReject AuditAction = "reject"
	AuditActionEnact  AuditAction = "enact"
	AuditActionRevoke AuditAction = "revoke"
	AuditActionExpire AuditAction = "expire"
	AuditActionServe  AuditAction = "serve"
	AuditActionStore  AuditAction = "store"
	AuditActionDenied AuditAction = "denied"
)

// AuditLog records a node-side protocol event. Actor is the hex public key of
// the owner or recipient that triggered it.
type AuditLog struct {
	ID         uuid.UUID              `json:"id" db:"id"`
	EntityType EntityType             `json:"entity_type" db:"entity_type"`
	EntityID   *uuid.UUID             `json:"entity_id,omitempty" db:"entity_id"`
	Action     AuditAction            `json:"action" db:"action"`
	Actor      string                 `json:"actor" db:"actor"`
	HRAC       string                 `json:"hrac,omitempty" db:"hrac"`
	Details    map[string]interface{} `json:"details,omitempty" db:"details"`
	Timestamp  time.Time              `json:"timestamp" db:"timestamp"`
	RemoteAddr string                 `json:"remote_addr,omitempty" db:"remote_addr"`
}

// CreateAuditLogRequest represents a request to create an audit log entry
type CreateAuditLogRequest struct {
	EntityType EntityType
	EntityID   *uuid.UUID
	Action     AuditAction
	Actor      string
	HRAC       string
	Details    map[string]interface{}
	RemoteAddr string
}

// ListAuditLogsRequest represents query parameters for listing audit logs
type ListAuditLogsRequest struct {
	EntityType *EntityType  `form:"entity_type"`
	Action     *AuditAction `form:"action"`
	HRAC       string       `form:"hrac"`
	Since      *time.Time   `form:"since"`
	Limit      int          `form:"limit"`
	Offset     int          `form:"offset"`
}

// ToAuditLog converts CreateAuditLogRequest to AuditLog
func (r *CreateAuditLogRequest) ToAuditLog() *AuditLog {
	return &AuditLog{
		ID:         uuid.New(),
		EntityType: r.EntityType,
		EntityID:   r.EntityID,
		Action:     r.Action,
		Actor:      r.Actor,
		HRAC:       r.HRAC,
		Details:    r.Details,
		Timestamp:  time.Now().UTC(),
		RemoteAddr: r.RemoteAddr,
	}
}

// MarshalJSON customizes JSON serialization
func (a *AuditLog) MarshalJSON() ([]byte, error) {
	type Alias AuditLog
	return json.Marshal(&struct {
		*Alias
		ID       string  `json:"id"`
		EntityID *string `json:"entity_id,omitempty"`
	}{
		Alias:    (*Alias)(a),
		ID:       a.ID.String(),
		EntityID: uuidPtrToStringPtr(a.EntityID),
	})
}

func uuidPtrToStringPtr(id *uuid.UUID) *string {
	if id == nil {
		return nil
	}
	s := id.String()
	return &s
}
