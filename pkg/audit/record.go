package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// Record is one row of the audit_events table
type Record struct {
	ID         int64
	OccurredAt time.Time
	ActorID    *string
	ActorEmail *string
	ActorRoles []string
	Action     string
	TargetType string
	TargetID   string
	Resource   string
	SourceIP   string
	UserAgent  string
	// Metadata is the JSON text stored with the row
	Metadata   string
	PrevHash   string
	RecordHash string
}

// hashInput fixes the field order and encoding that record hashes cover
type hashInput struct {
	OccurredAt string   `json:"occurred_at"`
	ActorID    *string  `json:"actor_id"`
	ActorEmail *string  `json:"actor_email"`
	ActorRoles []string `json:"actor_roles"`
	Action     string   `json:"action"`
	TargetType string   `json:"target_type"`
	TargetID   string   `json:"target_id"`
	Resource   string   `json:"resource"`
	SourceIP   string   `json:"source_ip"`
	UserAgent  string   `json:"user_agent"`
	Metadata   string   `json:"metadata"`
	PrevHash   string   `json:"prev_hash"`
}

// computeRecordHash returns the hex SHA-256 over every field but ID and RecordHash
func computeRecordHash(r *Record) (string, error) {
	roles := r.ActorRoles
	if roles == nil {
		roles = []string{}
	}
	data, err := json.Marshal(hashInput{
		OccurredAt: r.OccurredAt.UTC().Format(time.RFC3339Nano),
		ActorID:    r.ActorID,
		ActorEmail: r.ActorEmail,
		ActorRoles: roles,
		Action:     r.Action,
		TargetType: r.TargetType,
		TargetID:   r.TargetID,
		Resource:   r.Resource,
		SourceIP:   r.SourceIP,
		UserAgent:  r.UserAgent,
		Metadata:   r.Metadata,
		PrevHash:   r.PrevHash,
	})
	if err != nil {
		return "", fmt.Errorf("marshal hash input: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// encodeMetadata renders metadata as JSON text; map keys are emitted sorted
func encodeMetadata(meta map[string]any) (string, error) {
	if len(meta) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
