package models

import (
	"errors"
	"time"
)

// GenerationRequest asks for trickplay generation of one item or a full batch
type GenerationRequest struct {
	ID          string    `json:"id"`
	ItemID      string    `json:"item_id,omitempty"`
	Kind        string    `json:"kind"`
	Replace     bool      `json:"replace"`
	Priority    int       `json:"priority"`
	Source      string    `json:"source"`
	RequestedAt time.Time `json:"requested_at"`
}

// RequestKind constants
const (
	RequestKindItem  = "item"
	RequestKindBatch = "batch"
)

// RequestSource constants
const (
	RequestSourceOnDemand = "ondemand"
	RequestSourceQueue    = "queue"
	RequestSourceAPI      = "api"
)

// RequestPriority constants
const (
	RequestPriorityLow    = 0
	RequestPriorityNormal = 5
	RequestPriorityHigh   = 10
)

// Validate checks that the request can be dispatched
func (r *GenerationRequest) Validate() error {
	switch r.Kind {
	case RequestKindItem:
		if r.ItemID == "" {
			return errors.New("item request without item_id")
		}
	case RequestKindBatch:
	default:
		return errors.New("unknown request kind: " + r.Kind)
	}
	return nil
}
