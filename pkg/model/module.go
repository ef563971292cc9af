package model

import "time"

// Module is a persisted module source, keyed by its content hash.
type Module struct {
	Hash      string    `json:"hash"`
	Name      string    `json:"name"`
	Source    string    `json:"source,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
