package core

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ID represents a domain identifier
type ID string

// NewID creates a new unique identifier using UUID v7 for time-ordered generation
func NewID() ID {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return ID(id.String())
}

// String returns the string representation
func (id ID) String() string {
	return string(id)
}

// IsEmpty checks if the ID is empty
func (id ID) IsEmpty() bool {
	return id == ""
}

// Domain-specific ID types
type (
	EntryID   ID
	RequestID ID
)

func (id EntryID) String() string   { return ID(id).String() }
func (id RequestID) String() string { return ID(id).String() }

// NewRequestID returns a correlation ID for one gateway call.
func NewRequestID() RequestID {
	return RequestID(NewID())
}

// ParseEntryID parses a string into EntryID
func ParseEntryID(s string) (EntryID, error) {
	if strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("history entry ID cannot be empty")
	}
	return EntryID(s), nil
}

// DatasetRef identifies the dataset the gateway should read, usually a path
// or an uploaded filename.
type DatasetRef string

// DefaultDataset is the dataset used before any upload.
const DefaultDataset DatasetRef = "data/raw/ecommerce_data.csv"

func (d DatasetRef) String() string { return string(d) }

// IsEmpty checks if the reference is blank
func (d DatasetRef) IsEmpty() bool {
	return strings.TrimSpace(string(d)) == ""
}

// Base returns the final path element, for display.
func (d DatasetRef) Base() string {
	s := string(d)
	if i := strings.LastIndex(s, "/"); i >= 0 {
		return s[i+1:]
	}
	return s
}
