package storage

import (
	"errors"
	"fmt"
	"time"

	"taskguidance/internal/activity"
)

var ErrClosed = errors.New("storage closed")

// Config configures storage. An empty Driver or "none" disables it.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	// MaxRecords caps the ledger size. Older records are pruned. 0 means
	// DefaultMaxRecords; negative disables pruning.
	MaxRecords int
}

const DefaultMaxRecords = 10000

// Record is the persisted form of an activity.
type Record struct {
	At          time.Time         `json:"at"`
	Subject     string            `json:"subject"`
	Event       string            `json:"event"`
	Level       string            `json:"level"`
	Description string            `json:"desc,omitempty"`
	Params      map[string]string `json:"params,omitempty"`
}

// FromActivity flattens a into a Record. Param values are rendered as text.
func FromActivity(a activity.Activity) Record {
	r := Record{
		At:          a.Time,
		Subject:     a.Subject,
		Event:       a.Event,
		Level:       a.Level.String(),
		Description: a.Description,
	}
	if r.At.IsZero() {
		r.At = time.Now()
	}
	if len(a.Params) > 0 {
		r.Params = make(map[string]string, len(a.Params))
		for _, p := range a.Params {
			switch v := p.Value.(type) {
			case error:
				r.Params[p.Key] = v.Error()
			case string:
				r.Params[p.Key] = v
			default:
				r.Params[p.Key] = fmt.Sprint(v)
			}
		}
	}
	return r
}
