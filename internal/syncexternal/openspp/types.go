// Package openspp is the reference ExternalSyncAdapter (spec.md §4.7):
// push batches hierarchical root/household/individual records and
// creates them in dependency order; pull converts remote records into
// synthetic create-* events routed through the Event Applier.
package openspp

import (
	"context"
	"time"
)

// Record is one remote OpenSPP record, either read back via FetchChanges
// or the shape CreateRecord sends.
type Record struct {
	ExternalID       string
	Kind             string // "root", "household", "individual"
	ParentExternalID string
	Data             map[string]any
	WriteDate        time.Time
}

// Client is what the adapter needs from the OpenSPP HTTP API. httpClient
// (client.go) is the concrete implementation; tests use a fake.
type Client interface {
	Login(ctx context.Context, credentials map[string]string) (token string, err error)
	CreateRecord(ctx context.Context, token string, rec Record) (externalID string, err error)
	FetchChanges(ctx context.Context, token string, since time.Time) ([]Record, error)
}
