package proxy

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Fetcher retrieves the raw body of one source URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Prober routes a single request through the candidate and reports what came back.
type Prober interface {
	Probe(ctx context.Context, candidate Candidate, proxyType Type) (ProbeResult, error)
}

// CountryResolver maps an IP to an ISO country code.
type CountryResolver interface {
	ResolveCountry(ctx context.Context, ip string) (string, error)
}

// AnonymityResolver derives an anonymity level from probe evidence.
type AnonymityResolver interface {
	ResolveAnonymity(ctx context.Context, evidence ProbeResult) (Anonymity, error)
}

// Store persists validated proxies keyed by (ip, port).
type Store interface {
	Upsert(ctx context.Context, rec Record) error
	All(ctx context.Context) ([]Record, error)
	Close() error
}

// Gate blocks callers while the run is paused.
type Gate interface {
	Wait(ctx context.Context) error
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run identifiers.
type IDGenerator interface {
	NewRunID() (uuid.UUID, error)
}
