// Package proxy defines the domain types shared by the harvest and validate pipeline.
package proxy

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// Type labels the relay protocol a candidate is probed with.
type Type string

// Supported proxy types.
const (
	TypeHTTP   Type = "HTTP"
	TypeHTTPS  Type = "HTTPS"
	TypeSOCKS4 Type = "SOCKS4"
	TypeSOCKS5 Type = "SOCKS5"
	TypeAll    Type = "All"
)

// ParseType resolves a case-insensitive proxy type name.
func ParseType(raw string) (Type, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "HTTP":
		return TypeHTTP, nil
	case "HTTPS":
		return TypeHTTPS, nil
	case "SOCKS4":
		return TypeSOCKS4, nil
	case "SOCKS5":
		return TypeSOCKS5, nil
	case "ALL":
		return TypeAll, nil
	default:
		return "", fmt.Errorf("unknown proxy type %q", raw)
	}
}

// Label is the type recorded on validated proxies. All is probed and labelled as HTTP.
func (t Type) Label() Type {
	if t == TypeAll {
		return TypeHTTP
	}
	return t
}

// Category is the latency bucket of a validated proxy.
type Category string

// Latency categories.
const (
	CategoryFast   Category = "fast"
	CategoryMedium Category = "medium"
	CategorySlow   Category = "slow"
)

// Anonymity describes how much of the client a proxy reveals upstream.
type Anonymity string

// Anonymity levels.
const (
	AnonymityElite       Anonymity = "elite"
	AnonymityAnonymous   Anonymity = "anonymous"
	AnonymityTransparent Anonymity = "transparent"
	AnonymityUnknown     Anonymity = "unknown"
)

// CountryUnknown is recorded when the country resolver fails.
const CountryUnknown = "unknown"

// Record is a validated proxy. Its natural key is (IP, Port).
type Record struct {
	IP        string    `json:"ip" yaml:"ip"`
	Port      int       `json:"port" yaml:"port"`
	Type      Type      `json:"type" yaml:"type"`
	LatencyMs int64     `json:"response_time" yaml:"response_time"`
	Category  Category  `json:"category" yaml:"category"`
	Country   string    `json:"country" yaml:"country"`
	Anonymity Anonymity `json:"anonymity_level" yaml:"anonymity_level"`
	CheckedAt time.Time `json:"last_checked" yaml:"last_checked"`
}

// Key returns the ip:port identity of the record.
func (r Record) Key() string {
	return net.JoinHostPort(r.IP, strconv.Itoa(r.Port))
}

// Phase is the pipeline lifecycle position.
type Phase string

// Pipeline phases.
const (
	PhaseIdle       Phase = "Idle"
	PhaseHarvesting Phase = "Harvesting"
	PhaseValidating Phase = "Validating"
	PhaseStopped    Phase = "Stopped"
)

// Active reports whether work is in progress for the phase.
func (p Phase) Active() bool {
	return p == PhaseHarvesting || p == PhaseValidating
}

// RunState is a point-in-time copy of the controller's run bookkeeping.
type RunState struct {
	RunID           string     `json:"run_id,omitempty"`
	Phase           Phase      `json:"phase"`
	Paused          bool       `json:"paused"`
	CandidatesFound int        `json:"candidates_found"`
	CheckedCount    int        `json:"checked_count"`
	ValidatedCount  int        `json:"validated_count"`
	PersistErrors   int        `json:"persist_errors"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	FinishedAt      *time.Time `json:"finished_at,omitempty"`
}

// ProbeResult carries the evidence collected by a successful probe.
type ProbeResult struct {
	Latency    time.Duration
	StatusCode int
	Header     map[string][]string
	Body       []byte
}
