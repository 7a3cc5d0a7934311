package proxy

import (
	"errors"
	"fmt"
	"net"
	"strconv"
)

// ErrInvalidCandidate is returned for addresses that are not host:port.
var ErrInvalidCandidate = errors.New("invalid candidate address")

// Candidate is an unvalidated host:port string harvested from a source.
type Candidate string

// Split parses the candidate into host and port.
func (c Candidate) Split() (string, int, error) {
	host, rawPort, err := net.SplitHostPort(string(c))
	if err != nil {
		return "", 0, fmt.Errorf("%w: %q: %v", ErrInvalidCandidate, string(c), err)
	}
	if net.ParseIP(host) == nil {
		return "", 0, fmt.Errorf("%w: %q: bad ip", ErrInvalidCandidate, string(c))
	}
	port, err := strconv.Atoi(rawPort)
	if err != nil || port < 1 || port > 65535 {
		return "", 0, fmt.Errorf("%w: %q: bad port", ErrInvalidCandidate, string(c))
	}
	return host, port, nil
}

// CandidateSet is an insertion-ordered set of candidates. It is not safe for
// concurrent use; the harvester merges batch results from a single goroutine.
type CandidateSet struct {
	seen  map[Candidate]struct{}
	order []Candidate
}

// NewCandidateSet returns an empty set.
func NewCandidateSet() *CandidateSet {
	return &CandidateSet{seen: make(map[Candidate]struct{})}
}

// Add inserts c and reports whether it was new.
func (s *CandidateSet) Add(c Candidate) bool {
	if _, ok := s.seen[c]; ok {
		return false
	}
	s.seen[c] = struct{}{}
	s.order = append(s.order, c)
	return true
}

// Contains reports membership.
func (s *CandidateSet) Contains(c Candidate) bool {
	_, ok := s.seen[c]
	return ok
}

// Len returns the number of distinct candidates.
func (s *CandidateSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.order)
}

// Slice returns the candidates in first-seen order.
func (s *CandidateSet) Slice() []Candidate {
	if s == nil {
		return nil
	}
	return append([]Candidate(nil), s.order...)
}
