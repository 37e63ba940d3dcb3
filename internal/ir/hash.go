package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainGraph = "memsched/graph/v1"
	DomainPlan  = "memsched/plan/v1"
)

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// GraphDigest identifies a pass input: the graph and the configuration it is
// scheduled under. Two runs with the same digest must produce the same plan.
func GraphDigest(g *Graph, cfg Config) (string, error) {
	input := struct {
		Graph     *Graph `json:"graph"`
		Config    Config `json:"config"`
		IRVersion string `json:"ir_version"`
	}{g, cfg, IRVersion}

	canonical, err := MarshalCanonical(input)
	if err != nil {
		return "", fmt.Errorf("GraphDigest: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainGraph, canonical), nil
}

// PlanDigest fingerprints a plan. Schedules and address assignments that are
// byte-identical hash identically.
func PlanDigest(p *Plan) (string, error) {
	canonical, err := MarshalCanonical(p)
	if err != nil {
		return "", fmt.Errorf("PlanDigest: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainPlan, canonical), nil
}

// MustPlanDigest is like PlanDigest but panics on error.
// Use only in tests or when the plan is known to be well formed.
func MustPlanDigest(p *Plan) string {
	d, err := PlanDigest(p)
	if err != nil {
		panic(err)
	}
	return d
}
