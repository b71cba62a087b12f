package store

import (
	"fmt"
	"strings"

	"github.com/abdelilah771/devsecops-pipeline/internal/model"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Dedupe policies for repeated deliveries of the same run
const (
	DedupeNone        = "none"
	DedupeFingerprint = "fingerprint"
)

// DefaultDedupeSize is the number of fingerprints remembered
const DefaultDedupeSize = 10000

// Deduper drops findings already emitted for the same run, event, evidence
// source and category. A nil Deduper passes everything through.
type Deduper struct {
	seen *lru.Cache[string, struct{}]
}

// NewDeduper creates a deduper for policy. DedupeNone returns nil.
func NewDeduper(policy string, size int) (*Deduper, error) {
	switch policy {
	case "", DedupeNone:
		return nil, nil
	case DedupeFingerprint:
	default:
		return nil, fmt.Errorf("unknown dedupe policy %q", policy)
	}

	if size <= 0 {
		size = DefaultDedupeSize
	}
	cache, err := lru.New[string, struct{}](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create dedupe cache: %w", err)
	}
	return &Deduper{seen: cache}, nil
}

// Fingerprint identifies a finding independently of its generated ID
func Fingerprint(v model.Vulnerability) string {
	return strings.Join([]string{v.RunID, v.Location.EventID, v.Evidence.Source(), v.OWASPCategory}, "|")
}

// Filter returns the findings not emitted by an earlier pass and remembers
// them. Identical findings within one pass are all kept.
func (d *Deduper) Filter(vulns []model.Vulnerability) []model.Vulnerability {
	if d == nil {
		return vulns
	}
	out := make([]model.Vulnerability, 0, len(vulns))
	fresh := make([]string, 0, len(vulns))
	for _, v := range vulns {
		fp := Fingerprint(v)
		if d.seen.Contains(fp) {
			continue
		}
		fresh = append(fresh, fp)
		out = append(out, v)
	}
	for _, fp := range fresh {
		d.seen.Add(fp, struct{}{})
	}
	return out
}

// Len returns the number of remembered fingerprints
func (d *Deduper) Len() int {
	if d == nil {
		return 0
	}
	return d.seen.Len()
}
