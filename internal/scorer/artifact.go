package scorer

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"slices"
	"strconv"
	"strings"
	"unicode"

	"github.com/abdelilah771/devsecops-pipeline/internal/features"
	"github.com/spaolacci/murmur3"
)

// Artifact file names inside the model directory
const (
	Phase1File = "phase1.json"
	Phase2File = "phase2.json"
)

// DefaultModelName is reported in evidence when the artifact carries no name
const DefaultModelName = "SafeOps-LogMiner AI"

// knownNumeric holds the numeric feature names a model may weight
var knownNumeric = (features.Vector{}).Numeric()

// LinearModel is a linear scorer over the extracted features.
// Text is hashed into HashBuckets buckets with murmur3; Tokens holds the
// weight of each non-zero bucket, keyed by bucket index.
type LinearModel struct {
	Intercept   float64            `json:"intercept"`
	Numeric     map[string]float64 `json:"numeric"`
	Providers   map[string]float64 `json:"providers"`
	HashBuckets int                `json:"hash_buckets"`
	Tokens      map[string]float64 `json:"tokens"`

	numericKeys  []string
	tokenWeights map[uint32]float64
}

// bucketCount is the term count of one hash bucket
type bucketCount struct {
	bucket uint32
	count  float64
}

// Phase1Artifact is the binary risk classifier
type Phase1Artifact struct {
	Name      string      `json:"name"`
	Threshold float64     `json:"threshold"`
	Model     LinearModel `json:"model"`
}

// Phase2Artifact is the multi-class category classifier
type Phase2Artifact struct {
	Classes []string      `json:"classes"`
	Models  []LinearModel `json:"models"`
}

// compile validates the model and resolves bucket keys
func (m *LinearModel) compile() error {
	if m.HashBuckets < 0 {
		return fmt.Errorf("hash_buckets must not be negative")
	}
	if len(m.Tokens) > 0 && m.HashBuckets == 0 {
		return fmt.Errorf("tokens given without hash_buckets")
	}
	m.numericKeys = make([]string, 0, len(m.Numeric))
	for name := range m.Numeric {
		if _, known := knownNumeric[name]; !known {
			return fmt.Errorf("unknown numeric feature %q", name)
		}
		m.numericKeys = append(m.numericKeys, name)
	}
	slices.Sort(m.numericKeys)

	m.tokenWeights = make(map[uint32]float64, len(m.Tokens))
	for key, w := range m.Tokens {
		bucket, err := strconv.ParseUint(key, 10, 32)
		if err != nil {
			return fmt.Errorf("invalid token bucket %q: %w", key, err)
		}
		if int(bucket) >= m.HashBuckets {
			return fmt.Errorf("token bucket %d out of range [0,%d)", bucket, m.HashBuckets)
		}
		m.tokenWeights[uint32(bucket)] = w
	}
	return nil
}

// decision returns the raw linear score for v. Terms are summed in a fixed
// order so repeated calls give bit-identical results.
func (m *LinearModel) decision(v features.Vector) float64 {
	z := m.Intercept
	numeric := v.Numeric()
	for _, name := range m.numericKeys {
		z += m.Numeric[name] * numeric[name]
	}
	z += m.Providers[strings.ToLower(v.Provider)]

	if m.HashBuckets > 0 && len(m.tokenWeights) > 0 {
		counts := hashTokens(v.Text, uint32(m.HashBuckets))
		norm := 0.0
		for _, bc := range counts {
			norm += bc.count * bc.count
		}
		if norm > 0 {
			norm = math.Sqrt(norm)
			for _, bc := range counts {
				z += m.tokenWeights[bc.bucket] * bc.count / norm
			}
		}
	}
	return z
}

// hashTokens counts lowercase alphanumeric tokens per murmur3 bucket,
// ordered by bucket
func hashTokens(text string, buckets uint32) []bucketCount {
	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	index := make(map[uint32]int, len(tokens))
	counts := make([]bucketCount, 0, len(tokens))
	for _, tok := range tokens {
		b := murmur3.Sum32([]byte(tok)) % buckets
		if i, ok := index[b]; ok {
			counts[i].count++
			continue
		}
		index[b] = len(counts)
		counts = append(counts, bucketCount{bucket: b, count: 1})
	}
	slices.SortFunc(counts, func(a, b bucketCount) int {
		switch {
		case a.bucket < b.bucket:
			return -1
		case a.bucket > b.bucket:
			return 1
		}
		return 0
	})
	return counts
}

// Bucket returns the hash bucket a token falls into. Training tooling uses it
// to produce the Tokens map.
func Bucket(token string, buckets int) uint32 {
	return murmur3.Sum32([]byte(strings.ToLower(token))) % uint32(buckets)
}

func readPhase1(path string) (*Phase1Artifact, error) {
	var a Phase1Artifact
	if err := readJSON(path, &a); err != nil {
		return nil, err
	}
	if err := a.Model.compile(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if a.Threshold < 0 || a.Threshold > 1 {
		return nil, fmt.Errorf("%s: threshold must be between 0.0 and 1.0", path)
	}
	if a.Name == "" {
		a.Name = DefaultModelName
	}
	return &a, nil
}

func readPhase2(path string) (*Phase2Artifact, error) {
	var a Phase2Artifact
	if err := readJSON(path, &a); err != nil {
		return nil, err
	}
	if len(a.Classes) == 0 {
		return nil, fmt.Errorf("%s: no classes defined", path)
	}
	if len(a.Models) == 0 {
		return nil, fmt.Errorf("%s: no class models defined", path)
	}
	for i := range a.Models {
		if err := a.Models[i].compile(); err != nil {
			return nil, fmt.Errorf("%s: model %d: %w", path, i, err)
		}
	}
	return &a, nil
}

func readJSON(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read model artifact: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode model artifact %s: %w", path, err)
	}
	return nil
}
