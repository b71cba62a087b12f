package store

import (
	"testing"

	"github.com/abdelilah771/devsecops-pipeline/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDeduper(t *testing.T) {
	d, err := NewDeduper(DedupeNone, 10)
	require.NoError(t, err)
	assert.Nil(t, d)

	d, err = NewDeduper("", 10)
	require.NoError(t, err)
	assert.Nil(t, d)

	_, err = NewDeduper("exact", 10)
	assert.Error(t, err)

	d, err = NewDeduper(DedupeFingerprint, 0)
	require.NoError(t, err)
	assert.NotNil(t, d)
}

func TestDeduper_NilPassesThrough(t *testing.T) {
	var d *Deduper
	vulns := sampleVulns()

	assert.Equal(t, vulns, d.Filter(vulns))
	assert.Equal(t, vulns, d.Filter(vulns))
	assert.Equal(t, 0, d.Len())
}

func TestDeduper_FiltersRepeatedRun(t *testing.T) {
	d, err := NewDeduper(DedupeFingerprint, 100)
	require.NoError(t, err)

	first := d.Filter(sampleVulns())
	assert.Len(t, first, 2)

	// a redelivery produces the same findings under fresh IDs
	again := sampleVulns()
	again[0].VulnID = "v1-retry"
	again[1].VulnID = "v2-retry"
	assert.Empty(t, d.Filter(again))

	other := sampleVulns()
	other[0].RunID = "run-2"
	kept := d.Filter(other)
	require.Len(t, kept, 1)
	assert.Equal(t, "run-2", kept[0].RunID)
	assert.Equal(t, 3, d.Len())
}

func TestDeduper_KeepsDuplicatesWithinOnePass(t *testing.T) {
	d, err := NewDeduper(DedupeFingerprint, 100)
	require.NoError(t, err)

	// a pattern rule sharing a built-in rule name fires on the same event
	twin := sampleVulns()[0]
	twin.VulnID = "v1-twin"
	pass := append(sampleVulns(), twin)

	kept := d.Filter(pass)
	require.Len(t, kept, 3)
	assert.Equal(t, "v1", kept[0].VulnID)
	assert.Equal(t, "v1-twin", kept[2].VulnID)
	assert.Equal(t, 2, d.Len())

	assert.Empty(t, d.Filter(pass))
}

func TestDeduper_EvictsOldest(t *testing.T) {
	d, err := NewDeduper(DedupeFingerprint, 1)
	require.NoError(t, err)

	vulns := sampleVulns()
	assert.Len(t, d.Filter(vulns[:1]), 1)
	assert.Len(t, d.Filter(vulns[1:]), 1)
	assert.Len(t, d.Filter(vulns[:1]), 1)
}

func TestFingerprint(t *testing.T) {
	v := model.Vulnerability{
		VulnID:        "ignored",
		RunID:         "run",
		OWASPCategory: "cat",
		Location:      model.Location{EventID: "e1"},
		Evidence:      model.Evidence{Rule: "rule", Model: "model"},
	}
	assert.Equal(t, "run|e1|model|cat", Fingerprint(v))
}
