package fixture

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `{
  "description": "two anchors, one query",
  "fingerprint_length": 16,
  "anchors": [
    {"key": "a1", "on_bits": [0, 1, 2], "descriptors": {"delta_gap": 0.1, "delta_volume": null}, "label": "ESIPT"},
    {"key": "a2", "fingerprint_hex": "0f00", "missing": {"emission": true}}
  ],
  "queries": [
    {"key": "q1", "on_bits": []},
    {"key": "q2"}
  ],
  "expected": [{"key": "q1", "verdict": "evidence_insufficient"}]
}`

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o644)
}

func writeSample(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data.json")
	require.NoError(t, writeFile(path, sample))
	return path
}

func TestLoadAndConvert(t *testing.T) {
	d, err := Load(writeSample(t))
	require.NoError(t, err)
	assert.Equal(t, uint(16), d.FingerprintLength)

	anchors, err := d.AnchorMolecules()
	require.NoError(t, err)
	require.Len(t, anchors, 2)

	assert.Equal(t, []uint{0, 1, 2}, anchors[0].Fingerprint.OnBits())
	assert.Equal(t, 0.1, anchors[0].Descriptors["delta_gap"])
	assert.False(t, anchors[0].Descriptors.Has("delta_volume"), "null descriptor is missing")
	assert.Equal(t, []uint{0, 1, 2, 3}, anchors[1].Fingerprint.OnBits())
	assert.True(t, anchors[1].Completeness["emission"])

	queries, err := d.QueryMolecules()
	require.NoError(t, err)
	assert.True(t, queries[0].Resolvable(), "empty on_bits is still a fingerprint")
	assert.Equal(t, uint(0), queries[0].Fingerprint.Count())
	assert.False(t, queries[1].Resolvable())
}

func TestLoadDefaultsLength(t *testing.T) {
	path := filepath.Join(t.TempDir(), "d.json")
	require.NoError(t, writeFile(path, `{"anchors": []}`))
	d, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, uint(2048), d.FingerprintLength)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, writeFile(path, `{`))
	_, err = Load(path)
	assert.Error(t, err)

	path = filepath.Join(t.TempDir(), "bits.json")
	require.NoError(t, writeFile(path, `{"fingerprint_length": 8, "anchors": [{"key": "x", "on_bits": [9]}]}`))
	d, err := Load(path)
	require.NoError(t, err)
	_, err = d.AnchorMolecules()
	assert.Error(t, err, "bit past the declared length")
}

func TestSaveRoundTrip(t *testing.T) {
	d, err := Load(writeSample(t))
	require.NoError(t, err)
	anchors, err := d.AnchorMolecules()
	require.NoError(t, err)

	out := &Dataset{FingerprintLength: d.FingerprintLength}
	for _, m := range anchors {
		out.Anchors = append(out.Anchors, EntryFrom(m))
	}
	path := filepath.Join(t.TempDir(), "out.json")
	require.NoError(t, Save(path, out))

	back, err := Load(path)
	require.NoError(t, err)
	again, err := back.AnchorMolecules()
	require.NoError(t, err)
	for i := range anchors {
		assert.True(t, anchors[i].Fingerprint.Equal(again[i].Fingerprint))
		assert.Equal(t, anchors[i].Descriptors, again[i].Descriptors)
	}
}

func TestStore(t *testing.T) {
	d, err := Load(writeSample(t))
	require.NoError(t, err)
	ms, err := d.Store()
	require.NoError(t, err)
	assert.Equal(t, []string{"a1", "a2", "q1", "q2"}, ms.Keys())
}
