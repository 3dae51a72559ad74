package hashdb

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRecord() Record {
	return Record{
		RuleID:           "cc_binary",
		RuleVersion:      "1",
		CompilerChecksum: HashStrings("gcc", "11.2"),
		TargetTriplet:    "x86_64-linux-gnu",
		OptionsHash:      HashStrings("-O2", "-Wall"),
		InputsHash:       HashStrings("main.cc", "util.cc"),
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "target.d")
	rec := sampleRecord()

	require.NoError(t, Write(path, rec))
	got, err := Read(path)
	require.NoError(t, err)
	assert.True(t, got.Equal(rec), "expected round-tripped record to equal original, got %+v want %+v", got, rec)
}

func TestNeedsRebuildMissingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "missing.d")
	need, err := NeedsRebuild(path, sampleRecord(), time.Now())
	require.NoError(t, err)
	assert.True(t, need, "expected a missing dependency database to force a rebuild")
}

func TestNeedsRebuildMismatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "target.d")
	rec := sampleRecord()
	require.NoError(t, Write(path, rec))

	changed := rec
	changed.InputsHash = HashStrings("main.cc", "util.cc", "new_file.cc")

	need, err := NeedsRebuild(path, changed, time.Unix(0, 0))
	require.NoError(t, err)
	assert.True(t, need, "expected an inputs-hash mismatch to force a rebuild")

	same, err := NeedsRebuild(path, rec, time.Unix(0, 0))
	require.NoError(t, err)
	assert.False(t, same, "expected an unchanged record not to force a rebuild")
}

func TestNeedsRebuildInterruptedBuild(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "target.d")
	rec := sampleRecord()
	require.NoError(t, Write(path, rec))

	// A sidecar older than the output's own mtime indicates the last run
	// was interrupted after the output was produced but before the
	// dependency database was written.
	future := time.Now().Add(time.Hour)
	need, err := NeedsRebuild(path, rec, future)
	require.NoError(t, err)
	assert.True(t, need, "expected a sidecar older than its output's mtime to force a rebuild")
}
