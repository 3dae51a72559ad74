// Package hashdb implements the per-target dependency-database sidecar
// (§6): a small record of what a target's last successful build depended
// on, so a rebuild can be skipped when nothing relevant has changed.
// Grounded on the teacher's src/build/incrementality.go rule-hash-file
// format, generalized from Please's fixed four-hash layout to the spec's
// explicit field list (rule id/version, compiler/linker checksum, target
// triplet, options hash, input-file-set hash).
package hashdb

import (
	"bytes"
	"encoding/gob"
	"io"
	"os"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Record is one target's persisted dependency-database entry.
type Record struct {
	RuleID           string
	RuleVersion      string
	CompilerChecksum uint64
	LinkerChecksum   uint64
	TargetTriplet    string
	OptionsHash      uint64
	InputsHash       uint64
}

// Equal reports whether r and other describe the same build inputs (§6
// "A mismatch on any line forces rebuild").
func (r Record) Equal(other Record) bool {
	return r == other
}

// HashStrings combines a series of strings into one content hash, reusing
// the same xxhash family internal/cmap uses for shard hashing so the
// engine carries only one hash dependency end to end.
func HashStrings(parts ...string) uint64 {
	d := xxhash.New()
	for _, p := range parts {
		_, _ = d.WriteString(p)
		_, _ = d.Write([]byte{0})
	}
	return d.Sum64()
}

// HashReader hashes the content of r.
func HashReader(r io.Reader) (uint64, error) {
	d := xxhash.New()
	if _, err := io.Copy(d, r); err != nil {
		return 0, err
	}
	return d.Sum64(), nil
}

// Write persists record to path using gob framing (§6 "written with
// xxhash content hashes plus encoding/gob framing").
func Write(path string, record Record) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(record); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

// Read loads a previously-written Record from path.
func Read(path string) (Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Record{}, err
	}
	var record Record
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&record); err != nil {
		return Record{}, err
	}
	return record, nil
}

// NeedsRebuild reports whether a target needs rebuilding given its
// previously-recorded hash database entry, the freshly-computed current
// record, and the sidecar file's own mtime relative to the target's
// recorded output mtime (§6 "the file mtime vs target mtime detects
// interrupted builds").
func NeedsRebuild(dbPath string, current Record, outputMtime time.Time) (bool, error) {
	info, err := os.Stat(dbPath)
	if err != nil {
		if os.IsNotExist(err) {
			return true, nil
		}
		return false, err
	}
	if info.ModTime().Before(outputMtime) {
		// The sidecar predates the output it describes: the last build was
		// interrupted after producing the output but before recording the
		// hash database, so treat it as stale.
		return true, nil
	}
	old, err := Read(dbPath)
	if err != nil {
		return true, nil
	}
	return !old.Equal(current), nil
}
