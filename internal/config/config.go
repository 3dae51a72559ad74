// Package config implements layered configuration-file reading (§6):
// `build/config.build` (repo-checked-in config) then
// `build/config.build.local`, merged in the teacher's own "defaults, then
// each file in turn" order. The persisted src_root binding in
// `build/bootstrap/src-root.build` is written and read on its own by
// PersistSrcRoot/ReadSrcRoot.
package config

import (
	"os"

	"github.com/please-build/gcfg"
)

// Configuration is the engine's gcfg-tagged config struct. Grounded on the
// teacher's Configuration (src/core/config.go), trimmed to this engine's
// own sections rather than Please's full per-language feature set.
type Configuration struct {
	Build struct {
		Jobs       int      // default worker count, 0 selects DefaultJobs()
		MaxJobs    int      // hard ceiling regardless of Jobs
		QueueDepth int      // per-worker queue depth
		Path       []string // PATH entries exposed to recipe subprocesses
	}
	Bootstrap struct {
		SrcRoot string // persisted src_root binding, written by bootstrap_src
	}
	Metrics struct {
		Enabled bool
	}
}

// RepoConfigFileName is the checked-in, shared repo config.
const RepoConfigFileName = "build/config.build"

// LocalConfigFileName overrides RepoConfigFileName on one machine; not
// normally checked in, mirroring the teacher's ".plzconfig.local" layering.
const LocalConfigFileName = "build/config.build.local"

// SrcRootFileName is where bootstrap_src persists the resolved src_root
// (§4.G step 3) so subsequent invocations don't need to re-infer it.
const SrcRootFileName = "build/bootstrap/src-root.build"

// Default returns a Configuration with the engine's baked-in defaults.
func Default() *Configuration {
	c := &Configuration{}
	c.Build.Path = []string{"/usr/local/bin", "/usr/bin", "/bin"}
	return c
}

// readFile merges filename into config, tolerating a missing file (§ the
// teacher's readConfigFile: "It's not an error to not have the file at
// all").
func readFile(config *Configuration, filename string) error {
	if err := gcfg.ReadFileInto(config, filename); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		if gcfg.FatalOnly(err) != nil {
			return err
		}
	}
	return nil
}

// ReadFiles reads every filename in order, merging each into a config
// seeded with Default(), the same "defaults, then override per file" order
// the teacher's ReadConfigFiles uses.
func ReadFiles(filenames ...string) (*Configuration, error) {
	config := Default()
	for _, filename := range filenames {
		if err := readFile(config, filename); err != nil {
			return config, err
		}
	}
	return config, nil
}

// PersistSrcRoot writes SrcRootFileName under outBase recording srcRoot,
// the config-file-shaped persistence bootstrap_src relies on so later
// invocations can reconcile against it (§4.G step 2).
func PersistSrcRoot(outBase, srcRoot string) error {
	content := "[bootstrap]\n\tsrcroot = " + srcRoot + "\n"
	return os.WriteFile(outBase+"/"+SrcRootFileName, []byte(content), 0o644)
}

// ReadSrcRoot reads back a previously-persisted src_root binding written
// by PersistSrcRoot.
func ReadSrcRoot(outBase string) (string, error) {
	var c Configuration
	if err := readFile(&c, outBase+"/"+SrcRootFileName); err != nil {
		return "", err
	}
	return c.Bootstrap.SrcRoot, nil
}
