package ipfshelper

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/scipfs/scipfs/fault"
)

// DefaultHelperName is the executable the bridge looks for when no
// explicit path is configured.
const DefaultHelperName = "scipfs-helper"

// locateHelper resolves the helper executable. Candidates are checked in
// order: the explicit override, the current working directory, the
// directory of the running executable, then the system PATH.
//
// The result is resolved once at bridge construction and cached; it is
// never re-resolved per call.
func locateHelper(explicit, name string) (string, error) {
	const op = "bridge.locate"

	if explicit != "" {
		if !isExecutable(explicit) {
			return "", fault.New(fault.HelperUnavailable, op,
				fmt.Sprintf("configured helper %q is not an executable file", explicit))
		}
		return explicit, nil
	}
	if name == "" {
		name = DefaultHelperName
	}

	if wd, err := os.Getwd(); err == nil {
		if p := filepath.Join(wd, name); isExecutable(p) {
			return p, nil
		}
	}
	if exe, err := os.Executable(); err == nil {
		if p := filepath.Join(filepath.Dir(exe), name); isExecutable(p) {
			return p, nil
		}
	}
	if p, err := exec.LookPath(name); err == nil {
		return p, nil
	}

	return "", fault.New(fault.HelperUnavailable, op,
		fmt.Sprintf("helper %q not found in working directory, install directory, or PATH", name))
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	return info.Mode()&0o111 != 0
}
