//go:build unix

package config

import (
	"fmt"
	"os"
)

// checkFilePermissions returns a warning if the config file is readable by group or others.
func checkFilePermissions(path string) string {
	info, err := os.Stat(path)
	if err != nil {
		return ""
	}

	mode := info.Mode().Perm()
	if mode&0077 != 0 {
		return fmt.Sprintf(
			"WARNING: Config file '%s' has insecure permissions (%04o)\n"+
				"         It may hold warehouse and source credentials.\n"+
				"         Run: chmod 600 %s\n\n",
			path, mode, path,
		)
	}
	return ""
}
