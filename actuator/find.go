package actuator

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

const cliName = "battery"

var ErrNotFound = errors.New("battery CLI not found")

// Hooks so tests can control where the CLI is looked for.
var (
	lookPath     = exec.LookPath
	trustedPaths = defaultTrustedPaths
)

func defaultTrustedPaths() []string {
	paths := []string{
		"/opt/homebrew/bin/battery",
		"/usr/local/bin/battery",
	}
	if user := os.Getenv("USER"); user != "" {
		paths = append(paths, filepath.Join("/Users", user, ".local", "bin", cliName))
	}
	return paths
}

// Find locates the battery CLI. An explicit path is used as is if it is
// executable. Otherwise the trusted install locations are tried, then $PATH,
// only accepting a result that lives under /usr or /opt.
func Find(explicit string) (string, error) {
	if explicit != "" {
		if isExecutable(explicit) {
			return explicit, nil
		}
		return "", fmt.Errorf("%w: %s is not an executable file", ErrNotFound, explicit)
	}

	for _, p := range trustedPaths() {
		if isExecutable(p) {
			return p, nil
		}
	}

	p, err := lookPath(cliName)
	if err == nil && (strings.HasPrefix(p, "/usr") || strings.HasPrefix(p, "/opt")) {
		return p, nil
	}
	return "", ErrNotFound
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode().IsRegular() && info.Mode().Perm()&0111 != 0
}
