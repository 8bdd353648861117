package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// MirrorsInherit in bootstrap.mirrors takes the mirror list from the host.
const MirrorsInherit = "inherit"

// MirrorsVariable is the make.conf variable holding the mirror list.
const MirrorsVariable = "GENTOO_MIRRORS"

// DefaultMakeConfPaths are the host make.conf locations, newest first.
var DefaultMakeConfPaths = []string{"/etc/portage/make.conf", "/etc/make.conf"}

// resolveMirrors expands [inherit] using the first make.conf that exists.
func resolveMirrors(configured []string, makeConfPaths []string) ([]string, error) {
	if len(configured) != 1 || configured[0] != MirrorsInherit {
		return trimMirrors(configured), nil
	}

	for _, path := range makeConfPaths {
		data, err := os.ReadFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}

		vars, err := godotenv.Unmarshal(assignmentsOnly(string(data)))
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}

		value, ok := vars[MirrorsVariable]
		if !ok || strings.TrimSpace(value) == "" {
			return nil, fmt.Errorf("no %s variable found in %s", MirrorsVariable, path)
		}
		return trimMirrors(strings.Fields(value)), nil
	}

	return nil, fmt.Errorf("no make.conf found (looked in %s)", strings.Join(makeConfPaths, ", "))
}

// assignmentsOnly drops make.conf lines that are shell commands rather than
// assignments, which the dotenv parser rejects.
func assignmentsOnly(data string) string {
	var out []string
	for _, line := range strings.Split(data, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "source ") || strings.HasPrefix(trimmed, ". ") {
			continue
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

func trimMirrors(mirrors []string) []string {
	out := make([]string, 0, len(mirrors))
	for _, m := range mirrors {
		m = strings.TrimRight(strings.TrimSpace(m), "/")
		if m != "" {
			out = append(out, m)
		}
	}
	return out
}
