package ipfshelper

import (
	"fmt"
	"strconv"
	"strings"
)

// MinDaemonVersion is the oldest daemon release the bridge will talk to.
const MinDaemonVersion = "0.34.1"

// parseVersion parses a dotted "major.minor.patch" string, tolerating a
// leading "v".
func parseVersion(s string) ([3]int, error) {
	var out [3]int
	s = strings.TrimPrefix(strings.TrimSpace(s), "v")
	parts := strings.Split(s, ".")
	if len(parts) != 3 {
		return out, fmt.Errorf("invalid version %q, expected major.minor.patch", s)
	}
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return out, fmt.Errorf("non-integer component %q in version %q", p, s)
		}
		out[i] = n
	}
	return out, nil
}

// versionBelow reports whether a is strictly older than b, comparing
// major, then minor, then patch as integers.
func versionBelow(a, b string) (bool, error) {
	av, err := parseVersion(a)
	if err != nil {
		return false, err
	}
	bv, err := parseVersion(b)
	if err != nil {
		return false, err
	}
	for i := 0; i < 3; i++ {
		if av[i] != bv[i] {
			return av[i] < bv[i], nil
		}
	}
	return false, nil
}

// daemonVersionFromAgent extracts the numeric release from an agent
// version string such as "kubo/0.34.1/dirty" or plain "0.34.1".
func daemonVersionFromAgent(agent string) (string, error) {
	agent = strings.TrimSpace(agent)
	if agent == "" {
		return "", fmt.Errorf("empty agent version")
	}
	for _, part := range strings.Split(agent, "/") {
		if _, err := parseVersion(part); err == nil {
			return strings.TrimPrefix(part, "v"), nil
		}
	}
	return "", fmt.Errorf("no release tuple in agent version %q", agent)
}
