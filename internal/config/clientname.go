package config

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

const (
	// MaxClientNameLength leaves room for a UUID suffix on broker queue names.
	MaxClientNameLength = 215

	// UnknownClientName is used when neither the executable nor the host can be named.
	UnknownClientName = "UNKNOWN"
)

var invalidLeadingChars = regexp.MustCompile(`^(\W|amq\.)`)

// hostname and executable are swapped in tests.
var (
	hostname   = os.Hostname
	executable = func() string {
		if len(os.Args) == 0 {
			return ""
		}
		return os.Args[0]
	}
)

// RectifyClientName returns a usable client name. Blank names fall back to the
// executable name, then the hostname, then UnknownClientName. The result is
// trimmed, bounded to MaxClientNameLength and never starts with a non-word
// character or the reserved "amq." prefix.
func RectifyClientName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		name = commandName(executable())
	}
	if name == "" {
		if h, err := hostname(); err == nil {
			name = strings.TrimSpace(h)
		}
	}
	if name == "" {
		name = UnknownClientName
	}

	if invalidLeadingChars.MatchString(name) {
		name = "_" + name
	}
	if len(name) > MaxClientNameLength {
		name = name[:MaxClientNameLength]
	}
	return name
}

func commandName(cmd string) string {
	cmd = strings.TrimSpace(cmd)
	if cmd == "" {
		return ""
	}
	base := filepath.Base(cmd)
	if base == "." || base == string(filepath.Separator) {
		return ""
	}
	return strings.TrimSuffix(base, filepath.Ext(base))
}
