package transports

import "strings"

// shellSafe matches characters that need no quoting in POSIX shells.
func shellSafe(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z':
		return true
	case r >= 'A' && r <= 'Z':
		return true
	case r >= '0' && r <= '9':
		return true
	}
	return strings.ContainsRune("_-./:=@%+,", r)
}

// ShellQuote quotes a single argument for a POSIX shell.
func ShellQuote(arg string) string {
	if arg == "" {
		return "''"
	}
	safe := true
	for _, r := range arg {
		if !shellSafe(r) {
			safe = false
			break
		}
	}
	if safe {
		return arg
	}
	// Single quotes pass everything literally; embedded single quotes are
	// closed, escaped, and reopened.
	return "'" + strings.ReplaceAll(arg, "'", `'\''`) + "'"
}

// ShellJoin renders an argv as a single shell command line.
func ShellJoin(argv []string) string {
	quoted := make([]string, len(argv))
	for i, arg := range argv {
		quoted[i] = ShellQuote(arg)
	}
	return strings.Join(quoted, " ")
}
