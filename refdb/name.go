package refdb

import (
	"fmt"
	"strings"
)

// ErrInvalidRefName indicates a reference name that violates git's
// ref-name grammar.
var ErrInvalidRefName = fmt.Errorf("refdb: invalid reference name")

// ValidateName checks a reference name against git's ref-name grammar
// before any edit is attempted: no empty components, no "..", no control
// characters or spaces, none of the special characters git reserves, no
// component starting with "." or ending with ".lock".
func ValidateName(name string) error {
	if name == "" {
		return ErrInvalidRefName
	}
	if strings.HasPrefix(name, "/") || strings.HasSuffix(name, "/") {
		return ErrInvalidRefName
	}
	if strings.HasSuffix(name, ".") {
		return ErrInvalidRefName
	}
	if strings.Contains(name, "..") || strings.Contains(name, "//") || strings.Contains(name, "@{") {
		return ErrInvalidRefName
	}
	for _, c := range name {
		if c < 0x20 || c == 0x7f {
			return ErrInvalidRefName
		}
		switch c {
		case ' ', '~', '^', ':', '?', '*', '[', '\\':
			return ErrInvalidRefName
		}
	}
	for _, component := range strings.Split(name, "/") {
		if component == "" || component == "@" {
			return ErrInvalidRefName
		}
		if strings.HasPrefix(component, ".") || strings.HasSuffix(component, ".lock") {
			return ErrInvalidRefName
		}
	}
	return nil
}
