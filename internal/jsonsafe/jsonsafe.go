// Package jsonsafe guards persisted JSON (lock files, hash-store metadata
// and indexes, task-state files, queue snapshots) against the literal keys
// __proto__, constructor, and prototype before it is parsed. Go's typed maps
// are not vulnerable to prototype pollution the way a dynamically-keyed map
// in a reflective language would be, but the check is cheap and keeps every
// persisted JSON reader in this repo consistent.
package jsonsafe

import "fmt"

var dangerousKeys = []string{`"__proto__"`, `"constructor"`, `"prototype"`}

// Check rejects data containing any of the dangerous literal keys.
func Check(data []byte) error {
	s := string(data)
	for _, k := range dangerousKeys {
		if contains(s, k) {
			return fmt.Errorf("refusing to parse JSON containing dangerous key %s", k)
		}
	}
	return nil
}

func contains(s, sub string) bool {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}
