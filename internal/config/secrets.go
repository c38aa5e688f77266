package config

import (
	"fmt"
	"strings"
)

// SecretCheck partitions a list of required secret keys into provided and
// missing, given the flat key/value map that was actually supplied.
type SecretCheck struct {
	Required []string `json:"required"`
	Provided []string `json:"provided"`
	Missing  []string `json:"missing"`
}

// MissingSecretError reports every absent or blank required secret at once
// rather than failing on the first.
type MissingSecretError struct {
	Missing []string
}

func (e *MissingSecretError) Error() string {
	return fmt.Sprintf("missing secrets: %v (set via CLI, env, config or secret store)", e.Missing)
}

// ApplySecrets validates the supplied secrets against the required key list.
// A value that is empty after trimming counts as missing. The returned check
// is populated even when the error is non-nil.
func ApplySecrets(required []string, secrets map[string]string) (SecretCheck, error) {
	check := SecretCheck{Required: required}
	for _, key := range required {
		if val, ok := secrets[key]; ok && strings.TrimSpace(val) != "" {
			check.Provided = append(check.Provided, key)
		} else {
			check.Missing = append(check.Missing, key)
		}
	}
	if len(check.Missing) > 0 {
		return check, &MissingSecretError{Missing: check.Missing}
	}
	return check, nil
}
