package messagequeue

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Validate checks whether data is valid JSON conforming to the schema
// associated with the given subject. Unknown subjects only need valid JSON.
func Validate(subject string, data []byte) error {
	if !json.Valid(data) {
		return fmt.Errorf("invalid JSON on subject %s", subject)
	}
	if subject == SubjectCacheInvalidate {
		var m CacheInvalidation
		if err := json.Unmarshal(data, &m); err != nil {
			return fmt.Errorf("schema validation failed for %s: %w", subject, err)
		}
		if m.Key == "" || m.Origin == "" {
			return errors.New("cache invalidation requires key and origin")
		}
		return nil
	}
	if !strings.HasPrefix(subject, SubjectSignals+".") {
		return nil
	}

	var p SignalPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("schema validation failed for %s: %w", subject, err)
	}
	if p.Kind == "" || p.Reason == "" {
		return errors.New("signal payload requires kind and reason")
	}
	if !strings.HasSuffix(subject, "."+p.Kind) {
		return fmt.Errorf("signal kind %q does not match subject %s", p.Kind, subject)
	}
	return nil
}
