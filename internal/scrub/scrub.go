// Package scrub redacts configured field names from a report's custom data
// before it is serialized (§3 Config.ScrubFields / ScrubWhitelistFields).
//
// Redaction is one level deep and key-name based, matching the scope the
// spec assigns this concern (§1 out of scope: deep/recursive PII detection).
// A whitelist entry always wins over a scrub entry for the same key, letting
// callers scrub a broad pattern (e.g. "password") while exempting one
// specific field that happens to share the name.
package scrub

const redacted = "***"

// Scrubber redacts top-level keys in a map by name.
type Scrubber struct {
	scrub     map[string]struct{}
	whitelist map[string]struct{}
}

// New builds a Scrubber from the configured field lists. Field names are
// matched case-sensitively, exactly as configured.
func New(scrubFields, whitelistFields []string) *Scrubber {
	s := &Scrubber{
		scrub:     make(map[string]struct{}, len(scrubFields)),
		whitelist: make(map[string]struct{}, len(whitelistFields)),
	}
	for _, f := range scrubFields {
		s.scrub[f] = struct{}{}
	}
	for _, f := range whitelistFields {
		s.whitelist[f] = struct{}{}
	}
	return s
}

// Scrub returns a copy of data with every configured, non-whitelisted key's
// value replaced by a fixed redaction marker. The input map is not mutated.
func (s *Scrubber) Scrub(data map[string]interface{}) map[string]interface{} {
	if data == nil {
		return nil
	}
	out := make(map[string]interface{}, len(data))
	for k, v := range data {
		if s.shouldScrub(k) {
			out[k] = redacted
			continue
		}
		out[k] = v
	}
	return out
}

func (s *Scrubber) shouldScrub(key string) bool {
	if _, whitelisted := s.whitelist[key]; whitelisted {
		return false
	}
	_, scrub := s.scrub[key]
	return scrub
}
