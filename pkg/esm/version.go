package esm

import (
	"encoding/json"
	"strings"

	"golang.org/x/mod/semver"
)

// normalizeVersion adds the "v" prefix x/mod/semver requires.
func normalizeVersion(v string) string {
	return "v" + strings.TrimPrefix(v, "v")
}

// ValidMinClientVersion reports whether v is empty (no gate) or a valid
// semver, suitable for validating Config.MinClientVersion at boot.
func ValidMinClientVersion(v string) bool {
	return v == "" || semver.IsValid(normalizeVersion(v))
}

// initMetadata is the closed application shape carried in an Init message's
// metadata, used only to read an optional client version for the min
// version gate.
type initMetadata struct {
	Version string `json:"version"`
}

// clientVersionAllowed reports whether an Init message satisfies min (the
// configured ESM_MIN_CLIENT_VERSION). An empty min disables the gate; a
// message with no version metadata, or a non-semver version string (e.g. a
// dev build tag), is always allowed.
func clientVersionAllowed(m *Message, min string) bool {
	if min == "" {
		return true
	}
	if m.Metadata.Type != ContentApplication || len(m.Metadata.Raw) == 0 {
		return true
	}
	var meta initMetadata
	if err := json.Unmarshal(m.Metadata.Raw, &meta); err != nil || meta.Version == "" {
		return true
	}
	v := normalizeVersion(meta.Version)
	if !semver.IsValid(v) {
		return true
	}
	return semver.Compare(v, normalizeVersion(min)) >= 0
}
