package schema

import "strings"

// Protocol revisions this module knows about. Revisions are date-named and
// ordered lexically, except draft labels which are newer than every dated
// one.
const (
	PROTOCOL_VERSION_2024_11_05 = "2024-11-05"
	PROTOCOL_VERSION_2025_03_26 = "2025-03-26"
	PROTOCOL_VERSION_2025_06_18 = "2025-06-18"
	PROTOCOL_VERSION_DRAFT      = "draft"

	// PROTOCOL_VERSION is the latest stable revision and the default the
	// client advertises during initialization.
	PROTOCOL_VERSION = PROTOCOL_VERSION_2025_06_18
)

// SupportedProtocolVersions lists the revisions the client negotiates,
// newest first.
var SupportedProtocolVersions = []string{
	PROTOCOL_VERSION_2025_06_18,
	PROTOCOL_VERSION_2025_03_26,
	PROTOCOL_VERSION_2024_11_05,
}

func IsSupportedProtocolVersion(version string) bool {
	for _, v := range SupportedProtocolVersions {
		if v == version {
			return true
		}
	}
	return false
}

// isDraftVersion reports whether the label names an unreleased revision.
// Both the bare "draft" label and dated "DRAFT-*" pre-releases qualify.
func isDraftVersion(v string) bool {
	return v == PROTOCOL_VERSION_DRAFT || strings.HasPrefix(v, "DRAFT-")
}

// CompareProtocolVersions returns -1, 0 or 1 as a sorts before, equal to or
// after b. Draft labels sort above every dated revision; dated revisions
// compare lexically, which matches chronological order for YYYY-MM-DD names.
func CompareProtocolVersions(a, b string) int {
	if a == b {
		return 0
	}
	aDraft, bDraft := isDraftVersion(a), isDraftVersion(b)
	switch {
	case aDraft && !bDraft:
		return 1
	case bDraft && !aDraft:
		return -1
	}
	if a < b {
		return -1
	}
	return 1
}

// ProtocolVersionAtLeast reports whether version is min or newer.
func ProtocolVersionAtLeast(version, min string) bool {
	return CompareProtocolVersions(version, min) >= 0
}
