package models

// Verified attribute values (self gender).
const (
	AttributeMale   = "male"
	AttributeFemale = "female"
	AttributeOther  = "other"
)

// PreferenceAny is the wildcard partner preference.
const PreferenceAny = "any"

// Attributes lists every partition in the fixed order a wildcard
// preference visits them.
var Attributes = []string{AttributeMale, AttributeFemale, AttributeOther}

// Partner preferences accepted at onboarding.
var Preferences = []string{AttributeMale, AttributeFemale, PreferenceAny}

// IsAttribute reports whether v is a verified attribute value.
func IsAttribute(v string) bool {
	for _, a := range Attributes {
		if a == v {
			return true
		}
	}
	return false
}

// IsPreference reports whether v is an accepted partner preference.
func IsPreference(v string) bool {
	for _, p := range Preferences {
		if p == v {
			return true
		}
	}
	return false
}

// Accepts reports whether a participant wanting `wanted` may be paired
// with somebody whose verified attribute is `attribute`.
func Accepts(wanted, attribute string) bool {
	return wanted == PreferenceAny || wanted == attribute
}

// EndReason says why a session ended, as seen by the remaining participant.
type EndReason string

const (
	EndReasonLeft         EndReason = "left"
	EndReasonSkipped      EndReason = "skipped"
	EndReasonDisconnected EndReason = "disconnected"
)

// Default DynamoDB table names.
const (
	WaitingPoolTable   = "WaitingPool"
	UsageCountersTable = "UsageCounters"
	CooldownsTable     = "Cooldowns"
	ProfilesTable      = "Profiles"
	ReportsTable       = "Reports"
)

// WaitingPoolPartitionIndex is the GSI on (partitionKey, orderKey).
const WaitingPoolPartitionIndex = "partitionKey-orderKey-index"
