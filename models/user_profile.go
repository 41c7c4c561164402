package models

// Profile is the participant record owned by the profile collaborator.
// The matchmaking core only reads it.
type Profile struct {
	DeviceID               string  `dynamodbav:"deviceId" json:"deviceId"` // Partition Key
	NickName               string  `dynamodbav:"nickName,omitempty" json:"nickName,omitempty"`
	ShortBio               string  `dynamodbav:"shortBio,omitempty" json:"shortBio,omitempty"`
	Pronouns               string  `dynamodbav:"pronouns,omitempty" json:"pronouns,omitempty"`
	VerifiedGender         string  `dynamodbav:"verifiedGender,omitempty" json:"verifiedGender,omitempty"`                 // Set only by image verification
	PreferredPartnerGender string  `dynamodbav:"preferredPartnerGender,omitempty" json:"preferredPartnerGender,omitempty"` // male, female or any
	VerificationConfidence float64 `dynamodbav:"verificationConfidence,omitempty" json:"verificationConfidence,omitempty"`
	VerifiedAt             string  `dynamodbav:"verifiedAt,omitempty" json:"verifiedAt,omitempty"`
}

// SelfAttribute is the partition the participant queues in.
func (p Profile) SelfAttribute() string { return p.VerifiedGender }

// WantedAttribute is the partner preference.
func (p Profile) WantedAttribute() string { return p.PreferredPartnerGender }

// Matchable reports whether the profile carries everything the queue needs.
func (p Profile) Matchable() bool {
	return IsAttribute(p.VerifiedGender) && IsPreference(p.PreferredPartnerGender)
}

// PublicProfile is the display info sent to a matched peer.
type PublicProfile struct {
	NickName string `json:"nickName"`
	ShortBio string `json:"shortBio,omitempty"`
	Pronouns string `json:"pronouns,omitempty"`
}

// Public strips everything but display fields.
func (p Profile) Public() PublicProfile {
	return PublicProfile{NickName: p.NickName, ShortBio: p.ShortBio, Pronouns: p.Pronouns}
}
