package models

import "time"

// UsageCounter tracks committed matches for one identity on one UTC day.
type UsageCounter struct {
	Identity   string `dynamodbav:"deviceId" json:"deviceId"` // Partition Key
	Date       string `dynamodbav:"date" json:"date"`         // YYYY-MM-DD, UTC
	MatchCount int    `dynamodbav:"matchCount" json:"matchCount"`
	ExpiresAt  int64  `dynamodbav:"expiresAt,omitempty" json:"-"` // DynamoDB TTL
}

// CooldownMark blocks queue entry until ExpiresAt.
type CooldownMark struct {
	Identity  string    `dynamodbav:"deviceId" json:"deviceId"` // Partition Key
	ExpiresAt time.Time `dynamodbav:"expiresAt" json:"expiresAt"`
	TTL       int64     `dynamodbav:"ttl,omitempty" json:"-"` // DynamoDB TTL, epoch seconds
}

// DayKey is the UTC calendar day used for daily counters.
func DayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
