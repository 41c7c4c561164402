package models

import "time"

// Report is an abuse report filed by one participant against another.
type Report struct {
	ReportID         string    `dynamodbav:"reportId" json:"reportId"` // Partition Key
	ReporterDeviceID string    `dynamodbav:"reporterDeviceId" json:"reporterDeviceId"`
	ReportedDeviceID string    `dynamodbav:"reportedDeviceId" json:"reportedDeviceId"`
	SessionID        string    `dynamodbav:"sessionId" json:"sessionId"`
	Reason           string    `dynamodbav:"reason" json:"reason"`
	CreatedAt        time.Time `dynamodbav:"createdAt" json:"createdAt"`
	ExpiresAt        int64     `dynamodbav:"expiresAt" json:"-"` // DynamoDB TTL, epoch seconds
}

// Reports are kept for 14 days.
const ReportRetention = 14 * 24 * time.Hour

// Report reasons.
const (
	ReportReasonHarassment = "harassment"
	ReportReasonSexual     = "sexual"
	ReportReasonHate       = "hate"
	ReportReasonSpam       = "spam"
	ReportReasonOther      = "other"
)

// IsReportReason reports whether r is an accepted reason.
func IsReportReason(r string) bool {
	switch r {
	case ReportReasonHarassment, ReportReasonSexual, ReportReasonHate, ReportReasonSpam, ReportReasonOther:
		return true
	}
	return false
}
