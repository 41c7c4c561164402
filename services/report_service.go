package services

import (
	"context"
	"sync"
	"time"

	"klymo_server/models"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// ReportRequest is an abuse report as submitted by a client.
type ReportRequest struct {
	ReporterDeviceID string `json:"reporterDeviceId"`
	ReportedDeviceID string `json:"reportedDeviceId"`
	SessionID        string `json:"sessionId"`
	Reason           string `json:"reason"`
}

func (r ReportRequest) Validate() error {
	if r.ReporterDeviceID == "" || r.ReportedDeviceID == "" || r.SessionID == "" || r.Reason == "" {
		return &ValidationError{Message: "Invalid report payload"}
	}
	if r.ReporterDeviceID == r.ReportedDeviceID {
		return &ValidationError{Message: "Self-report not allowed"}
	}
	if !models.IsReportReason(r.Reason) {
		return &ValidationError{Message: "Invalid report reason"}
	}
	return nil
}

// ReportSink stores reports.
type ReportSink interface {
	PutReport(ctx context.Context, report models.Report) error
}

type ReportService struct {
	Sink ReportSink
	now  func() time.Time
}

func NewReportService(sink ReportSink, now func() time.Time) *ReportService {
	if now == nil {
		now = time.Now
	}
	return &ReportService{Sink: sink, now: now}
}

// File validates and stores a report; it expires after ReportRetention.
func (rs *ReportService) File(ctx context.Context, req ReportRequest) (models.Report, error) {
	if err := req.Validate(); err != nil {
		return models.Report{}, err
	}

	now := rs.now().UTC()
	report := models.Report{
		ReportID:         uuid.NewString(),
		ReporterDeviceID: req.ReporterDeviceID,
		ReportedDeviceID: req.ReportedDeviceID,
		SessionID:        req.SessionID,
		Reason:           req.Reason,
		CreatedAt:        now,
		ExpiresAt:        now.Add(models.ReportRetention).Unix(),
	}
	if err := rs.Sink.PutReport(ctx, report); err != nil {
		return models.Report{}, err
	}
	log.WithFields(log.Fields{
		"reportId": report.ReportID,
		"reported": report.ReportedDeviceID,
		"reason":   report.Reason,
	}).Info("🚩 Report filed")
	return report, nil
}

// DynamoReportSink writes to the Reports table; DynamoDB TTL on expiresAt
// removes old rows.
type DynamoReportSink struct {
	Dynamo *DynamoService
	Table  string
}

func (s *DynamoReportSink) PutReport(ctx context.Context, report models.Report) error {
	return s.Dynamo.PutItem(ctx, s.Table, report)
}

// MemoryReportSink keeps reports in process, for the memory backend.
type MemoryReportSink struct {
	mu      sync.Mutex
	reports []models.Report
}

func (s *MemoryReportSink) PutReport(_ context.Context, report models.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports = append(s.reports, report)
	return nil
}

// Reports returns a copy of everything stored.
func (s *MemoryReportSink) Reports() []models.Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Report(nil), s.reports...)
}
