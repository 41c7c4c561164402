package services

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	log "github.com/sirupsen/logrus"
)

// VerificationResult is the inference service's verdict on one image.
type VerificationResult struct {
	IsVerified     bool    `json:"isVerified"`
	DetectedGender string  `json:"detectedGender"`
	Confidence     float64 `json:"confidence"`
}

// Verifier classifies a verification image.
type Verifier interface {
	Verify(ctx context.Context, filename string, image []byte) (VerificationResult, error)
}

type verifyErrorBody struct {
	Detail string `json:"detail"`
}

// VerificationClient posts images to the external inference service. Images
// are held in memory for the length of the call and never written anywhere.
type VerificationClient struct {
	rest *resty.Client
}

func NewVerificationClient(baseURL string, timeout time.Duration) *VerificationClient {
	rest := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout)
	return &VerificationClient{rest: rest}
}

func (c *VerificationClient) Verify(ctx context.Context, filename string, image []byte) (VerificationResult, error) {
	var result VerificationResult
	var failure verifyErrorBody

	response, err := c.rest.R().
		SetContext(ctx).
		SetFileReader("file", filename, bytes.NewReader(image)).
		SetResult(&result).
		SetError(&failure).
		Post("/verify")
	if err != nil {
		log.WithError(err).Warn("⚠️ Verification service unreachable")
		return VerificationResult{}, fmt.Errorf("verification request: %w", err)
	}
	if response.IsError() {
		log.WithFields(log.Fields{
			"status": response.StatusCode(),
			"detail": failure.Detail,
		}).Warn("⚠️ Verification service refused image")
		if failure.Detail != "" {
			return VerificationResult{}, fmt.Errorf("verification failed: %s", failure.Detail)
		}
		return VerificationResult{}, fmt.Errorf("verification failed: status %d", response.StatusCode())
	}

	result.DetectedGender = strings.ToLower(strings.TrimSpace(result.DetectedGender))
	return result, nil
}
