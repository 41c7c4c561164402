package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"

	"klymo_server/models"
	"klymo_server/services"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type stubVerifier struct {
	result services.VerificationResult
	err    error
	calls  int
}

func (v *stubVerifier) Verify(_ context.Context, _ string, image []byte) (services.VerificationResult, error) {
	v.calls++
	if len(image) == 0 {
		return services.VerificationResult{}, errors.New("empty image")
	}
	return v.result, v.err
}

func TestAPIRoutes(t *testing.T) {
	suite.Run(t, new(APIRoutesTestSuite))
}

type APIRoutesTestSuite struct {
	suite.Suite

	router   *mux.Router
	profiles *services.MemoryProfileStore
	reports  *services.MemoryReportSink
	verifier *stubVerifier
}

func (ts *APIRoutesTestSuite) SetupTest() {
	ts.profiles = services.NewMemoryProfileStore()
	ts.reports = &services.MemoryReportSink{}
	ts.verifier = &stubVerifier{result: services.VerificationResult{IsVerified: true, DetectedGender: "female", Confidence: 0.93}}

	ts.router = mux.NewRouter()
	RegisterRoutes(ts.router)
	RegisterAPIRoutes(ts.router,
		services.NewUserProfileService(ts.profiles, nil),
		ts.verifier,
		services.NewReportService(ts.reports, nil),
	)
}

func (ts *APIRoutesTestSuite) do(req *http.Request) (*httptest.ResponseRecorder, map[string]interface{}) {
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	var body map[string]interface{}
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	return rec, body
}

func jsonRequest(method, path, deviceID, body string) *http.Request {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if deviceID != "" {
		req.Header.Set("device-id", deviceID)
	}
	return req
}

func imageRequest(deviceID, contentType string, data []byte) *http.Request {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="selfie.jpg"`)
	h.Set("Content-Type", contentType)
	part, _ := mw.CreatePart(h)
	_, _ = part.Write(data)
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/verify", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("device-id", deviceID)
	return req
}

func (ts *APIRoutesTestSuite) TestHealth() {
	rec, body := ts.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(ts.T(), http.StatusOK, rec.Code)
	assert.Equal(ts.T(), "healthy", body["status"])
}

func (ts *APIRoutesTestSuite) TestPrivacyPolicy() {
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/privacy-policy", nil))
	assert.Equal(ts.T(), http.StatusOK, rec.Code)
	assert.Contains(ts.T(), rec.Header().Get("Content-Type"), "text/html")
}

func (ts *APIRoutesTestSuite) TestDeviceIDRequired() {
	for _, req := range []*http.Request{
		jsonRequest(http.MethodGet, "/api/profile", "", ""),
		jsonRequest(http.MethodPost, "/api/onboarding", "  ", `{}`),
		jsonRequest(http.MethodPost, "/api/report", "", `{}`),
	} {
		rec, body := ts.do(req)
		assert.Equal(ts.T(), http.StatusBadRequest, rec.Code, req.URL.Path)
		assert.Equal(ts.T(), "Device ID is required", body["error"])
	}
}

func (ts *APIRoutesTestSuite) TestOnboardingThenProfile() {
	rec, _ := ts.do(jsonRequest(http.MethodGet, "/api/profile", "dev-1", ""))
	assert.Equal(ts.T(), http.StatusNotFound, rec.Code)

	rec, body := ts.do(jsonRequest(http.MethodPost, "/api/onboarding", "dev-1",
		`{"nickName":"  Robin ","shortBio":"hi","preferredPartnerGender":"any"}`))
	require.Equal(ts.T(), http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(ts.T(), "Robin", body["profile"].(map[string]interface{})["nickName"])

	rec, body = ts.do(jsonRequest(http.MethodGet, "/api/profile", "dev-1", ""))
	require.Equal(ts.T(), http.StatusOK, rec.Code)
	assert.Equal(ts.T(), false, body["matchable"], "not matchable before verification")
}

func (ts *APIRoutesTestSuite) TestOnboardingValidation() {
	cases := []struct {
		payload string
		want    string
	}{
		{`{"nickName":"R","preferredPartnerGender":"any"}`, "Nickname must be between 2 and 30 characters"},
		{`{"nickName":"","preferredPartnerGender":"any"}`, "Nickname is required"},
		{`{"nickName":"Robin","preferredPartnerGender":"robots"}`, "Invalid preferred partner gender"},
		{fmt.Sprintf(`{"nickName":"Robin","shortBio":"%s","preferredPartnerGender":"any"}`, strings.Repeat("x", 151)), "Bio must be under 150 characters"},
		{`not json`, "Invalid request payload"},
	}
	for _, tc := range cases {
		rec, body := ts.do(jsonRequest(http.MethodPost, "/api/onboarding", "dev-1", tc.payload))
		assert.Equal(ts.T(), http.StatusBadRequest, rec.Code, tc.payload)
		assert.Equal(ts.T(), tc.want, body["error"], tc.payload)
	}
}

func (ts *APIRoutesTestSuite) TestVerifyStoresGender() {
	ts.do(jsonRequest(http.MethodPost, "/api/onboarding", "dev-1", `{"nickName":"Robin","preferredPartnerGender":"male"}`))

	rec, body := ts.do(imageRequest("dev-1", "image/jpeg", []byte("jpeg-bytes")))
	require.Equal(ts.T(), http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(ts.T(), true, body["success"])
	assert.Equal(ts.T(), "female", body["gender"])

	profile, err := ts.profiles.GetProfile(context.Background(), "dev-1")
	require.NoError(ts.T(), err)
	assert.Equal(ts.T(), models.AttributeFemale, profile.VerifiedGender)
	assert.Equal(ts.T(), "Robin", profile.NickName)
	assert.True(ts.T(), profile.Matchable())
}

func (ts *APIRoutesTestSuite) TestVerifyRejectsNonImage() {
	rec, body := ts.do(imageRequest("dev-1", "application/pdf", []byte("%PDF")))
	assert.Equal(ts.T(), http.StatusBadRequest, rec.Code)
	assert.Equal(ts.T(), "Only image files are allowed", body["error"])
	assert.Zero(ts.T(), ts.verifier.calls)
}

func (ts *APIRoutesTestSuite) TestVerifyRequiresFile() {
	rec, _ := ts.do(jsonRequest(http.MethodPost, "/api/verify", "dev-1", `{}`))
	assert.Equal(ts.T(), http.StatusBadRequest, rec.Code)
}

func (ts *APIRoutesTestSuite) TestVerifyNotVerified() {
	ts.verifier.result = services.VerificationResult{IsVerified: false, Confidence: 0.4}

	rec, body := ts.do(imageRequest("dev-1", "image/png", []byte("png")))
	require.Equal(ts.T(), http.StatusOK, rec.Code)
	assert.Equal(ts.T(), false, body["isVerified"])

	_, err := ts.profiles.GetProfile(context.Background(), "dev-1")
	assert.ErrorIs(ts.T(), err, services.ErrProfileNotFound, "nothing stored")
}

func (ts *APIRoutesTestSuite) TestVerifyUpstreamFailure() {
	ts.verifier.err = errors.New("verification failed: No face detected")

	rec, body := ts.do(imageRequest("dev-1", "image/png", []byte("png")))
	assert.Equal(ts.T(), http.StatusBadGateway, rec.Code)
	assert.Equal(ts.T(), false, body["success"])
}

func (ts *APIRoutesTestSuite) TestReport() {
	rec, body := ts.do(jsonRequest(http.MethodPost, "/api/report", "dev-1",
		`{"reportedDeviceId":"dev-2","sessionId":"room-1","reason":"spam"}`))
	require.Equal(ts.T(), http.StatusOK, rec.Code, rec.Body.String())
	assert.NotEmpty(ts.T(), body["reportId"])

	stored := ts.reports.Reports()
	require.Len(ts.T(), stored, 1)
	assert.Equal(ts.T(), "dev-1", stored[0].ReporterDeviceID)
	assert.Equal(ts.T(), stored[0].CreatedAt.Add(models.ReportRetention).Unix(), stored[0].ExpiresAt)
}

func (ts *APIRoutesTestSuite) TestReportValidation() {
	cases := map[string]string{
		`{"reportedDeviceId":"dev-1","sessionId":"room-1","reason":"spam"}`:                        "Self-report not allowed",
		`{"reporterDeviceId":"dev-9","reportedDeviceId":"dev-1","sessionId":"room-1","reason":"x"}`: "Self-report not allowed",
		`{"reportedDeviceId":"dev-2","sessionId":"room-1","reason":"boring"}`:                      "Invalid report reason",
		`{"reportedDeviceId":"dev-2","reason":"spam"}`:                                            "Invalid report payload",
	}
	for payload, want := range cases {
		rec, body := ts.do(jsonRequest(http.MethodPost, "/api/report", "dev-1", payload))
		assert.Equal(ts.T(), http.StatusBadRequest, rec.Code, payload)
		assert.Equal(ts.T(), want, body["error"], payload)
	}
	assert.Empty(ts.T(), ts.reports.Reports())
}
