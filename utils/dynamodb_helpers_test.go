package utils

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
)

func TestExtractors(t *testing.T) {
	item := map[string]types.AttributeValue{
		"name":  &types.AttributeValueMemberS{Value: "robin"},
		"count": &types.AttributeValueMemberN{Value: "12"},
		"bad":   &types.AttributeValueMemberN{Value: "1.5"},
	}

	assert.Equal(t, "robin", ExtractString(item, "name"))
	assert.Equal(t, "", ExtractString(item, "count"))
	assert.Equal(t, "", ExtractString(item, "missing"))

	assert.Equal(t, 12, ExtractInt(item, "count"))
	assert.Equal(t, 0, ExtractInt(item, "bad"))
	assert.Equal(t, 0, ExtractInt(item, "name"))
	assert.Equal(t, 0, ExtractInt(nil, "count"))

	assert.Equal(t, map[string]types.AttributeValue{
		"deviceId": &types.AttributeValueMemberS{Value: "dev-1"},
	}, StringKey("deviceId", "dev-1"))
}

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, http.StatusTeapot, "nope")

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"error":"nope"}`, rec.Body.String())
}
