package queue

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobPayloadUnmarshalBase64Buffer(t *testing.T) {
	image := []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x01, 0x02}
	raw := fmt.Sprintf(`{
		"jobId": "b9f6f1f0-0000-4000-8000-000000000001",
		"userId": "user-42",
		"documentType": "cpf",
		"filename": "cpf.jpg",
		"fileBuffer": %q,
		"expectedFields": {"name": "Maria da Silva"}
	}`, base64.StdEncoding.EncodeToString(image))

	var payload JobPayload
	require.NoError(t, json.Unmarshal([]byte(raw), &payload))

	assert.Equal(t, "b9f6f1f0-0000-4000-8000-000000000001", payload.JobID)
	assert.Equal(t, "user-42", payload.UserID)
	assert.Equal(t, "cpf", payload.DocumentType)
	assert.Equal(t, image, payload.FileBuffer)
	assert.Equal(t, "Maria da Silva", payload.ExpectedFields["name"])
}

func TestJobPayloadUnmarshalNodeBufferObject(t *testing.T) {
	raw := `{
		"jobId": "b9f6f1f0-0000-4000-8000-000000000002",
		"documentType": "rg",
		"fileBuffer": {"type": "Buffer", "data": [255, 216, 255, 224]}
	}`

	var payload JobPayload
	require.NoError(t, json.Unmarshal([]byte(raw), &payload))

	assert.Equal(t, []byte{0xFF, 0xD8, 0xFF, 0xE0}, payload.FileBuffer)
}

func TestJobPayloadUnmarshalMissingBuffer(t *testing.T) {
	raw := `{"jobId": "b9f6f1f0-0000-4000-8000-000000000003", "documentType": "rg"}`

	var payload JobPayload
	require.NoError(t, json.Unmarshal([]byte(raw), &payload))
	assert.Nil(t, payload.FileBuffer)
}

func TestJobPayloadUnmarshalRejectsBadBuffer(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"invalid base64", `{"jobId": "x", "fileBuffer": "not!!base64"}`},
		{"wrong object type", `{"jobId": "x", "fileBuffer": {"type": "Blob", "data": [1]}}`},
		{"missing data array", `{"jobId": "x", "fileBuffer": {"type": "Buffer"}}`},
		{"numeric buffer", `{"jobId": "x", "fileBuffer": 42}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var payload JobPayload
			assert.Error(t, json.Unmarshal([]byte(tt.raw), &payload))
		})
	}
}
