package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The instance under test is expected to run with a small per-user quota
// (STORAGE_QUOTA_PER_USER), small enough that a few megabytes exceed it.
func TestQuotaEnforcement(t *testing.T) {
	base := baseURL(t)
	client := newClient()
	token := setupTestUser(t, client, base)

	quota := fetchQuota(t, client, base)
	if quota > 64<<20 {
		t.Skipf("quota %d too large for this test; run with a small STORAGE_QUOTA_PER_USER", quota)
	}

	// One byte over the ceiling must be refused outright.
	oversized := bytes.Repeat([]byte("x"), int(quota)+1)

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", "oversized.bin")
	require.NoError(t, err)
	_, err = part.Write(oversized)
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req, _ := http.NewRequest("POST", base+"/v1/files", &buf)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)

	// A file within the quota still fits.
	fileID := uploadFile(t, client, base, token, "small.txt", []byte("fits fine"))
	require.NotEmpty(t, fileID)

	// Deleting it releases the reservation, so the same upload fits again.
	req, _ = http.NewRequest("DELETE", fmt.Sprintf("%s/v1/files/%s", base, fileID), nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err = client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	again := uploadFile(t, client, base, token, "small.txt", []byte("fits fine"))
	require.NotEmpty(t, again)
}

// fetchQuota registers a throwaway user just to read the configured
// per-user quota from the register response.
func fetchQuota(t *testing.T, client *http.Client, base string) int64 {
	t.Helper()

	payload := map[string]any{
		"email":    fmt.Sprintf("quota_probe_%s@example.com", uuid.NewString()),
		"password": "password123",
	}
	body, _ := json.Marshal(payload)
	probe, err := client.Post(base+"/v1/auth/register", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer probe.Body.Close()
	require.Equal(t, http.StatusCreated, probe.StatusCode)

	var registerResp struct {
		User struct {
			StorageQuota int64 `json:"storage_quota"`
		} `json:"user"`
	}
	require.NoError(t, json.NewDecoder(probe.Body).Decode(&registerResp))
	return registerResp.User.StorageQuota
}
