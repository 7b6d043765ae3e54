package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// baseURL points the suite at a running API instance. The suite is skipped
// when the variable is unset so a plain `go test ./...` stays green.
func baseURL(t *testing.T) string {
	t.Helper()
	url := os.Getenv("SHIELDMAIDEN_API_URL")
	if url == "" {
		t.Skip("SHIELDMAIDEN_API_URL not set; skipping live API test")
	}
	return url
}

func newClient() *http.Client {
	return &http.Client{Timeout: 30 * time.Second}
}

// setupTestUser registers a fresh user and returns its access token.
func setupTestUser(t *testing.T, client *http.Client, base string) string {
	t.Helper()

	payload := map[string]any{
		"email":    fmt.Sprintf("test_%s@example.com", uuid.NewString()),
		"password": "password123",
	}
	body, _ := json.Marshal(payload)

	resp, err := client.Post(base+"/v1/auth/register", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var registerResp struct {
		Tokens struct {
			AccessToken string `json:"access_token"`
		} `json:"tokens"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&registerResp))
	require.NotEmpty(t, registerResp.Tokens.AccessToken)

	return registerResp.Tokens.AccessToken
}

// uploadFile pushes a plaintext payload through the multipart endpoint and
// returns the new file's identifier.
func uploadFile(t *testing.T, client *http.Client, base, token, name string, content []byte) string {
	t.Helper()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req, _ := http.NewRequest("POST", base+"/v1/files", &buf)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	require.Equal(t, http.StatusCreated, resp.StatusCode, "upload response: %s", raw)

	var fileResp struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(raw, &fileResp))
	require.NotEmpty(t, fileResp.ID)

	return fileResp.ID
}

// createShareLink issues a link for the file and returns its token.
func createShareLink(t *testing.T, client *http.Client, base, token, fileID string, extra map[string]any) string {
	t.Helper()

	payload := map[string]any{
		"access_type": "multiple",
		"expires_at":  time.Now().Add(time.Hour).Unix(),
	}
	for k, v := range extra {
		payload[k] = v
	}
	body, _ := json.Marshal(payload)

	req, _ := http.NewRequest("POST", fmt.Sprintf("%s/v1/files/%s/links", base, fileID), bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	require.Equal(t, http.StatusCreated, resp.StatusCode, "create link response: %s", raw)

	var linkResp struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(raw, &linkResp))
	require.NotEmpty(t, linkResp.Token)

	return linkResp.Token
}
