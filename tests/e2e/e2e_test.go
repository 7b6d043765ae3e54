package e2e

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

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestUserFullWorkflow exercises the whole surface against a live instance:
// register, upload, list, share, anonymous download, delete, dead link.
// Skipped unless SHIELDMAIDEN_API_URL points at a running server.
func TestUserFullWorkflow(t *testing.T) {
	base := os.Getenv("SHIELDMAIDEN_API_URL")
	if base == "" {
		t.Skip("SHIELDMAIDEN_API_URL not set; skipping live API test")
	}

	client := &http.Client{Timeout: 30 * time.Second}

	// 1. Register.
	email := fmt.Sprintf("e2e_%d@example.com", time.Now().UnixNano())
	password := "password123"

	registerBody, _ := json.Marshal(map[string]string{
		"email":    email,
		"password": password,
	})
	resp, err := client.Post(base+"/v1/auth/register", "application/json", bytes.NewReader(registerBody))
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	// 2. Login.
	loginBody, _ := json.Marshal(map[string]string{
		"email":    email,
		"password": password,
	})
	resp, err = client.Post(base+"/v1/auth/login", "application/json", bytes.NewReader(loginBody))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var loginResp struct {
		Tokens struct {
			AccessToken string `json:"access_token"`
		} `json:"tokens"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&loginResp))
	resp.Body.Close()

	authToken := loginResp.Tokens.AccessToken
	require.NotEmpty(t, authToken)

	// 3. Upload three files.
	fileNames := []string{"file1.txt", "file2.txt", "file3.txt"}
	contents := map[string][]byte{}
	fileIDs := map[string]string{}

	for _, name := range fileNames {
		content := []byte("content of " + name)
		contents[name] = content

		var buf bytes.Buffer
		writer := multipart.NewWriter(&buf)
		part, err := writer.CreateFormFile("file", name)
		require.NoError(t, err)
		_, err = part.Write(content)
		require.NoError(t, err)
		require.NoError(t, writer.Close())

		req, _ := http.NewRequest("POST", base+"/v1/files", &buf)
		req.Header.Set("Authorization", "Bearer "+authToken)
		req.Header.Set("Content-Type", writer.FormDataContentType())

		resp, err := client.Do(req)
		require.NoError(t, err)
		require.Equal(t, http.StatusCreated, resp.StatusCode)

		var fileResp struct {
			ID string `json:"id"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&fileResp))
		resp.Body.Close()
		fileIDs[name] = fileResp.ID
	}

	// 4. Listing shows all three.
	req, _ := http.NewRequest("GET", base+"/v1/files", nil)
	req.Header.Set("Authorization", "Bearer "+authToken)
	resp, err = client.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var listResp struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&listResp))
	resp.Body.Close()
	assert.Equal(t, len(fileNames), listResp.Count)

	// 5. Owner download round-trips the plaintext.
	req, _ = http.NewRequest("GET", fmt.Sprintf("%s/v1/files/%s/download", base, fileIDs["file1.txt"]), nil)
	req.Header.Set("Authorization", "Bearer "+authToken)
	resp, err = client.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	downloaded, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, contents["file1.txt"], downloaded)

	// 6. Share file2 and download it anonymously.
	linkBody, _ := json.Marshal(map[string]any{
		"access_type": "multiple",
		"expires_at":  time.Now().Add(time.Hour).Unix(),
	})
	req, _ = http.NewRequest("POST", fmt.Sprintf("%s/v1/files/%s/links", base, fileIDs["file2.txt"]), bytes.NewReader(linkBody))
	req.Header.Set("Authorization", "Bearer "+authToken)
	req.Header.Set("Content-Type", "application/json")
	resp, err = client.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var linkResp struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&linkResp))
	resp.Body.Close()
	require.NotEmpty(t, linkResp.Token)

	resp, err = client.Get(fmt.Sprintf("%s/v1/share/%s/download", base, linkResp.Token))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	shared, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, contents["file2.txt"], shared)

	// 7. Deleting file2 kills its link.
	req, _ = http.NewRequest("DELETE", fmt.Sprintf("%s/v1/files/%s", base, fileIDs["file2.txt"]), nil)
	req.Header.Set("Authorization", "Bearer "+authToken)
	resp, err = client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = client.Get(fmt.Sprintf("%s/v1/share/%s/download", base, linkResp.Token))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// 8. Download history recorded the traffic.
	req, _ = http.NewRequest("GET", base+"/v1/downloads/history", nil)
	req.Header.Set("Authorization", "Bearer "+authToken)
	resp, err = client.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var historyResp struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&historyResp))
	resp.Body.Close()
	assert.GreaterOrEqual(t, historyResp.Count, 1)
}
