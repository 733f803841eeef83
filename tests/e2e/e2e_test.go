//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/taskdeck/taskdeck/internal/auth"
	"github.com/taskdeck/taskdeck/internal/model"
	"github.com/taskdeck/taskdeck/internal/repository"
)

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
}

type taskResponse struct {
	ID        string   `json:"id"`
	Title     string   `json:"title"`
	Completed bool     `json:"completed"`
	Tags      []string `json:"tags"`
}

type taskListResponse struct {
	Data []taskResponse `json:"data"`
}

func TestE2ESmoke(t *testing.T) {
	baseURL := envOrDefault("TASKDECK_BASE_URL", "http://localhost:8080")
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Fatalf("DATABASE_URL is required for e2e tests")
	}

	username, password := bootstrapUser(t, dbURL)

	tokens := login(t, baseURL, username, password)
	if tokens.TokenType != "Bearer" {
		t.Fatalf("token_type = %q", tokens.TokenType)
	}

	task := createTask(t, baseURL, tokens.AccessToken, "e2e smoke task")
	assertTaskListed(t, baseURL, tokens.AccessToken, task.ID)

	completeTask(t, baseURL, tokens.AccessToken, task.ID)

	// Refresh rotates the pair; the old refresh token must then be rejected.
	rotated := refresh(t, baseURL, tokens.RefreshToken, http.StatusOK)
	refresh(t, baseURL, tokens.RefreshToken, http.StatusUnauthorized)

	deleteTask(t, baseURL, rotated.AccessToken, task.ID)

	logout(t, baseURL, rotated.AccessToken)

	// The logged-out access token no longer works.
	req, _ := http.NewRequest(http.MethodGet, baseURL+"/api/v1/tasks", nil)
	req.Header.Set("Authorization", "Bearer "+rotated.AccessToken)
	resp := do(t, req)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("request after logout: status = %d, want 401", resp.StatusCode)
	}
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func bootstrapUser(t *testing.T, dbURL string) (username, password string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	repo, err := repository.New(ctx, dbURL)
	if err != nil {
		t.Fatalf("connect db: %v", err)
	}
	defer repo.Close()

	username = fmt.Sprintf("e2e-%s", ulid.Make().String())
	password = "e2e smoke password"

	hash, err := auth.HashPassword(password)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}

	user := &model.User{
		ID:           ulid.Make().String(),
		Username:     username,
		PasswordHash: hash,
		Active:       true,
		CreatedAt:    time.Now().UTC(),
	}
	if err := repo.CreateUser(ctx, user); err != nil {
		t.Fatalf("create user: %v", err)
	}

	return username, password
}

func login(t *testing.T, baseURL, username, password string) *tokenResponse {
	t.Helper()

	body := map[string]string{"username": username, "password": password}
	resp := postJSON(t, baseURL+"/auth/token", "", body)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status = %d: %s", resp.StatusCode, readBody(t, resp))
	}

	var tokens tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokens); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	return &tokens
}

func refresh(t *testing.T, baseURL, refreshToken string, wantStatus int) *tokenResponse {
	t.Helper()

	resp := postJSON(t, baseURL+"/auth/token/refresh", "", map[string]string{"refresh_token": refreshToken})
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		t.Fatalf("refresh status = %d, want %d: %s", resp.StatusCode, wantStatus, readBody(t, resp))
	}
	if wantStatus != http.StatusOK {
		return nil
	}

	var tokens tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokens); err != nil {
		t.Fatalf("decode refresh response: %v", err)
	}
	return &tokens
}

func createTask(t *testing.T, baseURL, accessToken, title string) *taskResponse {
	t.Helper()

	resp := postJSON(t, baseURL+"/api/v1/tasks", accessToken, map[string]any{
		"title": title,
		"tags":  []string{"e2e"},
	})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create task status = %d: %s", resp.StatusCode, readBody(t, resp))
	}

	var task taskResponse
	if err := json.NewDecoder(resp.Body).Decode(&task); err != nil {
		t.Fatalf("decode task: %v", err)
	}
	return &task
}

func assertTaskListed(t *testing.T, baseURL, accessToken, taskID string) {
	t.Helper()

	req, _ := http.NewRequest(http.MethodGet, baseURL+"/api/v1/tasks", nil)
	req.Header.Set("Authorization", "Bearer "+accessToken)
	resp := do(t, req)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list status = %d", resp.StatusCode)
	}

	var list taskListResponse
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	for _, task := range list.Data {
		if task.ID == taskID {
			return
		}
	}
	t.Fatalf("task %s not in list", taskID)
}

func completeTask(t *testing.T, baseURL, accessToken, taskID string) {
	t.Helper()

	data, _ := json.Marshal(map[string]bool{"completed": true})
	req, _ := http.NewRequest(http.MethodPatch, baseURL+"/api/v1/tasks/"+taskID, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)
	resp := do(t, req)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("complete task status = %d: %s", resp.StatusCode, readBody(t, resp))
	}

	var task taskResponse
	if err := json.NewDecoder(resp.Body).Decode(&task); err != nil {
		t.Fatalf("decode task: %v", err)
	}
	if !task.Completed {
		t.Fatalf("task not marked completed")
	}
}

func deleteTask(t *testing.T, baseURL, accessToken, taskID string) {
	t.Helper()

	req, _ := http.NewRequest(http.MethodDelete, baseURL+"/api/v1/tasks/"+taskID, nil)
	req.Header.Set("Authorization", "Bearer "+accessToken)
	resp := do(t, req)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete task status = %d", resp.StatusCode)
	}
}

func logout(t *testing.T, baseURL, accessToken string) {
	t.Helper()

	req, _ := http.NewRequest(http.MethodPost, baseURL+"/auth/logout", nil)
	req.Header.Set("Authorization", "Bearer "+accessToken)
	resp := do(t, req)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("logout status = %d", resp.StatusCode)
	}
}

func postJSON(t *testing.T, url, accessToken string, body any) *http.Response {
	t.Helper()

	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}
	return do(t, req)
}

func do(t *testing.T, req *http.Request) *http.Response {
	t.Helper()

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("request %s %s: %v", req.Method, req.URL, err)
	}
	return resp
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return ""
	}
	return string(data)
}
