//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/nodesocial/apiserver/config"
	"github.com/nodesocial/apiserver/internal/db"
	"github.com/nodesocial/apiserver/internal/logging"
	"github.com/nodesocial/apiserver/internal/server"
)

const (
	serverPort = 18080
)

func TestMain(m *testing.M) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	root, err := repoRoot()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to locate repo root: %v\n", err)
		os.Exit(1)
	}

	if err := dockerCompose(ctx, root, "up", "-d"); err != nil {
		fmt.Fprintf(os.Stderr, "failed to start docker compose: %v\n", err)
		os.Exit(1)
	}

	setEnv()

	if err := waitForPostgres(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "postgres not ready: %v\n", err)
		_ = dockerCompose(context.Background(), root, "down")
		os.Exit(1)
	}

	if err := runMigrations(root); err != nil {
		fmt.Fprintf(os.Stderr, "failed to run migrations: %v\n", err)
		_ = dockerCompose(context.Background(), root, "down")
		os.Exit(1)
	}

	srvCtx, stop := context.WithCancel(context.Background())
	done, err := startServer(srvCtx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start server: %v\n", err)
		stop()
		_ = dockerCompose(context.Background(), root, "down")
		os.Exit(1)
	}

	baseURL := fmt.Sprintf("http://localhost:%d", serverPort)
	if err := waitForHealth(ctx, baseURL+"/healthz"); err != nil {
		fmt.Fprintf(os.Stderr, "server not healthy: %v\n", err)
		stop()
		<-done
		_ = dockerCompose(context.Background(), root, "down")
		os.Exit(1)
	}

	code := m.Run()

	stop()
	<-done
	_ = dockerCompose(context.Background(), root, "down")
	os.Exit(code)
}

func TestFollowLifecycle(t *testing.T) {
	baseURL := fmt.Sprintf("http://localhost:%d", serverPort)
	suffix := time.Now().UnixNano()

	alice, aliceToken, err := signup(baseURL, "Alice", fmt.Sprintf("alice_%d@example.com", suffix))
	if err != nil {
		t.Fatalf("signup alice: %v", err)
	}
	bob, bobToken, err := signup(baseURL, "Bob", fmt.Sprintf("bob_%d@example.com", suffix))
	if err != nil {
		t.Fatalf("signup bob: %v", err)
	}

	var result followResult
	status, err := call(http.MethodPut, baseURL+"/users/follow", aliceToken, map[string]string{"followId": bob.ID}, &result)
	if err != nil || status != http.StatusOK {
		t.Fatalf("follow: status %d: %v", status, err)
	}
	if !slices.Contains(result.Actor.Following, bob.ID) || !slices.Contains(result.Target.Followers, alice.ID) {
		t.Fatalf("follow result missing edge: %+v", result)
	}

	var fetched userResponse
	status, err = call(http.MethodGet, baseURL+"/users/"+bob.ID, bobToken, nil, &fetched)
	if err != nil || status != http.StatusOK {
		t.Fatalf("get bob: status %d: %v", status, err)
	}
	if !slices.Contains(fetched.Followers, alice.ID) {
		t.Fatalf("stored followers missing alice: %v", fetched.Followers)
	}

	status, err = call(http.MethodPut, baseURL+"/users/unfollow", aliceToken, map[string]string{"unfollowId": bob.ID}, &result)
	if err != nil || status != http.StatusOK {
		t.Fatalf("unfollow: status %d: %v", status, err)
	}
	if len(result.Actor.Following) != 0 || len(result.Target.Followers) != 0 {
		t.Fatalf("unfollow left an edge: %+v", result)
	}

	status, err = call(http.MethodDelete, baseURL+"/users/"+alice.ID, aliceToken, nil, nil)
	if err != nil || status != http.StatusNoContent {
		t.Fatalf("delete alice: status %d: %v", status, err)
	}
	status, err = call(http.MethodGet, baseURL+"/users/"+alice.ID, bobToken, nil, nil)
	if err != nil || status != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d: %v", status, err)
	}
}

func TestPhotoRoundTrip(t *testing.T) {
	baseURL := fmt.Sprintf("http://localhost:%d", serverPort)
	user, token, err := signup(baseURL, "Carol", fmt.Sprintf("carol_%d@example.com", time.Now().UnixNano()))
	if err != nil {
		t.Fatalf("signup: %v", err)
	}

	photo := []byte("\x89PNG\r\n\x1a\ne2e-photo")
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="photo"; filename="photo.png"`)
	header.Set("Content-Type", "image/png")
	part, err := writer.CreatePart(header)
	if err != nil {
		t.Fatalf("create part: %v", err)
	}
	if _, err := part.Write(photo); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}

	req, err := http.NewRequest(http.MethodPut, baseURL+"/users/"+user.ID+"/photo", &body)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("upload photo: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("upload photo status %d", resp.StatusCode)
	}

	resp, err = http.Get(baseURL + "/users/" + user.ID + "/photo")
	if err != nil {
		t.Fatalf("get photo: %v", err)
	}
	defer resp.Body.Close()
	got, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || !bytes.Equal(got, photo) {
		t.Fatalf("unexpected photo: status %d, %d bytes", resp.StatusCode, len(got))
	}
	if ct := resp.Header.Get("Content-Type"); ct != "image/png" {
		t.Fatalf("unexpected content type %q", ct)
	}
}

type userResponse struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Followers []string `json:"followers"`
	Following []string `json:"following"`
}

type followResult struct {
	Actor  userResponse `json:"actor"`
	Target userResponse `json:"target"`
}

type authResponse struct {
	Token string       `json:"token"`
	User  userResponse `json:"user"`
}

func signup(baseURL, name, email string) (userResponse, string, error) {
	creds := map[string]string{"name": name, "email": email, "password": "testpass123"}
	status, err := call(http.MethodPost, baseURL+"/users", "", creds, nil)
	if err != nil {
		return userResponse{}, "", err
	}
	if status != http.StatusCreated {
		return userResponse{}, "", fmt.Errorf("register status %d", status)
	}

	var parsed authResponse
	status, err = call(http.MethodPost, baseURL+"/auth/signin", "", creds, &parsed)
	if err != nil {
		return userResponse{}, "", err
	}
	if status != http.StatusOK || parsed.Token == "" {
		return userResponse{}, "", fmt.Errorf("signin status %d", status)
	}
	return parsed.User, parsed.Token, nil
}

func call(method, url, token string, payload, out any) (int, error) {
	var reader io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return 0, err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		return 0, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if out == nil || resp.StatusCode >= http.StatusBadRequest {
		msg, _ := io.ReadAll(resp.Body)
		if resp.StatusCode >= http.StatusInternalServerError {
			return resp.StatusCode, fmt.Errorf("%s", strings.TrimSpace(string(msg)))
		}
		return resp.StatusCode, nil
	}
	return resp.StatusCode, json.NewDecoder(resp.Body).Decode(out)
}

func setEnv() {
	_ = os.Setenv("JWT_SECRET", "test-secret")
	_ = os.Setenv("SERVER_PORT", fmt.Sprintf("%d", serverPort))
	_ = os.Setenv("STORE_BACKEND", "postgres")
	_ = os.Setenv("PHOTO_BACKEND", "minio")
	_ = os.Setenv("LOCK_BACKEND", "redis")
	_ = os.Setenv("MQ_BACKEND", "rabbitmq")
	_ = os.Setenv("DB_HOST", "localhost")
	_ = os.Setenv("DB_PORT", "5432")
	_ = os.Setenv("DB_USER", "social")
	_ = os.Setenv("DB_PASSWORD", "social")
	_ = os.Setenv("DB_NAME", "social")
	_ = os.Setenv("DB_USE_SSL", "false")
	_ = os.Setenv("MINIO_ACCESS_KEY", "minioadmin")
	_ = os.Setenv("MINIO_SECRET_KEY", "minioadmin")
	_ = os.Setenv("MINIO_BUCKET", "profile-photos")
}

func waitForPostgres(ctx context.Context) error {
	conn, err := sql.Open("postgres", db.DSN(config.LoadConfig().Database))
	if err != nil {
		return err
	}
	defer conn.Close()

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := conn.PingContext(pingCtx)
		cancel()
		if err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("postgres ping timeout: %w", err)
		case <-ticker.C:
		}
	}
}

func waitForHealth(ctx context.Context, url string) error {
	client := &http.Client{Timeout: 2 * time.Second}
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			if err != nil {
				return fmt.Errorf("health check failed: %w", err)
			}
			return fmt.Errorf("health check failed with status")
		case <-ticker.C:
		}
	}
}

func runMigrations(root string) error {
	migrationsURL := "file://" + filepath.Join(root, "internal", "db", "migrations")
	migrator, err := migrate.New(migrationsURL, db.DSN(config.LoadConfig().Database))
	if err != nil {
		return err
	}
	defer func() {
		_, _ = migrator.Close()
	}()

	if err := migrator.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}

// startServer runs the server until ctx is canceled. The returned channel
// closes once it has shut down.
func startServer(ctx context.Context) (<-chan struct{}, error) {
	cfg := config.LoadConfig()
	srv, err := server.New(ctx, cfg, logging.New(os.Stderr, "warn", "text"))
	if err != nil {
		return nil, err
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = srv.Run(ctx)
	}()
	return done, nil
}

func dockerCompose(ctx context.Context, root string, args ...string) error {
	composeFile := filepath.Join(root, "development", "docker-compose.yml")
	baseArgs := append([]string{"compose", "-f", composeFile}, args...)
	cmd := exec.CommandContext(ctx, "docker", baseArgs...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

func repoRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("go.mod not found")
		}
		dir = parent
	}
}
