//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cloo-solutions/docpipe/internal/storage"
	"github.com/cloo-solutions/docpipe/internal/testutil"
)

const (
	e2eIdentity = "e2e"
	e2eToken    = "dp_e2e0e2e0e2e0e2e0e2e0e2e0e2e0e2e0e2e0e2e0e2e0e2e0e2e0e2e0e2e0e2e0"
	e2eBucket   = "docpipe-e2e"
)

// E2ETestEnv holds all resources needed for E2E tests
type E2ETestEnv struct {
	T          *testing.T
	Ctx        context.Context
	PostgresC  *testutil.PostgresContainer
	RustFSC    *testutil.RustFSContainer
	S3Client   *storage.S3Client
	BinaryDir  string
	HomeDir    string
	ServerURL  string
	server     *exec.Cmd
	serverLog  *bytes.Buffer
	HTTPClient *http.Client
}

// SetupE2EEnv starts the containers, builds both binaries and runs docpiped serve.
func SetupE2EEnv(t *testing.T) *E2ETestEnv {
	ctx := context.Background()

	env := &E2ETestEnv{
		T:          t,
		Ctx:        ctx,
		HomeDir:    t.TempDir(),
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}

	env.PostgresC = testutil.NewPostgresContainer(ctx, t)
	env.RustFSC = testutil.NewRustFSContainer(ctx, t)

	s3Client, err := storage.NewS3Client(ctx, storage.S3ClientConfig{
		Endpoint:        env.RustFSC.Endpoint(),
		Region:          "us-east-1",
		AccessKeyID:     "rustfsadmin",
		SecretAccessKey: "rustfsadmin",
		Bucket:          e2eBucket,
		UsePathStyle:    true,
	})
	if err != nil {
		t.Fatalf("failed to create S3 client: %v", err)
	}
	env.S3Client = s3Client

	env.BuildBinaries()
	env.startServer()

	return env
}

// Cleanup releases all resources
func (e *E2ETestEnv) Cleanup() {
	if e.server != nil && e.server.Process != nil {
		_ = e.server.Process.Signal(os.Interrupt)
		done := make(chan struct{})
		go func() {
			_ = e.server.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(35 * time.Second):
			_ = e.server.Process.Kill()
		}
	}
	if e.T.Failed() && e.serverLog != nil {
		e.T.Logf("docpiped output:\n%s", e.serverLog.String())
	}
	if e.RustFSC != nil {
		_ = e.RustFSC.Terminate(e.Ctx)
	}
	if e.PostgresC != nil {
		_ = e.PostgresC.Terminate(e.Ctx)
	}
	if e.BinaryDir != "" {
		os.RemoveAll(e.BinaryDir)
	}
}

// BuildBinaries builds the docpipe and docpiped binaries
func (e *E2ETestEnv) BuildBinaries() {
	tmpDir, err := os.MkdirTemp("", "docpipe-e2e-*")
	if err != nil {
		e.T.Fatalf("failed to create temp dir: %v", err)
	}
	e.BinaryDir = tmpDir

	for _, name := range []string{"docpiped", "docpipe"} {
		cmd := exec.Command("go", "build", "-o", filepath.Join(tmpDir, name), "./cmd/"+name)
		cmd.Dir = "../.."
		if out, err := cmd.CombinedOutput(); err != nil {
			e.T.Fatalf("failed to build %s: %v\n%s", name, err, out)
		}
	}
}

func (e *E2ETestEnv) serverEnv(port int) []string {
	return append(os.Environ(),
		"HOME="+e.HomeDir,
		"XDG_CONFIG_HOME="+filepath.Join(e.HomeDir, ".config"),
		"DOCPIPE_PORT="+fmt.Sprint(port),
		"DOCPIPE_DATABASE_URL="+e.PostgresC.ConnectionString(),
		"DOCPIPE_ENVIRONMENT=test",
		"DOCPIPE_S3_ENDPOINT="+e.RustFSC.Endpoint(),
		"DOCPIPE_S3_ACCESS_KEY_ID=rustfsadmin",
		"DOCPIPE_S3_SECRET_ACCESS_KEY=rustfsadmin",
		"DOCPIPE_S3_BUCKET="+e2eBucket,
		"DOCPIPE_VECTOR_STORE_BACKEND=pgvector",
		"DOCPIPE_WORKER_POLL_INTERVAL=200ms",
		"DOCPIPE_INIT_IDENTITY="+e2eIdentity,
		"DOCPIPE_INIT_API_KEY="+e2eToken,
	)
}

func (e *E2ETestEnv) startServer() {
	port, err := getFreePort()
	if err != nil {
		e.T.Fatalf("failed to get free port: %v", err)
	}

	migrations, err := filepath.Abs("../../migrations")
	if err != nil {
		e.T.Fatalf("failed to resolve migrations dir: %v", err)
	}

	e.serverLog = &bytes.Buffer{}
	cmd := exec.Command(filepath.Join(e.BinaryDir, "docpiped"), "serve", "--migrations", "file://"+migrations)
	cmd.Dir = e.HomeDir
	cmd.Env = e.serverEnv(port)
	cmd.Stdout = e.serverLog
	cmd.Stderr = e.serverLog
	if err := cmd.Start(); err != nil {
		e.T.Fatalf("failed to start docpiped: %v", err)
	}
	e.server = cmd
	e.ServerURL = fmt.Sprintf("http://127.0.0.1:%d", port)

	if err := waitForServer(e.ServerURL, 60*time.Second); err != nil {
		e.T.Fatalf("%v\n%s", err, e.serverLog.String())
	}
}

// RunDocpiped runs an admin subcommand against the test database.
func (e *E2ETestEnv) RunDocpiped(args ...string) (string, error) {
	cmd := exec.Command(filepath.Join(e.BinaryDir, "docpiped"), args...)
	cmd.Dir = e.HomeDir
	cmd.Env = e.serverEnv(0)
	out, err := cmd.CombinedOutput()
	return string(out), err
}

// RunDocpipe runs the client CLI authenticated as token.
func (e *E2ETestEnv) RunDocpipe(token string, args ...string) (string, error) {
	return e.RunDocpipeWithInput(token, "", args...)
}

// RunDocpipeWithInput runs the client CLI with stdin input
func (e *E2ETestEnv) RunDocpipeWithInput(token, input string, args ...string) (string, error) {
	cmd := exec.Command(filepath.Join(e.BinaryDir, "docpipe"), args...)
	cmd.Dir = e.HomeDir
	cmd.Stdin = strings.NewReader(input)
	cmd.Env = append(os.Environ(),
		"HOME="+e.HomeDir,
		"XDG_CONFIG_HOME="+filepath.Join(e.HomeDir, ".config"),
		"DOCPIPE_API_KEY="+token,
		"DOCPIPE_API_URL="+e.ServerURL,
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	if err != nil {
		return stdout.String() + stderr.String(), err
	}
	return stdout.String(), nil
}

// RunDocpipeJSON runs the client with --output and decodes its stdout into v.
func (e *E2ETestEnv) RunDocpipeJSON(v any, args ...string) {
	e.T.Helper()
	out, err := e.RunDocpipe(e2eToken, append(args, "--output")...)
	if err != nil {
		e.T.Fatalf("docpipe %s: %v\n%s", strings.Join(args, " "), err, out)
	}
	if err := json.Unmarshal([]byte(out), v); err != nil {
		e.T.Fatalf("docpipe %s: invalid JSON output: %v\n%s", strings.Join(args, " "), err, out)
	}
}

// WriteFile writes content under the temp home and returns its path.
func (e *E2ETestEnv) WriteFile(name, content string) string {
	e.T.Helper()
	path := filepath.Join(e.HomeDir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		e.T.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

// APIResponse is the success or error envelope returned by the server.
type APIResponse struct {
	StatusCode int
	Data       json.RawMessage `json:"data"`
	Error      string          `json:"error,omitempty"`
	Code       string          `json:"code,omitempty"`
	Stage      string          `json:"stage,omitempty"`
}

// Do performs a raw JSON request and returns the decoded envelope whatever the status.
func (e *E2ETestEnv) Do(method, path string, body any, token string) *APIResponse {
	e.T.Helper()

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			e.T.Fatalf("failed to marshal body: %v", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(e.Ctx, method, e.ServerURL+path, reqBody)
	if err != nil {
		e.T.Fatalf("failed to build request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.HTTPClient.Do(req)
	if err != nil {
		e.T.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		e.T.Fatalf("failed to read response: %v", err)
	}

	out := &APIResponse{StatusCode: resp.StatusCode}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			e.T.Fatalf("%s %s: invalid JSON (%d): %s", method, path, resp.StatusCode, raw)
		}
	}
	return out
}

func waitForServer(url string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		resp, err := http.Get(url + "/health")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		time.Sleep(200 * time.Millisecond)
	}
	return fmt.Errorf("docpiped did not become healthy within %v", timeout)
}

func getFreePort() (int, error) {
	addr, err := net.ResolveTCPAddr("tcp", "localhost:0")
	if err != nil {
		return 0, err
	}

	l, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}
