package client

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSettings_MissingFileIsEmpty(t *testing.T) {
	isolateSettings(t)

	s, err := LoadSettings()
	require.NoError(t, err)
	assert.Equal(t, &Settings{}, s)
}

func TestSettings_SaveIsPrivateAndEmptyRemoves(t *testing.T) {
	isolateSettings(t)
	path, err := SettingsPath()
	require.NoError(t, err)

	require.NoError(t, SaveSettings(&Settings{DefaultCollection: "c1"}))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	require.NoError(t, SaveSettings(&Settings{}))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestSettings_CorruptFile(t *testing.T) {
	isolateSettings(t)
	path, _ := SettingsPath()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := LoadSettings()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse")
}

func TestAuthLogin_KeepsDefaults(t *testing.T) {
	isolateSettings(t)
	require.NoError(t, SaveSettings(&Settings{APIKey: "dp_old", DefaultCollection: "c1"}))

	var out strings.Builder
	require.NoError(t, runAuthLogin(strings.NewReader(""), &out, testAPIKey, "http://docpipe.internal:8080/"))

	s, err := LoadSettings()
	require.NoError(t, err)
	assert.Equal(t, &Settings{
		APIKey:            testAPIKey,
		APIURL:            "http://docpipe.internal:8080",
		DefaultCollection: "c1",
	}, s)
}

func TestAuthLogin_ReadsKeyFromStdin(t *testing.T) {
	isolateSettings(t)

	var out strings.Builder
	require.NoError(t, runAuthLogin(strings.NewReader(testAPIKey+"\n"), &out, "", defaultAPIURL))
	assert.Contains(t, out.String(), "Enter API key: ")

	s, err := LoadSettings()
	require.NoError(t, err)
	assert.Equal(t, testAPIKey, s.APIKey)
}

func TestAuthLogin_RejectsMalformedKey(t *testing.T) {
	isolateSettings(t)

	err := runAuthLogin(strings.NewReader(""), &strings.Builder{}, "dp_short", defaultAPIURL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid API key format")

	s, err := LoadSettings()
	require.NoError(t, err)
	assert.Empty(t, s.APIKey)
}

func TestAuthLogout_KeepsDefaults(t *testing.T) {
	isolateSettings(t)
	require.NoError(t, SaveSettings(&Settings{APIKey: testAPIKey, APIURL: defaultAPIURL, DefaultCollection: "c1"}))

	out, err := runAuthCmd(t, "auth", "logout")
	require.NoError(t, err)
	assert.Equal(t, "Logged out\n", out)

	s, err := LoadSettings()
	require.NoError(t, err)
	assert.Equal(t, &Settings{DefaultCollection: "c1"}, s)

	_, err = runAuthCmd(t, "auth", "logout")
	require.NoError(t, err)
}

// runAuthCmd runs the auth and config commands without injecting
// credential flags, so resolution sees only env and config.json.
func runAuthCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newTestRoot()
	root.AddCommand(AuthCmd())
	root.AddCommand(ConfigCmd())

	var out strings.Builder
	root.SetOut(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestAuthStatus_ReportsSourceAndDefaults(t *testing.T) {
	isolateSettings(t)
	t.Setenv(envAPIKey, "")
	t.Setenv(envAPIURL, "")

	out, err := runAuthCmd(t, "auth", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "Not authenticated")
	assert.Contains(t, out, "API URL: "+defaultAPIURL)
	assert.Contains(t, out, "Default collection: (none)")

	require.NoError(t, SaveSettings(&Settings{
		APIKey: testAPIKey, APIURL: "http://stored:8080",
		DefaultCollection: "c1", ProcessConfig: "/etc/docpipe/process.toml",
	}))
	out, err = runAuthCmd(t, "--output", "auth", "status")
	require.NoError(t, err)

	var st authStatus
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.True(t, st.Authenticated)
	assert.Equal(t, SourceSettings, st.Source)
	assert.Equal(t, "dp_a1b2...a1b2", st.APIKey)
	assert.Equal(t, "http://stored:8080", st.APIURL)
	assert.Equal(t, "c1", st.DefaultCollection)
	assert.Equal(t, "/etc/docpipe/process.toml", st.ProcessConfig)

	// The environment overrides config.json, key and URL separately.
	t.Setenv(envAPIKey, "dp_"+strings.Repeat("f", 64))
	out, err = runAuthCmd(t, "--output", "auth", "status")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.Equal(t, SourceEnv, st.Source)
	assert.Equal(t, "http://stored:8080", st.APIURL)

	out, err = runAuthCmd(t, "--api-key", testAPIKey, "--output", "auth", "status")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.Equal(t, SourceFlag, st.Source)
}

func TestConfigCmd_SetAndUnset(t *testing.T) {
	isolateSettings(t)
	tomlPath := filepath.Join(t.TempDir(), "process.toml")
	require.NoError(t, os.WriteFile(tomlPath, []byte("[splitter_config]\nchunk_size = 400\n"), 0o600))

	_, err := runAuthCmd(t, "config", "set", "collection", "c1")
	require.NoError(t, err)
	_, err = runAuthCmd(t, "config", "set", "process-config", tomlPath)
	require.NoError(t, err)

	s, err := LoadSettings()
	require.NoError(t, err)
	assert.Equal(t, "c1", s.DefaultCollection)
	assert.Equal(t, tomlPath, s.ProcessConfig)

	_, err = runAuthCmd(t, "config", "unset", "collection")
	require.NoError(t, err)
	s, err = LoadSettings()
	require.NoError(t, err)
	assert.Empty(t, s.DefaultCollection)
	assert.Equal(t, tomlPath, s.ProcessConfig)
}

func TestConfigCmd_Rejects(t *testing.T) {
	isolateSettings(t)
	bad := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(bad, []byte("[splitter_config]\nchunk_sizes = 1\n"), 0o600))

	_, err := runAuthCmd(t, "config", "set", "colour", "blue")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "known: collection, process-config")

	_, err = runAuthCmd(t, "config", "set", "process-config", bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chunk_sizes")

	_, err = runAuthCmd(t, "config", "set", "collection", " ")
	require.Error(t, err)

	s, err := LoadSettings()
	require.NoError(t, err)
	assert.Equal(t, &Settings{}, s)
}

func TestDefaults_UsedByUploadDocsAndProcess(t *testing.T) {
	filePath := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(filePath, []byte("hello"), 0o600))
	tomlPath := filepath.Join(t.TempDir(), "process.toml")
	require.NoError(t, os.WriteFile(tomlPath, []byte("[splitter_config]\nchunk_size = 400\nchunk_overlap = 40\n"), 0o600))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/collections/c9/documents":
			writeData(w, http.StatusCreated, Document{ID: "d1", CollectionID: "c9", Filename: "notes.txt", Status: "uploaded"})
		case r.Method == http.MethodGet && r.URL.Path == "/collections/c9/documents":
			writeData(w, http.StatusOK, documentPage{Items: []Document{{ID: "d1", Filename: "notes.txt", Status: "uploaded"}}})
		case r.Method == http.MethodPost && r.URL.Path == "/documents/d1/process":
			var body struct {
				Splitter struct {
					ChunkSize    int `json:"chunk_size"`
					ChunkOverlap int `json:"chunk_overlap"`
				} `json:"splitter_config"`
			}
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, 400, body.Splitter.ChunkSize)
			assert.Equal(t, 40, body.Splitter.ChunkOverlap)
			writeData(w, http.StatusOK, ProcessResult{DocumentID: "d1", ChunkCount: 1, EmbeddingModel: "hashing", EmbeddingType: "local"})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	defaults := &Settings{DefaultCollection: "c9", ProcessConfig: tomlPath}

	out, err := runCommandWithSettings(t, srv.URL, defaults, UploadCmd(), "upload", filePath, "--quiet")
	require.NoError(t, err)
	assert.Equal(t, "Uploaded notes.txt as document d1\n", out)

	out, err = runCommandWithSettings(t, srv.URL, defaults, CollectionCmd(), "collection", "docs")
	require.NoError(t, err)
	assert.Contains(t, out, "d1  uploaded")

	out, err = runCommandWithSettings(t, srv.URL, defaults, ProcessCmd(), "process", "d1")
	require.NoError(t, err)
	assert.Contains(t, out, "Document d1 is ready")
}

func TestUpload_NoCollectionAndNoDefault(t *testing.T) {
	_, err := runCommand(t, "http://127.0.0.1:1", UploadCmd(), "upload", "notes.txt")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "docpipe config set collection")
}

func TestMaskAPIKey(t *testing.T) {
	assert.Equal(t, "dp_a1b2...a1b2", maskAPIKey(testAPIKey))
	assert.Equal(t, "***", maskAPIKey("dp_x"))
}
