// Copyright (C) 2025 Arclab, Inc.
// See LICENSE for copying information.

package elnweb_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/arclab/eln/elnweb"
)

const sop42 = `
sop_id: SOP42
version: "2.1"
title: Gel Electrophoresis
filename_component_order: [project_id, sample_id]
fields:
  - id: project_id
    type: string
    required: true
  - id: sample_id
    type: string
  - id: gel_image
    type: file
metadata:
  department: qc
`

type testEnv struct {
	handler    http.Handler
	storageDir string
}

func newEnv(t *testing.T) *testEnv {
	configDir := t.TempDir()
	storageDir := t.TempDir()

	base := fmt.Sprintf(`
environment: test
default_tenant: acme
hosts:
  acme.test: acme
  beta.test: beta
defaults:
  storage:
    backend: filesystem
    root: %q
  auth:
    provider: mock
  files:
    max_file_size: 1KiB
    max_request_size: 1MiB
    allowed_extensions: [png, pdf, csv]
    forbidden_extensions: [exe]
  drafts:
    retention_days: 30
  cors:
    allowed_origins: ["*"]
`, storageDir)

	acme := `
auth:
  mock_users:
    - token: alice-token
      email: alice@acme.org
      groups: [RESEARCHERS]
    - token: carol-token
      email: carol@acme.org
      groups: [RESEARCHERS]
    - token: mallory-token
      email: mallory@acme.org
      groups: [VIEWERS]
permissions:
  RESEARCHERS: ["submit:SOP*", "view:own", "draft:*"]
  VIEWERS: ["view:*"]
`

	beta := `
auth:
  mock_users:
    - token: bob-token
      email: bob@beta.io
      groups: [RESEARCHERS]
permissions:
  RESEARCHERS: ["submit:SOP*", "draft:*"]
`

	require.NoError(t, os.WriteFile(filepath.Join(configDir, "base.yaml"), []byte(base), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(configDir, "tenants"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(configDir, "tenants", "acme.yaml"), []byte(acme), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(configDir, "tenants", "beta.yaml"), []byte(beta), 0o644))

	for _, tenant := range []string{"acme", "beta"} {
		sopDir := filepath.Join(storageDir, tenant, "forms", "sops")
		require.NoError(t, os.MkdirAll(sopDir, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(sopDir, "SOP42.yaml"), []byte(sop42), 0o644))
	}

	server := elnweb.NewServer(zaptest.NewLogger(t), elnweb.Config{ConfigDir: configDir})
	return &testEnv{handler: server.Handler(), storageDir: storageDir}
}

func (env *testEnv) do(t *testing.T, method, path, token string, body any) (*httptest.ResponseRecorder, map[string]any) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	r := httptest.NewRequest(method, path, reader)
	r.Host = "acme.test"
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	env.handler.ServeHTTP(w, r)

	decoded := map[string]any{}
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &decoded), w.Body.String())
	}
	return w, decoded
}

func TestHealthAndRuntimeConfig(t *testing.T) {
	env := newEnv(t)

	w, body := env.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", body["status"])

	w, body = env.do(t, http.MethodGet, "/api/config/runtime", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "acme", body["tenant"])
	authBlock := body["auth"].(map[string]any)
	assert.Equal(t, "mock", authBlock["provider"])
}

func TestAuthRequired(t *testing.T) {
	env := newEnv(t)

	for _, token := range []string{"", "wrong-token"} {
		w, body := env.do(t, http.MethodGet, "/api/v1/sops/list", token, nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, "unauthenticated", body["error"])
	}

	w, body := env.do(t, http.MethodGet, "/api/config/private", "alice-token", nil)
	require.Equal(t, http.StatusOK, w.Code)
	files := body["files"].(map[string]any)
	assert.Equal(t, "1KiB", files["max_file_size"])
	assert.Contains(t, body["permissions"], "submit:SOP*")
}

func TestSOPEndpoints(t *testing.T) {
	env := newEnv(t)

	w, body := env.do(t, http.MethodGet, "/api/v1/sops/list", "alice-token", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), body["total"])

	w, body = env.do(t, http.MethodGet, "/api/v1/sops/SOP42", "alice-token", nil)
	require.Equal(t, http.StatusOK, w.Code)
	sopBlock := body["sop"].(map[string]any)
	assert.Equal(t, "SOP42", sopBlock["sop_id"])
	assert.Equal(t, []any{"project_id", "sample_id"}, sopBlock["filename_component_order"])

	w, body = env.do(t, http.MethodGet, "/api/v1/sops/MISSING", "alice-token", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not found", body["error"])
}

func draftPayload() map[string]any {
	return map[string]any{
		"sop_id":                "SOP42",
		"session_id":            "sess-web",
		"title":                 "morning run",
		"completion_percentage": 40,
		"form_data":             map[string]any{"project_id": "P7", "sample_id": "S9", "notes": "ok"},
		"filename_variables":    []string{"P7", "S9"},
		"field_ids":             []string{"project_id", "sample_id"},
	}
}

func TestDraftLifecycle(t *testing.T) {
	env := newEnv(t)

	w, body := env.do(t, http.MethodPost, "/api/v1/drafts/", "alice-token", draftPayload())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	draftID := body["draft_id"].(string)
	require.NotEmpty(t, draftID)

	// viewers lack the draft permission entirely
	w, body = env.do(t, http.MethodPost, "/api/v1/drafts/", "mallory-token", draftPayload())
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "forbidden", body["error"])

	// another researcher cannot fetch alice's draft, and nothing leaks
	w, body = env.do(t, http.MethodGet, "/api/v1/drafts/"+draftID+"?sop_id=SOP42", "carol-token", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.NotContains(t, body, "form_data")

	w, body = env.do(t, http.MethodGet, "/api/v1/drafts/?sop_id=SOP42", "carol-token", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(0), body["total"])

	w, body = env.do(t, http.MethodGet, "/api/v1/drafts/?sop_id=SOP42", "alice-token", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), body["total"])

	// the draft id alone addresses the draft; no sop_id query needed
	w, _ = env.do(t, http.MethodDelete, "/api/v1/drafts/"+draftID, "alice-token", nil)
	require.Equal(t, http.StatusOK, w.Code)
	w, _ = env.do(t, http.MethodGet, "/api/v1/drafts/"+draftID+"?sop_id=SOP42", "alice-token", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func (env *testEnv) upload(t *testing.T, token, draftID, filename string, content []byte) (*httptest.ResponseRecorder, map[string]any) {
	buffer := &bytes.Buffer{}
	writer := multipart.NewWriter(buffer)
	require.NoError(t, writer.WriteField("sop_id", "SOP42"))
	require.NoError(t, writer.WriteField("draft_id", draftID))
	require.NoError(t, writer.WriteField("field_id", "gel_image"))
	part, err := writer.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	r := httptest.NewRequest(http.MethodPost, "/api/v1/files/upload", buffer)
	r.Host = "acme.test"
	r.Header.Set("Authorization", "Bearer "+token)
	r.Header.Set("Content-Type", writer.FormDataContentType())
	w := httptest.NewRecorder()
	env.handler.ServeHTTP(w, r)

	decoded := map[string]any{}
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &decoded))
	}
	return w, decoded
}

func TestUploadAndSubmit(t *testing.T) {
	env := newEnv(t)

	_, body := env.do(t, http.MethodPost, "/api/v1/drafts/", "alice-token", draftPayload())
	draftID := body["draft_id"].(string)

	w, body := env.upload(t, "alice-token", draftID, "scan.png", []byte("imagebytes"))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	fileIDs := body["file_ids"].([]any)
	require.Len(t, fileIDs, 1)

	w, body = env.upload(t, "alice-token", draftID, "tool.exe", []byte("mz"))
	assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)
	assert.Equal(t, "forbidden type", body["error"])

	w, body = env.upload(t, "alice-token", draftID, "big.png", bytes.Repeat([]byte("x"), 2048))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Equal(t, "too large", body["error"])

	payload := draftPayload()
	payload["draft_id"] = draftID
	w, body = env.do(t, http.MethodPost, "/api/v1/elns/submit", "alice-token", payload)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "ok", body["status"])
	filename := body["filename"].(string)
	assert.True(t, strings.HasSuffix(filename, ".json"))
	assert.Contains(t, filename, "-alice_acme_org-P7-S9-")
	assert.Len(t, body["attached"], 1)

	// the body landed under the submissions area, the attachment moved with
	// its staged name intact
	submissionsDir := filepath.Join(env.storageDir, "acme", "submissions", "SOP42")
	entries, err := os.ReadDir(submissionsDir)
	require.NoError(t, err)
	var names []string
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	assert.Contains(t, names, filename)

	// the stored body carries the provenance block and the schema snapshots
	raw, err := os.ReadFile(filepath.Join(submissionsDir, filename))
	require.NoError(t, err)
	stored := map[string]any{}
	require.NoError(t, json.Unmarshal(raw, &stored))
	provenance := stored["provenance"].(map[string]any)
	assert.Equal(t, draftID, provenance["source_draft_id"])
	assert.Equal(t, "sess-web", provenance["session_id"])
	assert.Equal(t, "alice_acme_org", provenance["actor"])
	assert.Equal(t, map[string]any{"department": "qc"}, stored["sop_metadata_snapshot"])
	assert.Len(t, stored["field_definitions_snapshot"], 3)

	attachments, err := os.ReadDir(filepath.Join(submissionsDir, "attachments"))
	require.NoError(t, err)
	require.Len(t, attachments, 1)
	assert.True(t, strings.HasSuffix(attachments[0].Name(), "-scan.png"))

	// a second submit of the same inputs yields a fresh uuid and filename
	w, body = env.do(t, http.MethodPost, "/api/v1/elns/submit", "alice-token", draftPayload())
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEqual(t, filename, body["filename"])
}

func TestSubmitForbidden(t *testing.T) {
	env := newEnv(t)

	w, body := env.do(t, http.MethodPost, "/api/v1/elns/submit", "mallory-token", draftPayload())
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "forbidden", body["error"])

	// storage untouched: no submissions area was created
	_, err := os.Stat(filepath.Join(env.storageDir, "acme", "submissions"))
	assert.True(t, os.IsNotExist(err))
}

func TestCrossTenantIsolation(t *testing.T) {
	env := newEnv(t)

	// bob saves a draft in beta via its bound host
	payload, err := json.Marshal(draftPayload())
	require.NoError(t, err)
	r := httptest.NewRequest(http.MethodPost, "/api/v1/drafts/", bytes.NewReader(payload))
	r.Host = "beta.test"
	r.Header.Set("Authorization", "Bearer bob-token")
	w := httptest.NewRecorder()
	env.handler.ServeHTTP(w, r)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// beta tokens mean nothing on acme
	w2, body := env.do(t, http.MethodGet, "/api/v1/drafts/?sop_id=SOP42", "bob-token", nil)
	assert.Equal(t, http.StatusUnauthorized, w2.Code)
	assert.Equal(t, "unauthenticated", body["error"])

	// and acme listings never see beta objects
	w2, body = env.do(t, http.MethodGet, "/api/v1/drafts/?sop_id=SOP42", "alice-token", nil)
	require.Equal(t, http.StatusOK, w2.Code)
	assert.Equal(t, float64(0), body["total"])

	// physically the trees are disjoint
	_, err = os.Stat(filepath.Join(env.storageDir, "beta", "drafts", "SOP42"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(env.storageDir, "acme", "drafts"))
	assert.True(t, os.IsNotExist(err))
}

func TestUnknownTenantHost(t *testing.T) {
	env := newEnv(t)

	r := httptest.NewRequest(http.MethodGet, "/api/config/runtime", nil)
	r.Host = "ghost.test"
	w := httptest.NewRecorder()
	env.handler.ServeHTTP(w, r)
	// unknown hosts fall back to the default tenant
	require.Equal(t, http.StatusOK, w.Code)

	body := map[string]any{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "acme", body["tenant"])
}
