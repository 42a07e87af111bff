package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rendis/skillrun/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
name: deploy-service
description: Deploy a service to the target region
inputs:
  region:
    required: true
    type: string
  replicas:
    type: number
    default: 2
config:
  bucket: artifacts
steps:
  - name: fetch_manifest
    tool: http.request
    args:
      url: "https://registry.example.com/{{ inputs.region }}/manifest"
  - name: replica_count
    compute:
      engine: expr
      expression: "inputs.replicas * 2"
  - name: apply
    tool: deploy.apply
    args:
      manifest: "{{ steps.fetch_manifest.output.body }}"
    on_error: retry
    retry_limit: 3
    confirmation:
      message: "Apply to {{ inputs.region }}?"
      options: [approve, reject]
      timeout_seconds: 60
      default_option: reject
`

func TestParse_YAML(t *testing.T) {
	def, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "deploy-service", def.Name)
	require.Len(t, def.Steps, 3)

	assert.Equal(t, "fetch_manifest", def.Steps[0].Name)
	assert.Equal(t, "http.request", def.Steps[0].Tool)

	require.NotNil(t, def.Steps[1].Compute)
	assert.Equal(t, "expr", def.Steps[1].Compute.Engine)

	apply := def.Steps[2]
	assert.Equal(t, schema.ErrorPolicyRetry, apply.Policy())
	assert.Equal(t, 3, apply.Attempts())
	require.NotNil(t, apply.Confirmation)
	assert.Equal(t, []string{"approve", "reject"}, apply.Confirmation.Options)
	assert.Equal(t, "approve", apply.Confirmation.Proceed())

	require.Contains(t, def.Inputs, "replicas")
	assert.Equal(t, 2, def.Inputs["replicas"].Default)
}

func TestParse_JSON(t *testing.T) {
	doc := `{
		"name": "simple",
		"steps": [{"name": "only", "tool": "echo", "args": {"msg": "hi"}}]
	}`
	def, err := ParseJSON([]byte(doc))
	require.NoError(t, err)
	assert.Equal(t, "simple", def.Name)
	assert.Equal(t, map[string]any{"msg": "hi"}, def.Steps[0].Args)
}

func TestParse_Invalid(t *testing.T) {
	_, err := Parse([]byte("steps: [unclosed"))
	require.Error(t, err)

	var skErr *schema.SkillError
	require.ErrorAs(t, err, &skErr)
	assert.Equal(t, schema.ErrCodeValidation, skErr.Code)
}

func TestCatalog_RegisterGetList(t *testing.T) {
	c := New()

	def, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)
	require.NoError(t, c.Register(def))

	got, err := c.Get("deploy-service")
	require.NoError(t, err)
	assert.Equal(t, def, got)

	_, err = c.Get("missing")
	require.Error(t, err)
	var skErr *schema.SkillError
	require.ErrorAs(t, err, &skErr)
	assert.Equal(t, schema.ErrCodeNotFound, skErr.Code)

	list := c.List()
	require.Len(t, list, 1)
	assert.Equal(t, "deploy-service", list[0].Name)
	assert.Equal(t, 3, list[0].Steps)
}

func TestCatalog_LoadDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "deploy.yaml"), []byte(sampleYAML), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "simple.json"),
		[]byte(`{"name": "simple", "steps": [{"name": "only", "tool": "echo"}]}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("# skills"), 0o644))

	c := New()
	n, err := c.LoadDir(dir)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, c.Count())
}

func TestLoadFile_UnsupportedExtension(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "skill.toml")
	require.NoError(t, os.WriteFile(path, []byte("name = 'x'"), 0o644))

	_, err := LoadFile(path)
	require.Error(t, err)
}
