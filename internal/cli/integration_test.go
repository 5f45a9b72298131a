package cli_test

import (
	"bytes"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flattened struct {
	ID     string `json:"id"`
	Fields []struct {
		Key   string `json:"key"`
		Value any    `json:"value"`
	} `json:"fields"`
}

func keys(rec flattened) []string {
	out := make([]string, len(rec.Fields))
	for i, f := range rec.Fields {
		out[i] = f.Key
	}
	return out
}

// jsonflat runs the CLI without any remote configuration leaking in from
// the environment.
func jsonflat(args ...string) *exec.Cmd {
	cmd := exec.Command("go", append([]string{"run", "../../main.go"}, args...)...)
	cmd.Env = append(os.Environ(),
		"FABRICATE_API_KEY=", "WORKSPACE=", "DATABASE=", "ENTITY=",
		"FABRICATE_URI_BASE=", "JSONFLAT_LOG_LEVEL=", "JSONFLAT_POLL_INTERVAL=", "JSONFLAT_DOWNLOAD_DIR=",
	)
	return cmd
}

// TestCLI_FileInputOutput tests the CLI with file input and output
func TestCLI_FileInputOutput(t *testing.T) {
	tempDir := t.TempDir()

	jsonlContent := `{"name":"John","location":{"city":"New York"},"nicknames":["Jon-boy","Johnny"]}
{"a":[{"b":1}]}
`
	inputFile := filepath.Join(tempDir, "input.jsonl")
	require.NoError(t, os.WriteFile(inputFile, []byte(jsonlContent), 0o644))
	outputFile := filepath.Join(tempDir, "output.json")

	cmd := jsonflat("-o", outputFile, "flatten", inputFile)
	output, err := cmd.CombinedOutput()
	require.NoError(t, err, "CLI command failed: %s", string(output))
	assert.Contains(t, string(output), "Flattened 2 records written to")

	content, err := os.ReadFile(outputFile)
	require.NoError(t, err)

	var records []flattened
	require.NoError(t, json.Unmarshal(content, &records))
	require.Len(t, records, 2)
	assert.Equal(t, []string{
		"name", "location", "location.city", "location.",
		"nicknames", "nicknames[0]", "nicknames[1]", "nicknames.",
	}, keys(records[0]))
	assert.Equal(t, []string{"a", "a[0]", "a[0].b", "a[0].", "a."}, keys(records[1]))
	assert.Equal(t, "1", records[1].Fields[0].Value)
	assert.Equal(t, float64(1), records[1].Fields[2].Value)
}

// TestCLI_StdinStdout tests the CLI with stdin input and stdout output
func TestCLI_StdinStdout(t *testing.T) {
	cmd := jsonflat("flatten", "-")
	cmd.Stdin = strings.NewReader("[]\n\n\"just text\"\n")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	require.NoError(t, err, "CLI command failed: %s", stderr.String())

	var records []flattened
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &records))
	require.Len(t, records, 2)
	assert.Equal(t, []string{"", "."}, keys(records[0]))
	assert.Equal(t, "0", records[0].Fields[0].Value)
	assert.Equal(t, "EndArray", records[0].Fields[1].Value)
	assert.Equal(t, "just text", records[1].Fields[0].Value)
}

// TestCLI_Workers tests that parallel flattening keeps input order
func TestCLI_Workers(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 50; i++ {
		sb.WriteString(`{"n":` + string(rune('0'+i%10)) + `}` + "\n")
	}

	cmd := jsonflat("-w", "8", "flatten", "-")
	cmd.Stdin = strings.NewReader(sb.String())
	var stdout bytes.Buffer
	cmd.Stdout = &stdout

	require.NoError(t, cmd.Run())

	var records []flattened
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &records))
	require.Len(t, records, 50)
	for i, rec := range records {
		assert.Equal(t, float64(i%10), rec.Fields[0].Value)
	}
}

// TestCLI_InvalidJSON tests the CLI with invalid JSON input
func TestCLI_InvalidJSON(t *testing.T) {
	cmd := jsonflat("flatten", "-")
	cmd.Stdin = strings.NewReader("{\"ok\":1}\n{\"name\": \"Invalid JSON, \"age\": 30}\n")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	assert.Error(t, err, "CLI should fail with invalid JSON")
	assert.Contains(t, stderr.String(), "JSON parsing error: line 2")
	assert.Empty(t, stdout.String(), "no partial output")
}

// TestCLI_MissingFile tests the CLI with a file that does not exist
func TestCLI_MissingFile(t *testing.T) {
	cmd := jsonflat("flatten", filepath.Join(t.TempDir(), "missing.jsonl"))
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err := cmd.Run()
	assert.Error(t, err)
	assert.Contains(t, stderr.String(), "Input error")
	assert.Contains(t, stderr.String(), "not found")
}

// TestCLI_FlattenWithBrokenConfig tests that local flattening does not
// depend on remote settings
func TestCLI_FlattenWithBrokenConfig(t *testing.T) {
	cfgFile := filepath.Join(t.TempDir(), "jsonflat.yml")
	require.NoError(t, os.WriteFile(cfgFile, []byte("remote: [unclosed\n"), 0o644))

	cmd := jsonflat("-c", cfgFile, "flatten", "-")
	cmd.Env = append(cmd.Env, "JSONFLAT_POLL_INTERVAL=soon")
	cmd.Stdin = strings.NewReader("{\"a\":1}\n")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	require.NoError(t, cmd.Run(), stderr.String())
	assert.Contains(t, stderr.String(), "ignoring configuration")

	var records []flattened
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &records))
	require.Len(t, records, 1)
	assert.Equal(t, []string{"a"}, keys(records[0]))

	cmd = jsonflat("-c", cfgFile, "print-config")
	output, err := cmd.CombinedOutput()
	assert.Error(t, err)
	assert.Contains(t, string(output), "Configuration error")
}

// TestCLI_FetchWithoutConfig tests that fetch fails before any request
// when remote settings are missing
func TestCLI_FetchWithoutConfig(t *testing.T) {
	cmd := jsonflat("--env-file", filepath.Join(t.TempDir(), ".env"), "fetch", "customers")
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err := cmd.Run()
	assert.Error(t, err)
	assert.Contains(t, stderr.String(), "Configuration error")
	assert.Contains(t, stderr.String(), "FABRICATE_API_KEY environment variable is required")
}

// TestCLI_PrintConfigFromEnvFile tests reading remote settings from a dotenv file
func TestCLI_PrintConfigFromEnvFile(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envFile, []byte(`FABRICATE_URI_BASE=http://localhost:3000/
FABRICATE_API_KEY=sk-abcdefghijklmnop
WORKSPACE=Default
DATABASE=ecommerce
ENTITY=customers
`), 0o644))

	cmd := jsonflat("--env-file", envFile, "print-config")
	output, err := cmd.Output()
	require.NoError(t, err)

	out := string(output)
	assert.Contains(t, out, "URI Base: http://localhost:3000/ (custom instance)")
	assert.Contains(t, out, "API URL: http://localhost:3000/api/v1")
	assert.Contains(t, out, "API Key: sk-abcdefg...")
}

// TestCLI_Version tests the version flag
func TestCLI_Version(t *testing.T) {
	cmd := jsonflat("-v")
	output, err := cmd.CombinedOutput()
	require.NoError(t, err)
	assert.Contains(t, string(output), "jsonflat version")
}

// TestCLI_Help tests the help output
func TestCLI_Help(t *testing.T) {
	cmd := jsonflat("--help")
	output, err := cmd.CombinedOutput()
	require.NoError(t, err)

	helpOutput := string(output)
	assert.Contains(t, helpOutput, "Usage:")
	assert.Contains(t, helpOutput, "-o, --output")
	assert.Contains(t, helpOutput, "-c, --config")
	assert.Contains(t, helpOutput, "-w, --workers")
	assert.Contains(t, helpOutput, "flatten")
	assert.Contains(t, helpOutput, "fetch")
	assert.Contains(t, helpOutput, "print-config")
}
