package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/cmdkit/examples/echo"
)

func liteEnv(t *testing.T) string {
	t.Helper()
	dataDir := t.TempDir()
	t.Setenv("DATA_DIR", dataDir)
	t.Setenv("DATABASE_URL", "")
	t.Setenv("CMDKIT_DATASOURCES", "")
	t.Setenv("ARTIFACT_STORE", "fs")
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("OTEL_ENABLED", "")
	t.Setenv("ACCESSOR_SIGNING_KEY", "")
	t.Setenv("LOG_LEVEL", "ERROR")
	return dataDir
}

func writeManifest(t *testing.T, jar string) string {
	t.Helper()
	dir := t.TempDir()
	lib := filepath.Join(dir, "lib")
	require.NoError(t, os.MkdirAll(lib, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(lib, "echo-1.0.jar"), []byte(jar), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(lib, "cmdkit-2.1.3.jar"), []byte("runtime"), 0o600))

	manifest := "name: C1\n" +
		"description: echo command\n" +
		"main_class: " + echo.MainClass + "\n" +
		"artifact: echo-1.0.jar\n" +
		"version: \"1.0\"\n"
	path := filepath.Join(dir, "c1.yaml")
	require.NoError(t, os.WriteFile(path, []byte(manifest), 0o600))
	return path
}

func run(args ...string) (int, string, string) {
	var stdout, stderr bytes.Buffer
	code := Run(append([]string{"cmdkit"}, args...), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestUsage(t *testing.T) {
	code, _, stderr := run()
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr, "USAGE")

	code, stdout, _ := run("help")
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout, "cmdkit deploy")

	code, _, stderr = run("bogus")
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr, "Unknown command: bogus")
}

func TestFlagValidation(t *testing.T) {
	liteEnv(t)

	code, _, stderr := run("deploy")
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr, "-manifest is required")

	code, _, stderr = run("call", "-verb", "ECHO")
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr, "-name is required")

	code, _, stderr = run("call", "-name", "C1", "-params", "[1,2]")
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr, "invalid -params")

	code, _, _ = run("deploy", "-manifest", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Equal(t, 2, code)
}

func TestLiteModeLifecycle(t *testing.T) {
	dataDir := liteEnv(t)
	manifest := writeManifest(t, "echo v1")

	code, stdout, stderr := run("deploy", "-manifest", manifest)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "DEPLOYED C1")
	assert.FileExists(t, filepath.Join(dataDir, "cmdkit.db"))

	code, stdout, _ = run("deploy", "-manifest", manifest)
	require.Equal(t, 0, code)
	assert.Contains(t, stdout, "UP TO DATE C1")

	code, stdout, _ = run("ping", "-name", "C1")
	require.Equal(t, 0, code, stdout)
	assert.Contains(t, stdout, "hello world")

	code, stdout, _ = run("call", "-name", "C1", "-verb", "ECHO", "-params", `{"message":"hi"}`, "-tenant", "4")
	require.Equal(t, 0, code, stdout)
	var answer map[string]any
	require.NoError(t, json.Unmarshal([]byte(stdout), &answer))
	assert.Equal(t, "hi", answer["message"])
	assert.EqualValues(t, 4, answer["tenant"])

	code, stdout, _ = run("deps", "-prefix", "cmdkit,C1")
	require.Equal(t, 0, code)
	assert.Equal(t, "C1\ncmdkit-2.1.3\n", stdout)

	code, stdout, _ = run("deploy", "-manifest", manifest, "-force", "-json")
	require.Equal(t, 0, code)
	var report statusReport
	require.NoError(t, json.Unmarshal([]byte(stdout), &report))
	assert.True(t, report.NewDeployment)
	assert.Equal(t, "verified", report.State)

	code, _, _ = run("undeploy", "-manifest", manifest)
	require.Equal(t, 0, code)

	code, _, _ = run("ping", "-name", "C1")
	assert.Equal(t, 1, code)
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{""}, splitList(""))
	assert.Equal(t, []string{"a", "b"}, splitList("a,,b"))
}

func TestSignedAccessorServesDetachedCalls(t *testing.T) {
	liteEnv(t)
	t.Setenv("ACCESSOR_SIGNING_KEY", "0123456789abcdef0123456789abcdef")
	manifest := writeManifest(t, "echo v1")

	code, _, stderr := run("deploy", "-manifest", manifest)
	require.Equal(t, 0, code, stderr)

	code, stdout, _ := run("call", "-name", "C1", "-verb", "DEPS", "-params", `{"prefix":"cmdkit"}`, "-tenant", "4")
	require.Equal(t, 0, code, stdout)
	var answer map[string]any
	require.NoError(t, json.Unmarshal([]byte(stdout), &answer))
	assert.Equal(t, []any{"cmdkit-2.1.3"}, answer["dependencies"])
}
