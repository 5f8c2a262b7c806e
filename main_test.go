package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drummonds/tagview/internal/tagapi"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := rootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestInitWritesConfigOnce(t *testing.T) {
	t.Chdir(t.TempDir())

	out, err := run(t, "init")
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote tagview.yaml")
	_, err = os.Stat("tagview.yaml")
	require.NoError(t, err)

	_, err = run(t, "init")
	assert.Error(t, err)
}

func TestTagCommand(t *testing.T) {
	t.Chdir(t.TempDir())
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/image/upload/", r.URL.Path)
		json.NewEncoder(w).Encode(tagapi.TagResult{Tags: []tagapi.Tag{
			{Name: "cat", Confidence: 85, IsPrimary: true},
		}})
	}))
	defer backend.Close()

	// smallest valid GIF
	gif := []byte("GIF89a\x01\x00\x01\x00\x00\x00\x00;")
	path := filepath.Join(t.TempDir(), "cat.gif")
	require.NoError(t, os.WriteFile(path, gif, 0644))

	out, err := run(t, "--backend", backend.URL, "tag", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Discovered Tags (1)")
	assert.Contains(t, out, "cat")
	assert.Contains(t, out, "very sure")
}

func TestTagCommandRejectsNonImage(t *testing.T) {
	t.Chdir(t.TempDir())
	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0644))

	_, err := run(t, "--backend", "http://127.0.0.1:1", "tag", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Please select an image file")
}
