package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const linearChainYAML = `
name: linear-chain
tasks:
  - label: create_text
    service: text-service
    name: CreateText
  - label: create_voice
    service: audio-service
    name: CreateVoice
    input_refs:
      text_task_id: create_text
`

func writeTemplate(t *testing.T, dir, filename, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, filename), []byte(content), 0644))
}

func TestNewStorage_EmptyDirIsNotAnError(t *testing.T) {
	s, err := NewStorage("")
	require.NoError(t, err)
	assert.Empty(t, s.Names())
}

func TestNewStorage_LoadsYAMLFiles(t *testing.T) {
	dir := t.TempDir()
	writeTemplate(t, dir, "linear-chain.yaml", linearChainYAML)

	s, err := NewStorage(dir)
	require.NoError(t, err)

	doc, version, err := s.Get("linear-chain")
	require.NoError(t, err)
	assert.NotEmpty(t, version)
	require.Len(t, doc.Tasks, 2)
	assert.Equal(t, "create_text", doc.Tasks[0].Label)
}

func TestNewStorage_SkipsUnparseableFileButLoadsRest(t *testing.T) {
	dir := t.TempDir()
	writeTemplate(t, dir, "linear-chain.yaml", linearChainYAML)
	writeTemplate(t, dir, "broken.yaml", "tasks: [this is not: valid: yaml")

	s, err := NewStorage(dir)
	require.NoError(t, err)

	_, _, err = s.Get("linear-chain")
	require.NoError(t, err)
	_, _, err = s.Get("broken")
	require.Error(t, err)
}

func TestStorage_Get_UnknownTemplate(t *testing.T) {
	s, err := NewStorage(t.TempDir())
	require.NoError(t, err)
	_, _, err = s.Get("does-not-exist")
	require.Error(t, err)
}

func TestStorage_Watch_ReloadsOnFileChange(t *testing.T) {
	dir := t.TempDir()
	writeTemplate(t, dir, "linear-chain.yaml", linearChainYAML)

	s, err := NewStorage(dir)
	require.NoError(t, err)
	require.NoError(t, s.Watch())
	defer s.Stop()

	writeTemplate(t, dir, "extra.yaml", linearChainYAML)

	require.Eventually(t, func() bool {
		_, _, err := s.Get("extra")
		return err == nil
	}, 2*time.Second, 20*time.Millisecond, "watcher should pick up the new template file")
}
