package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeReplayFile(t *testing.T, lines string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "log.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(lines), 0o644))
	return path
}

func TestReadReplayFileGroupsByConversation(t *testing.T) {
	path := writeReplayFile(t, `{"conversation_id":"a","customer_name":"James","message":"10kg rice"}
{"conversation_id":"b","customer_name":"Mary","message":"5 crates soda"}
{"conversation_id":"a","message":"make it 20kg"}
`)

	byConversation, order, err := readReplayFile(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b"}, order)
	require.Len(t, byConversation["a"], 2)
	assert.Equal(t, "10kg rice", byConversation["a"][0].Message)
	assert.Equal(t, "make it 20kg", byConversation["a"][1].Message)
	require.Len(t, byConversation["b"], 1)
}

func TestReadReplayFileSkipsBlankLines(t *testing.T) {
	path := writeReplayFile(t, `{"conversation_id":"a","message":"10kg rice"}

{"conversation_id":"a","message":"add beans"}
`)

	byConversation, order, err := readReplayFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, order)
	assert.Len(t, byConversation["a"], 2)
}

func TestReadReplayFileRejectsBadLines(t *testing.T) {
	path := writeReplayFile(t, `{"conversation_id":"a","message":"ok"}
{not json}
`)
	_, _, err := readReplayFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")

	path = writeReplayFile(t, `{"conversation_id":"a"}
`)
	_, _, err = readReplayFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "message is required")
}

func TestReadReplayFileEmpty(t *testing.T) {
	_, _, err := readReplayFile(writeReplayFile(t, ""))
	require.Error(t, err)

	_, _, err = readReplayFile(filepath.Join(t.TempDir(), "missing.jsonl"))
	require.Error(t, err)
}
