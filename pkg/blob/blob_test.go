package blob

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAttachmentKey(t *testing.T) {
	assert.Equal(t, "attachments/ab/abcdef", AttachmentKey("abcdef"))
	assert.Equal(t, "attachments/x", AttachmentKey("x"))
}

func TestBodyKey(t *testing.T) {
	assert.Equal(t, "bodies/email-1.txt", BodyKey("email-1"))
}

func TestMemory_PutGetExists(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	exists, err := m.Exists(ctx, "attachments", "ab/abcdef")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, m.Put(ctx, "attachments", "ab/abcdef", strings.NewReader("payload"), 7, "application/octet-stream"))

	exists, err = m.Exists(ctx, "attachments", "ab/abcdef")
	require.NoError(t, err)
	assert.True(t, exists)

	data, err := m.Get(ctx, "attachments", "ab/abcdef")
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))
	assert.Equal(t, 1, m.PutCount())
}

func TestMemory_GetMissing(t *testing.T) {
	m := NewMemory()

	_, err := m.Get(context.Background(), "attachments", "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestMemory_FetchToFile(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	require.NoError(t, m.Put(ctx, "archives", "evidence/box.mbox", strings.NewReader("From pat@site.com\n"), 18, "application/mbox"))

	dir := t.TempDir()
	path, err := m.FetchToFile(ctx, "archives", "evidence/box.mbox", dir)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(path, "box.mbox"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "From pat@site.com\n", string(data))
}

func TestCheckDiskSpace(t *testing.T) {
	dir := t.TempDir()

	// Tiny objects always fit.
	require.NoError(t, checkDiskSpace(dir, 1))

	// An absurd requirement fails with a sized message.
	err := checkDiskSpace(dir, 1<<60)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insufficient disk space")
}

func TestCheckDiskSpace_CreatesDir(t *testing.T) {
	dir := t.TempDir() + "/nested/work"

	require.NoError(t, checkDiskSpace(dir, 1))
	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
