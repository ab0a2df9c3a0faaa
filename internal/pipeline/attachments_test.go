package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caseprobe/discovery-cli/internal/archive"
	"github.com/caseprobe/discovery-cli/internal/model"
	"github.com/caseprobe/discovery-cli/internal/resilience"
	"github.com/caseprobe/discovery-cli/pkg/blob"
)

func TestIsSignatureImage(t *testing.T) {
	tests := []struct {
		name        string
		filename    string
		size        int64
		contentID   string
		contentType string
		want        bool
	}{
		{"logo by name", "logo.png", 200000, "", "image/png", true},
		{"numbered logo", "logo2.jpg", 500, "", "image/jpeg", true},
		{"outlook embed", "image001.png", 30000, "", "image/png", true},
		{"word temp image", "~wrd0001.jpg", 5000, "", "image/jpeg", true},
		{"banner", "banner.gif", 80000, "", "image/gif", true},
		{"external warning", "external-sender-warning.png", 2000, "", "image/png", true},
		{"case insensitive", "LOGO.PNG", 100, "", "image/png", true},
		{"small embedded image", "chart.png", 8000, "", "image/png", true},
		{"embedded with cid", "photo.jpg", 40000, "<cid-1>", "image/jpeg", true},
		{"inline under cid threshold", "diagram.png", 90000, "<cid-2>", "image/png", true},
		{"large inline image", "siteplan.png", 150000, "<cid-3>", "image/png", false},
		{"large embedded image", "sitephoto.jpg", 60000, "", "image/jpeg", false},
		{"pdf never filtered", "logo.pdf", 500, "", "application/pdf", false},
		{"spreadsheet", "costs.xlsx", 4000, "", "application/vnd.ms-excel", false},
		{"zero size image", "unknown.png", 0, "", "image/png", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := isSignatureImage(tt.filename, tt.size, tt.contentID, tt.contentType)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestUploader_DeduplicatesByHash(t *testing.T) {
	bc := blob.NewMemory()
	up := newUploader(context.Background(), bc, "attachments", 4, resilience.DefaultRetryConfig())

	key1, dup1 := up.store("aabbcc", []byte("payload"), "application/pdf")
	key2, dup2 := up.store("aabbcc", []byte("payload"), "application/pdf")
	key3, dup3 := up.store("ddeeff", []byte("other"), "application/pdf")

	require.NoError(t, up.wait())
	assert.False(t, dup1)
	assert.True(t, dup2)
	assert.False(t, dup3)
	assert.Equal(t, key1, key2)
	assert.NotEqual(t, key1, key3)
	assert.Equal(t, 2, up.uniqueCount())
	assert.Equal(t, 2, bc.PutCount())

	data, err := bc.Get(context.Background(), "attachments", key1)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), data)
}

func TestProcessAttachments_SkipsUnreadable(t *testing.T) {
	p := New(testCfg(), newMemStore(), nil, nil, testGate())
	b := newBatcher(newMemStore(), 10)
	stats := &model.RunStats{}

	atts := []archive.Attachment{
		archive.NewAttachment("report.pdf", "application/pdf", "", false, []byte("content")),
		archive.NewFailingAttachment("broken.doc", assert.AnError),
	}
	p.processAttachments("email-1", "run-1", atts, b, nil, stats)

	assert.Equal(t, 1, stats.Attachments)
	assert.Equal(t, 1, stats.AttachmentsSkipped)
	require.Len(t, stats.Errors, 1)
	assert.Contains(t, stats.Errors[0], "broken.doc")

	require.Len(t, b.pending.Attachments, 1)
	row := b.pending.Attachments[0]
	assert.Equal(t, "report.pdf", row.Filename)
	assert.NotEmpty(t, row.AttachmentHash)
	assert.Empty(t, row.StorageKey)
	assert.False(t, row.IsDuplicate)
}

func TestProcessAttachments_InlineImagesConfigurable(t *testing.T) {
	atts := []archive.Attachment{
		archive.NewAttachment("image001.png", "image/png", "<cid-1>", true, []byte("png-bytes")),
	}

	cfg := testCfg()
	p := New(cfg, newMemStore(), nil, nil, testGate())
	b := newBatcher(newMemStore(), 10)
	stats := &model.RunStats{}
	p.processAttachments("email-1", "run-1", atts, b, nil, stats)
	assert.Equal(t, 1, stats.AttachmentsSkipped)
	assert.Empty(t, b.pending.Attachments)

	cfg = testCfg()
	cfg.Ingest.IncludeInlineImages = true
	p = New(cfg, newMemStore(), nil, nil, testGate())
	b = newBatcher(newMemStore(), 10)
	stats = &model.RunStats{}
	p.processAttachments("email-1", "run-1", atts, b, nil, stats)
	assert.Equal(t, 0, stats.AttachmentsSkipped)
	assert.Len(t, b.pending.Attachments, 1)
}
