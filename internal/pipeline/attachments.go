package pipeline

import (
	"bytes"
	"context"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/caseprobe/discovery-cli/internal/archive"
	"github.com/caseprobe/discovery-cli/internal/forensic"
	"github.com/caseprobe/discovery-cli/internal/model"
	"github.com/caseprobe/discovery-cli/internal/resilience"
	"github.com/caseprobe/discovery-cli/pkg/blob"
)

// signatureImagePatterns match attachment filenames that are almost
// always signature logos, disclaimers, or Outlook-generated embeds.
var signatureImagePatterns = []*regexp.Regexp{
	regexp.MustCompile(`^logo\d*\.(?:png|jpg|jpeg|gif|bmp)$`),
	regexp.MustCompile(`^signature\d*\.(?:png|jpg|jpeg|gif|bmp)$`),
	regexp.MustCompile(`^image\d{3,}\.(?:png|jpg|jpeg|gif|bmp)$`),
	regexp.MustCompile(`^~wrd\d+\.(?:png|jpg|jpeg|gif|bmp)$`),
	regexp.MustCompile(`^(?:banner|icon|header|footer|disclaimer)\.(?:png|jpg|jpeg|gif|bmp)$`),
	regexp.MustCompile(`^(?:external|caution|warning).*\.(?:png|jpg|jpeg|gif|bmp)$`),
}

const (
	smallImageBytes    = 10000
	embeddedImageBytes = 50000
	inlineImageBytes   = 100000
)

// isSignatureImage reports whether an attachment is a signature or logo
// image not worth archiving. Genuine embedded diagrams stay: only small
// images, or inline ones below the cid threshold, are filtered.
func isSignatureImage(filename string, size int64, contentID, contentType string) bool {
	name := strings.ToLower(strings.TrimSpace(filename))
	for _, re := range signatureImagePatterns {
		if re.MatchString(name) {
			return true
		}
	}

	isImage := strings.HasPrefix(contentType, "image/")
	if isImage && size > 0 && size < embeddedImageBytes {
		if contentID != "" {
			return true
		}
		if size < smallImageBytes {
			return true
		}
	}
	if isImage && contentID != "" && size > 0 && size < inlineImageBytes {
		return true
	}
	return false
}

// uploader stores attachment content exactly once per distinct hash per
// run. Uploads run on a bounded worker pool; seen hashes reuse the
// recorded storage key without re-reading the blob store.
type uploader struct {
	blob   blob.Client
	bucket string
	retry  resilience.RetryConfig

	group *errgroup.Group
	gctx  context.Context

	mu   sync.Mutex
	seen map[string]string // attachment hash -> storage key
}

func newUploader(ctx context.Context, bc blob.Client, bucket string, workers int, retry resilience.RetryConfig) *uploader {
	if workers <= 0 {
		workers = 50
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	return &uploader{
		blob:   bc,
		bucket: bucket,
		retry:  retry,
		group:  g,
		gctx:   gctx,
		seen:   make(map[string]string),
	}
}

// store schedules an upload for the given content unless this hash was
// already scheduled this run. It returns the storage key and whether the
// content was already present.
func (u *uploader) store(hash string, data []byte, contentType string) (key string, duplicate bool) {
	u.mu.Lock()
	if key, ok := u.seen[hash]; ok {
		u.mu.Unlock()
		return key, true
	}
	key = blob.AttachmentKey(hash)
	u.seen[hash] = key
	u.mu.Unlock()

	size := int64(len(data))
	u.group.Go(func() error {
		err := resilience.Do(u.gctx, u.retry, func(ctx context.Context) error {
			return u.blob.Put(ctx, u.bucket, key, bytes.NewReader(data), size, contentType)
		})
		if err != nil {
			return eris.Wrapf(err, "pipeline: upload attachment %s", key)
		}
		return nil
	})
	return key, false
}

// wait blocks until all scheduled uploads finish, returning the first
// upload error.
func (u *uploader) wait() error {
	return u.group.Wait()
}

func (u *uploader) uniqueCount() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.seen)
}

// processAttachments reads, filters, hashes, and schedules uploads for
// one message's attachments, appending linking rows to the batch.
func (p *Pipeline) processAttachments(emailID, runID string, atts []archive.Attachment, b *batcher, up *uploader, stats *model.RunStats) {
	for i := range atts {
		att := &atts[i]

		if !p.cfg.Ingest.IncludeInlineImages &&
			isSignatureImage(att.Filename, att.Size, att.ContentID, att.ContentType) {
			stats.AttachmentsSkipped++
			continue
		}

		data, err := att.Bytes()
		if err != nil {
			stats.AttachmentsSkipped++
			stats.AddError("attachment read: " + att.Filename + ": " + err.Error())
			zap.L().Warn("pipeline: attachment read failed",
				zap.String("email_id", emailID),
				zap.String("filename", att.Filename),
				zap.Error(err))
			continue
		}

		hash, size, err := forensic.HashReaderChunked(bytes.NewReader(data), p.cfg.Ingest.AttachmentChunkSize)
		if err != nil {
			stats.AttachmentsSkipped++
			stats.AddError("attachment hash: " + att.Filename + ": " + err.Error())
			continue
		}

		// Without object storage the row still lands, hash included,
		// just with no storage key.
		var key string
		var duplicate bool
		if up != nil {
			key, duplicate = up.store(hash, data, att.ContentType)
			if duplicate {
				stats.BytesSaved += size
			}
		}

		b.addAttachment(model.EmailAttachment{
			ID:             uuid.NewString(),
			EmailID:        emailID,
			RunID:          runID,
			Filename:       att.Filename,
			ContentType:    att.ContentType,
			ContentID:      att.ContentID,
			SizeBytes:      size,
			AttachmentHash: hash,
			StorageKey:     key,
			IsInline:       att.IsInline,
			IsDuplicate:    duplicate,
			CreatedAt:      time.Now().UTC(),
		})
		stats.Attachments++
	}
}
