package pipeline

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/caseprobe/discovery-cli/internal/archive"
	"github.com/caseprobe/discovery-cli/internal/body"
	"github.com/caseprobe/discovery-cli/internal/forensic"
	"github.com/caseprobe/discovery-cli/internal/headers"
	"github.com/caseprobe/discovery-cli/internal/model"
	"github.com/caseprobe/discovery-cli/pkg/blob"
)

const previewLen = 10000

// runState carries the per-run machinery through the walk.
type runState struct {
	runID    string
	locator  string
	project  string
	batch    *batcher
	uploads  *uploader
	progress *progressReporter
	stats    *model.RunStats
	indexed  []model.EmailMessage
	folders  map[string]struct{}
}

// processMessage turns one archive entry into its record triad, its
// queryable email row, and its attachment rows. Exclusion by the gate
// still produces a raw record and a minimal email row; only body and
// attachment work is skipped.
func (p *Pipeline) processMessage(ctx context.Context, e archive.Entry, rs *runState) error {
	msg := e.Message
	rs.stats.TotalMessages++
	if _, ok := rs.folders[e.FolderPath]; !ok {
		rs.folders[e.FolderPath] = struct{}{}
		rs.stats.FoldersVisited++
	}

	h := headers.Parse(msg.HeadersBlob)
	messageID := h.Get("Message-ID")
	emailID := uuid.NewString()

	sourceHash := forensic.SourceHash(forensic.SourceIdentity{
		SourceType:        "mailbox",
		ArchiveLocator:    rs.locator,
		FolderPath:        e.FolderPath,
		MessageID:         messageID,
		ConversationIndex: msg.ConversationIndex,
		Subject:           msg.Subject,
		Date:              msg.Date,
	})

	// Stage one: subject-only gate, before any body work.
	decision := p.gate.Evaluate(msg.Subject, msg.SenderEmail, e.FolderPath, "")
	if decision.Excluded {
		p.recordExcluded(msg, e, rs, emailID, sourceHash, messageID, decision.Reason)
		return nil
	}

	sel := body.Select(msg.BodyPlain, msg.BodyHTML, msg.BodyRTF)
	// Identity hashes and dedupe fingerprints run over the cleaned top
	// message. Hashing the full text would make two copies of the same
	// message differ whenever their quoted chains were truncated
	// differently.
	fullText := body.CleanBodyText(sel.Full)
	canonical := body.CleanBodyText(sel.Top)
	if canonical == "" {
		canonical = fullText
	}
	preview := canonical
	if len(preview) > previewLen {
		preview = preview[:previewLen]
	}

	// Stage two: re-evaluate with the body preview available.
	decision = p.gate.Evaluate(msg.Subject, msg.SenderEmail, e.FolderPath, preview)
	if decision.Excluded {
		p.recordExcluded(msg, e, rs, emailID, sourceHash, messageID, decision.Reason)
		return nil
	}

	normalized := body.NormalizeForHash(canonical)
	relaxedBody, _ := body.StripSignature(canonical)
	contentHash := forensic.ContentHash(canonical, msg.SenderEmail, msg.SenderName, msg.ToRecipients, msg.Subject, msg.Date)

	env := forensic.Envelope{
		SenderEmail:   msg.SenderEmail,
		ToRecipients:  msg.ToRecipients,
		CcRecipients:  msg.CcRecipients,
		BccRecipients: msg.BccRecipients,
		SubjectKey:    strings.ToLower(strings.TrimSpace(msg.Subject)),
		Date:          msg.Date,
	}

	hops := headers.ParseReceived(h.GetAll("Received"))
	minHop, maxHop := hopBounds(hops, msg.Date)

	quotedAnchor := ""
	if anchor := body.ExtractQuotedAnchor(fullText, p.cfg.Thread.QuotedAnchorLines); anchor != "" {
		quotedAnchor = forensic.HashText(body.NormalizeForHash(anchor))
	}

	triad := forensic.BuildTriad(forensic.TriadInput{
		RunID:          rs.runID,
		ArchiveLocator: rs.locator,
		FolderPath:     e.FolderPath,
		EmailID:        emailID,
		SourceHash:     sourceHash,

		HeadersBlob: msg.HeadersBlob,
		BodyPlain:   msg.BodyPlain,
		BodyHTML:    msg.BodyHTML,
		BodyRTF:     msg.BodyRTF,

		BodySource:       string(sel.Source),
		CanonicalBody:    canonical,
		TopBody:          sel.Top,
		QuotedBody:       sel.Quoted,
		Signature:        sel.Signature,
		ContentHash:      contentHash,
		StrictHash:       forensic.StrictHash(normalized, env),
		RelaxedHash:      forensic.RelaxedHash(body.NormalizeForHash(relaxedBody), env),
		QuotedAnchorHash: quotedAnchor,

		NormalizerVersion: body.NormalizerVersion,
		RulesetHash:       body.RulesetHash,

		MinHopSecs: minHop,
		MaxHopSecs: maxHop,
	}, time.Now().UTC())
	rs.batch.addTriad(triad.Raw, triad.Occurrence, triad.Derived)

	email := model.EmailMessage{
		ID:                emailID,
		RunID:             rs.runID,
		Project:           rs.project,
		FolderPath:        e.FolderPath,
		MessageID:         messageID,
		InReplyTo:         h.Get("In-Reply-To"),
		References:        headers.ParseReferences(h.Get("References")),
		ConversationIndex: msg.ConversationIndex,
		Subject:           msg.Subject,
		SenderName:        msg.SenderName,
		SenderEmail:       msg.SenderEmail,
		ToRecipients:      msg.ToRecipients,
		CcRecipients:      msg.CcRecipients,
		BccRecipients:     msg.BccRecipients,
		Date:              msg.Date,
		BodyPreview:       preview,
		BodyText:          canonical,
		BodySource:        string(sel.Source),
		ContentHash:       contentHash,
		SourceHash:        sourceHash,
		HasAttachments:    len(msg.Attachments) > 0,
		AttachmentCount:   len(msg.Attachments),
		Meta:              buildMeta(msg, sel, decision.Spam.Category, decision.OtherProject),
	}

	// Oversized full texts go to the blob store. The row always keeps the
	// canonical top text: the thread and dedupe passes read body_text, so
	// emptying it here would starve their fingerprints.
	if p.blob != nil && p.cfg.Ingest.BodyOffloadThreshold > 0 && len(fullText) > p.cfg.Ingest.BodyOffloadThreshold {
		key := blob.BodyKey(emailID)
		if err := p.blob.Put(ctx, p.cfg.Blob.BodyBucket, key, strings.NewReader(fullText), int64(len(fullText)), "text/plain; charset=utf-8"); err != nil {
			rs.stats.AddError("body offload: " + err.Error())
			zap.L().Warn("pipeline: body offload failed", zap.String("email_id", emailID), zap.Error(err))
		} else {
			email.BodyBlobKey = key
			rs.stats.BodiesOffloaded++
			if saved := int64(len(fullText) - len(canonical)); saved > 0 {
				rs.stats.BytesSaved += saved
			}
		}
	}

	p.processAttachments(emailID, rs.runID, msg.Attachments, rs.batch, rs.uploads, rs.stats)

	rs.batch.addEmail(email)
	rs.indexed = append(rs.indexed, email)
	rs.stats.EmailsProcessed++
	return nil
}

// recordExcluded persists the raw capture and a minimal email row for a
// gated-out message. Attachments are never extracted.
func (p *Pipeline) recordExcluded(msg *archive.Message, e archive.Entry, rs *runState, emailID, sourceHash, messageID, reason string) {
	now := time.Now().UTC()
	raw := model.MessageRaw{
		ID:          uuid.NewString(),
		SourceHash:  sourceHash,
		RunID:       rs.runID,
		HeadersBlob: msg.HeadersBlob,
		BodyPlain:   msg.BodyPlain,
		BodyHTML:    msg.BodyHTML,
		BodyRTF:     msg.BodyRTF,
		ExtractedAt: now,
		ToolVersion: forensic.ToolVersion,
	}
	occ := model.MessageOccurrence{
		ID:             uuid.NewString(),
		SourceHash:     sourceHash,
		RunID:          rs.runID,
		ArchiveLocator: rs.locator,
		FolderPath:     e.FolderPath,
		EmailID:        emailID,
		SeenAt:         now,
	}
	rs.batch.addRawOccurrence(raw, occ)

	rs.batch.addEmail(model.EmailMessage{
		ID:          emailID,
		RunID:       rs.runID,
		Project:     rs.project,
		FolderPath:  e.FolderPath,
		MessageID:   messageID,
		Subject:     msg.Subject,
		SenderName:  msg.SenderName,
		SenderEmail: msg.SenderEmail,
		Date:        msg.Date,
		BodyPreview: "[EXCLUDED: " + reason + "]",
		SourceHash:  sourceHash,
		Meta: map[string]any{
			"excluded":        true,
			"is_hidden":       true,
			"excluded_reason": reason,
		},
	})
	rs.stats.EmailsExcluded++
}

func buildMeta(msg *archive.Message, sel body.Selection, spamCategory, otherProject string) map[string]any {
	meta := map[string]any{
		"quoted_len":    len(sel.Quoted),
		"signature_len": len(sel.Signature),
	}
	if msg.MessageClass != "" {
		meta["message_class"] = msg.MessageClass
	}
	if spamCategory != "" {
		meta["spam_category"] = spamCategory
	}
	if otherProject != "" {
		meta["other_project"] = otherProject
	}
	return meta
}

// hopBounds converts Received hop timestamps into min/max transport
// seconds relative to the send date.
func hopBounds(hops []headers.ReceivedHop, sent *time.Time) (minSecs, maxSecs *int64) {
	if sent == nil {
		return nil, nil
	}
	minTime, maxTime := headers.ReceivedTimeBounds(hops)
	if minTime != nil {
		v := int64(minTime.Sub(*sent) / time.Second)
		minSecs = &v
	}
	if maxTime != nil {
		v := int64(maxTime.Sub(*sent) / time.Second)
		maxSecs = &v
	}
	return minSecs, maxSecs
}
