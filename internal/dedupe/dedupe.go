// Package dedupe marks duplicate messages in a corpus using three
// strictly ordered tiers. Like threading, a pass is a pure function of
// the messages handed in; prior flags are cleared by the caller before
// the results are written back.
package dedupe

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/caseprobe/discovery-cli/internal/body"
	"github.com/caseprobe/discovery-cli/internal/forensic"
	"github.com/caseprobe/discovery-cli/internal/headers"
	"github.com/caseprobe/discovery-cli/internal/model"
)

// Config tunes the dedupe pass.
type Config struct {
	QuotedAnchorLines int
}

// DefaultConfig matches the ingest defaults.
func DefaultConfig() Config {
	return Config{QuotedAnchorLines: 6}
}

// Stats summarizes one dedupe pass.
type Stats struct {
	EmailsTotal       int `json:"emails_total"`
	DuplicatesFound   int `json:"duplicates_found"`
	GroupsMatched     int `json:"groups_matched"`
	DecisionsRecorded int `json:"decisions_recorded"`
}

// Result is the complete output of Deduplicate.
type Result struct {
	Updates   []model.DedupeUpdate
	Decisions []model.DedupeDecision
	Stats     Stats
}

var (
	dedupeSubjectPrefixRe = regexp.MustCompile(`(?i)^(?:re|fw|fwd|aw|sv|wg|tr|fs)\s*:\s*`)
	dedupeBracketTagRe    = regexp.MustCompile(`^\s*\[[^\]]{0,80}\]\s*`)
	disclaimerRe          = regexp.MustCompile(`(?i)(caution:\s*external email|confidential|disclaimer|legal notice|do not click links)`)
	signatureCutRe        = regexp.MustCompile(`(?mi)^\s*(--|__+|sent from my|sent via|kind regards|best regards|regards|thanks|thank you)\b`)
)

// fingerprint carries everything the tiers and the winner ranking need
// for one message.
type fingerprint struct {
	id             string
	messageIDNorm  string
	strictHash     string
	relaxedHash    string
	attachments    []string
	bodyLen        int
	hasBody        bool
	hasAttachments bool
	date           *time.Time
}

// Deduplicate runs tiers A (normalized Message-ID), B (strict hash), and
// C (relaxed hash) over msgs, each tier only touching messages no earlier
// tier matched. attachmentHashes maps email id to that message's
// attachment content hashes.
func Deduplicate(runID string, msgs []*model.EmailMessage, attachmentHashes map[string][]string, cfg Config) *Result {
	res := &Result{Stats: Stats{EmailsTotal: len(msgs)}}
	if len(msgs) == 0 {
		return res
	}

	fps := make(map[string]*fingerprint, len(msgs))
	byMessageID := newIndex()
	byStrict := newIndex()
	byRelaxed := newIndex()

	for _, m := range msgs {
		fp := fingerprintOf(m, attachmentHashes[m.ID], cfg)
		fps[m.ID] = fp
		if fp.messageIDNorm != "" {
			byMessageID.add(fp.messageIDNorm, m.ID)
		}
		byStrict.add(fp.strictHash, m.ID)
		byRelaxed.add(fp.relaxedHash, m.ID)
	}

	marked := make(map[string]struct{})
	now := time.Now().UTC()

	markGroups := func(idx *index, tier string) {
		for _, key := range idx.keys {
			active := make([]string, 0, len(idx.m[key]))
			for _, id := range idx.m[key] {
				if _, dup := marked[id]; !dup {
					active = append(active, id)
				}
			}
			if len(active) < 2 {
				continue
			}
			winner := active[0]
			for _, id := range active[1:] {
				if betterWinner(fps[id], fps[winner]) {
					winner = id
				}
			}
			res.Stats.GroupsMatched++
			for _, loser := range active {
				if loser == winner {
					continue
				}
				res.Decisions = append(res.Decisions, model.DedupeDecision{
					ID:         uuid.NewString(),
					RunID:      runID,
					WinnerID:   winner,
					LoserID:    loser,
					Tier:       tier,
					MatchKey:   key,
					WinnerRank: rankString(fps[winner]),
					LoserRank:  rankString(fps[loser]),
					GroupSize:  len(active),
					CreatedAt:  now,
				})
				res.Updates = append(res.Updates, model.DedupeUpdate{
					EmailID:     loser,
					DuplicateOf: winner,
					Tier:        tier,
				})
				marked[loser] = struct{}{}
				res.Stats.DuplicatesFound++
			}
		}
	}

	markGroups(byMessageID, model.DedupeTierMessageID)
	markGroups(byStrict, model.DedupeTierStrict)
	markGroups(byRelaxed, model.DedupeTierRelaxed)

	res.Stats.DecisionsRecorded = len(res.Decisions)
	return res
}

// index is a bucket map that remembers first-seen key order so a pass
// emits groups deterministically.
type index struct {
	keys []string
	m    map[string][]string
}

func newIndex() *index {
	return &index{m: make(map[string][]string)}
}

func (ix *index) add(key, id string) {
	if _, ok := ix.m[key]; !ok {
		ix.keys = append(ix.keys, key)
	}
	ix.m[key] = append(ix.m[key], id)
}

func fingerprintOf(m *model.EmailMessage, attachments []string, cfg Config) *fingerprint {
	sorted := append([]string(nil), attachments...)
	sort.Strings(sorted)

	bodyClean := normalizeText(m.BodyText)
	relaxedBody := normalizeText(stripSignature(m.BodyText))
	subjectKey := normalizeSubject(m.Subject)

	env := forensic.Envelope{
		SenderEmail:   m.SenderEmail,
		ToRecipients:  m.ToRecipients,
		CcRecipients:  m.CcRecipients,
		BccRecipients: m.BccRecipients,
		SubjectKey:    subjectKey,
		Date:          m.Date,
		Attachments:   sorted,
	}

	return &fingerprint{
		id:             m.ID,
		messageIDNorm:  headers.NormalizeMessageID(m.MessageID),
		strictHash:     forensic.StrictHash(bodyClean, env),
		relaxedHash:    forensic.RelaxedHash(relaxedBody, env),
		attachments:    sorted,
		bodyLen:        len(bodyClean),
		hasBody:        bodyClean != "",
		hasAttachments: len(sorted) > 0,
		date:           m.Date,
	}
}

// normalizeSubject strips bracketed tags and reply prefixes, then
// collapses whitespace. Unlike the threading key, numbers and
// punctuation survive; the hash payloads want the literal subject.
func normalizeSubject(subject string) string {
	s := strings.TrimSpace(subject)
	if s == "" {
		return ""
	}
	s = dedupeBracketTagRe.ReplaceAllString(s, "")
	for {
		next := dedupeSubjectPrefixRe.ReplaceAllString(s, "")
		if next == s {
			break
		}
		s = next
	}
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// normalizeText canonicalizes a body for hashing, with boilerplate
// disclaimer phrases blanked so security banners injected by one side's
// mail gateway do not defeat duplicate detection.
func normalizeText(text string) string {
	return body.NormalizeForHash(disclaimerRe.ReplaceAllString(text, " "))
}

func stripSignature(text string) string {
	if loc := signatureCutRe.FindStringIndex(text); loc != nil {
		return strings.TrimSpace(text[:loc[0]])
	}
	return text
}

// betterWinner reports whether a outranks b: has-body, then body length,
// then has-attachments, then attachment count, then has-Message-ID, then
// earliest date, then smallest id.
func betterWinner(a, b *fingerprint) bool {
	if a.hasBody != b.hasBody {
		return a.hasBody
	}
	if a.bodyLen != b.bodyLen {
		return a.bodyLen > b.bodyLen
	}
	if a.hasAttachments != b.hasAttachments {
		return a.hasAttachments
	}
	if len(a.attachments) != len(b.attachments) {
		return len(a.attachments) > len(b.attachments)
	}
	hasID := func(fp *fingerprint) bool { return fp.messageIDNorm != "" }
	if hasID(a) != hasID(b) {
		return hasID(a)
	}
	switch {
	case a.date != nil && b.date == nil:
		return true
	case a.date == nil && b.date != nil:
		return false
	case a.date != nil && b.date != nil && !a.date.Equal(*b.date):
		return a.date.Before(*b.date)
	}
	return a.id < b.id
}

func rankString(fp *fingerprint) string {
	date := ""
	if fp.date != nil {
		date = fp.date.UTC().Format(time.RFC3339)
	}
	return fmt.Sprintf("(body=%t,len=%d,att=%d,msgid=%t,date=%s,id=%s)",
		fp.hasBody, fp.bodyLen, len(fp.attachments), fp.messageIDNorm != "", date, fp.id)
}
