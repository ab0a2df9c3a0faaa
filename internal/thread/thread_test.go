package thread

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caseprobe/discovery-cli/internal/model"
)

func TestNormalizeSubject(t *testing.T) {
	tests := []struct {
		name    string
		subject string
		want    string
	}{
		{"plain", "Pour schedule", "pour schedule"},
		{"reply prefix", "RE: Pour schedule", "pour schedule"},
		{"stacked prefixes", "RE: FW: Re: Pour schedule", "pour schedule"},
		{"german reply", "AW: Besprechung", "besprechung"},
		{"bracket tag", "[EXTERNAL] RE: Pour schedule", "pour schedule"},
		{"numeric token", "Invoice 123456 overdue", "invoice overdue"},
		{"short number kept", "Level 12 slab", "level 12 slab"},
		{"punctuation", "Re: Pour schedule - Phase 2!", "pour schedule phase 2"},
		{"empty", "   ", ""},
		{"only prefix", "RE:", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeSubject(tt.subject, 4))
		})
	}
}

func TestIsForwardSubject(t *testing.T) {
	assert.True(t, IsForwardSubject("FW: site photos"))
	assert.True(t, IsForwardSubject("  fwd: site photos"))
	assert.False(t, IsForwardSubject("RE: site photos"))
	assert.False(t, IsForwardSubject("forecast update"))
}

func at(day, hour int) *time.Time {
	ts := time.Date(2025, 3, day, hour, 0, 0, 0, time.UTC)
	return &ts
}

func testMsg(id, messageID, inReplyTo, subject string, date *time.Time, sender string, to ...string) *model.EmailMessage {
	return &model.EmailMessage{
		ID:           id,
		MessageID:    messageID,
		InReplyTo:    inReplyTo,
		Subject:      subject,
		Date:         date,
		SenderEmail:  sender,
		ToRecipients: to,
	}
}

func updateFor(t *testing.T, res *Result, emailID string) model.ThreadUpdate {
	t.Helper()
	for _, up := range res.Updates {
		if up.EmailID == emailID {
			return up
		}
	}
	t.Fatalf("no update for %s", emailID)
	return model.ThreadUpdate{}
}

func TestReconstructInReplyTo(t *testing.T) {
	msgs := []*model.EmailMessage{
		testMsg("e1", "<a@site.com>", "", "Crane delivery", at(1, 9), "jane@x.com", "ops@x.com"),
		testMsg("e2", "<b@site.com>", "<A@SITE.COM>", "RE: Crane delivery", at(1, 11), "ops@x.com", "jane@x.com"),
	}
	res := Reconstruct("run1", msgs, DefaultConfig())

	child := updateFor(t, res, "e2")
	assert.Equal(t, "e1", child.ParentID)
	assert.Equal(t, model.ThreadMethodInReplyTo, child.Method)
	assert.InDelta(t, 0.98, child.Confidence, 1e-9)

	root := updateFor(t, res, "e1")
	assert.Empty(t, root.ParentID)
	assert.Equal(t, model.ThreadMethodRoot, root.Method)
	assert.Equal(t, root.GroupID, child.GroupID)

	assert.Equal(t, 2, res.Stats.EmailsTotal)
	assert.Equal(t, 1, res.Stats.LinksCreated)
	assert.Equal(t, 1, res.Stats.ThreadsIdentified)
	assert.Equal(t, 1, res.Stats.Orphans)
}

func TestReconstructReferencesFallback(t *testing.T) {
	child := testMsg("e2", "<b@site.com>", "", "RE: Crane delivery", at(1, 11), "ops@x.com", "jane@x.com")
	child.References = []string{"<gone@site.com>", "<a@site.com>"}
	msgs := []*model.EmailMessage{
		testMsg("e1", "<a@site.com>", "", "Crane delivery", at(1, 9), "jane@x.com", "ops@x.com"),
		child,
	}
	res := Reconstruct("run1", msgs, DefaultConfig())

	up := updateFor(t, res, "e2")
	assert.Equal(t, "e1", up.ParentID)
	assert.Equal(t, model.ThreadMethodReferences, up.Method)
	assert.InDelta(t, 0.96, up.Confidence, 1e-9)
}

func TestReconstructConversationIndex(t *testing.T) {
	rootHex := strings.Repeat("01", 22)
	parent := testMsg("e1", "", "", "Variation order", at(2, 9), "jane@x.com", "qs@x.com")
	parent.ConversationIndex = rootHex
	child := testMsg("e2", "", "", "RE: Variation order", at(2, 10), "qs@x.com", "jane@x.com")
	child.ConversationIndex = rootHex + "aabbccddee"

	res := Reconstruct("run1", []*model.EmailMessage{parent, child}, DefaultConfig())

	up := updateFor(t, res, "e2")
	assert.Equal(t, "e1", up.ParentID)
	assert.Equal(t, model.ThreadMethodConvIndex, up.Method)
	assert.InDelta(t, 0.90, up.Confidence, 1e-9)
}

func TestReconstructQuotedAnchor(t *testing.T) {
	parent := testMsg("e1", "", "", "Slab pour", at(3, 9), "jane@x.com", "ops@x.com")
	parent.BodyText = "The crane delivery slipped to Thursday.\nPlease adjust the pour schedule."
	child := testMsg("e2", "", "", "pour update", at(3, 12), "ops@x.com", "site@x.com")
	child.BodyText = "Will do, updating now.\n\n> The crane delivery slipped to Thursday.\n> Please adjust the pour schedule."

	res := Reconstruct("run1", []*model.EmailMessage{parent, child}, DefaultConfig())

	up := updateFor(t, res, "e2")
	assert.Equal(t, "e1", up.ParentID)
	assert.Equal(t, model.ThreadMethodQuotedHash, up.Method)
	assert.InDelta(t, 0.85, up.Confidence, 1e-9)
}

func TestReconstructSubjectWindow(t *testing.T) {
	msgs := []*model.EmailMessage{
		testMsg("e1", "", "", "Pour schedule", at(4, 9), "jane@x.com", "ops@x.com"),
		testMsg("e2", "", "", "RE: Pour schedule", at(4, 11), "ops@x.com", "jane@x.com"),
	}
	res := Reconstruct("run1", msgs, DefaultConfig())

	up := updateFor(t, res, "e2")
	assert.Equal(t, "e1", up.ParentID)
	assert.Equal(t, model.ThreadMethodSubjectTime, up.Method)
	assert.InDelta(t, 0.60, up.Confidence, 1e-9)
}

func TestReconstructSubjectWindowRequiresOverlap(t *testing.T) {
	msgs := []*model.EmailMessage{
		testMsg("e1", "", "", "Pour schedule", at(4, 9), "jane@x.com", "ops@x.com"),
		testMsg("e2", "", "", "RE: Pour schedule", at(4, 11), "stranger@y.com", "other@y.com"),
	}
	res := Reconstruct("run1", msgs, DefaultConfig())

	up := updateFor(t, res, "e2")
	assert.Empty(t, up.ParentID)
	assert.Equal(t, model.ThreadMethodRoot, up.Method)
}

func TestReconstructSubjectWindowBounded(t *testing.T) {
	msgs := []*model.EmailMessage{
		testMsg("e1", "", "", "Pour schedule", at(4, 9), "jane@x.com", "ops@x.com"),
		// 48h later, outside the 36h window.
		testMsg("e2", "", "", "RE: Pour schedule", at(6, 9), "ops@x.com", "jane@x.com"),
	}
	res := Reconstruct("run1", msgs, DefaultConfig())

	up := updateFor(t, res, "e2")
	assert.Empty(t, up.ParentID)
}

func TestReconstructSubjectWindowConfigurable(t *testing.T) {
	msgs := []*model.EmailMessage{
		testMsg("e1", "", "", "Quarterly Report", at(1, 9), "jane@x.com", "ops@x.com"),
		// 10 days later: outside the default window, inside a 14-day one.
		testMsg("e2", "", "", "Re: Quarterly Report", at(11, 9), "ops@x.com", "jane@x.com"),
	}

	res := Reconstruct("run1", msgs, DefaultConfig())
	assert.Empty(t, updateFor(t, res, "e2").ParentID)

	cfg := DefaultConfig()
	cfg.TimeWindowHours = 14 * 24
	res = Reconstruct("run1", msgs, cfg)

	up := updateFor(t, res, "e2")
	assert.Equal(t, "e1", up.ParentID)
	assert.Equal(t, model.ThreadMethodSubjectTime, up.Method)
}

func TestReconstructForwardExcludedFromSubjectWindow(t *testing.T) {
	msgs := []*model.EmailMessage{
		testMsg("e1", "", "", "Pour schedule", at(4, 9), "jane@x.com", "ops@x.com"),
		testMsg("e2", "", "", "FW: Pour schedule", at(4, 11), "ops@x.com", "jane@x.com"),
	}
	res := Reconstruct("run1", msgs, DefaultConfig())

	up := updateFor(t, res, "e2")
	assert.Empty(t, up.ParentID)
	assert.Equal(t, model.ThreadMethodRoot, up.Method)
}

func TestReconstructDisambiguatesDuplicateMessageID(t *testing.T) {
	near := testMsg("e1", "<a@site.com>", "", "Crane delivery", at(1, 10), "jane@x.com", "ops@x.com")
	far := testMsg("e2", "<a@site.com>", "", "Crane delivery", at(1, 6), "jane@x.com", "ops@x.com")
	child := testMsg("e3", "<c@site.com>", "<a@site.com>", "RE: Crane delivery", at(1, 12), "ops@x.com", "jane@x.com")

	res := Reconstruct("run1", []*model.EmailMessage{near, far, child}, DefaultConfig())

	up := updateFor(t, res, "e3")
	assert.Equal(t, "e1", up.ParentID)
	assert.Equal(t, model.ThreadMethodInReplyTo, up.Method)
	assert.InDelta(t, 0.90, up.Confidence, 1e-9)

	var link model.ThreadLinkDecision
	for _, l := range res.Links {
		if l.EmailID == "e3" {
			link = l
		}
	}
	require.NotEmpty(t, link.ID)
	assert.Contains(t, link.Alternatives, "e2")
}

func TestReconstructBreaksCycle(t *testing.T) {
	a := testMsg("e1", "<a@site.com>", "<b@site.com>", "Loop", at(1, 9), "jane@x.com", "ops@x.com")
	b := testMsg("e2", "<b@site.com>", "<a@site.com>", "Loop", at(2, 9), "ops@x.com", "jane@x.com")

	res := Reconstruct("run1", []*model.EmailMessage{a, b}, DefaultConfig())

	assert.Equal(t, 1, res.Stats.CyclesBroken)
	assert.Equal(t, 1, res.Stats.ThreadsIdentified)

	// Equal confidences, so the earlier-dated child loses its link.
	upA := updateFor(t, res, "e1")
	upB := updateFor(t, res, "e2")
	assert.Empty(t, upA.ParentID)
	assert.Equal(t, model.ThreadMethodRoot, upA.Method)
	assert.Equal(t, "e1", upB.ParentID)
	assert.Equal(t, upA.GroupID, upB.GroupID)
}

func TestReconstructPositionsAndPaths(t *testing.T) {
	msgs := []*model.EmailMessage{
		testMsg("e1", "<a@site.com>", "", "Crane delivery", at(1, 9), "jane@x.com", "ops@x.com"),
		testMsg("e2", "<b@site.com>", "<a@site.com>", "RE: Crane delivery", at(1, 11), "ops@x.com", "jane@x.com"),
		testMsg("e3", "<c@site.com>", "<b@site.com>", "RE: Crane delivery", at(1, 13), "jane@x.com", "ops@x.com"),
	}
	res := Reconstruct("run1", msgs, DefaultConfig())

	assert.Equal(t, 0, updateFor(t, res, "e1").Position)
	assert.Equal(t, "000000", updateFor(t, res, "e1").Path)
	assert.Equal(t, 1, updateFor(t, res, "e2").Position)
	assert.Equal(t, "000001", updateFor(t, res, "e2").Path)
	assert.Equal(t, 2, updateFor(t, res, "e3").Position)
	assert.Equal(t, "000002", updateFor(t, res, "e3").Path)
}

func TestReconstructDeterministic(t *testing.T) {
	build := func() []*model.EmailMessage {
		child := testMsg("e2", "<b@site.com>", "", "RE: Crane delivery", at(1, 11), "ops@x.com", "jane@x.com")
		child.References = []string{"<a@site.com>"}
		return []*model.EmailMessage{
			testMsg("e1", "<a@site.com>", "", "Crane delivery", at(1, 9), "jane@x.com", "ops@x.com"),
			child,
			testMsg("e3", "", "", "Tender query", at(2, 9), "qs@x.com", "jane@x.com"),
		}
	}
	first := Reconstruct("run1", build(), DefaultConfig())
	second := Reconstruct("run2", build(), DefaultConfig())

	require.Len(t, second.Updates, len(first.Updates))
	for i := range first.Updates {
		assert.Equal(t, first.Updates[i].GroupID, second.Updates[i].GroupID)
		assert.Equal(t, first.Updates[i].ParentID, second.Updates[i].ParentID)
		assert.Equal(t, first.Updates[i].Path, second.Updates[i].Path)
	}
}

func TestReconstructGroupIDShape(t *testing.T) {
	res := Reconstruct("run1", []*model.EmailMessage{
		testMsg("e1", "<a@site.com>", "", "Crane delivery", at(1, 9), "jane@x.com", "ops@x.com"),
	}, DefaultConfig())

	g := updateFor(t, res, "e1").GroupID
	require.True(t, strings.HasPrefix(g, "thread_"))
	assert.Len(t, g, len("thread_")+32)
}

func TestReconstructLinksStamped(t *testing.T) {
	res := Reconstruct("run-77", []*model.EmailMessage{
		testMsg("e1", "<a@site.com>", "", "Crane delivery", at(1, 9), "jane@x.com", "ops@x.com"),
	}, DefaultConfig())

	require.Len(t, res.Links, 1)
	assert.Equal(t, "run-77", res.Links[0].RunID)
	assert.NotEmpty(t, res.Links[0].ID)
	assert.False(t, res.Links[0].CreatedAt.IsZero())
}
