package scope

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizePhrase(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Oxlow-Lane/Phase 2", "oxlow lane phase 2"},
		{"  WELBOURNE  ", "welbourne"},
		{"a.b.c", "a b c"},
		{"---", ""},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, normalizePhrase(tt.in), tt.in)
	}
}

func TestMatcherDetectsOtherProject(t *testing.T) {
	m := NewMatcher(
		[]string{"Welbourne", "WB-2021"},
		[]string{"Abbey Road", "Peckham Library", "Abbey Road Phase 2"},
	)

	tests := []struct {
		name    string
		subject string
		folder  string
		preview string
		want    string
	}{
		{"other in subject", "RE: Abbey Road costs", "", "", "Abbey Road"},
		{"longest phrase wins", "Abbey Road Phase 2 handover", "", "", "Abbey Road Phase 2"},
		{"other in folder", "weekly update", "/Projects/Peckham Library", "", "Peckham Library"},
		{"other in preview", "update", "", "progress on abbey road site", "Abbey Road"},
		{"in scope", "Welbourne progress", "", "", ""},
		{"current term vetoes", "Abbey Road vs Welbourne comparison", "", "", ""},
		{"current term in folder vetoes", "Abbey Road figures", "/Cases/Welbourne", "", ""},
		{"punctuation normalized", "abbey-road!!", "", "", "Abbey Road"},
		{"no partial word match", "abbeyroadshow", "", "", ""},
		{"nothing", "lunch plans", "", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, m.DetectOtherProject(tt.subject, tt.folder, tt.preview))
		})
	}
}

func TestMatcherSharedLabelNotExcluded(t *testing.T) {
	// A label present in both sets must never exclude.
	m := NewMatcher([]string{"Grove"}, []string{"Grove", "Bromley"})
	assert.Empty(t, m.DetectOtherProject("Grove site visit", "", ""))
	assert.Equal(t, "Bromley", m.DetectOtherProject("Bromley site visit", "", ""))
}

func TestMatcherDeterministic(t *testing.T) {
	for i := 0; i < 5; i++ {
		m := NewMatcher([]string{"x"}, []string{"alpha beta", "gamma", "alpha"})
		got := m.DetectOtherProject("about alpha beta today", "", "")
		assert.Equal(t, "alpha beta", got)
	}
}

func TestLoadTermsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "terms.yaml")
	require.NoError(t, os.WriteFile(path, []byte("current:\n  - Welbourne\nother:\n  - Abbey Road\n"), 0644))

	m, err := LoadTermsFile(path, []string{"WB"}, []string{"Bromley"})
	require.NoError(t, err)
	assert.Equal(t, "Abbey Road", m.DetectOtherProject("abbey road update", "", ""))
	assert.Equal(t, "Bromley", m.DetectOtherProject("bromley update", "", ""))
	assert.Empty(t, m.DetectOtherProject("welbourne and abbey road", "", ""))
}

func TestLoadTermsFileMissing(t *testing.T) {
	_, err := LoadTermsFile("/nonexistent/terms.yaml", nil, nil)
	assert.Error(t, err)
}

func TestClassifyHighConfidence(t *testing.T) {
	c := NewPatternClassifier(nil)

	tests := []struct {
		name     string
		subject  string
		category string
		hidden   bool
	}{
		{"appointment item", "IPM.Appointment: site meeting", "non_email", true},
		{"empty subject", "", "non_email", true},
		{"webinar", "Join our webinar on cladding", "marketing", true},
		{"discount", "20% off all fixings", "marketing", true},
		{"linkedin", "3 people viewed your profile", "linkedin", true},
		{"date only", "2021-07-08 12:32:33", "date_only", true},
		{"date only msg", "2021-07-08 12:32:33.msg", "date_only", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := c.Classify(tt.subject, "someone@firm.com", "")
			assert.True(t, r.IsSpam)
			assert.Equal(t, tt.category, r.Category)
			assert.Equal(t, tt.hidden, r.IsHidden)
			assert.GreaterOrEqual(t, r.Score, 85)
		})
	}
}

func TestClassifyMediumConfidenceNotHidden(t *testing.T) {
	c := NewPatternClassifier(nil)

	r := c.Classify("Automatic reply: out of office", "jane@firm.com", "")
	assert.True(t, r.IsSpam)
	assert.Equal(t, "out_of_office", r.Category)
	assert.False(t, r.IsHidden)
	assert.Equal(t, 75, r.Score)
}

func TestClassifySenderBoost(t *testing.T) {
	c := NewPatternClassifier(nil)

	plain := c.Classify("Customer survey", "jane@firm.com", "")
	boosted := c.Classify("Customer survey", "noreply@corp.com", "")
	assert.Equal(t, plain.Score+10, boosted.Score)
}

func TestClassifySpammySenderOnly(t *testing.T) {
	c := NewPatternClassifier(nil)

	r := c.Classify("Your invoice is attached", "no-reply@billing.com", "")
	assert.True(t, r.IsSpam)
	assert.Equal(t, "automated", r.Category)
	assert.False(t, r.IsHidden)
	assert.Equal(t, 40, r.Score)
}

func TestClassifyClean(t *testing.T) {
	c := NewPatternClassifier(nil)

	r := c.Classify("RE: Welbourne facade package", "jane@firm.com", "")
	assert.False(t, r.IsSpam)
	assert.Zero(t, r.Score)
	assert.Empty(t, r.Category)
}

func TestClassifyProjectTerms(t *testing.T) {
	c := NewPatternClassifier([]string{"Abbey Road"})

	r := c.Classify("Abbey Road variation order", "jane@firm.com", "")
	assert.True(t, r.IsSpam)
	assert.Equal(t, "other_projects", r.Category)
	assert.True(t, r.IsHidden)
	assert.Equal(t, 92, r.Score)
}

func TestGateSubjectThenBody(t *testing.T) {
	m := NewMatcher([]string{"Welbourne"}, []string{"Abbey Road"})
	g := NewGate(m, NewPatternClassifier(nil), true)

	// Subject alone is clean; the body preview reveals the other project.
	d := g.Evaluate("figures attached", "jane@firm.com", "/Inbox", "")
	assert.False(t, d.Excluded)

	d = g.Evaluate("figures attached", "jane@firm.com", "/Inbox", "latest abbey road costs")
	assert.True(t, d.Excluded)
	assert.Equal(t, "other_project:Abbey Road", d.Reason)
	assert.Equal(t, "Abbey Road", d.OtherProject)
}

func TestGateHiddenSpamExcludes(t *testing.T) {
	g := NewGate(nil, NewPatternClassifier(nil), true)

	d := g.Evaluate("Register now for our summit", "marketing@events.com", "", "")
	assert.True(t, d.Excluded)
	assert.Equal(t, "spam:marketing", d.Reason)
}

func TestGateTagOnlySpamPasses(t *testing.T) {
	g := NewGate(nil, NewPatternClassifier(nil), true)

	d := g.Evaluate("Automatic reply: on leave", "jane@firm.com", "", "")
	assert.False(t, d.Excluded)
	assert.True(t, d.Spam.IsSpam)
	assert.Equal(t, "out_of_office", d.Spam.Category)
}

func TestGateSpamFilterDisabled(t *testing.T) {
	g := NewGate(nil, NewPatternClassifier(nil), false)

	d := g.Evaluate("Register now for our summit", "marketing@events.com", "", "")
	assert.False(t, d.Excluded)
	assert.True(t, d.Spam.IsSpam)
}

func TestExtractOtherProject(t *testing.T) {
	terms := []string{"abbey road", "bromley"}
	assert.Equal(t, "Abbey Road", ExtractOtherProject("RE: abbey road handover", terms))
	assert.Equal(t, "Bromley", ExtractOtherProject("Bromley window schedule", terms))
	assert.Empty(t, ExtractOtherProject("lunch", terms))
}
