// Package scope decides which messages belong to the current project.
// It keeps unrelated-project mail and bulk spam out of the review set
// while recording why each exclusion happened.
package scope

import (
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

var nonAlnumRe = regexp.MustCompile(`[^a-z0-9]+`)

// normalizePhrase lowercases and collapses non-alphanumerics to single
// spaces, so "Oxlow-Lane/Phase 2" and "oxlow lane phase 2" compare equal.
func normalizePhrase(value string) string {
	cleaned := nonAlnumRe.ReplaceAllString(strings.ToLower(value), " ")
	return strings.Join(strings.Fields(cleaned), " ")
}

// normalizeText pads the normalized phrase with spaces for whole-phrase
// containment checks.
func normalizeText(value string) string {
	phrase := normalizePhrase(value)
	if phrase == "" {
		return " "
	}
	return " " + phrase + " "
}

type otherTerm struct {
	term  string // normalized
	label string // original label, reported on match
}

// Matcher detects whether a message appears to belong to a different
// project. Matching is deterministic: normalized whole-phrase containment,
// longest phrases first, with any mention of the current project vetoing
// exclusion.
type Matcher struct {
	currentTerms []string
	otherTerms   []otherTerm
}

// NewMatcher builds a Matcher from current-project and other-project
// labels. Labels that normalize to a current term are dropped from the
// other set, so shared naming never excludes current-project mail.
func NewMatcher(currentLabels, otherLabels []string) *Matcher {
	currentSet := make(map[string]struct{})
	for _, l := range currentLabels {
		if term := normalizePhrase(l); term != "" {
			currentSet[term] = struct{}{}
		}
	}

	otherMap := make(map[string]string)
	for _, l := range otherLabels {
		term := normalizePhrase(l)
		if term == "" {
			continue
		}
		if _, isCurrent := currentSet[term]; isCurrent {
			continue
		}
		if _, ok := otherMap[term]; !ok {
			otherMap[term] = strings.TrimSpace(l)
		}
	}

	m := &Matcher{}
	for term := range currentSet {
		m.currentTerms = append(m.currentTerms, term)
	}
	for term, label := range otherMap {
		m.otherTerms = append(m.otherTerms, otherTerm{term: term, label: label})
	}

	// Longer phrases first to reduce accidental substring matches.
	sort.Slice(m.currentTerms, func(i, j int) bool {
		if len(m.currentTerms[i]) != len(m.currentTerms[j]) {
			return len(m.currentTerms[i]) > len(m.currentTerms[j])
		}
		return m.currentTerms[i] < m.currentTerms[j]
	})
	sort.Slice(m.otherTerms, func(i, j int) bool {
		if len(m.otherTerms[i].term) != len(m.otherTerms[j].term) {
			return len(m.otherTerms[i].term) > len(m.otherTerms[j].term)
		}
		return m.otherTerms[i].term < m.otherTerms[j].term
	})
	return m
}

// DetectOtherProject returns the matched other-project label, or "" when
// the message is in scope. A current-project term appearing anywhere in
// subject, folder path, or body preview vetoes the match.
func (m *Matcher) DetectOtherProject(subject, folderPath, bodyPreview string) string {
	if m == nil || len(m.otherTerms) == 0 {
		return ""
	}
	haystack := normalizeText(subject) + normalizeText(folderPath) + normalizeText(bodyPreview)

	for _, term := range m.currentTerms {
		if strings.Contains(haystack, " "+term+" ") {
			return ""
		}
	}
	for _, ot := range m.otherTerms {
		if strings.Contains(haystack, " "+ot.term+" ") {
			return ot.label
		}
	}
	return ""
}

// TermsFile is the on-disk shape of a scope terms asset.
type TermsFile struct {
	Current []string `yaml:"current"`
	Other   []string `yaml:"other"`
}

// LoadTermsFile reads a YAML terms file and merges it with labels from
// configuration. Either source may be empty.
func LoadTermsFile(path string, extraCurrent, extraOther []string) (*Matcher, error) {
	var tf TermsFile
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, eris.Wrap(err, "scope: read terms file")
		}
		if err := yaml.Unmarshal(data, &tf); err != nil {
			return nil, eris.Wrap(err, "scope: parse terms file")
		}
	}
	return NewMatcher(
		append(tf.Current, extraCurrent...),
		append(tf.Other, extraOther...),
	), nil
}
