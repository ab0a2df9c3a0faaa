package scope

// Decision is the gate's verdict for one message at one evaluation stage.
type Decision struct {
	Excluded     bool
	Reason       string // "spam:<category>" or "other_project:<label>"
	Spam         Result
	OtherProject string
}

// Gate combines the spam classifier and the project scope matcher into
// the single exclusion decision the pipeline acts on. It is evaluated
// twice per message: once with subject only, once more with the body
// preview available.
type Gate struct {
	matcher    *Matcher
	classifier Classifier
	spamFilter bool
}

// NewGate wires a gate. A nil matcher disables scope exclusion; a nil
// classifier or spamFilter false disables spam exclusion.
func NewGate(matcher *Matcher, classifier Classifier, spamFilter bool) *Gate {
	return &Gate{matcher: matcher, classifier: classifier, spamFilter: spamFilter}
}

// Evaluate returns the exclusion decision for a message. Only hidden spam
// excludes; tag-only spam results are carried through in the decision so
// they land in the message meta.
func (g *Gate) Evaluate(subject, sender, folderPath, bodyPreview string) Decision {
	var d Decision

	if g.classifier != nil {
		d.Spam = g.classifier.Classify(subject, sender, bodyPreview)
		if g.spamFilter && d.Spam.IsSpam && d.Spam.IsHidden {
			d.Excluded = true
			d.Reason = "spam:" + d.Spam.Category
			return d
		}
	}

	if g.matcher != nil {
		if label := g.matcher.DetectOtherProject(subject, folderPath, bodyPreview); label != "" {
			d.OtherProject = label
			d.Excluded = true
			d.Reason = "other_project:" + label
		}
	}
	return d
}
