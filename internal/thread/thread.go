// Package thread rebuilds conversation structure from a message corpus.
// Reconstruction is a pure function of the messages handed in: nothing is
// carried over between runs, so rerunning on identical input yields
// identical groups, parents, and positions.
package thread

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/caseprobe/discovery-cli/internal/body"
	"github.com/caseprobe/discovery-cli/internal/forensic"
	"github.com/caseprobe/discovery-cli/internal/headers"
	"github.com/caseprobe/discovery-cli/internal/model"
)

// Config tunes the reconstruction pass.
type Config struct {
	TimeWindowHours        int
	QuotedAnchorLines      int
	SubjectNumericTokenLen int
}

// DefaultConfig matches the ingest defaults.
func DefaultConfig() Config {
	return Config{
		TimeWindowHours:        36,
		QuotedAnchorLines:      6,
		SubjectNumericTokenLen: 4,
	}
}

// Stats summarizes one reconstruction pass.
type Stats struct {
	EmailsTotal       int `json:"emails_total"`
	LinksCreated      int `json:"links_created"`
	ThreadsIdentified int `json:"threads_identified"`
	Orphans           int `json:"orphans"`
	Ambiguous         int `json:"ambiguous"`
	CyclesBroken      int `json:"cycles_broken"`
}

// Result is the complete output of Reconstruct.
type Result struct {
	Updates []model.ThreadUpdate
	Links   []model.ThreadLinkDecision
	Stats   Stats
}

// Link confidences per method. Timestamp disambiguation between equal
// candidates takes a fixed haircut.
const (
	confInReplyTo   = 0.98
	confReferences  = 0.96
	confConvIndex   = 0.90
	confQuotedHash  = 0.85
	confSubjectTime = 0.60

	disambiguationPenalty = 0.08
)

// node is one arena entry. Parent references are arena indexes, never
// pointers, so cycle detection is a walk over ints.
type node struct {
	id            string
	messageID     string
	messageIDNorm string
	inReplyToNorm string
	references    []string
	subjectKey    string
	rawSubject    string
	participants  map[string]struct{}
	date          *time.Time
	convIndexHex  string
	contentHash   string
	bodyAnchor    string
	quotedAnchor  string
}

// decision is the chosen parent for one node, parent == -1 meaning root.
type decision struct {
	parent       int
	method       string
	confidence   float64
	alternatives []string
	detail       string
}

type indexes struct {
	byMessageID map[string][]int
	bySubject   map[string][]int
	byAnchor    map[string][]int
	byConvIndex map[string][]int
}

// Reconstruct builds the thread forest for msgs and returns per-email
// updates, audit link rows stamped with runID, and pass statistics.
func Reconstruct(runID string, msgs []*model.EmailMessage, cfg Config) *Result {
	nodes := buildNodes(msgs, cfg)
	idx := buildIndexes(nodes)

	decisions := make([]decision, len(nodes))
	for i := range nodes {
		decisions[i] = selectParent(i, nodes, idx, cfg)
	}

	broken := breakCycles(nodes, decisions)

	groupIDs := assignGroups(nodes, decisions)

	res := &Result{Stats: Stats{EmailsTotal: len(nodes), CyclesBroken: broken}}
	now := time.Now().UTC()
	seenGroups := make(map[string]struct{})
	for i, n := range nodes {
		d := decisions[i]
		up := model.ThreadUpdate{
			EmailID:    n.id,
			GroupID:    groupIDs[i],
			Method:     d.method,
			Confidence: d.confidence,
		}
		link := model.ThreadLinkDecision{
			ID:           uuid.NewString(),
			RunID:        runID,
			EmailID:      n.id,
			Method:       d.method,
			Confidence:   d.confidence,
			Alternatives: d.alternatives,
			Detail:       d.detail,
			CreatedAt:    now,
		}
		if d.parent >= 0 {
			up.ParentID = nodes[d.parent].id
			link.ParentID = nodes[d.parent].id
			res.Stats.LinksCreated++
		} else {
			res.Stats.Orphans++
			if len(d.alternatives) > 0 {
				res.Stats.Ambiguous++
			}
		}
		seenGroups[groupIDs[i]] = struct{}{}
		res.Updates = append(res.Updates, up)
		res.Links = append(res.Links, link)
	}
	res.Stats.ThreadsIdentified = len(seenGroups)

	applyPositions(nodes, groupIDs, res.Updates)
	return res
}

func buildNodes(msgs []*model.EmailMessage, cfg Config) []node {
	nodes := make([]node, 0, len(msgs))
	for _, m := range msgs {
		n := node{
			id:            m.ID,
			messageID:     m.MessageID,
			messageIDNorm: headers.NormalizeMessageID(m.MessageID),
			inReplyToNorm: headers.NormalizeMessageID(m.InReplyTo),
			subjectKey:    NormalizeSubject(m.Subject, cfg.SubjectNumericTokenLen),
			rawSubject:    m.Subject,
			participants:  make(map[string]struct{}),
			date:          m.Date,
			convIndexHex:  m.ConversationIndex,
			contentHash:   m.ContentHash,
		}
		for _, ref := range m.References {
			if norm := headers.NormalizeMessageID(ref); norm != "" {
				n.references = append(n.references, norm)
			}
		}
		for _, p := range m.Participants() {
			n.participants[p] = struct{}{}
		}
		if a := body.ExtractBodyAnchor(m.BodyText, cfg.QuotedAnchorLines); a != "" {
			n.bodyAnchor = forensic.HashText(body.NormalizeForHash(a))
		}
		if a := body.ExtractQuotedAnchor(m.BodyText, cfg.QuotedAnchorLines); a != "" {
			n.quotedAnchor = forensic.HashText(body.NormalizeForHash(a))
		}
		nodes = append(nodes, n)
	}
	return nodes
}

func buildIndexes(nodes []node) *indexes {
	idx := &indexes{
		byMessageID: make(map[string][]int),
		bySubject:   make(map[string][]int),
		byAnchor:    make(map[string][]int),
		byConvIndex: make(map[string][]int),
	}
	for i, n := range nodes {
		if n.messageIDNorm != "" {
			idx.byMessageID[n.messageIDNorm] = append(idx.byMessageID[n.messageIDNorm], i)
		}
		if n.subjectKey != "" {
			idx.bySubject[n.subjectKey] = append(idx.bySubject[n.subjectKey], i)
		}
		if n.bodyAnchor != "" {
			idx.byAnchor[n.bodyAnchor] = append(idx.byAnchor[n.bodyAnchor], i)
		}
		if n.convIndexHex != "" {
			idx.byConvIndex[n.convIndexHex] = append(idx.byConvIndex[n.convIndexHex], i)
		}
	}
	// Subject buckets are walked oldest-first for deterministic selection.
	for key := range idx.bySubject {
		bucket := idx.bySubject[key]
		sort.Slice(bucket, func(a, b int) bool {
			da, db := nodeTime(nodes[bucket[a]]), nodeTime(nodes[bucket[b]])
			if da.Equal(db) {
				return nodes[bucket[a]].id < nodes[bucket[b]].id
			}
			return da.Before(db)
		})
	}
	return idx
}

func nodeTime(n node) time.Time {
	if n.date == nil {
		return time.Time{}
	}
	return *n.date
}

func selectParent(i int, nodes []node, idx *indexes, cfg Config) decision {
	n := nodes[i]
	var alternatives []string

	if n.inReplyToNorm != "" {
		if d, ok := resolveCandidates(i, nodes, idx.byMessageID[n.inReplyToNorm],
			model.ThreadMethodInReplyTo, confInReplyTo, &alternatives); ok {
			return d
		}
	}

	for j := len(n.references) - 1; j >= 0; j-- {
		if d, ok := resolveCandidates(i, nodes, idx.byMessageID[n.references[j]],
			model.ThreadMethodReferences, confReferences, &alternatives); ok {
			return d
		}
	}

	if ci := headers.DecodeConversationIndex(n.convIndexHex); ci != nil && ci.Depth > 0 {
		if d, ok := resolveCandidates(i, nodes, idx.byConvIndex[ci.ParentHex()],
			model.ThreadMethodConvIndex, confConvIndex, &alternatives); ok {
			return d
		}
	}

	if n.quotedAnchor != "" {
		if d, ok := resolveCandidates(i, nodes, idx.byAnchor[n.quotedAnchor],
			model.ThreadMethodQuotedHash, confQuotedHash, &alternatives); ok {
			return d
		}
	}

	if n.subjectKey != "" && !IsForwardSubject(n.rawSubject) {
		if d, ok := resolveSubjectWindow(i, nodes, idx.bySubject[n.subjectKey], cfg, &alternatives); ok {
			return d
		}
	}

	return decision{
		parent:       -1,
		method:       model.ThreadMethodRoot,
		alternatives: alternatives,
	}
}

// resolveCandidates links to the single candidate, or disambiguates a
// multi-candidate bucket by timestamp proximity at a confidence haircut.
// A bucket it cannot disambiguate records its candidates as alternatives
// and lets the next tier try.
func resolveCandidates(i int, nodes []node, candidates []int, method string, conf float64, alternatives *[]string) (decision, bool) {
	filtered := candidates[:0:0]
	for _, c := range candidates {
		if c != i {
			filtered = append(filtered, c)
		}
	}
	if len(filtered) == 0 {
		return decision{}, false
	}
	if len(filtered) == 1 {
		return decision{
			parent:       filtered[0],
			method:       method,
			confidence:   conf,
			alternatives: *alternatives,
			detail:       fmt.Sprintf("parent_message_id=%s", nodes[filtered[0]].messageID),
		}, true
	}

	best := closestByTime(i, nodes, filtered)
	if best < 0 {
		for _, c := range filtered {
			*alternatives = append(*alternatives, nodes[c].id)
		}
		return decision{}, false
	}
	for _, c := range filtered {
		if c != best {
			*alternatives = append(*alternatives, nodes[c].id)
		}
	}
	c := conf - disambiguationPenalty
	if c < 0 {
		c = 0
	}
	return decision{
		parent:       best,
		method:       method,
		confidence:   c,
		alternatives: *alternatives,
		detail:       "disambiguated by time",
	}, true
}

// closestByTime returns the candidate nearest before node i in time, or
// -1 when no candidate has a usable timestamp.
func closestByTime(i int, nodes []node, candidates []int) int {
	if nodes[i].date == nil {
		return -1
	}
	at := *nodes[i].date
	best, bestDelta := -1, time.Duration(0)
	for _, c := range candidates {
		if nodes[c].date == nil || nodes[c].date.After(at) {
			continue
		}
		delta := at.Sub(*nodes[c].date)
		if best < 0 || delta < bestDelta {
			best, bestDelta = c, delta
		}
	}
	return best
}

func resolveSubjectWindow(i int, nodes []node, candidates []int, cfg Config, alternatives *[]string) (decision, bool) {
	n := nodes[i]
	if n.date == nil || len(candidates) == 0 {
		return decision{}, false
	}
	window := time.Duration(cfg.TimeWindowHours) * time.Hour
	best, bestDelta := -1, window

	for _, c := range candidates {
		cand := nodes[c]
		if c == i || cand.date == nil || cand.date.After(*n.date) {
			continue
		}
		if !participantsOverlap(n.participants, cand.participants) {
			continue
		}
		delta := n.date.Sub(*cand.date)
		if delta > window {
			continue
		}
		if best < 0 || delta < bestDelta {
			best, bestDelta = c, delta
		}
	}
	if best < 0 {
		return decision{}, false
	}
	for _, c := range candidates {
		if c != best && c != i {
			*alternatives = append(*alternatives, nodes[c].id)
		}
	}
	return decision{
		parent:       best,
		method:       model.ThreadMethodSubjectTime,
		confidence:   confSubjectTime,
		alternatives: *alternatives,
		detail:       fmt.Sprintf("time_delta_hours=%.1f", bestDelta.Hours()),
	}, true
}

func participantsOverlap(a, b map[string]struct{}) bool {
	for p := range a {
		if _, ok := b[p]; ok {
			return true
		}
	}
	return false
}

// breakCycles severs the weakest link of every parent cycle so the
// structure is always a forest. Ties go to the earliest-dated child, then
// the smallest id. Returns the number of links severed.
func breakCycles(nodes []node, decisions []decision) int {
	broken := 0
	for {
		cycle := findCycle(decisions)
		if cycle == nil {
			break
		}
		victim := cycle[0]
		for _, c := range cycle[1:] {
			if weakerLink(nodes, decisions, c, victim) {
				victim = c
			}
		}
		zap.L().Warn("thread: breaking parent cycle",
			zap.String("email_id", nodes[victim].id),
			zap.String("method", decisions[victim].method),
			zap.Float64("confidence", decisions[victim].confidence),
			zap.Int("cycle_len", len(cycle)))
		decisions[victim].parent = -1
		decisions[victim].method = model.ThreadMethodRoot
		decisions[victim].confidence = 0
		decisions[victim].detail = "cycle severed"
		broken++
	}
	return broken
}

// findCycle returns the node indexes of one parent cycle, or nil when the
// link graph is already a forest.
func findCycle(decisions []decision) []int {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make([]int, len(decisions))
	pos := make([]int, len(decisions))

	for start := range decisions {
		if color[start] != white {
			continue
		}
		var path []int
		cur := start
		for cur >= 0 && color[cur] == white {
			color[cur] = gray
			pos[cur] = len(path)
			path = append(path, cur)
			cur = decisions[cur].parent
		}
		if cur >= 0 && color[cur] == gray {
			return path[pos[cur]:]
		}
		for _, p := range path {
			color[p] = black
		}
	}
	return nil
}

// weakerLink reports whether a's parent link should be severed in
// preference to b's.
func weakerLink(nodes []node, decisions []decision, a, b int) bool {
	if decisions[a].confidence != decisions[b].confidence {
		return decisions[a].confidence < decisions[b].confidence
	}
	ta, tb := nodeTime(nodes[a]), nodeTime(nodes[b])
	if !ta.Equal(tb) {
		return ta.Before(tb)
	}
	return nodes[a].id < nodes[b].id
}

// assignGroups walks every node to its root and derives the group id from
// the root's identity. Must run after breakCycles.
func assignGroups(nodes []node, decisions []decision) []string {
	rootOf := make([]int, len(nodes))
	for i := range rootOf {
		rootOf[i] = -1
	}
	var resolve func(i int) int
	resolve = func(i int) int {
		if rootOf[i] >= 0 {
			return rootOf[i]
		}
		p := decisions[i].parent
		if p < 0 || p == i {
			rootOf[i] = i
			return i
		}
		r := resolve(p)
		rootOf[i] = r
		return r
	}

	groupByRoot := make(map[int]string)
	out := make([]string, len(nodes))
	for i := range nodes {
		r := resolve(i)
		g, ok := groupByRoot[r]
		if !ok {
			g = groupID(nodes[r])
			groupByRoot[r] = g
		}
		out[i] = g
	}
	return out
}

// groupID derives a stable thread group id from the root's content hash,
// else its normalized subject, else its own id.
func groupID(root node) string {
	key := root.contentHash
	if key == "" {
		key = root.subjectKey
	}
	if key == "" {
		key = root.id
	}
	return "thread_" + forensic.HashText(key)[:32]
}

// applyPositions orders every group by (date, id) and stamps position and
// zero-padded sort path into the updates.
func applyPositions(nodes []node, groupIDs []string, updates []model.ThreadUpdate) {
	byEmail := make(map[string]*model.ThreadUpdate, len(updates))
	for i := range updates {
		byEmail[updates[i].EmailID] = &updates[i]
	}
	grouped := make(map[string][]int)
	for i := range nodes {
		grouped[groupIDs[i]] = append(grouped[groupIDs[i]], i)
	}
	for _, members := range grouped {
		sort.Slice(members, func(a, b int) bool {
			da, db := nodeTime(nodes[members[a]]), nodeTime(nodes[members[b]])
			if da.Equal(db) {
				return nodes[members[a]].id < nodes[members[b]].id
			}
			return da.Before(db)
		})
		for pos, i := range members {
			if up := byEmail[nodes[i].id]; up != nil {
				up.Position = pos
				up.Path = fmt.Sprintf("%06d", pos)
			}
		}
	}
}
