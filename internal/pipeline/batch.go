package pipeline

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/caseprobe/discovery-cli/internal/model"
	"github.com/caseprobe/discovery-cli/internal/store"
)

// batcher buffers record rows and flushes them through the store in a
// single transaction once the buffer reaches commitSize. Buffers are
// cleared only after a successful commit; a failed flush keeps the rows
// and propagates the error so the run fails fast.
type batcher struct {
	store      store.Store
	commitSize int

	pending store.Batch
	flushes int
}

func newBatcher(st store.Store, commitSize int) *batcher {
	if commitSize <= 0 {
		commitSize = 2500
	}
	return &batcher{store: st, commitSize: commitSize}
}

func (b *batcher) addTriad(raw model.MessageRaw, occ model.MessageOccurrence, derived model.MessageDerived) {
	b.pending.Raws = append(b.pending.Raws, raw)
	b.pending.Occurrences = append(b.pending.Occurrences, occ)
	b.pending.Deriveds = append(b.pending.Deriveds, derived)
}

func (b *batcher) addRawOccurrence(raw model.MessageRaw, occ model.MessageOccurrence) {
	b.pending.Raws = append(b.pending.Raws, raw)
	b.pending.Occurrences = append(b.pending.Occurrences, occ)
}

func (b *batcher) addEmail(m model.EmailMessage) {
	b.pending.Emails = append(b.pending.Emails, m)
}

func (b *batcher) addAttachment(a model.EmailAttachment) {
	b.pending.Attachments = append(b.pending.Attachments, a)
}

func (b *batcher) full() bool {
	return len(b.pending.Emails) >= b.commitSize
}

// flush commits the pending buffer. With force false it is a no-op until
// the buffer reaches commit size.
func (b *batcher) flush(ctx context.Context, force bool) error {
	if !force && !b.full() {
		return nil
	}
	if b.pending.Len() == 0 {
		return nil
	}

	snapshot := b.pending
	if err := b.store.FlushBatch(ctx, &snapshot); err != nil {
		return eris.Wrap(err, "pipeline: batch flush")
	}

	b.flushes++
	zap.L().Debug("pipeline: batch committed",
		zap.Int("emails", len(snapshot.Emails)),
		zap.Int("attachments", len(snapshot.Attachments)),
		zap.Int("flush", b.flushes))
	b.pending = store.Batch{}
	return nil
}
