package archive

import "context"

// MemoryArchive is an in-memory Reader used by tests and benchmarks. It
// replays a fixed folder tree and can inject per-node skips.
type MemoryArchive struct {
	entries []Entry
	nodeErr []NodeError
	openErr error
	skips   []NodeError
}

// NewMemoryArchive builds an empty in-memory archive.
func NewMemoryArchive() *MemoryArchive {
	return &MemoryArchive{}
}

// Add appends a message under folder.
func (a *MemoryArchive) Add(folder string, msg *Message) *MemoryArchive {
	a.entries = append(a.entries, Entry{FolderPath: folder, Message: msg})
	return a
}

// AddSkip injects a node error reported during Walk.
func (a *MemoryArchive) AddSkip(path string, err error) *MemoryArchive {
	a.nodeErr = append(a.nodeErr, NodeError{Path: path, Err: err})
	return a
}

// FailOpen makes Open return err.
func (a *MemoryArchive) FailOpen(err error) *MemoryArchive {
	a.openErr = err
	return a
}

func (a *MemoryArchive) Open(ctx context.Context) error { return a.openErr }

func (a *MemoryArchive) Walk(ctx context.Context, fn WalkFunc) error {
	a.skips = append([]NodeError(nil), a.nodeErr...)
	for _, e := range a.entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return nil
}

func (a *MemoryArchive) CountMessages(ctx context.Context) (int, error) {
	return len(a.entries), nil
}

func (a *MemoryArchive) Skips() []NodeError { return a.skips }

func (a *MemoryArchive) Close() error { return nil }
