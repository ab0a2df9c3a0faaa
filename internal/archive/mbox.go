package archive

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	mboxlib "github.com/emersion/go-mbox"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// MboxArchive reads mbox-format archives. A single mbox file is one
// folder; a directory tree of mbox files is a folder tree, with folder
// paths taken from the relative file paths.
type MboxArchive struct {
	path  string
	files []mboxFile // traversal stack source, ordered
	skips []NodeError
}

type mboxFile struct {
	path   string
	folder string
}

// NewMboxArchive creates a reader over path, which may be an .mbox file
// or a directory containing them.
func NewMboxArchive(path string) *MboxArchive {
	return &MboxArchive{path: path}
}

// Open discovers the mbox files under the archive path.
func (a *MboxArchive) Open(ctx context.Context) error {
	info, err := os.Stat(a.path)
	if err != nil {
		return eris.Wrap(ErrUnreadable, err.Error())
	}

	if !info.IsDir() {
		a.files = []mboxFile{{path: a.path, folder: "/" + folderName(filepath.Base(a.path))}}
		return nil
	}

	var files []mboxFile
	err = filepath.WalkDir(a.path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			a.skips = append(a.skips, NodeError{Path: p, Err: err})
			return nil
		}
		if d.IsDir() || !isMboxFile(p) {
			return nil
		}
		rel, relErr := filepath.Rel(a.path, p)
		if relErr != nil {
			rel = filepath.Base(p)
		}
		files = append(files, mboxFile{
			path:   p,
			folder: "/" + folderName(filepath.ToSlash(rel)),
		})
		return nil
	})
	if err != nil {
		return eris.Wrap(err, "archive: scan directory")
	}
	if len(files) == 0 {
		return eris.Wrap(ErrCorrupt, "no mbox files under "+a.path)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].folder < files[j].folder })
	a.files = files
	return nil
}

// Walk streams every message of every discovered mbox file. Message
// parse failures are per-node skips; a failing fn aborts.
func (a *MboxArchive) Walk(ctx context.Context, fn WalkFunc) error {
	a.skips = nil
	for _, f := range a.files {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := a.walkFile(ctx, f, fn); err != nil {
			return err
		}
	}
	return nil
}

func (a *MboxArchive) walkFile(ctx context.Context, f mboxFile, fn WalkFunc) error {
	file, err := os.Open(f.path)
	if err != nil {
		a.skips = append(a.skips, NodeError{Path: f.folder, Err: err})
		zap.L().Warn("skipping unreadable mailbox file",
			zap.String("path", f.path), zap.Error(err))
		return nil
	}
	defer file.Close()

	reader := mboxlib.NewReader(file)
	for idx := 0; ; idx++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		msgReader, err := reader.NextMessage()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			// The container is broken from here on; record and move to
			// the next file.
			a.skips = append(a.skips, NodeError{Path: f.folder, Err: err})
			zap.L().Warn("mailbox file truncated",
				zap.String("path", f.path), zap.Int("at_message", idx), zap.Error(err))
			return nil
		}

		raw, err := io.ReadAll(io.LimitReader(msgReader, maxPartBytes))
		if err != nil {
			a.skips = append(a.skips, NodeError{Path: nodePath(f.folder, idx), Err: err})
			continue
		}
		msg, err := ParseMessage(raw)
		if err != nil {
			a.skips = append(a.skips, NodeError{Path: nodePath(f.folder, idx), Err: err})
			continue
		}
		if err := fn(Entry{FolderPath: f.folder, Message: msg}); err != nil {
			return err
		}
	}
}

// CountMessages counts messages across all files without parsing them.
func (a *MboxArchive) CountMessages(ctx context.Context) (int, error) {
	total := 0
	for _, f := range a.files {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		file, err := os.Open(f.path)
		if err != nil {
			continue
		}
		reader := mboxlib.NewReader(file)
		for {
			msgReader, err := reader.NextMessage()
			if err != nil {
				break
			}
			_, _ = io.Copy(io.Discard, msgReader)
			total++
		}
		file.Close()
	}
	return total, nil
}

// Skips returns the nodes skipped so far.
func (a *MboxArchive) Skips() []NodeError { return a.skips }

// Close releases resources. Files are opened per walk, so nothing is
// held between calls.
func (a *MboxArchive) Close() error { return nil }

func isMboxFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".mbox" || ext == ".mbx"
}

func folderName(rel string) string {
	ext := filepath.Ext(rel)
	return strings.TrimSuffix(rel, ext)
}

func nodePath(folder string, idx int) string {
	return folder + "#" + strconv.Itoa(idx)
}
