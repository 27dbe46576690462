// Package files moves transfer items between the session and the local disk.
package files

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rudransh-shrivastava/peer-drop/internal/session"
	"github.com/sirupsen/logrus"
)

// Load reads a file for selection, naming it after its base name.
func Load(p string) (session.RawFile, error) {
	data, err := os.ReadFile(p)
	if err != nil {
		return session.RawFile{}, fmt.Errorf("reading %s: %w", p, err)
	}
	return session.RawFile{
		Name:     filepath.Base(p),
		MimeType: mimetype.Detect(data).String(),
		Data:     data,
	}, nil
}

func LoadAll(paths []string) ([]session.RawFile, error) {
	out := make([]session.RawFile, 0, len(paths))
	for _, p := range paths {
		f, err := Load(p)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

// SafeName reduces a peer-supplied name to a single path element. It
// returns "" when nothing usable is left.
func SafeName(name string) string {
	name = path.Base(strings.ReplaceAll(name, `\`, "/"))
	if name == "." || name == ".." || name == "/" {
		return ""
	}
	return strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f || r == ':' {
			return '_'
		}
		return r
	}, name)
}

// UniquePath returns dir/name, or "name (n).ext" in dir when the plain name
// is taken.
func UniquePath(dir, name string) (string, error) {
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)

	candidate := filepath.Join(dir, name)
	for i := 1; ; i++ {
		_, err := os.Stat(candidate)
		if errors.Is(err, fs.ErrNotExist) {
			return candidate, nil
		}
		if err != nil {
			return "", err
		}
		candidate = filepath.Join(dir, fmt.Sprintf("%s (%d)%s", base, i, ext))
	}
}

// Dir saves delivered files under Root. It never overwrites an existing
// file.
type Dir struct {
	Root   string
	Logger *logrus.Logger

	mu sync.Mutex
}

var _ session.Deliverer = (*Dir)(nil)

func (d *Dir) Deliver(ctx context.Context, item session.TransferItem) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(d.Root, 0o755); err != nil {
		return fmt.Errorf("creating download directory: %w", err)
	}

	name := SafeName(item.Name)
	if name == "" {
		name = item.ID.String()
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	target, err := UniquePath(d.Root, name)
	if err != nil {
		return fmt.Errorf("choosing path for %s: %w", name, err)
	}

	f, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("creating %s: %w", target, err)
	}
	if _, err := f.Write(item.Payload); err != nil {
		_ = f.Close()
		return fmt.Errorf("writing %s: %w", target, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", target, err)
	}

	if d.Logger != nil {
		d.Logger.WithField("path", target).Debugf("Saved %s", item.ID)
	}
	return nil
}
