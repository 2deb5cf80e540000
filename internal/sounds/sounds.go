// Package sounds は効果音ディレクトリ（tick / win）のカタログ。
package sounds

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dhowden/tag"
	"github.com/nantokaworks/choice-wheel/internal/shared/logger"
	"go.uber.org/zap"
)

var ErrNotFound = errors.New("sound not found")

// Kind is what the sound is played for, taken from the file name prefix.
type Kind string

const (
	KindTick  Kind = "tick"
	KindWin   Kind = "win"
	KindOther Kind = "other"
)

var supportedExts = map[string]bool{
	".mp3":  true,
	".m4a":  true,
	".ogg":  true,
	".flac": true,
	".wav":  true,
}

type Sound struct {
	Name     string `json:"name"`
	Kind     Kind   `json:"kind"`
	Title    string `json:"title"`
	Artist   string `json:"artist,omitempty"`
	Format   string `json:"format,omitempty"`
	FileType string `json:"file_type,omitempty"`
	Size     int64  `json:"size"`
}

type Catalog struct {
	dir string
}

func NewCatalog(dir string) *Catalog {
	return &Catalog{dir: dir}
}

func (c *Catalog) Dir() string {
	return c.dir
}

// List scans the directory. A missing directory is an empty catalog.
func (c *Catalog) List() ([]Sound, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []Sound{}, nil
		}
		return nil, fmt.Errorf("failed to read sounds dir: %w", err)
	}

	sounds := make([]Sound, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !supportedExts[strings.ToLower(filepath.Ext(entry.Name()))] {
			continue
		}
		s, err := c.read(entry.Name())
		if err != nil {
			logger.Warn("Failed to read sound", zap.String("name", entry.Name()), zap.Error(err))
			continue
		}
		sounds = append(sounds, s)
	}

	sort.Slice(sounds, func(i, j int) bool { return sounds[i].Name < sounds[j].Name })
	return sounds, nil
}

// Path returns the file path of name, rejecting anything outside the directory.
func (c *Catalog) Path(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || !supportedExts[strings.ToLower(filepath.Ext(name))] {
		return "", ErrNotFound
	}
	p := filepath.Join(c.dir, name)
	if _, err := os.Stat(p); err != nil {
		return "", ErrNotFound
	}
	return p, nil
}

// ForKind returns the first sound of kind.
func (c *Catalog) ForKind(kind Kind) (Sound, error) {
	sounds, err := c.List()
	if err != nil {
		return Sound{}, err
	}
	for _, s := range sounds {
		if s.Kind == kind {
			return s, nil
		}
	}
	return Sound{}, ErrNotFound
}

func (c *Catalog) read(name string) (Sound, error) {
	f, err := os.Open(filepath.Join(c.dir, name))
	if err != nil {
		return Sound{}, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return Sound{}, err
	}

	s := Sound{
		Name:  name,
		Kind:  kindOf(name),
		Title: strings.TrimSuffix(name, filepath.Ext(name)),
		Size:  info.Size(),
	}

	m, err := tag.ReadFrom(f)
	if err != nil {
		if errors.Is(err, tag.ErrNoTagsFound) {
			return s, nil
		}
		logger.Debug("No readable tags", zap.String("name", name), zap.Error(err))
		return s, nil
	}
	if title := strings.TrimSpace(m.Title()); title != "" {
		s.Title = title
	}
	s.Artist = m.Artist()
	s.Format = string(m.Format())
	s.FileType = string(m.FileType())
	return s, nil
}

func kindOf(name string) Kind {
	lower := strings.ToLower(name)
	switch {
	case strings.HasPrefix(lower, string(KindTick)):
		return KindTick
	case strings.HasPrefix(lower, string(KindWin)):
		return KindWin
	}
	return KindOther
}
