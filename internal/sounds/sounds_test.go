package sounds

import (
	"os"
	"path/filepath"
	"testing"
)

// id3Title builds a minimal ID3v2.3 tag holding only a TIT2 frame.
func id3Title(title string) []byte {
	body := append([]byte{0x00}, title...)
	frame := []byte("TIT2")
	n := len(body)
	frame = append(frame, byte(n>>24), byte(n>>16), byte(n>>8), byte(n), 0, 0)
	frame = append(frame, body...)

	size := len(frame)
	header := []byte{'I', 'D', '3', 3, 0, 0,
		byte(size >> 21 & 0x7f), byte(size >> 14 & 0x7f), byte(size >> 7 & 0x7f), byte(size & 0x7f)}
	return append(header, frame...)
}

func writeFile(t *testing.T, dir, name string, data []byte) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
}

func TestCatalogList(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "tick.mp3", id3Title("Click"))
	writeFile(t, dir, "win-fanfare.wav", []byte("RIFF0000WAVE"))
	writeFile(t, dir, "notes.txt", []byte("ignored"))

	sounds, err := NewCatalog(dir).List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(sounds) != 2 {
		t.Fatalf("unexpected sound count: got=%d want=2", len(sounds))
	}

	if sounds[0].Name != "tick.mp3" || sounds[0].Kind != KindTick || sounds[0].Title != "Click" {
		t.Fatalf("unexpected tick sound: %+v", sounds[0])
	}
	if sounds[1].Kind != KindWin || sounds[1].Title != "win-fanfare" {
		t.Fatalf("unexpected win sound: %+v", sounds[1])
	}
}

func TestCatalogMissingDir(t *testing.T) {
	sounds, err := NewCatalog(filepath.Join(t.TempDir(), "nope")).List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(sounds) != 0 {
		t.Fatalf("expected empty catalog, got=%d", len(sounds))
	}
}

func TestCatalogPath(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "win.mp3", []byte("x"))
	c := NewCatalog(dir)

	if _, err := c.Path("win.mp3"); err != nil {
		t.Fatalf("Path failed: %v", err)
	}
	for _, name := range []string{"../win.mp3", "missing.mp3", "win.exe", ""} {
		if _, err := c.Path(name); err != ErrNotFound {
			t.Fatalf("Path(%q) should be ErrNotFound, got=%v", name, err)
		}
	}

	s, err := c.ForKind(KindWin)
	if err != nil || s.Name != "win.mp3" {
		t.Fatalf("unexpected ForKind result: %+v err=%v", s, err)
	}
	if _, err := c.ForKind(KindTick); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got=%v", err)
	}
}
