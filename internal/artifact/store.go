package artifact

import (
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
)

const (
	FrameFile = "frame.jpg"
)

var ErrEmptyImage = errors.New("artifact: empty image")

func PlateFile(n int) string      { return fmt.Sprintf("plate-%d.jpg", n) }
func RecognizedFile(n int) string { return fmt.Sprintf("ocr-%d.jpg", n) }
func RecordFile(n int) string     { return fmt.Sprintf("ocr-%d.json", n) }

// Store hands out one directory per pipeline run so that concurrent runs
// never share a file.
type Store struct {
	root string
	keep int

	mu sync.Mutex
}

func NewStore(root string, keep int) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}
	return &Store{root: root, keep: keep}, nil
}

func (s *Store) Root() string { return s.root }

func (s *Store) NewRun() (*Run, error) {
	id := uuid.NewString()
	dir := filepath.Join(s.root, id)
	if err := os.Mkdir(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create run dir: %w", err)
	}
	return &Run{ID: id, Dir: dir}, nil
}

// Prune removes the oldest run directories beyond the configured limit.
// A limit of zero keeps everything.
func (s *Store) Prune() error {
	if s.keep <= 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.root)
	if err != nil {
		return err
	}

	type runDir struct {
		path string
		mod  int64
	}
	var runs []runDir
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := uuid.Parse(e.Name()); err != nil {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		runs = append(runs, runDir{path: filepath.Join(s.root, e.Name()), mod: info.ModTime().UnixNano()})
	}

	if len(runs) <= s.keep {
		return nil
	}

	sort.Slice(runs, func(i, j int) bool { return runs[i].mod > runs[j].mod })

	var errs []error
	for _, r := range runs[s.keep:] {
		if err := os.RemoveAll(r.path); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type Run struct {
	ID  string
	Dir string
}

func (r *Run) Path(name string) string {
	return filepath.Join(r.Dir, name)
}

// SaveImage encodes img in the format implied by the file extension.
func (r *Run) SaveImage(name string, img image.Image) (string, error) {
	if img == nil || img.Bounds().Empty() {
		return "", ErrEmptyImage
	}
	path := r.Path(name)
	if err := imaging.Save(img, path); err != nil {
		return "", fmt.Errorf("save %s: %w", name, err)
	}
	return path, nil
}

func (r *Run) SaveJSON(name string, v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", err
	}
	path := r.Path(name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("save %s: %w", name, err)
	}
	return path, nil
}

func (r *Run) LoadJSON(name string, v any) error {
	data, err := os.ReadFile(r.Path(name))
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
