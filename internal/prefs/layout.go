// Package prefs persists the floating widget layout independently of timer
// state.
package prefs

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/BurntSushi/toml"
)

const (
	SizeSmall  = "small"
	SizeMedium = "medium"
	SizeLarge  = "large"

	// edgeMargin keeps the collapsed widget grabbable inside the viewport.
	edgeMargin = 80
)

type Position struct {
	X int `toml:"x" json:"x"`
	Y int `toml:"y" json:"y"`
}

type Size struct {
	Width  int `toml:"width" json:"width"`
	Height int `toml:"height" json:"height"`
}

type Theme struct {
	Background string `toml:"background" json:"background"`
	Text       string `toml:"text" json:"text"`
	Accent     string `toml:"accent" json:"accent"`
	Border     string `toml:"border" json:"border"`
	Button     string `toml:"button" json:"button"`
	FontFamily string `toml:"font-family" json:"fontFamily"`
}

type WidgetLayout struct {
	Position   Position `toml:"position" json:"position"`
	Size       Size     `toml:"size" json:"size"`
	SizePreset string   `toml:"size-preset" json:"sizePreset"`
	Theme      Theme    `toml:"theme" json:"theme"`
}

func Default() WidgetLayout {
	return WidgetLayout{
		Position:   Position{X: 32, Y: 600},
		Size:       Size{Width: 288, Height: 500},
		SizePreset: SizeMedium,
		Theme: Theme{
			Background: "#1e293b",
			Text:       "#f8fafc",
			Accent:     "#38bdf8",
			Border:     "#334155",
			Button:     "#0ea5e9",
			FontFamily: "Inter",
		},
	}
}

func (l WidgetLayout) Validate() error {
	switch l.SizePreset {
	case SizeSmall, SizeMedium, SizeLarge:
	default:
		return fmt.Errorf("invalid size preset %q", l.SizePreset)
	}
	if l.Size.Width <= 0 || l.Size.Height <= 0 {
		return fmt.Errorf("size must be positive, got %dx%d", l.Size.Width, l.Size.Height)
	}
	return nil
}

// Clamp keeps the widget inside a viewport of the given dimensions.
func (l WidgetLayout) Clamp(viewportWidth, viewportHeight int) WidgetLayout {
	l.Position.X = clamp(l.Position.X, 0, viewportWidth-edgeMargin)
	l.Position.Y = clamp(l.Position.Y, 0, viewportHeight-edgeMargin)
	return l
}

func clamp(value, min, max int) int {
	if max < min {
		max = min
	}
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}

// Store loads and saves a WidgetLayout at a fixed path.
type Store struct {
	path string
	mu   sync.Mutex
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load returns Default() when the file does not exist. Keys missing from the
// file keep their default values.
func (s *Store) Load() (WidgetLayout, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	layout := Default()
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return layout, nil
	}
	if err != nil {
		return WidgetLayout{}, fmt.Errorf("read layout file %s: %w", s.path, err)
	}

	if _, err := toml.Decode(string(data), &layout); err != nil {
		return WidgetLayout{}, fmt.Errorf("parse layout file %s: %w", s.path, err)
	}
	if err := layout.Validate(); err != nil {
		return WidgetLayout{}, fmt.Errorf("layout file %s: %w", s.path, err)
	}
	return layout, nil
}

func (s *Store) Save(layout WidgetLayout) error {
	if err := layout.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create layout dir: %w", err)
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(layout); err != nil {
		return fmt.Errorf("encode layout: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp")
	if err != nil {
		return fmt.Errorf("create temp layout file: %w", err)
	}
	name := tmpFile.Name()
	_, err = tmpFile.Write(buf.Bytes())
	if err1 := tmpFile.Close(); err1 != nil && err == nil {
		err = err1
	}
	if err != nil {
		os.Remove(name)
		return fmt.Errorf("write temp layout file: %w", err)
	}

	if err := os.Rename(name, s.path); err != nil {
		os.Remove(name)
		return fmt.Errorf("rename layout file: %w", err)
	}
	return nil
}
