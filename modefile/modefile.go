// Package modefile reads and writes the on-disk form of known video modes
// and mode aliases. The file is YAML; resolutions are written in their
// "WxH" string form.
package modefile

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/edaniels/gocapture"
)

// A Document is the file's top level.
type Document struct {
	Modes   []Mode  `yaml:"modes"`
	Aliases []Alias `yaml:"aliases,omitempty"`
}

// A Mode is one known video mode record.
type Mode struct {
	Resolution string     `yaml:"resolution"`
	Parameters Parameters `yaml:"parameters"`
}

// An Alias redirects parameter lookups from one resolution to another.
type Alias struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

// Parameters mirrors gocapture.VideoSignalParameters with stable file
// field names.
type Parameters struct {
	VerticalPosition   int `yaml:"vertical_position"`
	HorizontalPosition int `yaml:"horizontal_position"`
	HorizontalScale    int `yaml:"horizontal_scale"`
	Phase              int `yaml:"phase"`
	BlackLevel         int `yaml:"black_level"`
	Brightness         int `yaml:"brightness"`
	Contrast           int `yaml:"contrast"`
	RedBrightness      int `yaml:"red_brightness"`
	RedContrast        int `yaml:"red_contrast"`
	GreenBrightness    int `yaml:"green_brightness"`
	GreenContrast      int `yaml:"green_contrast"`
	BlueBrightness     int `yaml:"blue_brightness"`
	BlueContrast       int `yaml:"blue_contrast"`
}

func fromParams(p gocapture.VideoSignalParameters) Parameters {
	return Parameters(p)
}

func (p Parameters) toParams() gocapture.VideoSignalParameters {
	return gocapture.VideoSignalParameters(p)
}

// Load reads a mode file.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read mode file")
	}
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(err, "failed to parse mode file")
	}
	return &doc, nil
}

// Save writes a mode file.
func Save(path string, doc *Document) error {
	data, err := yaml.Marshal(doc)
	if err != nil {
		return errors.Wrap(err, "failed to encode mode file")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrap(err, "failed to write mode file")
	}
	return nil
}

// Apply replaces the store's known modes and aliases with the document's
// records. The store is untouched if any resolution fails to parse.
func (doc *Document) Apply(store *gocapture.ModeStore) error {
	modes := make([]gocapture.KnownVideoMode, 0, len(doc.Modes))
	for _, m := range doc.Modes {
		res, err := gocapture.ParseResolution(m.Resolution)
		if err != nil {
			return errors.Wrapf(err, "mode %q", m.Resolution)
		}
		modes = append(modes, gocapture.KnownVideoMode{
			Resolution: res,
			Parameters: m.Parameters.toParams(),
		})
	}
	aliases := make([]gocapture.ModeAlias, 0, len(doc.Aliases))
	for _, a := range doc.Aliases {
		from, err := gocapture.ParseResolution(a.From)
		if err != nil {
			return errors.Wrapf(err, "alias from %q", a.From)
		}
		to, err := gocapture.ParseResolution(a.To)
		if err != nil {
			return errors.Wrapf(err, "alias to %q", a.To)
		}
		aliases = append(aliases, gocapture.ModeAlias{From: from, To: to})
	}
	store.SetKnownModes(modes)
	store.SetAliases(aliases)
	return nil
}

// FromStore snapshots a store into a document, preserving insertion
// order.
func FromStore(store *gocapture.ModeStore) *Document {
	var doc Document
	for _, m := range store.KnownModes() {
		doc.Modes = append(doc.Modes, Mode{
			Resolution: m.Resolution.String(),
			Parameters: fromParams(m.Parameters),
		})
	}
	for _, a := range store.Aliases() {
		doc.Aliases = append(doc.Aliases, Alias{From: a.From.String(), To: a.To.String()})
	}
	return &doc
}
