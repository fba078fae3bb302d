package decode

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/bft-labs/canlog/internal/domain"
)

// Format is a layout file encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatTOML Format = "toml"
	FormatYAML Format = "yaml"
)

// FormatFromPath picks the format from the file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".toml":
		return FormatTOML, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("%w: unsupported layout file extension %q", domain.ErrInvalidLayout, filepath.Ext(path))
	}
}

// LayoutFile is the list form of a layout file, shared by TOML, YAML and
// the JSON written into log headers.
type LayoutFile struct {
	Messages []FileMessage `json:"messages" toml:"message" yaml:"messages"`
}

// FileMessage is one message entry in a layout file.
type FileMessage struct {
	ID      string       `json:"id" toml:"id" yaml:"id"`
	Name    string       `json:"name,omitempty" toml:"name,omitempty" yaml:"name,omitempty"`
	Signals []FileSignal `json:"signals" toml:"signal" yaml:"signals"`
}

// FileSignal is one signal entry. A signal is located either by bits
// [start, length] or by whole bytes with start/length.
type FileSignal struct {
	Name   string   `json:"name,omitempty" toml:"name" yaml:"name"`
	Bits   []int    `json:"bits,omitempty" toml:"bits,omitempty" yaml:"bits,omitempty"`
	Start  *int     `json:"start,omitempty" toml:"start,omitempty" yaml:"start,omitempty"`
	Length *int     `json:"length,omitempty" toml:"length,omitempty" yaml:"length,omitempty"`
	Order  string   `json:"order,omitempty" toml:"order,omitempty" yaml:"order,omitempty"`
	Signed bool     `json:"signed,omitempty" toml:"signed,omitempty" yaml:"signed,omitempty"`
	Scale  *float64 `json:"scale,omitempty" toml:"scale,omitempty" yaml:"scale,omitempty"`
	Offset float64  `json:"offset,omitempty" toml:"offset,omitempty" yaml:"offset,omitempty"`
	Unit   string   `json:"unit,omitempty" toml:"unit,omitempty" yaml:"unit,omitempty"`
}

// jsonMapMessage is the keyed JSON form: {"0x25": {"signals": {"name": {...}}}}.
type jsonMapMessage struct {
	Name    string                `json:"name"`
	Signals map[string]FileSignal `json:"signals"`
}

// LoadLayout reads and validates a layout file.
func LoadLayout(path string) (*domain.SignalLayout, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read layout: %w", err)
	}
	layout, err := ParseLayout(data, format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return layout, nil
}

// ParseLayout parses and validates layout data in the given format.
func ParseLayout(data []byte, format Format) (*domain.SignalLayout, error) {
	var lf LayoutFile
	switch format {
	case FormatJSON:
		parsed, err := parseJSON(data)
		if err != nil {
			return nil, err
		}
		lf = parsed
	case FormatTOML:
		if err := toml.Unmarshal(data, &lf); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrInvalidLayout, err)
		}
	case FormatYAML:
		if err := yaml.Unmarshal(data, &lf); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrInvalidLayout, err)
		}
	default:
		return nil, fmt.Errorf("%w: unknown format %q", domain.ErrInvalidLayout, format)
	}
	return lf.Build()
}

func parseJSON(data []byte) (LayoutFile, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return LayoutFile{}, fmt.Errorf("%w: %v", domain.ErrInvalidLayout, err)
	}
	if _, ok := top["messages"]; ok {
		var lf LayoutFile
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&lf); err != nil {
			return LayoutFile{}, fmt.Errorf("%w: %v", domain.ErrInvalidLayout, err)
		}
		return lf, nil
	}

	ids := make([]string, 0, len(top))
	for k := range top {
		ids = append(ids, k)
	}
	sort.Strings(ids)

	var lf LayoutFile
	for _, id := range ids {
		var m jsonMapMessage
		if err := json.Unmarshal(top[id], &m); err != nil {
			return LayoutFile{}, fmt.Errorf("%w: message %s: %v", domain.ErrInvalidLayout, id, err)
		}
		names := make([]string, 0, len(m.Signals))
		for n := range m.Signals {
			names = append(names, n)
		}
		sort.Strings(names)
		fm := FileMessage{ID: id, Name: m.Name}
		for _, n := range names {
			s := m.Signals[n]
			s.Name = n
			fm.Signals = append(fm.Signals, s)
		}
		lf.Messages = append(lf.Messages, fm)
	}
	return lf, nil
}

// Build converts the file form into a validated layout.
func (lf LayoutFile) Build() (*domain.SignalLayout, error) {
	messages := make([]domain.MessageLayout, 0, len(lf.Messages))
	for _, fm := range lf.Messages {
		id, err := ParseID(fm.ID)
		if err != nil {
			return nil, err
		}
		ml := domain.MessageLayout{ID: id, Name: fm.Name}
		for _, fs := range fm.Signals {
			def, err := fs.def()
			if err != nil {
				return nil, fmt.Errorf("message %s: %w", fm.ID, err)
			}
			ml.Signals = append(ml.Signals, def)
		}
		messages = append(messages, ml)
	}
	return domain.NewSignalLayout(messages...)
}

func (fs FileSignal) def() (domain.SignalDef, error) {
	order, err := domain.ParseByteOrder(strings.ToLower(fs.Order))
	if err != nil {
		return domain.SignalDef{}, fmt.Errorf("%w: signal %s: %v", domain.ErrInvalidLayout, fs.Name, err)
	}
	def := domain.SignalDef{
		Name:   fs.Name,
		Order:  order,
		Signed: fs.Signed,
		Scale:  1,
		Offset: fs.Offset,
		Unit:   fs.Unit,
	}
	if fs.Scale != nil {
		def.Scale = *fs.Scale
	}

	var start, length int
	switch {
	case len(fs.Bits) > 0:
		if len(fs.Bits) != 2 {
			return def, fmt.Errorf("%w: signal %s: bits must be [start, length]", domain.ErrInvalidLayout, fs.Name)
		}
		start, length = fs.Bits[0], fs.Bits[1]
	case fs.Start != nil && fs.Length != nil:
		// Byte form: whole bytes starting at byte Start.
		start, length = *fs.Start*8, *fs.Length*8
		if order == domain.BigEndian {
			start += 7
		}
	default:
		return def, fmt.Errorf("%w: signal %s: needs bits or start/length", domain.ErrInvalidLayout, fs.Name)
	}
	if start < 0 || start > 63 || length < 1 || length > 64 {
		return def, fmt.Errorf("%w: signal %s: start %d length %d out of range", domain.ErrInvalidLayout, fs.Name, start, length)
	}
	def.Start = uint8(start)
	def.Length = uint8(length)
	return def, nil
}

// ParseID accepts decimal or 0x-prefixed hexadecimal arbitration ids.
func ParseID(s string) (uint32, error) {
	s = strings.TrimSpace(s)
	var (
		v   uint64
		err error
	)
	if strings.HasPrefix(strings.ToLower(s), "0x") {
		v, err = strconv.ParseUint(s[2:], 16, 32)
	} else {
		v, err = strconv.ParseUint(s, 10, 32)
	}
	if err != nil {
		return 0, fmt.Errorf("%w: bad arbitration id %q", domain.ErrInvalidLayout, s)
	}
	return uint32(v), nil
}

// ToFile converts a layout back to its list form, using bit positions.
func ToFile(layout *domain.SignalLayout) LayoutFile {
	var lf LayoutFile
	for _, m := range layout.Messages() {
		fm := FileMessage{ID: fmt.Sprintf("0x%X", m.ID), Name: m.Name}
		for _, s := range m.Signals {
			scale := s.Scale
			fm.Signals = append(fm.Signals, FileSignal{
				Name:   s.Name,
				Bits:   []int{int(s.Start), int(s.Length)},
				Order:  s.Order.String(),
				Signed: s.Signed,
				Scale:  &scale,
				Offset: s.Offset,
				Unit:   s.Unit,
			})
		}
		lf.Messages = append(lf.Messages, fm)
	}
	return lf
}
