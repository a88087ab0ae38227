// Package seed registers the source catalogue: one portal listing per
// prefecture plus optional entries from a YAML file.
package seed

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/kizashi/subsidy-radar/internal/radar"
	"github.com/kizashi/subsidy-radar/internal/region"
)

// DefaultIntervalMinutes is the polling interval of catalogue entries.
const DefaultIntervalMinutes = 720

const portalListURL = "https://hojyokin-portal.jp/subsidies/list?pref_id=%d"

// Entry is one catalogue row as written in the YAML file.
type Entry struct {
	PrefCode        string `yaml:"pref_code"`
	SourceType      string `yaml:"source_type"`
	Name            string `yaml:"name"`
	URL             string `yaml:"url"`
	Enabled         *bool  `yaml:"enabled"`
	IntervalMinutes int    `yaml:"interval_minutes"`
}

type file struct {
	Sources []Entry `yaml:"sources"`
}

// Store is the persistence surface the seeder needs.
type Store interface {
	UpsertSource(ctx context.Context, src radar.Source) error
}

// Defaults returns the portal listing source of every prefecture.
func Defaults() []Entry {
	prefs := region.All()
	out := make([]Entry, 0, len(prefs))
	for _, p := range prefs {
		n, _ := strconv.Atoi(p.Code)
		out = append(out, Entry{
			PrefCode:        p.Code,
			SourceType:      string(radar.SourceTypeSubsidy),
			Name:            p.Name + " 補助金一覧",
			URL:             fmt.Sprintf(portalListURL, n),
			IntervalMinutes: DefaultIntervalMinutes,
		})
	}
	return out
}

// Parse decodes a YAML catalogue and validates every entry.
func Parse(data []byte) ([]Entry, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode catalogue: %w", err)
	}
	for i, e := range f.Sources {
		if !region.IsValidCode(e.PrefCode) {
			return nil, fmt.Errorf("catalogue entry %d: unknown pref_code %q", i, e.PrefCode)
		}
		if e.URL == "" {
			return nil, fmt.Errorf("catalogue entry %d: url is required", i)
		}
		switch radar.SourceType(e.SourceType) {
		case "", radar.SourceTypeSubsidy, radar.SourceTypeTender:
		default:
			return nil, fmt.Errorf("catalogue entry %d: unknown source_type %q", i, e.SourceType)
		}
	}
	return f.Sources, nil
}

// LoadFile reads a YAML catalogue from disk.
func LoadFile(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalogue: %w", err)
	}
	return Parse(data)
}

// Merge overlays extra on base keyed by (pref_code, source_type), keeping
// base order and appending new keys.
func Merge(base, extra []Entry) []Entry {
	type key struct{ pref, typ string }
	out := make([]Entry, len(base))
	copy(out, base)
	index := make(map[key]int, len(out))
	for i, e := range out {
		index[key{e.PrefCode, sourceType(e)}] = i
	}
	for _, e := range extra {
		k := key{e.PrefCode, sourceType(e)}
		if i, ok := index[k]; ok {
			out[i] = overlay(out[i], e)
			continue
		}
		index[k] = len(out)
		out = append(out, e)
	}
	return out
}

func overlay(cur, next Entry) Entry {
	if next.Name != "" {
		cur.Name = next.Name
	}
	cur.URL = next.URL
	if next.Enabled != nil {
		cur.Enabled = next.Enabled
	}
	if next.IntervalMinutes > 0 {
		cur.IntervalMinutes = next.IntervalMinutes
	}
	return cur
}

func sourceType(e Entry) string {
	if e.SourceType == "" {
		return string(radar.SourceTypeSubsidy)
	}
	return e.SourceType
}

// Source converts an entry into a radar.Source with the given id.
func (e Entry) Source(id string) radar.Source {
	name := e.Name
	if name == "" {
		name = region.NameOf(e.PrefCode) + " 補助金一覧"
	}
	interval := e.IntervalMinutes
	if interval <= 0 {
		interval = DefaultIntervalMinutes
	}
	return radar.Source{
		ID:              id,
		PrefCode:        e.PrefCode,
		SourceType:      radar.SourceType(sourceType(e)),
		Name:            name,
		URL:             e.URL,
		Enabled:         e.Enabled == nil || *e.Enabled,
		IntervalMinutes: interval,
	}
}

// Seeder upserts catalogue entries.
type Seeder struct {
	store  Store
	ids    radar.IDGenerator
	logger *zap.Logger
}

// New constructs a Seeder.
func New(store Store, ids radar.IDGenerator, logger *zap.Logger) *Seeder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Seeder{store: store, ids: ids, logger: logger}
}

// Run upserts every entry and returns how many were written. Existing rows
// only get their name and URL refreshed.
func (s *Seeder) Run(ctx context.Context, entries []Entry) (int, error) {
	for i, e := range entries {
		id, err := s.ids.NewID()
		if err != nil {
			return i, fmt.Errorf("new source id: %w", err)
		}
		src := e.Source(id)
		if err := s.store.UpsertSource(ctx, src); err != nil {
			return i, err
		}
		s.logger.Debug("source seeded",
			zap.String("pref_code", src.PrefCode),
			zap.String("source_type", string(src.SourceType)),
			zap.String("url", src.URL),
		)
	}
	s.logger.Info("sources seeded", zap.Int("count", len(entries)))
	return len(entries), nil
}
