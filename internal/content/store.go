package content

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"sort"
	"strings"

	"fiction-server/internal/domain"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const (
	lorebookFile = "lorebook.yaml"
	scenesFile   = "scenes.yaml"
)

//go:embed data/*.yaml
var embeddedFS embed.FS

// lorebook формат lorebook.yaml.
type lorebook struct {
	NPCs      map[string]domain.LoreEntry `yaml:"npcs"`
	Locations map[string]domain.LoreEntry `yaml:"locations"`
	Events    map[string]domain.LoreEntry `yaml:"events"`
}

// sceneBook формат scenes.yaml.
type sceneBook struct {
	Scenes     map[string]domain.Scene `yaml:"scenes"`
	StoryHooks []string                `yaml:"story_hooks"`
}

// Stats сводка по загруженному контенту.
type Stats struct {
	NPCs        int            `json:"npcs"`
	Locations   int            `json:"locations"`
	Events      int            `json:"events"`
	Scenes      int            `json:"scenes"`
	ByChapter   map[string]int `json:"by_chapter"`
	ByEncounter map[string]int `json:"by_encounter"`
}

// Store неизменяемый после загрузки каталог сцен и лора.
type Store struct {
	npcs       map[string]domain.LoreEntry
	locations  map[string]domain.LoreEntry
	events     map[string]domain.LoreEntry
	scenes     map[string]domain.Scene
	storyHooks []string
	logger     *zap.Logger
}

// LoadEmbedded загружает встроенный контент.
func LoadEmbedded(logger *zap.Logger) (*Store, error) {
	sub, err := fs.Sub(embeddedFS, "data")
	if err != nil {
		return nil, fmt.Errorf("embedded content: %w", err)
	}
	return LoadFromFS(sub, logger)
}

// LoadDir загружает контент из каталога на диске.
func LoadDir(dir string, logger *zap.Logger) (*Store, error) {
	return LoadFromFS(os.DirFS(dir), logger)
}

// LoadFromFS читает lorebook.yaml и scenes.yaml из fsys.
func LoadFromFS(fsys fs.FS, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var lore lorebook
	if err := readYAML(fsys, lorebookFile, &lore); err != nil {
		return nil, err
	}
	var book sceneBook
	if err := readYAML(fsys, scenesFile, &book); err != nil {
		return nil, err
	}

	s := &Store{
		npcs:       normalizeLore(lore.NPCs, domain.LoreNPC),
		locations:  normalizeLore(lore.Locations, domain.LoreLocation),
		events:     normalizeLore(lore.Events, domain.LoreEvent),
		scenes:     make(map[string]domain.Scene, len(book.Scenes)),
		storyHooks: book.StoryHooks,
		logger:     logger.Named("ContentStore"),
	}
	for id, scene := range book.Scenes {
		if scene.ID == "" {
			scene.ID = id
		}
		s.scenes[id] = scene.Clone()
	}

	if issues := s.Validate(); len(issues) > 0 {
		s.logger.Warn("Content has issues", zap.Strings("issues", issues))
	}
	s.logger.Info("Content loaded",
		zap.Int("scenes", len(s.scenes)),
		zap.Int("npcs", len(s.npcs)),
		zap.Int("locations", len(s.locations)),
	)
	return s, nil
}

func readYAML(fsys fs.FS, name string, out any) error {
	data, err := fs.ReadFile(fsys, name)
	if err != nil {
		return fmt.Errorf("read %s: %w", name, err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse %s: %w", name, err)
	}
	return nil
}

func normalizeLore(entries map[string]domain.LoreEntry, kind domain.LoreKind) map[string]domain.LoreEntry {
	out := make(map[string]domain.LoreEntry, len(entries))
	for id, e := range entries {
		if e.ID == "" {
			e.ID = id
		}
		if e.Kind == "" {
			e.Kind = kind
		}
		out[id] = e
	}
	return out
}

// GetScene возвращает копию сцены.
func (s *Store) GetScene(id string) (domain.Scene, bool) {
	scene, ok := s.scenes[id]
	if !ok {
		return domain.Scene{}, false
	}
	return scene.Clone(), true
}

// GetNPC возвращает запись лора о персонаже.
func (s *Store) GetNPC(id string) (domain.LoreEntry, bool) {
	e, ok := s.npcs[id]
	return e, ok
}

// GetLocation возвращает запись лора о месте.
func (s *Store) GetLocation(id string) (domain.LoreEntry, bool) {
	e, ok := s.locations[id]
	return e, ok
}

// SceneIDs идентификаторы сцен в алфавитном порядке.
func (s *Store) SceneIDs() []string {
	ids := make([]string, 0, len(s.scenes))
	for id := range s.scenes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// StoryHooks завязки сюжета.
func (s *Store) StoryHooks() []string {
	return slices.Clone(s.storyHooks)
}

// Lore все записи лора, отсортированные по ID.
func (s *Store) Lore() []domain.LoreEntry {
	all := make([]domain.LoreEntry, 0, len(s.npcs)+len(s.locations)+len(s.events))
	for _, m := range []map[string]domain.LoreEntry{s.npcs, s.locations, s.events} {
		for _, e := range m {
			all = append(all, e)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	return all
}

// SearchByKeywords находит записи, у которых есть хотя бы одно из ключевых слов.
func (s *Store) SearchByKeywords(keywords ...string) []domain.LoreEntry {
	want := make(map[string]bool, len(keywords))
	for _, k := range keywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			want[k] = true
		}
	}
	if len(want) == 0 {
		return nil
	}
	var out []domain.LoreEntry
	for _, e := range s.Lore() {
		for _, k := range e.Keywords {
			if want[strings.ToLower(k)] {
				out = append(out, e)
				break
			}
		}
	}
	return out
}

// LoreFor лор, относящийся к сцене: её NPC, место и записи по тегам.
func (s *Store) LoreFor(scene domain.Scene) []domain.LoreEntry {
	seen := make(map[string]bool)
	var out []domain.LoreEntry
	add := func(e domain.LoreEntry) {
		if !seen[e.ID] {
			seen[e.ID] = true
			out = append(out, e)
		}
	}
	if e, ok := s.locations[scene.ID]; ok {
		add(e)
	}
	for _, npc := range scene.NPCs {
		if e, ok := s.npcs[npc.ID]; ok {
			add(e)
		}
	}
	for _, e := range s.SearchByKeywords(scene.Tags...) {
		add(e)
	}
	return out
}

// Validate возвращает список проблем контента.
func (s *Store) Validate() []string {
	var issues []string
	if len(s.npcs) == 0 {
		issues = append(issues, "no NPCs defined in lorebook")
	}
	if len(s.locations) == 0 {
		issues = append(issues, "no locations defined in lorebook")
	}
	if len(s.scenes) == 0 {
		issues = append(issues, "no scenes defined")
	}
	for _, id := range s.SceneIDs() {
		scene := s.scenes[id]
		if scene.Title == "" {
			issues = append(issues, fmt.Sprintf("scene %s missing title", id))
		}
		if scene.Synopsis == "" {
			issues = append(issues, fmt.Sprintf("scene %s missing synopsis", id))
		}
		if len(scene.Tags) == 0 {
			issues = append(issues, fmt.Sprintf("scene %s missing tags", id))
		}
		for _, exit := range scene.Exits {
			if _, ok := s.scenes[exit.SceneID]; !ok {
				issues = append(issues, fmt.Sprintf("scene %s exit %s leads to unknown scene %s", id, exit.Direction, exit.SceneID))
			}
		}
	}
	return issues
}

// Stats считает записи по типам, главам и типам встреч.
func (s *Store) Stats() Stats {
	st := Stats{
		NPCs:        len(s.npcs),
		Locations:   len(s.locations),
		Events:      len(s.events),
		Scenes:      len(s.scenes),
		ByChapter:   make(map[string]int),
		ByEncounter: make(map[string]int),
	}
	for _, scene := range s.scenes {
		st.ByChapter[scene.Chapter]++
		st.ByEncounter[scene.EncounterType]++
	}
	return st
}
