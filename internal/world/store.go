package world

import (
	"fmt"
	"maps"
	"slices"
	"sync"

	"fiction-server/internal/domain"

	"go.uber.org/zap"
)

// Clock игровое время.
type Clock struct {
	Day  int `json:"day"`
	Hour int `json:"hour"` // 0-23
}

// TimeOfDay название времени суток.
func (c Clock) TimeOfDay() string {
	switch {
	case c.Hour >= 5 && c.Hour < 12:
		return "morning"
	case c.Hour >= 12 && c.Hour < 17:
		return "afternoon"
	case c.Hour >= 17 && c.Hour < 21:
		return "evening"
	default:
		return "night"
	}
}

type sceneEntry struct {
	mu    sync.Mutex
	scene domain.Scene
}

// Store состояние мира: сцены, глобальные флаги, время, погода, квесты.
// Каждая сцена защищена своим мьютексом, изменения выполняются как read-modify-write.
type Store struct {
	mu          sync.RWMutex
	scenes      map[string]*sceneEntry
	globalFlags map[string]bool
	clock       Clock
	weather     string
	quests      map[string]domain.QuestUpdate
	logger      *zap.Logger
}

// NewStore создаёт хранилище мира.
func NewStore(logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		scenes:      make(map[string]*sceneEntry),
		globalFlags: make(map[string]bool),
		clock:       Clock{Day: 1, Hour: 8},
		weather:     "clear",
		quests:      make(map[string]domain.QuestUpdate),
		logger:      logger.Named("WorldStore"),
	}
}

// AddScene регистрирует сцену. Уже известная сцена не перезаписывается.
func (s *Store) AddScene(scene domain.Scene) domain.Scene {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.scenes[scene.ID]; ok {
		entry.mu.Lock()
		defer entry.mu.Unlock()
		return entry.scene.Clone()
	}
	s.scenes[scene.ID] = &sceneEntry{scene: scene.Clone()}
	return scene.Clone()
}

// GetScene возвращает копию сцены.
func (s *Store) GetScene(id string) (domain.Scene, bool) {
	entry := s.entry(id)
	if entry == nil {
		return domain.Scene{}, false
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.scene.Clone(), true
}

func (s *Store) entry(id string) *sceneEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.scenes[id]
}

// UpdateScene выполняет fn над сценой под её блокировкой. Если fn вернул
// ошибку, изменения отбрасываются.
func (s *Store) UpdateScene(id string, fn func(scene *domain.Scene) error) (domain.Scene, error) {
	entry := s.entry(id)
	if entry == nil {
		return domain.Scene{}, fmt.Errorf("%w: %s", domain.ErrSceneNotFound, id)
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	working := entry.scene.Clone()
	if err := fn(&working); err != nil {
		return entry.scene.Clone(), err
	}
	entry.scene = working
	return working.Clone(), nil
}

// Apply атомарно применяет подготовленное изменение мира.
func (s *Store) Apply(update domain.SceneUpdate) (domain.Scene, error) {
	if update.TimeAdvance < 0 {
		return domain.Scene{}, fmt.Errorf("negative time advance %d", update.TimeAdvance)
	}
	scene, err := s.UpdateScene(update.SceneID, func(scene *domain.Scene) error {
		for k, v := range update.Flags {
			scene.Flags[k] = v
		}
		for _, item := range update.RemoveItems {
			for i, it := range scene.Items {
				if it == item {
					scene.Items = append(scene.Items[:i], scene.Items[i+1:]...)
					break
				}
			}
		}
		for id, damage := range update.NPCDamage {
			i := slices.IndexFunc(scene.NPCs, func(n domain.NPC) bool { return n.ID == id })
			if i < 0 {
				continue
			}
			scene.NPCs[i].HP -= damage
			if scene.NPCs[i].HP <= 0 {
				scene.NPCs = slices.Delete(scene.NPCs, i, i+1)
				scene.Flags[id+"_defeated"] = true
			}
		}
		for _, id := range update.Defeated {
			scene.NPCs = slices.DeleteFunc(scene.NPCs, func(n domain.NPC) bool { return n.ID == id })
		}
		scene.Visited = true
		return nil
	})
	if err != nil {
		return scene, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range update.GlobalFlags {
		s.globalFlags[k] = v
	}
	if update.TimeAdvance > 0 {
		s.advanceLocked(update.TimeAdvance)
	}
	if update.Weather != "" {
		s.weather = update.Weather
	}
	if update.Quest != nil {
		s.quests[update.Quest.QuestID] = *update.Quest
	}

	s.logger.Debug("World update applied",
		zap.String("sceneID", update.SceneID),
		zap.Int("flags", len(update.Flags)),
		zap.Int("timeAdvance", update.TimeAdvance),
	)
	return scene, nil
}

// AdvanceTime сдвигает игровое время на hours часов.
func (s *Store) AdvanceTime(hours int) Clock {
	s.mu.Lock()
	defer s.mu.Unlock()
	if hours > 0 {
		s.advanceLocked(hours)
	}
	return s.clock
}

func (s *Store) advanceLocked(hours int) {
	total := s.clock.Hour + hours
	s.clock.Day += total / 24
	s.clock.Hour = total % 24
}

// Clock возвращает текущее игровое время.
func (s *Store) Clock() Clock {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.clock
}

// SetWeather задаёт погоду.
func (s *Store) SetWeather(weather string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.weather = weather
}

// Weather возвращает текущую погоду.
func (s *Store) Weather() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.weather
}

// GlobalFlag возвращает значение глобального флага.
func (s *Store) GlobalFlag(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.globalFlags[name]
}

// GlobalFlags возвращает копию глобальных флагов.
func (s *Store) GlobalFlags() map[string]bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.globalFlags)
}

// Quest возвращает состояние квеста.
func (s *Store) Quest(id string) (domain.QuestUpdate, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.quests[id]
	return q, ok
}

// SceneIDs возвращает идентификаторы известных сцен.
func (s *Store) SceneIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.scenes))
	for id := range s.scenes {
		ids = append(ids, id)
	}
	return ids
}
