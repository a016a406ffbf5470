package domain

// ToolName идентифицирует инструмент шага плана.
type ToolName string

const (
	ToolRulesCheck      ToolName = "rules/check"
	ToolCombatAttack    ToolName = "combat/attack"
	ToolCombatSave      ToolName = "combat/save_effect"
	ToolWorldUpdate     ToolName = "world/update"
	ToolInventoryUpdate ToolName = "inventory/update"
	ToolImageRequest    ToolName = "images/request"
)

// CheckArgs аргументы проверки характеристики или навыка.
type CheckArgs struct {
	Ability      Ability `json:"ability"`
	Skill        string  `json:"skill,omitempty"`
	Proficient   bool    `json:"proficient"`
	DC           int     `json:"dc"`
	Advantage    bool    `json:"advantage,omitempty"`
	Disadvantage bool    `json:"disadvantage,omitempty"`
	Context      string  `json:"context,omitempty"`
}

// AttackArgs аргументы атаки персонажа по NPC.
type AttackArgs struct {
	TargetID   string `json:"target_id"`
	TargetName string `json:"target_name"`
	TargetAC   int    `json:"target_ac"`
	TargetHP   int    `json:"target_hp"`
	Weapon     Weapon `json:"weapon"`
}

// SaveEffectArgs аргументы эффекта, от которого персонаж защищается спасброском.
type SaveEffectArgs struct {
	Source     string  `json:"source"`
	Ability    Ability `json:"ability"`
	DC         int     `json:"dc"`
	DamageSpec string  `json:"damage_spec"`
	DamageType string  `json:"damage_type,omitempty"`
	HalfOnSave bool    `json:"half_on_save"`
}

// SceneUpdate изменения сцены и мира, применяемые атомарно на этапе Render.
type SceneUpdate struct {
	SceneID     string          `json:"scene_id"`
	Flags       map[string]bool `json:"flags,omitempty"`
	GlobalFlags map[string]bool `json:"global_flags,omitempty"`
	TimeAdvance int             `json:"time_advance,omitempty"` // В часах
	Weather     string          `json:"weather,omitempty"`
	RemoveItems []string        `json:"remove_items,omitempty"`
	NPCDamage   map[string]int  `json:"npc_damage,omitempty"` // Урон по NPC сцены
	Defeated    []string        `json:"defeated,omitempty"`   // NPC, покидающие сцену
	Quest       *QuestUpdate    `json:"quest,omitempty"`
}

// QuestUpdate изменение квеста.
type QuestUpdate struct {
	QuestID string `json:"quest_id"`
	Status  string `json:"status"` // active, completed, failed
	Giver   string `json:"giver,omitempty"`
	Note    string `json:"note,omitempty"`
}

// InventoryDelta изменение инвентаря.
type InventoryDelta struct {
	Gold        int            `json:"gold,omitempty"`
	ItemsAdd    []string       `json:"items_add,omitempty"`
	ItemsRemove []string       `json:"items_remove,omitempty"`
	Resources   map[string]int `json:"resources,omitempty"`
}

// IsZero сообщает, что дельта пустая.
func (d InventoryDelta) IsZero() bool {
	return d.Gold == 0 && len(d.ItemsAdd) == 0 && len(d.ItemsRemove) == 0 && len(d.Resources) == 0
}

// ImageMode режим генерации изображения.
type ImageMode string

const (
	ImageModePreview ImageMode = "preview"
	ImageModeHQ      ImageMode = "hq"
)

// ImageArgs аргументы запроса изображения.
type ImageArgs struct {
	SceneID string    `json:"scene_id"`
	Prompt  string    `json:"prompt"`
	Mode    ImageMode `json:"mode"`
}

// Step шаг плана. У шага заполнен ровно один набор аргументов, соответствующий Tool.
type Step struct {
	Tool       ToolName        `json:"tool"`
	Seed       int64           `json:"seed"`
	Check      *CheckArgs      `json:"check,omitempty"`
	Attack     *AttackArgs     `json:"attack,omitempty"`
	SaveEffect *SaveEffectArgs `json:"save_effect,omitempty"`
	World      *SceneUpdate    `json:"world,omitempty"`
	Inventory  *InventoryDelta `json:"inventory,omitempty"`
	Image      *ImageArgs      `json:"image,omitempty"`
}

// ActionKind тип действия игрока, распознанный планировщиком.
type ActionKind string

const (
	ActionNarrative  ActionKind = "narrative"
	ActionSkillCheck ActionKind = "skill_check"
	ActionCombat     ActionKind = "combat"
	ActionTake       ActionKind = "take"
	ActionMove       ActionKind = "move"
	ActionRest       ActionKind = "rest"
	ActionConsume    ActionKind = "consume"
	ActionDialogue   ActionKind = "dialogue"
)

// Plan план хода.
type Plan struct {
	Seed        int64      `json:"seed"`
	Revision    int        `json:"revision"`
	Action      ActionKind `json:"action"`
	Skill       string     `json:"skill,omitempty"`
	Steps       []Step     `json:"steps"`
	Destination string     `json:"destination,omitempty"` // Сцена, в которую ведёт выбранный выход
	Moderated   bool       `json:"moderated,omitempty"`   // Ввод игрока отклонён модерацией
	Note        string     `json:"note,omitempty"`
}
