package domain

// ToolResultKind дискриминатор ToolResult.
type ToolResultKind string

const (
	ResultCheck       ToolResultKind = "check"
	ResultCombat      ToolResultKind = "combat"
	ResultWorldUpdate ToolResultKind = "world_update"
	ResultInventory   ToolResultKind = "inventory"
	ResultImageJob    ToolResultKind = "image_job"
	ResultError       ToolResultKind = "error"
)

// WorldUpdateResult подготовленное изменение мира. Применяется только при Render.
type WorldUpdateResult struct {
	Update  SceneUpdate `json:"update"`
	Applied bool        `json:"applied"`
}

// InventoryResult результат изменения инвентаря.
type InventoryResult struct {
	Delta     InventoryDelta `json:"delta"`
	GoldAfter int            `json:"gold_after"`
	Added     []string       `json:"added,omitempty"`
	Removed   []string       `json:"removed,omitempty"`
	Resources map[string]int `json:"resources,omitempty"` // Значения после изменения
}

// ImageJobHandle резерв запроса изображения. JobID появляется после Render.
type ImageJobHandle struct {
	SceneID    string    `json:"scene_id"`
	Prompt     string    `json:"prompt"`
	Mode       ImageMode `json:"mode"`
	Seed       int64     `json:"seed"`
	JobID      string    `json:"job_id,omitempty"`
	ETASeconds int       `json:"eta_sec,omitempty"`
}

// ToolResult результат шага плана (tagged union). Заполнено ровно одно поле, соответствующее Kind.
type ToolResult struct {
	Kind      ToolResultKind     `json:"kind"`
	Step      int                `json:"step"`
	Tool      ToolName           `json:"tool"`
	Check     *CheckResult       `json:"check,omitempty"`
	Combat    *CombatResult      `json:"combat,omitempty"`
	World     *WorldUpdateResult `json:"world,omitempty"`
	Inventory *InventoryResult   `json:"inventory,omitempty"`
	Image     *ImageJobHandle    `json:"image,omitempty"`
	Err       *ToolError         `json:"error,omitempty"`
}

func CheckToolResult(step int, tool ToolName, r CheckResult) ToolResult {
	return ToolResult{Kind: ResultCheck, Step: step, Tool: tool, Check: &r}
}

func CombatToolResult(step int, tool ToolName, r CombatResult) ToolResult {
	return ToolResult{Kind: ResultCombat, Step: step, Tool: tool, Combat: &r}
}

func WorldToolResult(step int, r WorldUpdateResult) ToolResult {
	return ToolResult{Kind: ResultWorldUpdate, Step: step, Tool: ToolWorldUpdate, World: &r}
}

func InventoryToolResult(step int, r InventoryResult) ToolResult {
	return ToolResult{Kind: ResultInventory, Step: step, Tool: ToolInventoryUpdate, Inventory: &r}
}

func ImageToolResult(step int, h ImageJobHandle) ToolResult {
	return ToolResult{Kind: ResultImageJob, Step: step, Tool: ToolImageRequest, Image: &h}
}

func ErrorToolResult(step int, tool ToolName, message string) ToolResult {
	return ToolResult{Kind: ResultError, Step: step, Tool: tool, Err: &ToolError{Tool: tool, Step: step, Message: message}}
}

// IsError сообщает, что шаг завершился ошибкой.
func (r ToolResult) IsError() bool {
	return r.Kind == ResultError
}

// FirstCheck возвращает первую проверку среди результатов.
func FirstCheck(results []ToolResult) (CheckResult, bool) {
	for _, r := range results {
		if r.Kind == ResultCheck && r.Check != nil {
			return *r.Check, true
		}
	}
	return CheckResult{}, false
}

// FirstCombat возвращает первый боевой результат.
func FirstCombat(results []ToolResult) (CombatResult, bool) {
	for _, r := range results {
		if r.Kind == ResultCombat && r.Combat != nil {
			return *r.Combat, true
		}
	}
	return CombatResult{}, false
}
