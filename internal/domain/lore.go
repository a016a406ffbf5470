package domain

// LoreKind тип записи лорбука.
type LoreKind string

const (
	LoreNPC      LoreKind = "npc"
	LoreLocation LoreKind = "location"
	LoreEvent    LoreKind = "event"
)

// LoreEntry запись лорбука.
type LoreEntry struct {
	ID             string   `json:"id" yaml:"id"`
	Kind           LoreKind `json:"kind" yaml:"kind"`
	Name           string   `json:"name" yaml:"name"`
	Description    string   `json:"description" yaml:"description"`
	Keywords       []string `json:"keywords" yaml:"keywords"`
	Facts          []string `json:"facts" yaml:"facts"`
	Contradictions []string `json:"contradictions,omitempty" yaml:"contradictions,omitempty"`
}
