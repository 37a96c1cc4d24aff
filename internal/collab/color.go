package collab

import (
	"hash/fnv"

	v1 "coedit/contracts/collab/v1"
)

// presencePalette is the fixed set of collaborator display colors.
// Stability matters more than taste: the palette must never be reordered,
// or colors stop being stable across releases.
var presencePalette = []string{
	"#3B82F6", // blue
	"#10B981", // emerald
	"#F59E0B", // amber
	"#EF4444", // red
	"#8B5CF6", // violet
	"#EC4899", // pink
	"#14B8A6", // teal
	"#F97316", // orange
}

// ColorFor derives the display color for an identifier. It is a pure
// function: the same identifier always maps to the same palette entry,
// across sessions and reconnects.
func ColorFor(id string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return presencePalette[h.Sum32()%uint32(len(presencePalette))]
}

// colorize fills in missing display colors on a roster in place and
// returns it. Server-assigned colors are kept as-is.
func colorize(users []v1.Presence) []v1.Presence {
	for i := range users {
		if users[i].Color == "" {
			users[i].Color = ColorFor(users[i].ID)
		}
	}
	return users
}
