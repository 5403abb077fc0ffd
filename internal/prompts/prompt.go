// Package prompts holds the versioned instruction texts sent to the coach
// and selector models.
package prompts

import (
	"strconv"
	"strings"
)

// PromptVersion is a dotted numeric version such as "1.2.0".
type PromptVersion string

const (
	PromptV1 PromptVersion = "1.0.0"
	PromptV2 PromptVersion = "2.0.0"
)

// Prompt is one version of an instruction text. Content may contain
// {{name}} placeholders filled by Render.
type Prompt struct {
	ID          string
	Version     PromptVersion
	Content     string
	Description string
	Deprecated  bool
}

// Less orders versions numerically, so 10.0.0 sorts after 9.0.0. Missing
// or non-numeric parts count as zero.
func (v PromptVersion) Less(o PromptVersion) bool {
	a, b := strings.Split(string(v), "."), strings.Split(string(o), ".")
	for i := 0; i < max(len(a), len(b)); i++ {
		x, y := part(a, i), part(b, i)
		if x != y {
			return x < y
		}
	}
	return false
}

func part(parts []string, i int) int {
	if i >= len(parts) {
		return 0
	}
	n, _ := strconv.Atoi(parts[i])
	return n
}
