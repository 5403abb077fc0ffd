package prompts

import (
	"fmt"
	"regexp"
	"strings"
)

var placeholder = regexp.MustCompile(`\{\{\s*([a-z_]+)\s*\}\}`)

// Render fills every {{name}} placeholder in p from vars and appends the
// operator's coaching notes, if any. A placeholder without a value is an
// error so a half-filled prompt never reaches the model.
func Render(p *Prompt, vars map[string]string, notes string) (string, error) {
	var missing []string
	text := placeholder.ReplaceAllStringFunc(p.Content, func(m string) string {
		name := placeholder.FindStringSubmatch(m)[1]
		v, ok := vars[name]
		if !ok {
			missing = append(missing, name)
			return m
		}
		return v
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("prompt %s@%s: no value for %s", p.ID, p.Version, strings.Join(missing, ", "))
	}

	if notes = strings.TrimSpace(notes); notes != "" {
		text += "\n\n[COACH NOTES]\nFollow these notes from the gym operator:\n\n" + notes + "\n[END COACH NOTES]"
	}
	return text, nil
}
