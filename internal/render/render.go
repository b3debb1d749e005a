// Package render performs template variable substitution for campaign
// messages. Rendering is pure: it never fails, and placeholders without a
// binding stay in the output verbatim.
package render

import (
	"strings"

	"github.com/RendaAI-dev/NewChats/internal/store"
)

// Render substitutes {placeholder} occurrences in template. Contact
// attributes bind {name} and {phone} and win over user-supplied bindings of
// the same key.
func Render(template string, contact store.Contact, vars map[string]string) string {
	pairs := make([]string, 0, 2*(len(vars)+2))
	pairs = append(pairs,
		"{name}", contact.Name,
		"{phone}", contact.PhoneNumber,
	)
	for key, value := range vars {
		if key == "name" || key == "phone" {
			continue
		}
		pairs = append(pairs, "{"+key+"}", value)
	}
	return strings.NewReplacer(pairs...).Replace(template)
}
