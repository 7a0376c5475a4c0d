package chat

import (
	_ "embed"
	"fmt"
	"strings"
)

//go:embed system_prompt.txt
var systemPrompt string

// SystemPrompt renders the assistant's instructions for a user on page.
func SystemPrompt(siteBase, page string) string {
	if !strings.HasPrefix(page, "/") {
		page = "/" + page
	}
	return fmt.Sprintf(systemPrompt, strings.TrimRight(siteBase, "/")+page)
}
