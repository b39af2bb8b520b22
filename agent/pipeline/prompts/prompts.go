// Package prompts embeds the pipeline prompt templates.
package prompts

import "embed"

//go:embed *.md *.yaml
var PromptsFS embed.FS
