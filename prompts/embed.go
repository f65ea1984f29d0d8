package prompts

import _ "embed"

//go:embed system/researcher.md
var ResearcherSystemPrompt string

//go:embed system/coder.md
var CoderSystemPrompt string

//go:embed system/optimizer.md
var OptimizerSystemPrompt string
