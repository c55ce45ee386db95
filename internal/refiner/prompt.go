package refiner

import (
	"fmt"
	"strings"
)

// promptVersion bumps whenever the prompts or the response protocol
// change, invalidating cached results produced under the old prompt.
const promptVersion = "v1"

const basePrompt = `You are given the raw OCR text of one page of a scanned book. Clean it up and convert it to well-formed markdown.

FORMATTING RULES:
- Use ## for chapter titles, ### for sections, #### for subsections
- Preserve **bold** and *italic* formatting
- Convert lists to proper markdown (- or 1. 2. 3.)
- Tables should use markdown table syntax
- Preserve paragraph breaks (double newline)
- Fix obvious OCR recognition errors (0/O, 1/I/l, rn/m) using context
- Remove headers/footers/page numbers

CRITICAL - HANDLING INCOMPLETE TEXT:
- If text at the BOTTOM of the page ends mid-word or mid-sentence, mark it with {EOL} tag
- Extract the incomplete fragment and add it after as {INCOMPLETE: fragment text here}
- Example: "The quick brown fox jum{EOL}{INCOMPLETE: jum}"

OUTPUT FORMAT:
` + "```markdown" + `
[Your markdown content here]
` + "```" + `

If incomplete text detected:
{EOL}
{INCOMPLETE: incomplete text fragment}
`

// buildPrompt assembles the refinement prompt for one page.
func buildPrompt(rawText string, pageCtx PageContext) string {
	var b strings.Builder

	if pageCtx.PreviousTail != "" {
		fmt.Fprintf(&b, `CONTEXT FROM PREVIOUS PAGE:
The previous page ended with incomplete text: %q
Start your output by completing this text naturally, then continue with the rest of the page.

`, pageCtx.PreviousTail)
	}

	b.WriteString(basePrompt)
	b.WriteString("\nRAW OCR TEXT:\n")
	b.WriteString(rawText)

	return b.String()
}

// parseResponse extracts the markdown body and the incomplete-text
// markers from a model response.
func parseResponse(response string) Refinement {
	var result Refinement

	// Prefer the fenced block; fall back to the whole response.
	if idx := strings.Index(response, "```markdown"); idx != -1 {
		start := idx + len("```markdown")
		if end := strings.Index(response[start:], "```"); end != -1 {
			result.Markdown = strings.TrimSpace(response[start : start+end])
		}
	}
	if result.Markdown == "" {
		result.Markdown = strings.TrimSpace(response)
	}

	if strings.Contains(response, "{EOL}") {
		result.EndsIncomplete = true

		if idx := strings.Index(response, "{INCOMPLETE:"); idx != -1 {
			start := idx + len("{INCOMPLETE:")
			if end := strings.Index(response[start:], "}"); end != -1 {
				result.IncompleteTail = strings.TrimSpace(response[start : start+end])
			}
		}
	}

	// Strip protocol markers from the page body.
	result.Markdown = strings.ReplaceAll(result.Markdown, "{EOL}", "")
	if idx := strings.Index(result.Markdown, "{INCOMPLETE:"); idx != -1 {
		if end := strings.Index(result.Markdown[idx:], "}"); end != -1 {
			result.Markdown = result.Markdown[:idx] + result.Markdown[idx+end+1:]
		}
	}
	result.Markdown = strings.TrimSpace(result.Markdown)

	return result
}
