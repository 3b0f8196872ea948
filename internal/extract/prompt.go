package extract

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/joseph-ayodele/requirements-intake/constants"
)

// BuildSystemPrompt composes the system message: segmentation rules, the type
// vocabulary and output hygiene.
func BuildSystemPrompt() string {
	parts := []string{
		"You are a requirements analyst. Extract every requirement stated in the supplied document pages.",
		"Emit exactly one item per discrete requirement.",
		"Never merge unrelated requirements into one item.",
		"Never split a single requirement into several items, including when it continues across bullet lines or hierarchical numbering (1, 1.1, 1.1.a); join such continuations into one text.",
		"Copy the requirement text literally; do not paraphrase or improve wording.",
		"'page' is the 1-based page number the requirement starts on.",
		"'type' MUST be exactly one of: " + strings.Join(constants.RequirementTypes(), ", ") +
			". If unsure, use '" + string(constants.DefaultRequirementType) + "'.",
		"'confidence' is a number between 0 and 1 expressing how sure you are that the item is a real, complete requirement.",
		"'rationale' is optional: at most one short sentence on why the text is a requirement.",
		"Skip headings, tables of contents, page headers and footers, and boilerplate.",
		`Return ONLY JSON of the form {"items": [...]}. Return {"items": []} if the pages contain no requirements.`,
	}
	return strings.Join(parts, " ")
}

// BuildUserPrompt names the pages in scope and, when given, inlines page texts.
func BuildUserPrompt(req Request) string {
	var b strings.Builder
	b.WriteString("Document: ")
	b.WriteString(req.DocumentID.String())
	b.WriteString("\nPages in scope: ")
	b.WriteString(joinInts(req.PageNumbers))
	b.WriteString("\nOnly extract requirements that start on the pages in scope.")
	if hint := strings.TrimSpace(req.LanguageHint); hint != "" {
		b.WriteString("\nDocument language: ")
		b.WriteString(hint)
		b.WriteString(". Keep the requirement text in the original language.")
	}
	for _, pt := range req.Content.Texts {
		fmt.Fprintf(&b, "\n\n--- Page %d ---\n", pt.Page)
		b.WriteString(pt.Text)
	}
	return b.String()
}

func joinInts(nums []int) string {
	s := make([]string, len(nums))
	for i, n := range nums {
		s[i] = strconv.Itoa(n)
	}
	return strings.Join(s, ", ")
}
