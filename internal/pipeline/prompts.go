package pipeline

import (
	"fmt"
	"strings"
	"time"

	"loopcast/internal/core"
	"loopcast/internal/registry"
)

// brandName is spoken in the fixed opening and sign-off templates.
const brandName = "LoopCast"

func verifyPrompt(item core.PendingItem, c *core.Cluster) string {
	return fmt.Sprintf(
		"Do these two news items report the same event or topic?\n\n"+
			"Item A:\nTitle: %s\nSummary: %s\n\n"+
			"Item B:\nTitle: %s\nSummary: %s\n\n"+
			"Same event means the same concrete event, product, or development, "+
			"not merely the same field.\nAnswer only YES or NO.",
		item.Title, item.Description, c.MainItem.Title, c.Summary())
}

func mergePrompt(c *core.Cluster, item core.PendingItem) string {
	return fmt.Sprintf(
		"Role: senior intelligence analyst.\n\n"+
			"Task: merge the following multi-source information into one authoritative briefing item.\n\n"+
			"Adapt the approach to the content:\n"+
			"- Hard news and finance: accuracy first. Keep every figure, date, person, and company name.\n"+
			"- Opinion and features: capture the core argument and distill the strongest quote.\n"+
			"- Low-quality fragments: restructure into clean, standard news prose and fix every error.\n\n"+
			"Existing item:\nTitle: %s\nSummary: %s\n\n"+
			"New item:\nTitle: %s\nSummary: %s\n\n"+
			"Requirements:\n1. Maximum information density, no filler.\n"+
			"2. Output JSON: {\"title\": \"merged title\", \"summary\": \"merged summary\"}",
		c.MainItem.Title, c.Summary(), item.Title, item.Description)
}

func reviewSummaryPrompt(title, summary string) string {
	return fmt.Sprintf(
		"Role: executive editor.\n\n"+
			"Task: strictly review this news summary.\n\n"+
			"Title: %s\nSummary: %s\n\n"+
			"Criteria:\n"+
			"1. Hook: does the first sentence pull the reader in?\n"+
			"2. Clarity: no grammatical errors, typos, or ambiguity.\n"+
			"3. Detail: key figures and entity names preserved, not over-generalized.\n"+
			"4. Proofreading: any typo or broken sentence fails the review.\n\n"+
			"Output JSON only:\n"+
			"{ \"pass\": true, \"critique\": \"fine\" }\n"+
			"or\n"+
			"{ \"pass\": false, \"critique\": \"what exactly is wrong...\" }",
		title, summary)
}

func updateCheckPrompt(c *core.Cluster, summary string, prev *registry.TopicRecord) string {
	prevContent := "Title: " + prev.Title
	if prev.Summary != "" {
		prevContent += "\nSummary: " + prev.Summary
	}
	return fmt.Sprintf(
		"Role: breaking news desk.\n"+
			"Decide whether the new material is a substantial update.\n\n"+
			"Previously covered:\n%s\n\n"+
			"New lead:\nTitle: %s\nSummary: %s\n\n"+
			"Criteria:\n"+
			"- NO: repeated information, restated opinions, cosmetic detail.\n"+
			"- YES: new figures, official responses, the story entering a new phase, a reversal.\n\n"+
			"Output JSON only:\n"+
			"{\n  \"has_update\": true or false,\n"+
			"  \"update_summary\": \"if updated, a tight follow-up focused on the NEW information only\"\n}",
		prevContent, c.MainItem.Title, summary)
}

func planPrompt(items []BroadcastItem) string {
	var list strings.Builder
	for _, it := range items {
		preview := []rune(it.Summary)
		if len(preview) > 80 {
			preview = preview[:80]
		}
		fmt.Fprintf(&list, "ID %d: \"%s\"\n   summary length: %d runes\n   preview: %s...\n\n",
			it.ID, it.Title, len([]rune(it.Summary)), string(preview))
	}
	return fmt.Sprintf(
		"Role: showrunner.\n\n"+
			"Task: plan this episode by sorting AND grouping the stories.\n\n"+
			"Stories:\n%s\n"+
			"Principles:\n"+
			"1. Strongest story opens the first group.\n"+
			"2. Related topics share a group.\n"+
			"3. Size groups by depth: short briefs 4-5 per group, ordinary stories 2-4, "+
			"long reads 1-2 or alone.\n"+
			"4. Alternate hard and soft news for rhythm.\n"+
			"5. End on a light kicker.\n\n"+
			"Output ONLY a JSON 2D array of the grouped IDs, e.g. [[3,1,4], [2], [5,6,7]].",
		list.String())
}

func compressPrompt(summary string) string {
	return fmt.Sprintf(
		"Condense this news summary to at most %d characters. "+
			"You must keep every person, company, figure, and date:\n\n%s\n\n"+
			"Output only the condensed summary:",
		maxSummaryRunes, summary)
}

func titlePrompt(items []BroadcastItem, category string) string {
	var titles strings.Builder
	for i, it := range items {
		if i >= 5 {
			break
		}
		fmt.Fprintf(&titles, "- %s\n", it.Title)
	}
	return fmt.Sprintf(
		"Pick the 2-3 most important events from these stories and write a concise episode title.\n\n"+
			"Channel: %s\nToday's stories:\n%s\n"+
			"Rules:\n"+
			"1. Keep it short; separate multiple events with \" / \".\n"+
			"2. No generic titles like \"Daily Roundup\" or \"News Summary\".\n"+
			"3. No sensational words like \"shocking\" or \"bombshell\".\n\n"+
			"Output JSON: { \"title\": \"your title\" }",
		category, titles.String())
}

func segmentPrompt(category, hostName string, items []BroadcastItem, prevContext, greeting string, isFirst, isLast bool, now time.Time) string {
	var content strings.Builder
	for _, it := range items {
		fmt.Fprintf(&content, "- \"%s\"\n  Summary: %s\n  Source: %s\n\n", it.Title, it.Summary, it.SourceName)
	}

	opening := fmt.Sprintf("Hello and welcome to the %s %s channel, I'm %s. Today is %s.",
		brandName, category, hostName, now.Format("Monday, January 2, 2006"))
	if greeting != "" {
		opening += " " + greeting
	}
	closing := fmt.Sprintf("That's all for this edition of the %s %s channel. Thanks for listening, I'm %s. See you next time.",
		brandName, category, hostName)

	var instruction string
	if isFirst {
		instruction = fmt.Sprintf(
			"This is the opening segment. Start with this fixed opening, word for word:\n\"%s\"\n"+
				"Then lead naturally into the first story.\n"+
				"Do not invent weather or anything else not provided.", opening)
	} else {
		instruction = "This is a middle segment. Pick up smoothly from the previous one and continue with this segment's stories."
	}

	var closingInstruction string
	if isLast {
		closingInstruction = fmt.Sprintf("After the last story, close with this fixed sign-off:\n\"%s\"", closing)
	} else {
		closingInstruction = "After this segment's stories, bridge to the next with one short transition " +
			"(e.g. \"more stories coming up\"). No cliffhangers, no hype."
	}

	return fmt.Sprintf(
		"Role: %s news anchor.\n"+
			"Channel: %s\n"+
			"Persona: %s (professional, objective, warm; clear and accurate delivery comes first).\n\n"+
			"Current task:\n"+
			"Pick up from the previous line (\"%s\") and read this segment's stories.\n"+
			"1. %s\n"+
			"2. %s\n\n"+
			"Stories:\n%s\n"+
			"Requirements:\n"+
			"1. Information first: keep every name, figure, date, and place. No vagueness.\n"+
			"2. Objective delivery: state facts only; at most one aside or exclamation per segment.\n"+
			"3. One-sentence transitions between stories.\n"+
			"4. Never repeat material already covered in the previous segment.\n"+
			"5. Flexible length: briefs can be short, complex stories need room.\n"+
			"6. Proofread: no typos, no broken sentences.\n"+
			"7. Output the spoken script directly, no markdown.\n"+
			"8. Never read out source citations like \"(Source: X)\"; fold attribution into the "+
			"sentence (\"according to X\") if needed.",
		brandName, category, hostName, prevContext, instruction, closingInstruction, content.String())
}

func reviewSegmentPrompt(draft, prevContext string) string {
	return fmt.Sprintf(
		"Role: senior audio producer and proofreader. Task: quality control.\n\n"+
			"Previous segment ended with: \"%s\"\n"+
			"Draft: \"%s\"\n\n"+
			"Fail the draft if it violates any of:\n"+
			"1. Flow: reads smoothly with natural hand-offs.\n"+
			"2. Persona: sounds like a professional anchor, not a machine.\n"+
			"3. Proofreading: any typo, broken sentence, or dropped word fails.\n"+
			"4. Completeness: every story's key figures and names survive.\n"+
			"5. Subjectivity: more than one aside or exclamation fails.\n"+
			"6. Repetition: restating the previous segment fails.\n"+
			"7. Entity fidelity: names must match the source material exactly.\n"+
			"8. Transitions: clumsy segues fail.\n\n"+
			"Output JSON only:\n"+
			"{ \"pass\": true, \"critique\": \"pass\" }\n"+
			"or\n"+
			"{ \"pass\": false, \"critique\": \"specific problems...\" }",
		prevContext, draft)
}

func simplePrompt(category, hostName, sourceText, greeting string, isRegen bool, now time.Time) string {
	var mode string
	if isRegen {
		mode = "Note: this is a REGENERATION request. Focus on improving the specific stories provided and keep every meaningful detail."
	} else {
		mode = "Note: this is a set of news summaries. Weave them into one coherent briefing, " +
			"reading the stories one by one with natural transitions. Do not merge unrelated facts."
	}
	return fmt.Sprintf(
		"Role: news anchor (%s). Task: write a broadcast script.\n"+
			"Time: %s\n"+
			"Holiday note: %s\n"+
			"Channel: %s\n"+
			"%s\n\n"+
			"Core rules:\n"+
			"1. Structure: standard opening, stories one by one, standard sign-off.\n"+
			"2. Opening must naturally include \"welcome to the %s %s channel\" and \"I'm %s\".\n"+
			"3. Sign-off must include \"I'm %s, reporting for %s\" or a similar brand-reinforcing close.\n"+
			"4. Keep every name, figure, date, place, and quote from the source material.\n"+
			"5. Use natural transitions between stories.\n"+
			"6. Professional and objective, but conversational.\n"+
			"7. Never invent information that was not provided.\n"+
			"8. Plain text only, no markdown.\n"+
			"9. The FIRST line must be a title in exactly this form: `TITLE: key events`.\n"+
			"   - Generic titles (\"Daily News Roundup\") are forbidden.\n"+
			"   - The title must name the concrete events, e.g. `TITLE: Apple posts record revenue / new Windows release`.\n"+
			"   - The script body starts on the second line.\n\n"+
			"Source material:\n%s\n\n"+
			"Now output the full script (first line must be the TITLE).",
		hostName, now.Format("January 2, 2006, 15:00"), greeting, category, mode,
		brandName, category, hostName, hostName, brandName, sourceText)
}
