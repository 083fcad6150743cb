package roles

import "fmt"

// Fixed role prompts and injected control notices. These are policy, not
// configuration: the loop's behavior depends on their exact wording only
// through the structured tags the critic is told to emit.

const writerSystemPrompt = `You are a smart research assistant.
Your goal is to research the user's topic using the web search and page visit tools.
1. Use ` + "`search_web`" + ` to find relevant pages.
2. Use ` + "`visit_page`" + ` to read detailed content from promising URLs.
3. Synthesize the information into a comprehensive Markdown report.
4. When finished, output the final report in Markdown format with a clear title, headings, and bullet points.`

const criticSystemPrompt = `You are a strict critic. You must review the report drafted by the Writer.

**Workflow:**
1. **Verification phase:**
   - First check any claims in the draft (new models, recent events, concrete numbers).
   - If anything is uncertain or unverified, you MUST use the ` + "`search_web`" + ` or ` + "`visit_page`" + ` tools to verify it.
   - During this phase, do not output the final scoring XML; just call the tools.

2. **Review phase:**
   - Once verification is complete, evaluate the draft against your findings.
   - Only AFTER verification is done, output the final score and advice.

Do not rely on internal training data alone to judge recent information.

The Writer's draft will be provided to you.

**Final output format (use after verification is complete):**
Your reply must use the following XML format:

<advice>
[Your constructive criticism and concrete revision suggestions. If the draft is perfect, say "No changes needed".]
</advice>

<score>
[An integer from 0 to 10. 10 means perfect.]
</score>

Criteria for a high score (8-10):
- No hallucinations (facts are verified).
- Comprehensive coverage of the user's request.
- Clear structure and correct Markdown formatting.`

const (
	// writerBudgetNotice forces final output once the writer's tool budget
	// is spent. The generation call that follows it carries no tool
	// descriptors, so a further tool request is structurally impossible.
	writerBudgetNotice = "System notice: the tool-call limit has been reached. Stop searching and produce the final report from the information you already have."

	// criticBudgetNotice is the critic's equivalent.
	criticBudgetNotice = "System notice: the tool-call limit has been reached. Stop searching and give your score and advice now."

	// correctiveNotice is injected when raw tool-call protocol leaks into
	// text output instead of a structured call.
	correctiveNotice = "System warning: your last output contained invalid raw tool-call syntax, which cannot be executed. Stop writing the report and reissue the call using the proper tool-calling format."

	// sanitizedToolResult replaces a tool result that tripped the
	// provider's content-safety filter.
	sanitizedToolResult = "System notice: the tool result contained sensitive content and was filtered. Try a different search query, or ignore this result."

	// criticResetNotice tells the critic a fresh verification budget is
	// available at the start of a new iteration.
	criticResetNotice = "Note: the tool-use counter has been reset to 0. You may continue verifying facts."
)

// reviewPrompt wraps the current draft for the critic. Injected once per
// iteration, guarded by an exact-match idempotence check.
func reviewPrompt(draft string) string {
	return "Here is the Writer's latest draft, please review it:\n\n" + draft + "\n\nBegin your review and verify the facts."
}

// feedbackPrompt embeds the critic's advice and prior score for the writer.
func feedbackPrompt(score int, advice string) string {
	return fmt.Sprintf("Critic feedback (score: %d): %s", score, advice)
}
