package conversation

import (
	"regexp"
	"strings"
)

// OutputGuardResult contains the result of scanning an outbound AI reply.
type OutputGuardResult struct {
	// Leaked is true if the reply contains text that must not reach a patient.
	Leaked bool
	// Reasons lists the detection signals that fired.
	Reasons []string
	// Sanitized is the cleaned reply, or empty if it must be blocked.
	Sanitized string
}

type outputLeakPattern struct {
	re     *regexp.Regexp
	reason string
	block  bool // if false the reply can be sanitized instead of blocked
}

var outputLeakPatterns = []outputLeakPattern{
	{regexp.MustCompile(`(?i)my (system\s+)?prompt\s+(is|says|tells|instructs)`), "leak:system_prompt_disclosure", true},
	{regexp.MustCompile(`(?i)my instructions?\s+(are|say|tell|include|require)`), "leak:instructions_disclosure", true},
	{regexp.MustCompile(`(?i)i('m| am) (programmed|instructed|told|designed|configured) to`), "leak:programming_disclosure", true},

	{regexp.MustCompile(`(?i)i('m| am) (a|an) (AI|artificial intelligence|language model|LLM|chatbot|chat bot)\b`), "leak:ai_identity", false},
	{regexp.MustCompile(`(?i)(powered by|built on|running on)\s+(Claude|GPT|OpenAI|Anthropic|Bedrock|Gemini)`), "leak:tech_stack", true},

	{regexp.MustCompile(`(?i)(api[_\s]?key|secret[_\s]?key|access[_\s]?token|auth[_\s]?token)\s*[:=]\s*\S+`), "leak:credential", true},
	{regexp.MustCompile(`(?i)AKIA[A-Z0-9]{16}`), "leak:aws_key", true},
	{regexp.MustCompile(`(?i)(postgres|redis)://\S+`), "leak:database_url", true},
	{regexp.MustCompile(`(?i)/admin/|/webhooks/`), "leak:internal_path", true},

	{regexp.MustCompile(`(?i)other patient'?s?\s+(name|phone|email|appointment|record)`), "leak:other_patient_ref", true},
}

var aiIdentitySentence = regexp.MustCompile(`(?i)[^.!?]*\bi('m| am) (a|an) (AI|artificial intelligence|language model|LLM|chatbot|chat bot)\b[^.!?]*[.!?]?\s*`)

// ScanOutputForLeaks checks an outbound AI reply before it is texted to a patient.
func ScanOutputForLeaks(reply string) OutputGuardResult {
	if strings.TrimSpace(reply) == "" {
		return OutputGuardResult{Sanitized: reply}
	}

	var reasons []string
	shouldBlock := false
	for _, p := range outputLeakPatterns {
		if p.re.MatchString(reply) {
			reasons = append(reasons, p.reason)
			if p.block {
				shouldBlock = true
			}
		}
	}
	if len(reasons) == 0 {
		return OutputGuardResult{Sanitized: reply}
	}

	result := OutputGuardResult{Leaked: true, Reasons: reasons}
	if !shouldBlock {
		result.Sanitized = strings.TrimSpace(aiIdentitySentence.ReplaceAllString(reply, ""))
	}
	return result
}

// placeholderPattern matches template markers such as [Your Name], {clinic} or <name>.
var placeholderPattern = regexp.MustCompile(`\[[^\]\n]{1,40}\]|\{[^}\n]{1,40}\}|<[^>\n]{1,40}>`)

// ContainsPlaceholder reports whether a drafted message still has unfilled template text.
func ContainsPlaceholder(text string) bool {
	return placeholderPattern.MatchString(text)
}
