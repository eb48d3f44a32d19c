package retrieval

import "strings"

// Expander rewrites queries before embedding so acronym-heavy questions
// still land near the prose in the index.
type Expander struct {
	acronyms map[string]string
}

func NewExpander(acronyms map[string]string) *Expander {
	if acronyms == nil {
		acronyms = DefaultAcronyms()
	}
	return &Expander{acronyms: acronyms}
}

// DefaultAcronyms covers the workplace vocabulary tenant documents use most.
func DefaultAcronyms() map[string]string {
	return map[string]string{
		"hr":   "human resources",
		"pto":  "paid time off",
		"faq":  "frequently asked questions",
		"sla":  "service level agreement",
		"kpi":  "key performance indicator",
		"okr":  "objectives and key results",
		"nda":  "non-disclosure agreement",
		"sop":  "standard operating procedure",
		"it":   "information technology",
		"ceo":  "chief executive officer",
		"roi":  "return on investment",
		"eod":  "end of day",
		"wfh":  "work from home",
	}
}

// Expand appends the long form after each known acronym. The original token
// stays in place so exact matches keep their weight.
func (e *Expander) Expand(query string) string {
	words := strings.Fields(query)
	out := make([]string, 0, len(words))
	for _, w := range words {
		out = append(out, w)
		key := strings.ToLower(strings.Trim(w, ".,!?;:\"'()"))
		if full, ok := e.acronyms[key]; ok {
			out = append(out, "("+full+")")
		}
	}
	return strings.Join(out, " ")
}
