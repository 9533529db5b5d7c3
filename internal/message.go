package internal

// Message is a single validation finding attributed to the rule that produced it.
// An empty Text means "nothing to report" and clears any previous finding.
type Message struct {
	Property string `json:"property"`
	Text     string `json:"text"`
	RuleKey  string `json:"ruleKey,omitempty"`
}

// replaceMessages swaps every message owned by ruleKey for the given
// replacements, keeping the relative order of other rules' messages.
func replaceMessages(messages []Message, ruleKey string, replacements []Message) []Message {
	out := messages[:0:0]
	for _, m := range messages {
		if m.RuleKey != ruleKey {
			out = append(out, m)
		}
	}

	for _, m := range replacements {
		if m.Text == "" {
			continue // empty text clears
		}
		m.RuleKey = ruleKey
		out = append(out, m)
	}

	return out
}
