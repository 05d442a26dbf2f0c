package hls

import "strings"

// Rewrite walks playlist line by line, classifying each one,
// advancing a fresh State, and applying the ordered Rules set. Output
// line count and order always equal the input's (invariant 1); a line
// no rule transforms is emitted verbatim.
func Rewrite(playlist string, ctx RewriteContext) (string, error) {
	lines := SplitLines(playlist)
	out := make([]string, len(lines))

	st := NewState()

	for i, raw := range lines {
		line := ClassifyLine(raw)

		// Tags observe state transitions before rules run, so a rule
		// reacting to the tag itself (e.g. KeyRewriteRule) sees the
		// context the tag establishes, not the context before it.
		st.Observe(line)

		var consumption *uriConsumption
		if line.Kind == Uri {
			role, seg := st.ConsumeUri()
			consumption = &uriConsumption{role: role, seg: seg}
		}

		rewritten, matched, err := applyRules(&line, consumption, ctx)
		if err != nil {
			return "", err
		}
		if matched {
			out[i] = rewritten
		} else {
			out[i] = line.String()
		}
	}

	return strings.Join(out, "\n"), nil
}

func applyRules(line *Line, uri *uriConsumption, ctx RewriteContext) (string, bool, error) {
	for _, rule := range Rules {
		rewritten, ok, err := rule.Apply(line, uri, ctx)
		if err != nil {
			return "", false, err
		}
		if ok {
			return rewritten, true, nil
		}
	}
	return "", false, nil
}
