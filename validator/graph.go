package validator

import (
	"fmt"

	"github.com/choreoflow/choreoctl/definition"
)

// checkGraph runs spec §4.5 phase 6 over the ASL state machine. Unlike
// definition.Workflow.DeriveGraph (which aborts on the first problem with a
// wrapped error, for callers that already trust a bootstrapped definition),
// checkGraph collects every problem into a Graph report so the validator can
// surface all of them at once before bootstrap ever runs.
func checkGraph(asl definition.ASL) Graph {
	g := Graph{TerminalStatesOK: true}

	if asl.StartAt == "" || asl.States[asl.StartAt] == nil {
		g.StartExists = false
		if asl.StartAt == "" {
			g.MissingStates = []string{"<missing StartAt>"}
		} else {
			g.MissingStates = []string{asl.StartAt}
		}
		return g
	}
	g.StartExists = true

	referenced := map[string]bool{}
	for name, st := range asl.States {
		if st == nil {
			continue
		}

		if st.Next != "" {
			if _, ok := asl.States[st.Next]; !ok {
				g.InvalidTransitions = append(g.InvalidTransitions, InvalidTransition{State: name, To: st.Next})
			} else {
				referenced[st.Next] = true
			}
		}

		if st.Type == definition.StateTypeChoice {
			for _, ch := range st.Choices {
				if ch.Next == "" {
					continue
				}
				if _, ok := asl.States[ch.Next]; !ok {
					g.InvalidTransitions = append(g.InvalidTransitions, InvalidTransition{State: name, To: ch.Next})
				} else {
					referenced[ch.Next] = true
				}
			}
			if st.Default != "" {
				if _, ok := asl.States[st.Default]; !ok {
					g.InvalidTransitions = append(g.InvalidTransitions, InvalidTransition{State: name, To: st.Default})
				} else {
					referenced[st.Default] = true
				}
			}
		}

		if st.Type == definition.StateTypeParallel {
			for i, br := range st.Branches {
				if _, ok := br.States[br.StartAt]; !ok {
					g.InvalidTransitions = append(g.InvalidTransitions, InvalidTransition{
						State: name, To: fmt.Sprintf("branch[%d].StartAt", i),
					})
				}
			}
		}

		if st.Type == definition.StateTypeMap && st.Iterator != nil {
			if _, ok := st.Iterator.States[st.Iterator.StartAt]; !ok {
				g.InvalidTransitions = append(g.InvalidTransitions, InvalidTransition{State: name, To: "Iterator.StartAt"})
			}
		}

		if st.End && st.Next != "" {
			g.TerminalStatesOK = false
		}
	}

	for name := range asl.States {
		if name == asl.StartAt || referenced[name] {
			continue
		}
		g.UnreachableStates = append(g.UnreachableStates, name)
	}

	return g
}

// hardGraphError reports whether graph carries one of the harder failures
// that abort with exit 3 (missing StartAt, invalid transitions, terminal
// conflict) as opposed to the reachability warnings, which never abort.
func hardGraphError(g Graph) bool {
	return !g.StartExists || len(g.InvalidTransitions) > 0 || !g.TerminalStatesOK
}
