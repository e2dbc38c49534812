package bootstrap

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/choreoflow/choreoctl/definition"
	"github.com/choreoflow/choreoctl/validator"
)

// AFBundleSet indexes every agent template loaded from af_imports[*] by both
// id and name, the same dual-key scheme validator.loadAFImports uses for its
// lighter-weight membership check. Bootstrap needs the full template (system
// prompt, memory blocks, tools), not just membership, so it keeps its own
// index rather than reusing validator's unexported afBundle type; it does
// reuse validator.Loader/validator.FileLoader for the byte-fetching part.
type AFBundleSet map[string]*definition.AgentTemplate

// LoadAFBundles fetches every af_imports[*].uri via loader (defaulting to
// validator.FileLoader{}) and indexes its agent templates by id and by name,
// first-import-wins on key collision, matching the original tool's
// setdefault semantics for bundle precedence.
func LoadAFBundles(ctx context.Context, loader validator.Loader, imports []definition.AFImport, baseDir string) (AFBundleSet, error) {
	if loader == nil {
		loader = validator.FileLoader{}
	}
	set := AFBundleSet{}
	for _, imp := range imports {
		raw, err := loader.Load(ctx, imp.URI, baseDir)
		if err != nil {
			return nil, fmt.Errorf("load af import %q: %w", imp.URI, err)
		}
		var bundle struct {
			Agents []definition.AgentTemplate `json:"agents"`
		}
		if err := json.Unmarshal(raw, &bundle); err != nil {
			return nil, fmt.Errorf("decode af bundle %q: %w", imp.URI, err)
		}
		for i := range bundle.Agents {
			tmpl := &bundle.Agents[i]
			if tmpl.ID != "" {
				if _, exists := set[tmpl.ID]; !exists {
					set[tmpl.ID] = tmpl
				}
			}
			if tmpl.Name != "" {
				if _, exists := set[tmpl.Name]; !exists {
					set[tmpl.Name] = tmpl
				}
			}
		}
	}
	return set, nil
}

// resolveTemplate implements spec §4.3 step 2's precedence order: embedded
// af_v2_entities.agents (matched by id or name), then imported .af bundles,
// then the inline workflow.agents[*] fallback (matched by name only, since
// the original tool's inline fallback has no id field). The first match
// wins; nothing matching at any tier is an abort.
func resolveTemplate(ab *definition.AgentBinding, embedded []definition.AgentTemplate, bundles AFBundleSet, fallback []definition.AgentTemplate) (*definition.AgentTemplate, error) {
	ref := ab.AgentTemplateRef
	if ref == nil {
		ref = ab.AgentRef
	}
	if ref == nil || (ref.ID == "" && ref.Name == "") {
		return nil, fmt.Errorf("AgentBinding has no agent_template_ref/agent_ref")
	}

	if tmpl := matchByIDOrName(embedded, ref.ID, ref.Name); tmpl != nil {
		return tmpl, nil
	}

	if ref.ID != "" {
		if tmpl, ok := bundles[ref.ID]; ok {
			return tmpl, nil
		}
	}
	if ref.Name != "" {
		if tmpl, ok := bundles[ref.Name]; ok {
			return tmpl, nil
		}
	}

	if tmpl := matchByName(fallback, ref.Name); tmpl != nil {
		return tmpl, nil
	}

	return nil, fmt.Errorf("no agent template resolves for id=%q name=%q", ref.ID, ref.Name)
}

func matchByIDOrName(templates []definition.AgentTemplate, id, name string) *definition.AgentTemplate {
	for i := range templates {
		t := &templates[i]
		if id != "" && t.ID == id {
			return t
		}
		if name != "" && t.Name == name {
			return t
		}
	}
	return nil
}

func matchByName(templates []definition.AgentTemplate, name string) *definition.AgentTemplate {
	if name == "" {
		return nil
	}
	for i := range templates {
		if templates[i].Name == name {
			return &templates[i]
		}
	}
	return nil
}
