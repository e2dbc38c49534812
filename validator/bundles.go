package validator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/choreoflow/choreoctl/definition"
)

// Loader resolves an af_imports/skill_imports URI to its raw bytes. The
// default, FileLoader, accepts only file:// and relative-path URIs (spec
// §4.5 phase 3: "only file:// or relative paths allowed").
type Loader interface {
	Load(ctx context.Context, uri, baseDir string) ([]byte, error)
}

// FileLoader reads af_imports/skill_imports bundles from the local
// filesystem, resolving relative paths against the base dir supplied per
// call (imports_base_dir / skills_base_dir in the original tool).
type FileLoader struct{}

var _ Loader = FileLoader{}

func (FileLoader) Load(ctx context.Context, uri, baseDir string) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	if uri == "" {
		return nil, fmt.Errorf("missing uri")
	}
	path := uri
	if parsed, err := url.Parse(uri); err == nil && parsed.Scheme != "" {
		if parsed.Scheme != "file" {
			return nil, fmt.Errorf("only file paths/file:// URIs are allowed, got %q", uri)
		}
		path = parsed.Path
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(baseDir, path)
	}
	return os.ReadFile(path)
}

type afAgent struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type afTool struct {
	Name string `json:"name"`
}

type afBundle struct {
	Agents []afAgent `json:"agents"`
	Tools  []afTool  `json:"tools"`
}

// loadAFImports runs spec §4.5 phase 3: load every af_imports[*].uri, index
// every agent by id and by name. Returns the per-import report rows plus
// the combined agent-name/id index used by reference resolution.
func loadAFImports(ctx context.Context, loader Loader, imports []definition.AFImport, baseDir string) ([]ImportResult, map[string]bool) {
	results := make([]ImportResult, 0, len(imports))
	agents := map[string]bool{}

	for _, imp := range imports {
		rec := ImportResult{URI: imp.URI, Status: "ok"}
		raw, err := loader.Load(ctx, imp.URI, baseDir)
		if err != nil {
			rec.Status = "error"
			rec.Error = err.Error()
			results = append(results, rec)
			continue
		}
		var bundle afBundle
		if err := json.Unmarshal(raw, &bundle); err != nil {
			rec.Status = "error"
			rec.Error = fmt.Sprintf("invalid af bundle JSON: %v", err)
			results = append(results, rec)
			continue
		}
		for _, a := range bundle.Agents {
			if a.ID != "" {
				agents[a.ID] = true
			}
			if a.Name != "" {
				agents[a.Name] = true
			}
		}
		rec.Agents = len(bundle.Agents)
		rec.Tools = len(bundle.Tools)
		results = append(results, rec)
	}
	return results, agents
}

type skillManifest struct {
	ManifestID     string `json:"manifestId"`
	SkillPackageID string `json:"skillPackageId"`
	SkillName      string `json:"skillName"`
	SkillVersion   string `json:"skillVersion"`
}

// loadSkillImports runs spec §4.5 phase 4: load every skill_imports[*].uri,
// accepting either a single manifest object or {"skills": [...]}, and index
// each manifest under every alias the resolution phase may look it up by.
func loadSkillImports(ctx context.Context, loader Loader, imports []definition.SkillImport, baseDir string) ([]ImportResult, map[string]skillManifest) {
	results := make([]ImportResult, 0, len(imports))
	index := map[string]skillManifest{}

	for _, imp := range imports {
		rec := ImportResult{URI: imp.URI, Status: "ok"}
		raw, err := loader.Load(ctx, imp.URI, baseDir)
		if err != nil {
			rec.Status = "error"
			rec.Error = err.Error()
			results = append(results, rec)
			continue
		}

		var probe map[string]json.RawMessage
		if err := json.Unmarshal(raw, &probe); err != nil {
			rec.Status = "error"
			rec.Error = fmt.Sprintf("invalid skill manifest JSON: %v", err)
			results = append(results, rec)
			continue
		}

		var manifests []skillManifest
		if rawSkills, ok := probe["skills"]; ok {
			if err := json.Unmarshal(rawSkills, &manifests); err != nil {
				rec.Status = "error"
				rec.Error = fmt.Sprintf("invalid skills array: %v", err)
				results = append(results, rec)
				continue
			}
		} else {
			var single skillManifest
			if err := json.Unmarshal(raw, &single); err != nil {
				rec.Status = "error"
				rec.Error = fmt.Sprintf("invalid skill manifest JSON: %v", err)
				results = append(results, rec)
				continue
			}
			manifests = []skillManifest{single}
		}

		for _, m := range manifests {
			indexSkill(index, m)
		}
		rec.Skills = len(manifests)
		results = append(results, rec)
	}
	return results, index
}

// indexSkill registers m under every key a Task state's AgentBinding.skills
// entry might name it by (spec §4.5 phase 4). setdefault semantics: the
// first import to claim a key wins, matching the original tool.
func indexSkill(index map[string]skillManifest, m skillManifest) {
	setdefault := func(key string) {
		if key == "" {
			return
		}
		if _, exists := index[key]; !exists {
			index[key] = m
		}
	}
	setdefault(m.ManifestID)
	setdefault(m.SkillPackageID)
	name := strings.ToLower(strings.TrimSpace(m.SkillName))
	ver := strings.TrimSpace(m.SkillVersion)
	if m.SkillPackageID != "" && ver != "" {
		setdefault(fmt.Sprintf("skill://%s@%s", m.SkillPackageID, ver))
	}
	if name != "" && ver != "" {
		setdefault(fmt.Sprintf("%s@%s", name, ver))
		setdefault(fmt.Sprintf("skill://%s@%s", name, ver))
	}
}

// lookupSkill tries the forms spec §4.5 phase 5 names in order: exact,
// lowercased-name@version, and the skill:// alias.
func lookupSkill(index map[string]skillManifest, ref string) (skillManifest, bool) {
	if m, ok := index[ref]; ok {
		return m, true
	}
	if strings.Contains(ref, "@") && !strings.HasPrefix(strings.ToLower(ref), "skill://") {
		name, ver, _ := strings.Cut(ref, "@")
		if m, ok := index[strings.ToLower(name)+"@"+ver]; ok {
			return m, true
		}
	}
	if m, ok := index[strings.ToLower(ref)]; ok {
		return m, true
	}
	return skillManifest{}, false
}
