package normalizer

import (
	"fmt"
	"strings"

	"github.com/go-enry/go-enry/v2"
)

// Registry selects a language profile by declared tag, falling back to
// content-based detection when the tag is missing or unknown.
type Registry struct {
	profiles map[string]LanguageProfile
	aliases  map[string]string
}

func NewRegistry() *Registry {
	r := &Registry{
		profiles: make(map[string]LanguageProfile),
		aliases: map[string]string{
			"py":      "python",
			"python3": "python",
			"js":      "javascript",
			"node":    "javascript",
			"c++":     "cpp",
			"golang":  "go",
		},
	}

	for _, p := range []LanguageProfile{
		newPythonProfile(),
		newJavaProfile(),
		newCProfile(),
		newCppProfile(),
		newJavaScriptProfile(),
		newGoProfile(),
	} {
		r.profiles[p.Name()] = p
	}
	return r
}

func (r *Registry) Register(p LanguageProfile) {
	r.profiles[p.Name()] = p
}

func (r *Registry) Languages() []string {
	out := make([]string, 0, len(r.profiles))
	for name := range r.profiles {
		out = append(out, name)
	}
	return out
}

// Resolve returns the profile for the declared tag, or detects the language
// from the source when the tag does not match any profile.
func (r *Registry) Resolve(tag, source string) (LanguageProfile, error) {
	normalized := strings.ToLower(strings.TrimSpace(tag))
	if alias, ok := r.aliases[normalized]; ok {
		normalized = alias
	}
	if p, ok := r.profiles[normalized]; ok {
		return p, nil
	}

	detected := enry.GetLanguage("submission", []byte(source))
	if p, ok := r.profiles[r.canonicalName(detected)]; ok {
		return p, nil
	}

	return nil, fmt.Errorf("unsupported language %q (detected %q)", tag, detected)
}

func (r *Registry) canonicalName(enryName string) string {
	name := strings.ToLower(enryName)
	if alias, ok := r.aliases[name]; ok {
		return alias
	}
	return name
}
