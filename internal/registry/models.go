package registry

import (
	"strings"

	"github.com/nulpointcorp/provider-gateway/internal/identity"
)

// openAICompatModels maps canonical model families to reasonable
// chat-completion equivalents for openai-compatible backends. Keys are
// matched by prefix against the canonical model name so dated variants
// resolve without an exhaustive list.
var openAICompatModels = map[string]string{
	"claude-3-haiku":    "gpt-4o-mini",
	"claude-3-5-haiku":  "gpt-4o-mini",
	"claude-haiku-4":    "gpt-4o-mini",
	"claude-3-5-sonnet": "gpt-4o",
	"claude-3-7-sonnet": "gpt-4o",
	"claude-sonnet-4":   "gpt-4o",
	"claude-3-opus":     "gpt-4-turbo",
	"claude-opus-4":     "gpt-4-turbo",
}

// ModelFor resolves the canonical model name to the provider-native name
// for the identity. A miss never errors: uncurated provider catalogs make
// a best-effort fall-through to the identity's default model the safer
// policy.
func ModelFor(ident *identity.Identity, canonicalModel string) string {
	switch ident.Kind {
	case identity.KindNativeBearer:
		// The backend speaks the canonical protocol; names pass through.
		if canonicalModel != "" {
			return canonicalModel
		}

	case identity.KindOpenAICompat, identity.KindLocalInference:
		if m := lookupPrefix(openAICompatModels, canonicalModel); m != "" && ident.Kind == identity.KindOpenAICompat {
			return m
		}
		if inCatalog(ident.ModelCatalog, canonicalModel) {
			return canonicalModel
		}
	}

	return ident.DefaultModel
}

func lookupPrefix(table map[string]string, model string) string {
	model = strings.ToLower(model)
	best, bestLen := "", 0
	for prefix, mapped := range table {
		if strings.HasPrefix(model, prefix) && len(prefix) > bestLen {
			best, bestLen = mapped, len(prefix)
		}
	}
	return best
}

func inCatalog(catalog []string, model string) bool {
	for _, m := range catalog {
		if m == model {
			return true
		}
	}
	return false
}
