package translate

import log "github.com/sirupsen/logrus"

// modelAliases maps every name a client might send to the upstream Kiro
// model it should actually hit.
var modelAliases = map[string]string{
	"gpt-4o":          "claude-sonnet-4",
	"gpt-4":           "claude-sonnet-4",
	"sonnet":          "claude-sonnet-4",
	"gemini-1.5-pro":  "claude-sonnet-4.5",
	"gpt-4o-mini":     "claude-haiku-4.5",
	"gpt-3.5-turbo":   "claude-haiku-4.5",
	"haiku":           "claude-haiku-4.5",
	"o1":              "claude-opus-4.5",
	"o1-preview":      "claude-opus-4.5",
	"opus":            "claude-opus-4.5",
}

// kiroNativeModels are passed through unchanged, since they're already
// upstream's own model identifiers.
var kiroNativeModels = map[string]struct{}{
	"claude-sonnet-4":   {},
	"claude-sonnet-4.5": {},
	"claude-haiku-4.5":  {},
	"claude-opus-4.5":   {},
}

const defaultUpstreamModel = "claude-sonnet-4"

// MapModel resolves a client-supplied model name to the upstream model
// name. "auto" and already-native Kiro names pass through verbatim,
// preserving whatever upstream routing "auto" performs rather than
// second-guessing it. Unknown names map to the default, deterministically.
func MapModel(requested string) string {
	if requested == "auto" {
		return requested
	}
	if _, ok := kiroNativeModels[requested]; ok {
		return requested
	}
	if mapped, ok := modelAliases[requested]; ok {
		return mapped
	}
	log.Warnf("translate: unknown model %q, mapping to default %s", requested, defaultUpstreamModel)
	return defaultUpstreamModel
}
