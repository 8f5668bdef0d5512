package provider

// Format identifies the wire format of the inbound request.
type Format string

const (
	FormatClaude    Format = "claude"
	FormatOpenAI    Format = "openai"
	FormatResponse  Format = "response" // Responses API
	FormatGemini    Format = "gemini"
	FormatGeminiCLI Format = "gemini-cli"
)

// compatibleTypes maps an inbound format to the provider types able to
// serve it.
var compatibleTypes = map[Format][]string{
	FormatClaude:    {"claude", "claude-auth"},
	FormatOpenAI:    {"openai-compatible"},
	FormatResponse:  {"codex", "openai-compatible"},
	FormatGemini:    {"gemini"},
	FormatGeminiCLI: {"gemini-cli"},
}

// CompatibleTypes returns the provider types that can serve the given
// inbound format. Unknown formats return nil.
func CompatibleTypes(format Format) []string {
	return compatibleTypes[format]
}

// IsCompatible reports whether a provider of the given type can serve
// the given inbound format.
func IsCompatible(format Format, providerType string) bool {
	for _, t := range compatibleTypes[format] {
		if t == providerType {
			return true
		}
	}
	return false
}
