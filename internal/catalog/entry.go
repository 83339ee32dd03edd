package catalog

// Provider identifies a backend family. Every family is reached through a
// uniform adapter contract; the set is closed per deployment.
type Provider string

const (
	// ProviderHosted is the native hosted-model family (Vertex-style REST).
	ProviderHosted Provider = "hosted"
	// ProviderSelfHosted is a self-hosted HTTP inference server.
	ProviderSelfHosted Provider = "selfhosted"
	// ProviderGeneric is a generic OpenAI-style HTTP passthrough.
	ProviderGeneric Provider = "generic"
	// ProviderHostedIndex is the vector-search-index inference family.
	ProviderHostedIndex Provider = "hostedindex"
)

// resolveOrder is the fixed precedence used when one logical model id is
// registered in more than one family (possible during provider migration).
// First match wins.
var resolveOrder = []Provider{
	ProviderHosted,
	ProviderSelfHosted,
	ProviderGeneric,
	ProviderHostedIndex,
}

// Capability selects model entries by what they can do.
type Capability int

const (
	Any Capability = iota
	Chat
	Multimodal
	Embedding
)

// Entry describes one configured model. Entries are constructed once at
// process start and never mutated afterwards.
type Entry struct {
	ID            string         `yaml:"id"`
	Provider      Provider       `yaml:"provider"`
	ModelName     string         `yaml:"model_name"`
	Endpoint      string         `yaml:"endpoint"`
	Chat          bool           `yaml:"chat"`
	Multimodal    bool           `yaml:"multimodal"`
	Embedding     bool           `yaml:"embedding"`
	ContextLength int            `yaml:"context_length"`
	Params        map[string]any `yaml:"params"`
	Secret        string         `yaml:"secret"`
	Roles         []string       `yaml:"roles"`
	Enabled       bool           `yaml:"enabled"`

	// credential is the resolved secret value, set during registry
	// construction. Empty when the entry needs no credential.
	credential string
}

// Credential returns the provider credential resolved at load time.
func (e *Entry) Credential() string {
	return e.credential
}

// Has reports whether the entry satisfies the given capability.
func (e *Entry) Has(c Capability) bool {
	switch c {
	case Chat:
		return e.Chat
	case Multimodal:
		return e.Multimodal
	case Embedding:
		return e.Embedding
	default:
		return true
	}
}

// Caller carries the attributes used for capability gating. The registry
// inspects nothing else about the caller.
type Caller struct {
	Role  string
	Email string
}
