package tts

// VoiceProfile describes one synthesised voice.
type VoiceProfile struct {
	// ID is the provider-specific voice identifier.
	ID string `yaml:"id" json:"id"`

	// Name is the human-readable voice name. Callers infer a display gender
	// from it when Gender is empty.
	Name string `yaml:"name" json:"name"`

	// Provider identifies which TTS provider this voice belongs to.
	Provider string `yaml:"provider,omitempty" json:"provider,omitempty"`

	// Gender is "female", "male" or empty when unknown.
	Gender string `yaml:"gender,omitempty" json:"gender,omitempty"`

	// Metadata holds provider-specific voice attributes (accent, age, ...).
	Metadata map[string]string `yaml:"metadata,omitempty" json:"metadata,omitempty"`
}

// MetaMood is the metadata key carrying the temperament the voice should
// convey. Providers with expressive controls may honour it.
const MetaMood = "mood"

// WithMetadata returns a copy of v with key set to value. The metadata map of
// v is not modified.
func (v VoiceProfile) WithMetadata(key, value string) VoiceProfile {
	meta := make(map[string]string, len(v.Metadata)+1)
	for k, val := range v.Metadata {
		meta[k] = val
	}
	meta[key] = value
	v.Metadata = meta
	return v
}
