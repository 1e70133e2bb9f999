package tts

import "sort"

// Voice is a logical voice and the locale it speaks.
type Voice struct {
	Name   string
	Locale string
}

// Logical voice names used by the pipeline.
const (
	VoiceEnglish = "af_sarah"
	VoiceFrench  = "ff_siwis"
)

// languageVoices maps a target language to the voice used for it.
var languageVoices = map[string]Voice{
	"en": {Name: VoiceEnglish, Locale: "en-us"},
	"fr": {Name: VoiceFrench, Locale: "fr-fr"},
}

// VoiceFor returns the voice for a target language. Languages without an
// entry use the French voice.
func VoiceFor(lang string) Voice {
	if v, ok := languageVoices[lang]; ok {
		return v
	}
	return languageVoices["fr"]
}

// openAIVoices maps logical voices to OpenAI voice names.
var openAIVoices = map[string]string{
	VoiceEnglish: "nova",
	VoiceFrench:  "shimmer",
}

// elevenLabsVoices maps logical voices to ElevenLabs voice IDs.
var elevenLabsVoices = map[string]string{
	VoiceEnglish: "EXAVITQu4vr4xnSDxMaL", // Sarah, American female, soft
	VoiceFrench:  "XB0fDUnXU5powFXDhCwa", // Charlotte, multilingual female, warm
}

// ResolveElevenLabsVoice returns the voice ID for a logical name,
// or the input unchanged if it's already a voice ID.
func ResolveElevenLabsVoice(name string) string {
	if id, ok := elevenLabsVoices[name]; ok {
		return id
	}
	return name
}

func voiceNames(m map[string]string) []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
