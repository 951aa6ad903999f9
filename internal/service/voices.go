package service

import (
	"sort"

	"kitaabse-pipeline/internal/domain"
)

const (
	GenderFemale = "female"
	GenderMale   = "male"

	// DefaultVoice is used when neither language nor gender resolve.
	DefaultVoice = "hi-IN-SwaraNeural"
)

var voiceTable = map[domain.Language]map[string]string{
	domain.LanguageHindi:    {GenderFemale: "hi-IN-SwaraNeural", GenderMale: "hi-IN-MadhurNeural"},
	domain.LanguageEnglish:  {GenderFemale: "en-IN-NeerjaNeural", GenderMale: "en-IN-PrabhatNeural"},
	domain.LanguageUrdu:     {GenderFemale: "ur-PK-UzmaNeural", GenderMale: "ur-PK-AsadNeural"},
	domain.LanguageBengali:  {GenderFemale: "bn-IN-TanishaaNeural", GenderMale: "bn-IN-BashkarNeural"},
	domain.LanguageTamil:    {GenderFemale: "ta-IN-PallaviNeural", GenderMale: "ta-IN-ValluvarNeural"},
	domain.LanguageTelugu:   {GenderFemale: "te-IN-ShrutiNeural", GenderMale: "te-IN-MohanNeural"},
	domain.LanguageMarathi:  {GenderFemale: "mr-IN-AarohiNeural", GenderMale: "mr-IN-ManoharNeural"},
	domain.LanguageGujarati: {GenderFemale: "gu-IN-DhwaniNeural", GenderMale: "gu-IN-NiranjanNeural"},
}

// VoiceFor resolves a neural voice name. Hinglish reads with the Hindi voices.
func VoiceFor(lang domain.Language, gender string) string {
	if lang == domain.LanguageHinglish {
		lang = domain.LanguageHindi
	}
	voices, ok := voiceTable[lang]
	if !ok {
		return DefaultVoice
	}
	if v, ok := voices[gender]; ok {
		return v
	}
	return voices[GenderFemale]
}

// Voice is one catalogue entry.
type Voice struct {
	Language domain.Language `json:"language"`
	Gender   string          `json:"gender"`
	Name     string          `json:"voice"`
}

// AvailableVoices lists the catalogue ordered by language then gender.
func AvailableVoices() []Voice {
	out := make([]Voice, 0, len(voiceTable)*2)
	for lang, voices := range voiceTable {
		for gender, name := range voices {
			out = append(out, Voice{Language: lang, Gender: gender, Name: name})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Language != out[j].Language {
			return out[i].Language < out[j].Language
		}
		return out[i].Gender < out[j].Gender
	})
	return out
}

// voiceLocale returns the xml:lang of a voice name such as "hi-IN-SwaraNeural".
func voiceLocale(voice string) string {
	if len(voice) >= 5 {
		return voice[:5]
	}
	return "hi-IN"
}
