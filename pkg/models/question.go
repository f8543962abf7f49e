package models

// Question is a single natural-language request. Created per incoming
// request, immutable, discarded after the response is produced.
type Question struct {
	Text           string `json:"text"`
	ConversationID string `json:"conversation_id"`
	Language       string `json:"language"`
	Debug          bool   `json:"debug"`
}

// Supported answer languages.
const (
	LanguageEnglish = "en"
	LanguageSpanish = "es"
)

// NormalizeLanguage maps unknown or empty language codes to English.
func NormalizeLanguage(lang string) string {
	switch lang {
	case LanguageEnglish, LanguageSpanish:
		return lang
	default:
		return LanguageEnglish
	}
}

// Answer is the rendered response for a Question. SQL is populated only
// when the session has debug enabled.
type Answer struct {
	Text     string `json:"text"`
	Language string `json:"language"`
	SQL      string `json:"sql,omitempty"`
}
