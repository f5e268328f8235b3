package i18n

import (
	"slices"
	"strings"
)

var languageNames = map[string]string{
	"en": "English",
	"zh": "Chinese",
}

func GetLanguageName(code string) string {
	if name, ok := languageNames[strings.ToLower(code)]; ok {
		return name
	}
	return code
}

// IsSupported reports whether replies can be rendered in lang.
func IsSupported(lang string) bool {
	_, ok := languageNames[strings.ToLower(lang)]
	return ok
}

func GetLanguagesList() []string {
	list := make([]string, 0, len(languageNames))
	for code := range languageNames {
		list = append(list, code)
	}
	slices.Sort(list)
	return list
}
