package i18n

import (
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"

	"github.com/iamwavecut/antispambot/resources"
)

const (
	translationsPath = "i18n/translations.yml"
	sourceLanguage   = "en"
)

// Translations are keyed by the English text, then by upper-cased locale.
var state = struct {
	once         sync.Once
	translations map[string]map[string]string
}{}

func load() {
	state.translations = map[string]map[string]string{}
	content, err := resources.FS.ReadFile(translationsPath)
	if err != nil {
		log.WithField("error", err.Error()).Error("cant load i18n")
		return
	}
	if err := yaml.Unmarshal(content, &state.translations); err != nil {
		log.WithField("error", err.Error()).Error("cant unmarshal i18n")
	}
}

// Get returns the translation of key, or the key itself.
func Get(key, lang string) string {
	if strings.EqualFold(lang, sourceLanguage) || lang == "" {
		return key
	}
	state.once.Do(load)
	if res, ok := state.translations[key][strings.ToUpper(lang)]; ok && res != "" {
		return res
	}
	log.WithField("key", key).WithField("lang", lang).Trace("no translation")
	return key
}
