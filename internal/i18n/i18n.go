package i18n

import (
	"fmt"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"

	"github.com/iamwavecut/forumwarden/resources"
)

const resourcesPath = "i18n"

var state = struct {
	sync.RWMutex
	translations    map[string]map[string]string
	loaded          map[string]bool
	defaultLanguage string
}{
	translations:    make(map[string]map[string]string),
	loaded:          make(map[string]bool),
	defaultLanguage: "en",
}

// SetDefaultLanguage is used by Get when a caller passes an empty language.
func SetDefaultLanguage(lang string) {
	state.Lock()
	defer state.Unlock()
	if lang = strings.ToLower(strings.TrimSpace(lang)); lang != "" {
		state.defaultLanguage = lang
	}
}

func load(lang string) {
	state.loaded[lang] = true

	raw, err := resources.FS.ReadFile(fmt.Sprintf("%s/%s.yml", resourcesPath, lang))
	if err != nil {
		log.WithError(err).WithField("lang", lang).Errorln("cant load i18n")
		return
	}
	translations := make(map[string]string)
	if err := yaml.Unmarshal(raw, &translations); err != nil {
		log.WithError(err).WithField("lang", lang).Errorln("cant unmarshal i18n")
		return
	}
	state.translations[lang] = translations
}

// Get returns the translation of key, or key itself for English and for
// anything missing from the language file.
func Get(key, lang string) string {
	state.RLock()
	if lang == "" {
		lang = state.defaultLanguage
	}
	loaded := state.loaded[lang]
	state.RUnlock()

	if lang == "en" {
		return key
	}
	if !loaded {
		state.Lock()
		if !state.loaded[lang] {
			load(lang)
		}
		state.Unlock()
	}

	state.RLock()
	defer state.RUnlock()
	if res, ok := state.translations[lang][key]; ok {
		return res
	}
	log.Tracef("no translation for key %q", key)
	return key
}
