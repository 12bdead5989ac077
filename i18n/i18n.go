// Package i18n translates glossa's own user-facing strings.
//
// It wraps gotext with T() and N(). Catalogs are embedded in the binary:
//
//	locales/{lang}/LC_MESSAGES/glossa.po
//
// Call Init once at startup; before that T and N return msgid unchanged.
package i18n

import (
	"embed"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/leonelquinteros/gotext"
)

//go:embed all:locales
var locales embed.FS

const domain = "glossa"

var (
	mu sync.RWMutex
	po *gotext.Locale
)

// Init loads the catalog for lang. An empty lang is detected from
// LANGUAGE, LC_ALL, LC_MESSAGES and LANG, in that order.
func Init(lang string) {
	if lang == "" {
		lang = detectLanguage()
	}

	l := gotext.NewLocaleFSWithPath(lang, locales, "locales")
	l.AddDomain(domain)
	l.SetDomain(domain)

	mu.Lock()
	po = l
	mu.Unlock()
}

// T translates msgid, formatting it with vars when given. Missing
// translations fall back to msgid.
func T(msgid string, vars ...interface{}) string {
	mu.RLock()
	l := po
	mu.RUnlock()
	if l == nil {
		return sprintf(msgid, vars...)
	}
	return l.Get(msgid, vars...)
}

// N translates a plural form.
func N(singular, plural string, n int, vars ...interface{}) string {
	mu.RLock()
	l := po
	mu.RUnlock()
	if l == nil {
		if n == 1 {
			return sprintf(singular, vars...)
		}
		return sprintf(plural, vars...)
	}
	return l.GetN(singular, plural, n, vars...)
}

// detectLanguage follows GNU gettext: LANGUAGE > LC_ALL > LC_MESSAGES > LANG.
func detectLanguage() string {
	for _, env := range []string{"LANGUAGE", "LC_ALL", "LC_MESSAGES", "LANG"} {
		val := os.Getenv(env)
		if val == "" {
			continue
		}
		if env == "LANGUAGE" {
			val, _, _ = strings.Cut(val, ":")
		}
		// "ru_RU.UTF-8" -> "ru_RU"
		if idx := strings.IndexByte(val, '.'); idx >= 0 {
			val = val[:idx]
		}
		if val == "C" || val == "POSIX" || val == "" {
			continue
		}
		return val
	}
	return "en"
}

func sprintf(format string, vars ...interface{}) string {
	if len(vars) == 0 {
		return format
	}
	return fmt.Sprintf(format, vars...)
}
