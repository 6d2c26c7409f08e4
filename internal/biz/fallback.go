package biz

import (
	_ "embed"
	"fmt"
	"strings"

	"HookGuard/internal/conf"

	"gopkg.in/yaml.v3"
)

//go:embed fallback_catalog.yaml
var defaultFallbackCatalog []byte

// FallbackKind classifies why a caller is receiving a fallback.
type FallbackKind string

const (
	FallbackSystemError        FallbackKind = "systemError"
	FallbackTimeout            FallbackKind = "timeout"
	FallbackCircuitOpen        FallbackKind = "circuitOpen"
	FallbackServiceUnavailable FallbackKind = "serviceUnavailable"
)

// FallbackKinds lists every kind the catalog must cover.
var FallbackKinds = []FallbackKind{
	FallbackSystemError,
	FallbackTimeout,
	FallbackCircuitOpen,
	FallbackServiceUnavailable,
}

// Language is a supported caller language.
type Language string

const (
	LanguageEnglish Language = "en"
	LanguageSpanish Language = "es"
	LanguageGerman  Language = "de"
	LanguageFrench  Language = "fr"
)

// ParseLanguage maps a language tag such as "es-MX" to a supported language.
func ParseLanguage(tag string) (Language, bool) {
	base, _, _ := strings.Cut(strings.ToLower(strings.TrimSpace(tag)), "-")
	switch Language(base) {
	case LanguageEnglish, LanguageSpanish, LanguageGerman, LanguageFrench:
		return Language(base), true
	}
	return "", false
}

// FallbackEntry is an immutable caller-facing message.
type FallbackEntry struct {
	Message           string       `json:"message"`
	Kind              FallbackKind `json:"kind"`
	Language          Language     `json:"language"`
	OfferAlternative  bool         `json:"offer_alternative"`
	AlternativeAction string       `json:"alternative_action,omitempty"`
}

type catalogEntry struct {
	Message           string `yaml:"message"`
	OfferAlternative  bool   `yaml:"offer_alternative"`
	AlternativeAction string `yaml:"alternative_action"`
}

// FallbackCatalog holds localized fallback messages. It is loaded once and never
// mutated, so it is safe for concurrent use.
type FallbackCatalog struct {
	entries     map[FallbackKind]map[Language]FallbackEntry
	defaultLang Language
}

// NewFallbackCatalog loads the built-in catalog with the default language of c.
func NewFallbackCatalog(c *conf.Breaker) (*FallbackCatalog, error) {
	lang := LanguageEnglish
	if c != nil {
		if l, ok := ParseLanguage(c.DefaultLanguage); ok {
			lang = l
		}
	}
	return LoadFallbackCatalog(defaultFallbackCatalog, lang)
}

// LoadFallbackCatalog parses a YAML catalog. Every kind needs an English entry.
func LoadFallbackCatalog(data []byte, defaultLang Language) (*FallbackCatalog, error) {
	var raw map[FallbackKind]map[string]catalogEntry
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse fallback catalog: %w", err)
	}

	c := &FallbackCatalog{
		entries:     make(map[FallbackKind]map[Language]FallbackEntry, len(FallbackKinds)),
		defaultLang: defaultLang,
	}
	for kind, langs := range raw {
		if !knownFallbackKind(kind) {
			return nil, fmt.Errorf("fallback catalog: unknown kind %q", kind)
		}
		byLang := make(map[Language]FallbackEntry, len(langs))
		for tag, e := range langs {
			lang, ok := ParseLanguage(tag)
			if !ok {
				return nil, fmt.Errorf("fallback catalog: unsupported language %q for %s", tag, kind)
			}
			if strings.TrimSpace(e.Message) == "" {
				return nil, fmt.Errorf("fallback catalog: empty message for %s/%s", kind, lang)
			}
			byLang[lang] = FallbackEntry{
				Message:           e.Message,
				Kind:              kind,
				Language:          lang,
				OfferAlternative:  e.OfferAlternative,
				AlternativeAction: e.AlternativeAction,
			}
		}
		c.entries[kind] = byLang
	}

	for _, kind := range FallbackKinds {
		if _, ok := c.entries[kind][LanguageEnglish]; !ok {
			return nil, fmt.Errorf("fallback catalog: missing %s/en", kind)
		}
	}
	return c, nil
}

func knownFallbackKind(k FallbackKind) bool {
	for _, known := range FallbackKinds {
		if k == known {
			return true
		}
	}
	return false
}

// Get returns the entry for kind in lang, falling back to the catalog default language
// and then to English.
func (c *FallbackCatalog) Get(kind FallbackKind, lang Language) FallbackEntry {
	byLang, ok := c.entries[kind]
	if !ok {
		byLang = c.entries[FallbackSystemError]
	}
	if e, ok := byLang[lang]; ok {
		return e
	}
	if e, ok := byLang[c.defaultLang]; ok {
		return e
	}
	return byLang[LanguageEnglish]
}
