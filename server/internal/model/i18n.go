package model

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"
)

// Language 界面语言。
type Language string

const (
	LanguageEN Language = "en"
	LanguageZH Language = "zh"
)

// SupportedLanguages 按优先级排列，第一个是默认语言。
var SupportedLanguages = []Language{LanguageEN, LanguageZH}

var languageMatcher = language.NewMatcher([]language.Tag{language.English, language.Chinese})

// ParseLanguage 把 BCP 47 标签（en、en-SG、zh-Hans-CN …）归一为 en 或 zh。
func ParseLanguage(raw string) (Language, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("empty language tag")
	}
	tag, err := language.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse language %q: %w", raw, err)
	}
	base, _ := tag.Base()
	switch base.String() {
	case "en":
		return LanguageEN, nil
	case "zh":
		return LanguageZH, nil
	default:
		return "", fmt.Errorf("unsupported language %q", raw)
	}
}

// NegotiateLanguage 解析 Accept-Language 头，匹配不到时回落到英文。
func NegotiateLanguage(acceptLanguage string) Language {
	tags, _, err := language.ParseAcceptLanguage(acceptLanguage)
	if err != nil || len(tags) == 0 {
		return LanguageEN
	}
	_, idx, conf := languageMatcher.Match(tags...)
	if conf == language.No {
		return LanguageEN
	}
	return SupportedLanguages[idx]
}

// Valid 是否是受支持的语言。
func (l Language) Valid() bool {
	return l == LanguageEN || l == LanguageZH
}

// LocalizedText 多语言文本，key 为语言。
type LocalizedText map[Language]string

// Get 返回指定语言的文本；缺失时回落到英文，再回落到任意非空值。
func (t LocalizedText) Get(lang Language) string {
	if v := t[lang]; v != "" {
		return v
	}
	if v := t[LanguageEN]; v != "" {
		return v
	}
	for _, l := range SupportedLanguages {
		if v := t[l]; v != "" {
			return v
		}
	}
	return ""
}

// IsEmpty 所有语言都没有内容。
func (t LocalizedText) IsEmpty() bool {
	for _, v := range t {
		if v != "" {
			return false
		}
	}
	return true
}

// LocalizedList 多语言列表（选择题选项等）。
type LocalizedList map[Language][]string

// Get 回落规则同 LocalizedText.Get。
func (l LocalizedList) Get(lang Language) []string {
	if v := l[lang]; len(v) > 0 {
		return v
	}
	if v := l[LanguageEN]; len(v) > 0 {
		return v
	}
	for _, lg := range SupportedLanguages {
		if v := l[lg]; len(v) > 0 {
			return v
		}
	}
	return nil
}

// IsEmpty 所有语言都没有选项。
func (l LocalizedList) IsEmpty() bool {
	for _, v := range l {
		if len(v) > 0 {
			return false
		}
	}
	return true
}

// Difficulty 难度，有序：Beginner < Intermediate < Challenging。
type Difficulty int

const (
	DifficultyUnknown Difficulty = iota
	DifficultyBeginner
	DifficultyIntermediate
	DifficultyChallenging
)

var difficultyNames = map[Difficulty]string{
	DifficultyBeginner:     "Beginner",
	DifficultyIntermediate: "Intermediate",
	DifficultyChallenging:  "Challenging",
}

func (d Difficulty) String() string {
	if name, ok := difficultyNames[d]; ok {
		return name
	}
	return "Unknown"
}

// ParseDifficulty 解析难度名称（大小写不敏感）。
func ParseDifficulty(s string) (Difficulty, error) {
	for d, name := range difficultyNames {
		if strings.EqualFold(name, strings.TrimSpace(s)) {
			return d, nil
		}
	}
	return DifficultyUnknown, fmt.Errorf("unknown difficulty %q", s)
}

func (d Difficulty) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Difficulty) UnmarshalText(b []byte) error {
	parsed, err := ParseDifficulty(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
