package simulator

import (
	_ "embed"
	"fmt"
	"os"
	"slices"
	"strings"

	"presip-lab/server/internal/model"

	"golang.org/x/text/cases"
	"gopkg.in/yaml.v3"
)

//go:embed scripts.yaml
var defaultScriptYAML []byte

// Condition 规则的触发条件。
// 命中条件：FirstUserTurn（若设置）成立，且（没有关键词条件，或任一关键词条件成立）。
type Condition struct {
	// FirstUserTurn 历史中恰好只有一条学员消息（即刚发出的这条）。
	FirstUserTurn bool `yaml:"first_user_turn"`
	// Contains 拉丁文关键词，大小写不敏感。
	Contains []string `yaml:"contains"`
	// ContainsCJK 中文关键词，按字面子串匹配。
	ContainsCJK []string `yaml:"contains_cjk"`
	// Prefix 去掉首尾空白后的原始输入前缀，区分大小写。
	Prefix []string `yaml:"prefix"`
}

func (c Condition) hasKeywords() bool {
	return len(c.Contains) > 0 || len(c.ContainsCJK) > 0 || len(c.Prefix) > 0
}

// Match 判断输入与历史是否满足条件。
func (c Condition) Match(input string, history []model.Message) bool {
	if c.FirstUserTurn && model.UserTurns(history) != 1 {
		return false
	}
	if !c.hasKeywords() {
		return true
	}

	trimmed := strings.TrimSpace(input)
	for _, p := range c.Prefix {
		if strings.HasPrefix(trimmed, p) {
			return true
		}
	}
	for _, kw := range c.ContainsCJK {
		if strings.Contains(input, kw) {
			return true
		}
	}
	if len(c.Contains) > 0 {
		// cases.Caser 不能并发共用，每次匹配新建一个。
		fold := cases.Fold()
		folded := fold.String(input)
		for _, kw := range c.Contains {
			if strings.Contains(folded, fold.String(kw)) {
				return true
			}
		}
	}
	return false
}

// ReplyTemplate 一条双语回复，可带选择题选项。
type ReplyTemplate struct {
	Text    model.LocalizedText `yaml:"text"`
	Options model.LocalizedList `yaml:"options"`
}

// Render 按语言取出回复。
func (t ReplyTemplate) Render(lang model.Language) model.Reply {
	reply := model.Reply{Text: t.Text.Get(lang)}
	if !t.Options.IsEmpty() {
		reply.Options = slices.Clone(t.Options.Get(lang))
	}
	return reply
}

// Rule 决策表中的一行。
type Rule struct {
	Name  string        `yaml:"name"`
	When  Condition     `yaml:"when"`
	Reply ReplyTemplate `yaml:"reply"`
}

// TipTemplate 三段式教练提示。
type TipTemplate struct {
	EmotionalState model.LocalizedText `yaml:"emotional_state"`
	NELLink        model.LocalizedText `yaml:"nel_link"`
	TryThis        model.LocalizedText `yaml:"try_this"`
}

// Script 完整的脚本数据：场景决策表、角色兜底、语音占位和教练提示。
type Script struct {
	Version   string                         `yaml:"version"`
	Scenarios map[string][]Rule              `yaml:"scenarios"`
	Roles     map[string]ReplyTemplate       `yaml:"roles"`
	Default   ReplyTemplate                  `yaml:"default"`
	Voice     map[string]model.LocalizedText `yaml:"voice"`
	Tips      map[string]TipTemplate         `yaml:"tips"`
}

// DefaultScript 返回内置脚本。
func DefaultScript() (*Script, error) {
	return ParseScript(defaultScriptYAML)
}

// LoadScript 从文件加载脚本；path 为空时使用内置脚本。
func LoadScript(path string) (*Script, error) {
	if path == "" {
		return DefaultScript()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scripts: %w", err)
	}
	return ParseScript(data)
}

// ParseScript 解析并校验脚本。
func ParseScript(data []byte) (*Script, error) {
	var s Script
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse scripts: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate 保证任何输入都能落到一条非空回复上。
func (s *Script) Validate() error {
	if s.Default.Text.IsEmpty() {
		return fmt.Errorf("scripts: default reply text is required")
	}
	for scenarioID, rules := range s.Scenarios {
		names := make(map[string]struct{}, len(rules))
		for i, r := range rules {
			if r.Name == "" {
				return fmt.Errorf("scripts: %s rule #%d has no name", scenarioID, i)
			}
			if _, dup := names[r.Name]; dup {
				return fmt.Errorf("scripts: %s has duplicate rule %q", scenarioID, r.Name)
			}
			names[r.Name] = struct{}{}
			if r.Reply.Text.IsEmpty() {
				return fmt.Errorf("scripts: %s/%s reply text is required", scenarioID, r.Name)
			}
		}
	}
	for roleID, t := range s.Roles {
		if t.Text.IsEmpty() {
			return fmt.Errorf("scripts: role %s reply text is required", roleID)
		}
	}
	return nil
}

// Decide 依次尝试场景决策表、角色兜底、全局兜底，返回回复模板与命中的规则名。
func (s *Script) Decide(input string, history []model.Message, scenario model.Scenario) (ReplyTemplate, string) {
	for _, r := range s.Scenarios[scenario.ID] {
		if r.When.Match(input, history) {
			return r.Reply, scenario.ID + "/" + r.Name
		}
	}
	if t, ok := s.Roles[scenario.RoleID]; ok {
		return t, "role/" + scenario.RoleID
	}
	return s.Default, "default"
}

// VoiceText 语音占位回复：先按场景，再用 default。
func (s *Script) VoiceText(scenarioID string, lang model.Language) string {
	if t, ok := s.Voice[scenarioID]; ok && !t.IsEmpty() {
		return t.Get(lang)
	}
	return s.Voice["default"].Get(lang)
}

// Tip 按角色取教练提示，找不到时用 default。
func (s *Script) Tip(roleID string) (TipTemplate, bool) {
	if t, ok := s.Tips[roleID]; ok {
		return t, true
	}
	t, ok := s.Tips["default"]
	return t, ok
}
