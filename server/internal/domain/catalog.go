package domain

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"slices"

	"presip-lab/server/internal/model"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalogYAML []byte

var ErrNotFound = errors.New("catalog entry not found")

// Catalog 角色与场景目录。启动时加载一次，之后只读，可被多个会话并发读取。
type Catalog struct {
	Version   string           `yaml:"version"`
	RoleList  []model.Role     `yaml:"roles"`
	Scenarios []model.Scenario `yaml:"scenarios"`
}

// DefaultCatalog 返回内置目录。
func DefaultCatalog() (*Catalog, error) {
	return ParseCatalog(defaultCatalogYAML)
}

// LoadCatalog 从指定路径加载目录；path 为空时使用内置目录。
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return DefaultCatalog()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog 解析 YAML 并校验引用关系。
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate 检查 id 唯一、场景引用的角色存在、必填文本不为空。
func (c *Catalog) Validate() error {
	if len(c.RoleList) == 0 {
		return fmt.Errorf("catalog has no roles")
	}
	roles := make(map[string]struct{}, len(c.RoleList))
	for _, r := range c.RoleList {
		if r.ID == "" {
			return fmt.Errorf("role id is required")
		}
		if _, dup := roles[r.ID]; dup {
			return fmt.Errorf("duplicate role id %q", r.ID)
		}
		if r.Title.IsEmpty() {
			return fmt.Errorf("role %q: title is required", r.ID)
		}
		roles[r.ID] = struct{}{}
	}

	seen := make(map[string]struct{}, len(c.Scenarios))
	for i := range c.Scenarios {
		s := &c.Scenarios[i]
		if s.ID == "" {
			return fmt.Errorf("scenario #%d: id is required", i)
		}
		if _, dup := seen[s.ID]; dup {
			return fmt.Errorf("duplicate scenario id %q", s.ID)
		}
		seen[s.ID] = struct{}{}
		if _, ok := roles[s.RoleID]; !ok {
			return fmt.Errorf("scenario %q: unknown role %q", s.ID, s.RoleID)
		}
		if s.Title.IsEmpty() {
			return fmt.Errorf("scenario %q: title is required", s.ID)
		}
		if s.Difficulty == model.DifficultyUnknown {
			return fmt.Errorf("scenario %q: difficulty is required", s.ID)
		}
		if s.Mode == "" {
			s.Mode = model.ModeText
		}
		if s.Mode != model.ModeText {
			return fmt.Errorf("scenario %q: unsupported mode %q", s.ID, s.Mode)
		}
	}
	return nil
}

// Roles 按目录顺序返回全部角色（副本）。
func (c *Catalog) Roles() []model.Role {
	return slices.Clone(c.RoleList)
}

// ScenariosForRole 只返回 roleId 匹配的场景，保持目录顺序。
func (c *Catalog) ScenariosForRole(roleID string) []model.Scenario {
	var out []model.Scenario
	for _, s := range c.Scenarios {
		if s.RoleID == roleID {
			out = append(out, s)
		}
	}
	return out
}

// FindRole 按 id 查找角色。
func (c *Catalog) FindRole(id string) (model.Role, error) {
	for _, r := range c.RoleList {
		if r.ID == id {
			return r, nil
		}
	}
	return model.Role{}, fmt.Errorf("role %q: %w", id, ErrNotFound)
}

// FindScenario 按 id 查找场景。
func (c *Catalog) FindScenario(id string) (model.Scenario, error) {
	for _, s := range c.Scenarios {
		if s.ID == id {
			return s, nil
		}
	}
	return model.Scenario{}, fmt.Errorf("scenario %q: %w", id, ErrNotFound)
}
