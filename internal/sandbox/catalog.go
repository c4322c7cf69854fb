package sandbox

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Catalog 描述 configs/tools.yaml 中登记的静态分析工具。
type Catalog struct {
	Tools map[string]ToolSpec `yaml:"tools"`
}

// ToolSpec 描述单个工具的镜像与命令模板。
// 命令里的 {{main}} 占位符在运行时替换为主文件路径，
// {{file}} 替换为调用方指定的目标文件。
type ToolSpec struct {
	Image          string   `yaml:"image"`
	Command        []string `yaml:"command"`
	Description    string   `yaml:"description"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
}

// LoadCatalog 解析工具目录文件。
func LoadCatalog(path string) (Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return Catalog{Tools: map[string]ToolSpec{}}, nil
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("读取工具目录失败: %w", err)
	}
	var catalog Catalog
	if err := yaml.Unmarshal(content, &catalog); err != nil {
		return Catalog{}, fmt.Errorf("解析工具目录失败: %w", err)
	}
	if catalog.Tools == nil {
		catalog.Tools = map[string]ToolSpec{}
	}
	for name, spec := range catalog.Tools {
		if spec.Image == "" {
			return Catalog{}, fmt.Errorf("工具 %s 缺少 image 字段", name)
		}
		if len(spec.Command) == 0 {
			return Catalog{}, fmt.Errorf("工具 %s 缺少 command 字段", name)
		}
	}
	return catalog, nil
}

// Lookup 按名称查找工具。
func (c Catalog) Lookup(name string) (ToolSpec, bool) {
	spec, ok := c.Tools[name]
	return spec, ok
}

// Names 返回按字典序排序的工具名列表，供提示词展示。
func (c Catalog) Names() []string {
	names := make([]string, 0, len(c.Tools))
	for name := range c.Tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
