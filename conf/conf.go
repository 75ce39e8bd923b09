package conf

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
	"gopkg.in/ini.v1"
	"gopkg.in/yaml.v3"
)

// Options 配置加载选项
type Options struct {
	// 环境变量覆盖前缀，如 RELX；空表示不读环境变量
	EnvPrefix string `cfg:"envPrefix"`
}

// Load 从文件加载配置到 object
// 按扩展名选择解析器，环境变量覆盖文件值，
// 未给定的字段按 def tag 补默认值，最后做 validate tag 校验
func Load(path string, object interface{}) error {
	return LoadWithOptions(path, object, nil)
}

func LoadWithOptions(path string, object interface{}, options *Options) error {
	if options == nil {
		options = &Options{}
	}

	data, err := decodeFile(path)
	if err != nil {
		return err
	}
	if err := Bind(data, object); err != nil {
		return err
	}
	if options.EnvPrefix != "" {
		if err := bindEnv(object, options.EnvPrefix); err != nil {
			return err
		}
	}
	if err := SetDefaults(object); err != nil {
		return err
	}
	return ValidateStruct(object)
}

func decodeFile(path string) (map[string]interface{}, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WithMessagef(err, "read config %s failed", path)
	}

	data := map[string]interface{}{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(raw, &data); err != nil {
			return nil, errors.WithMessagef(err, "parse yaml %s failed", path)
		}
	case ".json":
		if err := json.Unmarshal(raw, &data); err != nil {
			return nil, errors.WithMessagef(err, "parse json %s failed", path)
		}
	case ".toml":
		if err := toml.Unmarshal(raw, &data); err != nil {
			return nil, errors.WithMessagef(err, "parse toml %s failed", path)
		}
	case ".ini":
		file, err := ini.Load(raw)
		if err != nil {
			return nil, errors.WithMessagef(err, "parse ini %s failed", path)
		}
		data = iniToMap(file)
	default:
		return nil, errors.Errorf("unsupported config extension %s", filepath.Ext(path))
	}
	return data, nil
}

// iniToMap 默认段的键放在顶层，具名段映射为嵌套对象
func iniToMap(file *ini.File) map[string]interface{} {
	data := map[string]interface{}{}
	for _, section := range file.Sections() {
		target := data
		if section.Name() != ini.DefaultSection {
			nested := map[string]interface{}{}
			data[section.Name()] = nested
			target = nested
		}
		for _, key := range section.Keys() {
			target[key.Name()] = key.Value()
		}
	}
	return data
}
