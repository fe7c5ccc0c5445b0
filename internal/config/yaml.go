package config

import (
	"gopkg.in/yaml.v3"
)

// yamlParser implements koanf.Parser with gopkg.in/yaml.v3.
type yamlParser struct{}

func (yamlParser) Unmarshal(b []byte) (map[string]interface{}, error) {
	out := map[string]interface{}{}
	if err := yaml.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (yamlParser) Marshal(o map[string]interface{}) ([]byte, error) {
	return yaml.Marshal(o)
}
