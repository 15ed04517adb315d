package discovery

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

type categoriesFile struct {
	Categories []string `yaml:"categories"`
}

// LoadCategories reads a YAML file holding either a bare list of
// categories or a mapping with a "categories" key.
func LoadCategories(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "discovery: read categories %s", path)
	}

	var list []string
	if err := yaml.Unmarshal(data, &list); err != nil {
		var f categoriesFile
		if err2 := yaml.Unmarshal(data, &f); err2 != nil {
			return nil, eris.Wrapf(err2, "discovery: parse categories %s", path)
		}
		list = f.Categories
	}

	out := make([]string, 0, len(list))
	seen := make(map[string]bool, len(list))
	for _, c := range list {
		c = strings.TrimSpace(c)
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	if len(out) == 0 {
		return nil, eris.Errorf("discovery: no categories in %s", path)
	}
	return out, nil
}
