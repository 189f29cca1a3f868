package methodology

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/dmrv/internal/model"
)

// Catalog is the on-disk seed list of methodologies.
type Catalog struct {
	Methodologies []model.Methodology `yaml:"methodologies"`
}

// LoadCatalog reads a methodology catalog from a YAML file. Entries default
// to version 1.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "methodology: read catalog %s", path)
	}
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, eris.Wrap(err, "methodology: parse catalog")
	}
	for i := range c.Methodologies {
		if c.Methodologies[i].Version == 0 {
			c.Methodologies[i].Version = 1
		}
	}
	return &c, nil
}
