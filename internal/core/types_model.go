package core

// CatalogConfig is the on-disk shape of the model catalog file (JSON or YAML).
type CatalogConfig struct {
	Default string            `json:"default" yaml:"default"`
	Models  []ModelDescriptor `json:"models" yaml:"models"`
}
