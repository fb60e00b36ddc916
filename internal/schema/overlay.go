package schema

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

type overlayFile struct {
	Templates []Template `yaml:"templates"`
}

// ReadOverlay decodes additional template declarations from a YAML stream.
// Deployments use overlays to register scene-specific templates without
// rebuilding the server.
func ReadOverlay(r io.Reader) ([]Template, error) {
	var file overlayFile
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(&file); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("schema: decode overlay: %w", err)
	}
	return file.Templates, nil
}

// LoadOverlayFile reads a template overlay from disk. A missing path is not
// an error so the default deployment can run without one.
func LoadOverlayFile(path string) ([]Template, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("schema: open overlay %s: %w", path, err)
	}
	defer f.Close()
	return ReadOverlay(f)
}
