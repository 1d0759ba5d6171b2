package config

import (
	"os"

	"gopkg.in/yaml.v3"

	"weaver/internal/models"
	"weaver/internal/pkg/errors"
)

// CompositionsFile is the on-disk shape of COMPOSITIONS_FILE:
//
//	compositions:
//	  intro:
//	    strict: false
//	    fields:
//	      title: {type: string, required: true}
type CompositionsFile struct {
	Compositions map[string]models.Schema `yaml:"compositions"`
}

// LoadCompositions reads parameter schemas keyed by composition id. An empty
// path yields no schemas.
func LoadCompositions(path string) (map[string]models.Schema, error) {
	if path == "" {
		return map[string]models.Schema{}, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "config.LoadCompositions", "read compositions file")
	}
	return ParseCompositions(raw)
}

func ParseCompositions(raw []byte) (map[string]models.Schema, error) {
	var f CompositionsFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, errors.WrapWithCode(err, errors.CodeValidation, "config.ParseCompositions", "invalid compositions file")
	}
	out := make(map[string]models.Schema, len(f.Compositions))
	for id, s := range f.Compositions {
		for name, spec := range s.Fields {
			if !spec.Type.Valid() {
				return nil, errors.ValidationField("compositions."+id+".fields."+name, "unknown field type "+string(spec.Type))
			}
		}
		out[id] = s
	}
	return out, nil
}
