package service

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/bitfantasy/formflow/internal/form/entity"
	"github.com/bitfantasy/formflow/internal/form/repository"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
	"gopkg.in/yaml.v3"
)

// ErrInvalidFieldFile a field definition file that cannot be imported.
var ErrInvalidFieldFile = errors.New("invalid field definition file")

var csvColumns = map[string][]string{
	"key":      {"key", "field_key", "fieldkey"},
	"label":    {"label", "question", "text", "name"},
	"group":    {"group", "section"},
	"required": {"required"},
}

// ParseFieldCSV reads field definitions from a spreadsheet export with a
// header row. Only the key column is mandatory; "group" becomes the section.
// A UTF-8 byte order mark is ignored.
func ParseFieldCSV(r io.Reader) ([]entity.FieldDefinition, error) {
	dec := unicode.BOMOverride(unicode.UTF8.NewDecoder())
	cr := csv.NewReader(transform.NewReader(r, dec))
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty file", ErrInvalidFieldFile)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidFieldFile, err)
	}
	cols := make(map[string]int)
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(h))
		for name, aliases := range csvColumns {
			if _, done := cols[name]; done {
				continue
			}
			for _, a := range aliases {
				if h == a {
					cols[name] = i
				}
			}
		}
	}
	keyCol, ok := cols["key"]
	if !ok {
		return nil, fmt.Errorf("%w: no key column in header %v", ErrInvalidFieldFile, header)
	}
	cell := func(rec []string, name string) string {
		i, ok := cols[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	var defs []entity.FieldDefinition
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidFieldFile, err)
		}
		if keyCol >= len(rec) || strings.TrimSpace(rec[keyCol]) == "" {
			continue
		}
		required := true
		if v := cell(rec, "required"); v != "" {
			if required, err = strconv.ParseBool(v); err != nil {
				return nil, fmt.Errorf("%w: line %d: required %q", ErrInvalidFieldFile, line, v)
			}
		}
		defs = append(defs, entity.FieldDefinition{
			FieldKey: entity.NormalizeFieldKey(rec[keyCol]),
			Label:    cell(rec, "label"),
			Section:  cell(rec, "group"),
			Required: required,
		})
	}
	return defs, nil
}

type fieldFile struct {
	FormType string `yaml:"form_type"`
	Sections []struct {
		Name   string `yaml:"name"`
		Fields []struct {
			Key      string `yaml:"key"`
			Label    string `yaml:"label"`
			Required *bool  `yaml:"required"`
		} `yaml:"fields"`
	} `yaml:"sections"`
}

// LoadFieldYAML reads a seed file of the form
//
//	form_type: kyb
//	sections:
//	  - name: Company Profile
//	    fields:
//	      - key: legal_name
//	        label: Legal entity name
func LoadFieldYAML(r io.Reader) (string, []entity.FieldDefinition, error) {
	var f fieldFile
	if err := yaml.NewDecoder(r).Decode(&f); err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrInvalidFieldFile, err)
	}
	formType := entity.NormalizeFormType(f.FormType)
	if _, ok := entity.ResponseTable(formType); !ok {
		return "", nil, fmt.Errorf("%w: form_type %q", ErrInvalidFieldFile, f.FormType)
	}
	var defs []entity.FieldDefinition
	for _, s := range f.Sections {
		for _, fd := range s.Fields {
			required := true
			if fd.Required != nil {
				required = *fd.Required
			}
			defs = append(defs, entity.FieldDefinition{
				FieldKey: entity.NormalizeFieldKey(fd.Key),
				Label:    fd.Label,
				Section:  s.Name,
				Required: required,
			})
		}
	}
	return formType, defs, nil
}

type ImportResult struct {
	FormType string         `json:"formType"`
	Version  int            `json:"version"`
	Fields   int            `json:"fields"`
	Sections map[string]int `json:"sections"`
}

// FieldService manages form schemas.
type FieldService struct {
	repo    *repository.FieldRepository
	catalog *FieldCatalog
	logger  *zap.Logger
}

// Import stores defs as the next schema version of formType. The new version
// becomes the progress denominator on the next write of each task.
func (s *FieldService) Import(ctx context.Context, formType string, defs []entity.FieldDefinition) (*ImportResult, error) {
	formType = entity.NormalizeFormType(formType)
	if _, ok := entity.ResponseTable(formType); !ok {
		return nil, validationFault("import fields", ErrUnknownFormType, "%q", formType)
	}
	if len(defs) == 0 {
		return nil, validationFault("import fields", ErrInvalidFieldFile, "no fields")
	}
	sections := make(map[string]int)
	seen := make(map[string]bool, len(defs))
	for i := range defs {
		key := entity.NormalizeFieldKey(defs[i].FieldKey)
		if key == "" {
			return nil, validationFault("import fields", ErrInvalidFieldFile, "field %d has no key", i+1)
		}
		if seen[key] {
			return nil, validationFault("import fields", ErrInvalidFieldFile, "duplicate key %q", key)
		}
		seen[key] = true
		defs[i].FieldKey = key
		sections[defs[i].Section]++
	}

	version, err := s.repo.CreateVersion(ctx, formType, defs)
	if err != nil {
		return nil, persistenceFault("import fields", err)
	}
	s.catalog.Invalidate(formType)

	s.logger.Info("field schema imported",
		zap.String("form_type", formType),
		zap.Int("version", version),
		zap.Int("fields", len(defs)),
		zap.Int("sections", len(sections)))
	return &ImportResult{FormType: formType, Version: version, Fields: len(defs), Sections: sections}, nil
}

// Active the active schema of formType.
func (s *FieldService) Active(ctx context.Context, formType string) (*Schema, error) {
	return s.catalog.Schema(ctx, formType)
}
