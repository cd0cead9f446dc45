package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bitfantasy/formflow/internal/form/entity"
	"github.com/bitfantasy/formflow/internal/form/repository"
	"golang.org/x/sync/singleflight"
)

// Schema the active field definitions of one form type.
type Schema struct {
	FormType string
	Version  int
	Fields   []entity.FieldDefinition

	byKey map[string]int
	byID  map[int64]int
}

func newSchema(formType string, version int, fields []entity.FieldDefinition) *Schema {
	s := &Schema{
		FormType: formType,
		Version:  version,
		Fields:   fields,
		byKey:    make(map[string]int, len(fields)),
		byID:     make(map[int64]int, len(fields)),
	}
	for i, f := range fields {
		s.byKey[entity.NormalizeFieldKey(f.FieldKey)] = i
		s.byID[f.ID] = i
	}
	return s
}

// Keys the normalised field keys of the schema, in form order.
func (s *Schema) Keys() []string {
	keys := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		keys[i] = entity.NormalizeFieldKey(f.FieldKey)
	}
	return keys
}

// Total number of fields, the progress denominator.
func (s *Schema) Total() int64 {
	return int64(len(s.Fields))
}

// Resolve turns a key or numeric id into the field definition. It is the only
// place field references are converted.
func (s *Schema) Resolve(ref entity.FieldRef) (entity.FieldDefinition, bool) {
	if ref.Key != "" {
		if i, ok := s.byKey[entity.NormalizeFieldKey(ref.Key)]; ok {
			return s.Fields[i], true
		}
		return entity.FieldDefinition{}, false
	}
	if i, ok := s.byID[ref.ID]; ok {
		return s.Fields[i], true
	}
	return entity.FieldDefinition{}, false
}

// Sections field keys grouped by section, in form order.
func (s *Schema) Sections() map[string][]string {
	out := make(map[string][]string)
	for _, f := range s.Fields {
		out[f.Section] = append(out[f.Section], f.FieldKey)
	}
	return out
}

type cachedSchema struct {
	schema  *Schema
	expires time.Time
}

// FieldCatalog caches the active schema of each form type.
type FieldCatalog struct {
	repo *repository.FieldRepository
	ttl  time.Duration
	now  func() time.Time

	mu    sync.RWMutex
	cache map[string]cachedSchema
	group singleflight.Group
}

func NewFieldCatalog(repo *repository.FieldRepository, ttl time.Duration) *FieldCatalog {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &FieldCatalog{
		repo:  repo,
		ttl:   ttl,
		now:   time.Now,
		cache: make(map[string]cachedSchema),
	}
}

// Schema returns the active schema of formType. Concurrent misses share one
// database load.
func (c *FieldCatalog) Schema(ctx context.Context, formType string) (*Schema, error) {
	formType = entity.NormalizeFormType(formType)
	if _, ok := entity.ResponseTable(formType); !ok {
		return nil, validationFault("catalog", ErrUnknownFormType, "%q", formType)
	}

	c.mu.RLock()
	entry, ok := c.cache[formType]
	c.mu.RUnlock()
	if ok && c.now().Before(entry.expires) {
		return entry.schema, nil
	}

	v, err, _ := c.group.Do(formType, func() (interface{}, error) {
		version, err := c.repo.ActiveVersion(ctx, formType)
		if err != nil {
			return nil, err
		}
		var fields []entity.FieldDefinition
		if version > 0 {
			if fields, err = c.repo.ListVersion(ctx, formType, version); err != nil {
				return nil, err
			}
		}
		s := newSchema(formType, version, fields)
		c.mu.Lock()
		c.cache[formType] = cachedSchema{schema: s, expires: c.now().Add(c.ttl)}
		c.mu.Unlock()
		return s, nil
	})
	if err != nil {
		return nil, persistenceFault("load field catalog", fmt.Errorf("%s: %w", formType, err))
	}
	return v.(*Schema), nil
}

// Total the active field count of formType.
func (c *FieldCatalog) Total(ctx context.Context, formType string) (int64, error) {
	s, err := c.Schema(ctx, formType)
	if err != nil {
		return 0, err
	}
	return s.Total(), nil
}

// Resolve a field reference against the active schema of formType.
func (c *FieldCatalog) Resolve(ctx context.Context, formType string, ref entity.FieldRef) (entity.FieldDefinition, error) {
	s, err := c.Schema(ctx, formType)
	if err != nil {
		return entity.FieldDefinition{}, err
	}
	if ref.IsZero() {
		return entity.FieldDefinition{}, validationFault("resolve field", ErrUnknownField, "empty reference")
	}
	def, ok := s.Resolve(ref)
	if !ok {
		return entity.FieldDefinition{}, validationFault("resolve field", ErrUnknownField, "%s in %s v%d", ref, formType, s.Version)
	}
	return def, nil
}

// Invalidate drops the cached schema of formType, or every schema when
// formType is "".
func (c *FieldCatalog) Invalidate(formType string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if formType == "" {
		c.cache = make(map[string]cachedSchema)
		return
	}
	delete(c.cache, entity.NormalizeFormType(formType))
}
