// Package mapping turns source payloads into target-model values through
// fixed, declarative per-entity field tables.
package mapping

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/erpbridge/erpbridge/pkg/connector"
	"github.com/erpbridge/erpbridge/pkg/model"
)

type FieldType string

const (
	FieldText     FieldType = "text"
	FieldNumber   FieldType = "number"
	FieldBoolean  FieldType = "boolean"
	FieldDate     FieldType = "date"
	FieldRelation FieldType = "relation"
)

// Field maps one source payload field onto a target-model field. Min and
// Pattern add validation; Transform names a registered lookup rule that
// resolves the value into a related record id.
type Field struct {
	Source    string
	Target    string
	Type      FieldType
	Required  bool
	Default   interface{}
	Transform string
	Min       *float64
	Pattern   *regexp.Regexp
}

// EntityMapping binds an entity kind to its target model and field table.
// An empty field table passes the payload through unchanged.
type EntityMapping struct {
	Model  string
	Fields []Field
}

// ValidationError marks a payload that fails the table's checks. It is a
// permanent failure: retrying cannot fix the payload.
type ValidationError struct {
	Entity string
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s payload: field %q %s", e.Entity, e.Field, e.Reason)
}

// TransformFunc resolves a source value into a target value, usually a
// related record id. Returning a nil value omits the field.
type TransformFunc func(ctx context.Context, conn connector.Connector, value interface{}) (interface{}, error)

type Mapper struct {
	conn       connector.Connector
	tables     map[model.EntityType]EntityMapping
	transforms map[string]TransformFunc
	logger     *zap.Logger
}

func NewMapper(conn connector.Connector, logger *zap.Logger) *Mapper {
	return &Mapper{
		conn:   conn,
		tables: Tables(),
		transforms: map[string]TransformFunc{
			"find_or_create_category": findOrCreateCategory,
			"find_country":            lookup("res.country", "name"),
			"find_currency":           lookup("res.currency", "name"),
			"find_state":              lookup("res.country.state", "name"),
		},
		logger: logger,
	}
}

// ModelFor reports the target model for an entity kind.
func (m *Mapper) ModelFor(entity model.EntityType) (string, bool) {
	em, ok := m.tables[entity]
	if !ok {
		return "", false
	}
	return em.Model, true
}

// Map validates the payload against the entity's field table and produces
// the target values for a create: required fields must be present and
// defaults fill fields the payload omits.
func (m *Mapper) Map(ctx context.Context, entity model.EntityType, data map[string]interface{}) (map[string]interface{}, error) {
	return m.mapFields(ctx, entity, data, true)
}

// MapPartial maps only the fields present in the payload, for updates.
// Required fields may be absent and defaults never fill in, so an update
// touches nothing the source did not send.
func (m *Mapper) MapPartial(ctx context.Context, entity model.EntityType, data map[string]interface{}) (map[string]interface{}, error) {
	return m.mapFields(ctx, entity, data, false)
}

func (m *Mapper) mapFields(ctx context.Context, entity model.EntityType, data map[string]interface{}, full bool) (map[string]interface{}, error) {
	em, ok := m.tables[entity]
	if !ok {
		return nil, fmt.Errorf("no mapping table for entity type %s", entity)
	}
	if len(em.Fields) == 0 {
		passthrough := make(map[string]interface{}, len(data))
		for k, v := range data {
			passthrough[k] = v
		}
		return passthrough, nil
	}

	mapped := make(map[string]interface{}, len(em.Fields))
	for _, field := range em.Fields {
		value, present := data[field.Source]
		if !present {
			if !full {
				continue
			}
			if field.Required {
				return nil, &ValidationError{Entity: string(entity), Field: field.Source, Reason: "is required"}
			}
			if field.Default != nil {
				mapped[field.Target] = field.Default
			}
			continue
		}

		converted, err := m.convert(entity, field, value)
		if err != nil {
			return nil, err
		}

		if field.Transform != "" {
			fn, ok := m.transforms[field.Transform]
			if !ok {
				return nil, fmt.Errorf("unknown transform %q for %s.%s", field.Transform, entity, field.Source)
			}
			resolved, err := fn(ctx, m.conn, converted)
			if err != nil {
				return nil, fmt.Errorf("transform %q for %s.%s: %w", field.Transform, entity, field.Source, err)
			}
			if resolved == nil {
				continue
			}
			mapped[field.Target] = resolved
			continue
		}
		mapped[field.Target] = converted
	}
	return mapped, nil
}

func (m *Mapper) convert(entity model.EntityType, field Field, value interface{}) (interface{}, error) {
	invalid := func(reason string) error {
		return &ValidationError{Entity: string(entity), Field: field.Source, Reason: reason}
	}

	switch field.Type {
	case FieldNumber:
		n, ok := toFloat(value)
		if !ok {
			return nil, invalid(fmt.Sprintf("must be numeric, got %T", value))
		}
		if field.Min != nil && n < *field.Min {
			return nil, invalid(fmt.Sprintf("must be at least %v", *field.Min))
		}
		return n, nil

	case FieldBoolean:
		switch b := value.(type) {
		case bool:
			return b, nil
		case string:
			parsed, err := strconv.ParseBool(b)
			if err != nil {
				return nil, invalid("must be a boolean")
			}
			return parsed, nil
		default:
			return nil, invalid("must be a boolean")
		}

	case FieldDate:
		s, ok := value.(string)
		if !ok {
			return nil, invalid("must be a date string")
		}
		if !validDate(s) {
			return nil, invalid(fmt.Sprintf("is not a recognized date: %q", s))
		}
		return s, nil

	case FieldRelation:
		// relations without a transform carry the raw record id
		if field.Transform != "" {
			return value, nil
		}
		n, ok := toFloat(value)
		if !ok {
			return nil, invalid("must be a record id")
		}
		return int64(n), nil

	default: // FieldText
		s := fmt.Sprint(value)
		if field.Pattern != nil && !field.Pattern.MatchString(s) {
			return nil, invalid(fmt.Sprintf("does not match pattern %s", field.Pattern))
		}
		return s, nil
	}
}

func toFloat(value interface{}) (float64, bool) {
	switch n := value.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		parsed, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, false
		}
		return parsed, true
	default:
		return 0, false
	}
}

var dateLayouts = []string{"2006-01-02", time.RFC3339, "2006-01-02T15:04:05"}

func validDate(s string) bool {
	for _, layout := range dateLayouts {
		if _, err := time.Parse(layout, s); err == nil {
			return true
		}
	}
	return false
}

func findOrCreateCategory(ctx context.Context, conn connector.Connector, value interface{}) (interface{}, error) {
	name := fmt.Sprint(value)
	ids, err := conn.SearchRecords(ctx, "product.category",
		[]connector.Condition{connector.Eq("name", name)}, 1)
	if err != nil {
		return nil, fmt.Errorf("search category %q: %w", name, err)
	}
	if len(ids) > 0 {
		return ids[0], nil
	}
	result := conn.CreateRecord(ctx, "product.category", map[string]interface{}{"name": name})
	if !result.Success {
		return nil, fmt.Errorf("create category %q: %s", name, result.Message)
	}
	return result.RecordID, nil
}

// lookup builds a search-only transform: the related record id when a match
// exists, nil (field omitted) otherwise.
func lookup(targetModel, searchField string) TransformFunc {
	return func(ctx context.Context, conn connector.Connector, value interface{}) (interface{}, error) {
		ids, err := conn.SearchRecords(ctx, targetModel,
			[]connector.Condition{connector.Eq(searchField, fmt.Sprint(value))}, 1)
		if err != nil {
			return nil, fmt.Errorf("search %s: %w", targetModel, err)
		}
		if len(ids) == 0 {
			return nil, nil
		}
		return ids[0], nil
	}
}
