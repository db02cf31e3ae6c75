package rcshadow

import (
	"fmt"
	"reflect"
)

// UniqueKeyer is implemented by elements that can be matched across a
// conversion, so collection merges update the existing element instead
// of duplicating it.
type UniqueKeyer interface {
	UniqueKey() string
}

// Converter maintains the entity-type to shadow-type registry and
// performs the recursive conversions. It is safe for concurrent reads
// once all Register calls are done.
type Converter struct {
	toShadow map[reflect.Type]reflect.Type
	toEntity map[reflect.Type]reflect.Type
}

// NewConverter creates an empty converter.
func NewConverter() *Converter {
	return &Converter{
		toShadow: make(map[reflect.Type]reflect.Type),
		toEntity: make(map[reflect.Type]reflect.Type),
	}
}

// Register binds an entity type to its shadow type. Both arguments are
// exemplar pointers to struct (their values are ignored). The shadow
// must be instance-compatible with the entity: every exported entity
// field needs a settable, same-named shadow field of a compatible type.
// Violations fail fast here, not at conversion time.
func (c *Converter) Register(entity, shadow any) error {
	entityType := reflect.TypeOf(entity)
	shadowType := reflect.TypeOf(shadow)
	if entityType == nil || entityType.Kind() != reflect.Ptr || entityType.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("rcshadow: entity exemplar must be a pointer to struct, got %T", entity)
	}
	if shadowType == nil || shadowType.Kind() != reflect.Ptr || shadowType.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("rcshadow: shadow exemplar must be a pointer to struct, got %T", shadow)
	}

	if err := c.checkCompatible(entityType.Elem(), shadowType.Elem()); err != nil {
		return err
	}

	c.toShadow[entityType] = shadowType
	c.toEntity[shadowType] = entityType
	return nil
}

// checkCompatible verifies the shadow can host every exported entity
// field. Fields whose types are themselves registered (or registered
// slices) are matched by name only, since their types map pairwise.
func (c *Converter) checkCompatible(entity, shadow reflect.Type) error {
	for i := 0; i < entity.NumField(); i++ {
		field := entity.Field(i)
		if !field.IsExported() {
			continue
		}
		counterpart, ok := shadow.FieldByName(field.Name)
		if !ok {
			return fmt.Errorf("rcshadow: shadow %s is missing field %s of entity %s",
				shadow.Name(), field.Name, entity.Name())
		}
		if field.Type == counterpart.Type {
			continue
		}
		if field.Type.Kind() == reflect.Ptr || field.Type.Kind() == reflect.Slice {
			// Convertible fields swap types; name match suffices.
			continue
		}
		if !field.Type.AssignableTo(counterpart.Type) {
			return fmt.Errorf("rcshadow: field %s: entity type %s not assignable to shadow type %s",
				field.Name, field.Type, counterpart.Type)
		}
	}
	return nil
}

// arena assigns integer ids to visited source values so cyclic entity
// graphs terminate, and memoizes each source's converted counterpart so
// parent/child back-references land on the same converted instance.
type arena struct {
	ids       map[any]int
	next      int
	converted map[int]reflect.Value
}

func newArena() *arena {
	return &arena{ids: make(map[any]int), converted: make(map[int]reflect.Value)}
}

func (a *arena) lookup(src reflect.Value) (reflect.Value, bool) {
	id, ok := a.ids[src.Interface()]
	if !ok {
		return reflect.Value{}, false
	}
	out, ok := a.converted[id]
	return out, ok
}

func (a *arena) store(src, dst reflect.Value) {
	id, ok := a.ids[src.Interface()]
	if !ok {
		id = a.next
		a.next++
		a.ids[src.Interface()] = id
	}
	a.converted[id] = dst
}

// FromEntity converts a domain entity subtree into its shadow
// representation, preserving parent/child linkage. entity must be a
// registered pointer-to-struct.
func (c *Converter) FromEntity(entity any) (any, error) {
	src := reflect.ValueOf(entity)
	out, err := c.convert(src, c.toShadow, newArena(), reflect.Value{})
	if err != nil {
		return nil, err
	}
	return out.Interface(), nil
}

// ToEntity converts a shadow subtree back into its domain
// representation. When target is non-nil the conversion merges into it:
// collection elements are matched by unique key and updated in place
// rather than duplicated.
func (c *Converter) ToEntity(shadow any, target any) (any, error) {
	src := reflect.ValueOf(shadow)
	var into reflect.Value
	if target != nil {
		into = reflect.ValueOf(target)
	}
	out, err := c.convert(src, c.toEntity, newArena(), into)
	if err != nil {
		return nil, err
	}
	return out.Interface(), nil
}

// convert maps one pointer-to-struct value through the given registry
// direction, recursively converting registered fields and copying
// everything else verbatim.
func (c *Converter) convert(src reflect.Value, registry map[reflect.Type]reflect.Type, a *arena, into reflect.Value) (reflect.Value, error) {
	if !src.IsValid() || src.IsNil() {
		return reflect.Value{}, fmt.Errorf("rcshadow: cannot convert nil value")
	}
	if src.Kind() != reflect.Ptr || src.Elem().Kind() != reflect.Struct {
		return reflect.Value{}, fmt.Errorf("rcshadow: cannot convert %s, want pointer to struct", src.Type())
	}
	if memo, ok := a.lookup(src); ok {
		return memo, nil
	}

	dstType, ok := registry[src.Type()]
	if !ok {
		return reflect.Value{}, fmt.Errorf("rcshadow: no conversion registered for %s", src.Type())
	}

	dst := into
	if !dst.IsValid() || dst.IsZero() {
		dst = reflect.New(dstType.Elem())
	} else if dst.Type() != dstType {
		return reflect.Value{}, fmt.Errorf("rcshadow: target is %s, conversion of %s produces %s",
			dst.Type(), src.Type(), dstType)
	}
	a.store(src, dst)

	srcElem := src.Elem()
	dstElem := dst.Elem()
	srcType := srcElem.Type()

	for i := 0; i < srcType.NumField(); i++ {
		field := srcType.Field(i)
		if !field.IsExported() {
			continue
		}
		srcField := srcElem.Field(i)
		dstField := dstElem.FieldByName(field.Name)
		if !dstField.IsValid() || !dstField.CanSet() {
			continue
		}

		switch {
		case srcField.Kind() == reflect.Ptr && srcField.Type().Elem().Kind() == reflect.Struct:
			if srcField.IsNil() {
				continue
			}
			if _, registered := registry[srcField.Type()]; registered {
				converted, err := c.convert(srcField, registry, a, reflect.Value{})
				if err != nil {
					return reflect.Value{}, err
				}
				if !converted.Type().AssignableTo(dstField.Type()) {
					return reflect.Value{}, fmt.Errorf("rcshadow: converted field %s has type %s, want %s",
						field.Name, converted.Type(), dstField.Type())
				}
				dstField.Set(converted)
				continue
			}
			if srcField.Type().AssignableTo(dstField.Type()) {
				dstField.Set(srcField)
			}

		case srcField.Kind() == reflect.Slice:
			if srcField.IsNil() {
				continue
			}
			if err := c.convertSlice(srcField, dstField, registry, a); err != nil {
				return reflect.Value{}, err
			}

		default:
			if srcField.Type().AssignableTo(dstField.Type()) {
				dstField.Set(srcField)
			}
		}
	}

	return dst, nil
}

// convertSlice converts a homogeneous collection field. Elements with a
// registered conversion are converted individually, merging into an
// existing destination element with the same unique key when one is
// present; elements without a registered conversion are copied
// unchanged.
func (c *Converter) convertSlice(src, dst reflect.Value, registry map[reflect.Type]reflect.Type, a *arena) error {
	elemType := src.Type().Elem()
	if _, registered := registry[elemType]; !registered {
		if src.Type().AssignableTo(dst.Type()) {
			dst.Set(src)
		}
		return nil
	}

	existingByKey := make(map[string]reflect.Value)
	for i := 0; i < dst.Len(); i++ {
		if keyer, ok := dst.Index(i).Interface().(UniqueKeyer); ok {
			existingByKey[keyer.UniqueKey()] = dst.Index(i)
		}
	}

	out := reflect.MakeSlice(dst.Type(), 0, src.Len())
	appended := make(map[string]bool)
	for i := 0; i < src.Len(); i++ {
		elem := src.Index(i)
		into := reflect.Value{}
		if keyer, ok := elem.Interface().(UniqueKeyer); ok {
			if existing, found := existingByKey[keyer.UniqueKey()]; found && !appended[keyer.UniqueKey()] {
				into = existing
				appended[keyer.UniqueKey()] = true
			}
		}
		converted, err := c.convert(elem, registry, a, into)
		if err != nil {
			return err
		}
		out = reflect.Append(out, converted)
	}
	dst.Set(out)
	return nil
}
