package bridge

import (
	"fmt"
	"log"
	"reflect"
)

// Entry points a notification target must provide.
const (
	MethodSetMessage    = "SetMessage"
	MethodOnInitialized = "OnGStreamerInitialized"

	// NativeTag marks the field holding the component state.
	NativeTag      = "native"
	CustomDataName = "custom_data"
)

// Class is the resolved binding of a notification target type.
type Class struct {
	Type       reflect.Type
	fieldIndex []int
}

// ResolveClass binds the entry points of target's type. Missing entry points
// are reported through the standard logger, which is usable before the
// application logger is configured.
func ResolveClass(target interface{}) (*Class, error) {
	t := reflect.TypeOf(target)
	if t == nil || t.Kind() != reflect.Ptr || t.Elem().Kind() != reflect.Struct {
		err := fmt.Errorf("notification target must be a pointer to a struct, got %T", target)
		log.Printf("gst-udpstream: %v", err)
		return nil, err
	}

	if err := checkMethod(t, MethodSetMessage, reflect.TypeOf("")); err != nil {
		log.Printf("gst-udpstream: %v", err)
		return nil, err
	}
	if err := checkMethod(t, MethodOnInitialized); err != nil {
		log.Printf("gst-udpstream: %v", err)
		return nil, err
	}

	field, ok := findField(t.Elem())
	if !ok {
		err := fmt.Errorf("%s has no field tagged %s:%q", t.Elem().Name(), NativeTag, CustomDataName)
		log.Printf("gst-udpstream: %v", err)
		return nil, err
	}
	if field.Type.Kind() != reflect.Interface || field.Type.NumMethod() != 0 {
		err := fmt.Errorf("%s.%s must be declared as interface{}", t.Elem().Name(), field.Name)
		log.Printf("gst-udpstream: %v", err)
		return nil, err
	}

	return &Class{Type: t, fieldIndex: field.Index}, nil
}

func checkMethod(t reflect.Type, name string, params ...reflect.Type) error {
	m, ok := t.MethodByName(name)
	if !ok {
		return fmt.Errorf("%w: %s.%s", ErrNoMethod, t.Elem().Name(), name)
	}
	// The receiver is the first input.
	if m.Type.NumIn() != len(params)+1 {
		return fmt.Errorf("%s.%s must take %d arguments", t.Elem().Name(), name, len(params))
	}
	for i, p := range params {
		if m.Type.In(i+1) != p {
			return fmt.Errorf("%s.%s argument %d must be %s", t.Elem().Name(), name, i, p)
		}
	}
	return nil
}

func findField(t reflect.Type) (reflect.StructField, bool) {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.Tag.Get(NativeTag) == CustomDataName {
			return f, true
		}
	}
	return reflect.StructField{}, false
}

// Data returns the value stored in target's backing field.
func (c *Class) Data(target interface{}) (interface{}, error) {
	v, err := c.field(target)
	if err != nil {
		return nil, err
	}
	if v.IsNil() {
		return nil, nil
	}
	return v.Interface(), nil
}

// SetData stores data in target's backing field. A nil data clears it.
func (c *Class) SetData(target interface{}, data interface{}) error {
	v, err := c.field(target)
	if err != nil {
		return err
	}
	if data == nil {
		v.Set(reflect.Zero(v.Type()))
		return nil
	}
	v.Set(reflect.ValueOf(data))
	return nil
}

func (c *Class) field(target interface{}) (reflect.Value, error) {
	if target == nil {
		return reflect.Value{}, fmt.Errorf("nil target")
	}
	v := reflect.ValueOf(target)
	if v.Type() != c.Type {
		return reflect.Value{}, fmt.Errorf("target %T is not of bound class %s", target, c.Type)
	}
	if v.IsNil() {
		return reflect.Value{}, fmt.Errorf("nil target")
	}
	f := v.Elem().FieldByIndex(c.fieldIndex)
	if !f.CanSet() {
		return reflect.Value{}, fmt.Errorf("field %s of %s is not settable", CustomDataName, c.Type)
	}
	return f, nil
}
