package netidx

import (
	"fmt"
	"reflect"
	"strconv"

	"github.com/estokes/solar/internal/mppt"
)

// applySettingsField mutates the named field (by its json tag) of s to
// value, parsed per the field's Go type: f32 fields accept a float
// literal, bool fields accept true/false, u8 fields accept a small
// unsigned integer. Any other shape is rejected with a warning-worthy
// error rather than silently applied.
func applySettingsField(s *mppt.Settings, field, value string) error {
	rv := reflect.ValueOf(s).Elem()
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		tag := rt.Field(i).Tag.Get("json")
		if tag != field {
			continue
		}
		fv := rv.Field(i)
		switch fv.Kind() {
		case reflect.Float32, reflect.Float64:
			f, err := strconv.ParseFloat(value, 32)
			if err != nil {
				return fmt.Errorf("field %s expects a float, got %q", field, value)
			}
			fv.SetFloat(f)
			return nil
		case reflect.Bool:
			b, err := parseBool(value)
			if err != nil {
				return fmt.Errorf("field %s expects a bool, got %q", field, value)
			}
			fv.SetBool(b)
			return nil
		case reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uint:
			u, err := strconv.ParseUint(value, 10, 8)
			if err != nil {
				return fmt.Errorf("field %s expects a small unsigned integer, got %q", field, value)
			}
			fv.SetUint(u)
			return nil
		default:
			return fmt.Errorf("field %s has unsupported type %s", field, fv.Kind())
		}
	}
	return fmt.Errorf("unknown settings field %q", field)
}
