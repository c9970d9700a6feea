package config

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// set assigns value (as a string, exactly how it arrives from a CLI flag
// or env var) onto the Settings field whose mapstructure tag equals key.
// Reflection keeps this in sync with the struct automatically instead of
// a hand-maintained switch that drifts from the field list.
func (s *Settings) set(key, value string) error {
	rv := reflect.ValueOf(s).Elem()
	rt := rv.Type()

	for i := 0; i < rt.NumField(); i++ {
		field := rt.Field(i)
		tag := field.Tag.Get("mapstructure")
		if tag != key {
			continue
		}
		fv := rv.Field(i)
		return setField(fv, value)
	}
	return fmt.Errorf("config: unknown setting %q", key)
}

func setField(fv reflect.Value, value string) error {
	switch fv.Interface().(type) {
	case time.Duration:
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("config: bad duration %q: %w", value, err)
		}
		fv.Set(reflect.ValueOf(d))
		return nil
	case []int:
		parts := strings.Split(value, ",")
		out := make([]int, 0, len(parts))
		for _, p := range parts {
			n, err := strconv.Atoi(strings.TrimSpace(p))
			if err != nil {
				return fmt.Errorf("config: bad int in list %q: %w", value, err)
			}
			out = append(out, n)
		}
		fv.Set(reflect.ValueOf(out))
		return nil
	}

	switch fv.Kind() {
	case reflect.String:
		fv.SetString(value)
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("config: bad bool %q: %w", value, err)
		}
		fv.SetBool(b)
	case reflect.Int, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("config: bad int %q: %w", value, err)
		}
		fv.SetInt(n)
	default:
		return fmt.Errorf("config: unsupported field kind %s", fv.Kind())
	}
	return nil
}
