// Package config loads configuration structs from YAML files and environment
// variables. Struct fields opt in via `env`, `yaml`, `default` and `required`
// tags; nested structs are traversed recursively. Environment variables win
// over file values, file values win over defaults.
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"
)

var durationType = reflect.TypeOf(time.Duration(0))

// Validator allows config structs to implement custom validation logic,
// run automatically after loading.
type Validator interface {
	Validate() error
}

// Load reads configuration from an optional YAML file and then overlays
// environment variables. An empty path means environment variables only.
// If allowFileErrors is true, file read/parse errors fall back to env-only.
func Load[T any](dest *T, path string, allowFileErrors bool) error {
	if path != "" {
		data, err := os.ReadFile(path) //nolint:gosec // G304: config path comes from the operator
		if err != nil {
			if !allowFileErrors {
				return fmt.Errorf("read config file: %w", err)
			}
		} else if err := yaml.Unmarshal(data, dest); err != nil {
			if !allowFileErrors {
				return fmt.Errorf("parse config file: %w", err)
			}
		}
	}
	return FromEnv(dest)
}

// FromEnv loads configuration from environment variables only, applying
// defaults and checking required fields.
func FromEnv[T any](dest *T) error {
	val := reflect.ValueOf(dest).Elem()

	overridden := make(map[string]bool)
	if err := applyEnv(val, val.Type(), overridden); err != nil {
		return err
	}
	if err := applyDefaults(val, val.Type(), overridden); err != nil {
		var zero T
		*dest = zero
		return err
	}

	if validator, ok := any(*dest).(Validator); ok {
		if err := validator.Validate(); err != nil {
			return fmt.Errorf("validation failed: %w", err)
		}
	}
	return nil
}

// applyEnv walks the struct and sets fields from their env tags, recording
// which fields were explicitly overridden so defaults do not clobber them.
func applyEnv(val reflect.Value, typ reflect.Type, overridden map[string]bool) error {
	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)

		if field.Kind() == reflect.Struct && field.Type() != durationType {
			if err := applyEnv(field, fieldType.Type, overridden); err != nil {
				return err
			}
			continue
		}

		tag := fieldType.Tag.Get("env")
		if tag == "" {
			continue
		}
		envVal := os.Getenv(tag)
		if envVal == "" {
			continue
		}
		if err := setFromString(field, envVal); err != nil {
			return fmt.Errorf("env %s: %w", tag, err)
		}
		overridden[typ.Name()+"."+fieldType.Name] = true
	}
	return nil
}

// applyDefaults fills zero-valued fields from their default tags and collects
// missing required fields into a single error.
func applyDefaults(val reflect.Value, typ reflect.Type, overridden map[string]bool) error {
	var result error
	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)

		if field.Kind() == reflect.Struct && field.Type() != durationType {
			if err := applyDefaults(field, fieldType.Type, overridden); err != nil {
				result = multierror.Append(result, err)
			}
			continue
		}

		defaultTag := fieldType.Tag.Get("default")
		required := isTruthy(fieldType.Tag.Get("required")) && defaultTag == ""

		if field.IsZero() && required {
			result = multierror.Append(result, fmt.Errorf(
				"required field env:%s / yaml:%s is missing",
				fieldType.Tag.Get("env"), fieldType.Tag.Get("yaml")))
			continue
		}

		key := typ.Name() + "." + fieldType.Name
		if field.IsZero() && defaultTag != "" && !overridden[key] {
			if err := setFromString(field, defaultTag); err != nil {
				result = multierror.Append(result, fmt.Errorf("default for %s: %w", fieldType.Name, err))
			}
		}
	}
	return result
}

// setFromString coerces a string into the field's type. Durations are handled
// before the kind switch because they are int64 underneath.
func setFromString(field reflect.Value, s string) error {
	if field.Type() == durationType {
		d, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		field.SetInt(int64(d))
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(s)
	case reflect.Int, reflect.Int32, reflect.Int64:
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid int %q: %w", s, err)
		}
		field.SetInt(v)
	case reflect.Float32, reflect.Float64:
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("invalid float %q: %w", s, err)
		}
		field.SetFloat(v)
	case reflect.Bool:
		v, err := strconv.ParseBool(s)
		if err != nil {
			return fmt.Errorf("invalid bool %q: %w", s, err)
		}
		field.SetBool(v)
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type %s", field.Type())
		}
		parts := strings.Split(s, ",")
		slice := reflect.MakeSlice(field.Type(), len(parts), len(parts))
		for i, p := range parts {
			slice.Index(i).SetString(strings.TrimSpace(p))
		}
		field.Set(slice)
	default:
		return fmt.Errorf("unsupported kind %s", field.Kind())
	}
	return nil
}

func isTruthy(s string) bool {
	s = strings.ToLower(s)
	return s == "true" || s == "1"
}
