// Copyright (c) The claimr-go Authors.
// Licensed under the MIT License.
package log

import (
	"context"
	"log/slog"
	"reflect"

	"github.com/iancoleman/strcase"
)

// Struct logs the exported fields of a struct (following pointers) at debug
// level, one attribute per field. This is expensive, so it bails out early if
// debug logging is disabled.
func (l *Logger) Struct(ctx context.Context, msg string, v any) {
	if !l.Enabled(ctx, slog.LevelDebug) {
		return
	}

	val := realValue(reflect.ValueOf(v))
	if val.Kind() != reflect.Struct {
		l.Log(ctx, slog.LevelDebug, msg, slog.Any("value", v))
		return
	}
	l.Log(ctx, slog.LevelDebug, msg, reflectAttrs(val)...)
}

func reflectAttrs(val reflect.Value) []slog.Attr {
	typ := val.Type()
	var attrs []slog.Attr
	for i := range typ.NumField() {
		f := typ.Field(i)
		if !f.IsExported() {
			continue
		}
		attrs = append(attrs, reflectAttr(
			strcase.ToSnake(f.Name),
			realValue(val.Field(i)),
		)...)
	}
	return attrs
}

func reflectAttr(name string, val reflect.Value) []slog.Attr {
	// Ignore zero values to keep the log cleaner.
	if val.Kind() == reflect.Invalid || val.IsZero() {
		return nil
	}

	if val.Kind() == reflect.Struct {
		as := reflectAttrs(val)
		if len(as) == 0 {
			return nil
		}

		cpy := make([]any, len(as))
		for i, a := range as {
			cpy[i] = a
		}
		return []slog.Attr{slog.Group(name, cpy...)}
	}

	switch v := val.Interface().(type) {
	case []byte:
		return []slog.Attr{slog.Int(name+"_len", len(v))}
	case string:
		// Proof logs can be large; only their size is useful here.
		if len(v) > 256 {
			return []slog.Attr{slog.Int(name+"_len", len(v))}
		}
	}

	return []slog.Attr{slog.Any(name, val.Interface())}
}

func realValue(val reflect.Value) reflect.Value {
	for val.Kind() == reflect.Pointer || val.Kind() == reflect.Interface {
		if val.IsNil() {
			return reflect.Value{}
		}
		val = val.Elem()
	}
	return val
}
