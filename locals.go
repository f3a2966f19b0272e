package flawless

import (
	"fmt"
	"reflect"
	"sort"
	"strconv"

	"github.com/davecgh/go-spew/spew"
)

// selfName is the variable whose attributes are expanded into "self.<attr>" entries.
const selfName = "self"

var reprConfig = &spew.ConfigState{
	MaxDepth:                3,
	DisablePointerAddresses: true,
	DisableCapacities:       true,
	SortKeys:                true,
}

// localsError annotates a failure with variables of the function that created it.
type localsError struct {
	error
	function string
	locals   map[string]interface{}
}

func (e *localsError) Unwrap() error { return e.error }

// WithLocals attaches variables of the calling function to err, so reports
// can show them next to that function's frame. Name a receiver "self" to have
// its fields reported as "self.<field>". If err is nil, WithLocals returns nil.
//
//	return flawless.WithLocals(err, map[string]interface{}{"self": s, "id": id})
func WithLocals(err error, locals map[string]interface{}) error {
	if err == nil {
		return nil
	}

	copied := make(map[string]interface{}, len(locals))
	for k, v := range locals {
		copied[k] = v
	}
	return &localsError{
		error:    err,
		function: callerFunction(1),
		locals:   copied,
	}
}

// boundLocals renders at most MaxLocals variables, each cut to MaxStackRepr
// characters. "self" is replaced by up to MaxLocals of its attributes.
func boundLocals(locals map[string]interface{}) map[string]string {
	if locals == nil {
		return nil
	}

	keys := make([]string, 0, len(locals))
	for k := range locals {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if len(keys) > MaxLocals {
		keys = keys[:MaxLocals]
	}

	out := make(map[string]string, len(keys))
	for _, k := range keys {
		if k == selfName {
			continue
		}
		out[k] = truncate(repr(locals[k]), MaxStackRepr)
	}

	if self, ok := locals[selfName]; ok {
		for _, attr := range attributes(self, MaxLocals) {
			if attr.name == selfName {
				continue
			}
			out[selfName+"."+attr.name] = truncate(attr.repr, MaxStackRepr)
		}
	}
	return out
}

// repr renders a captured value. Strings and errors are quoted so that
// their boundaries stay visible.
func repr(v interface{}) string {
	switch v := v.(type) {
	case nil:
		return "nil"
	case string:
		return strconv.Quote(v)
	case error:
		if rv := reflect.ValueOf(v); rv.Kind() == reflect.Ptr && rv.IsNil() {
			return reprConfig.Sprintf("%v", v)
		}
		return strconv.Quote(v.Error())
	default:
		return reprConfig.Sprintf("%v", v)
	}
}

type attribute struct {
	name string
	repr string
}

// attributes returns up to limit attributes of v: the fields of a struct (or
// pointer to struct) in declaration order, or the entries of a string-keyed
// map in key order. Other values have no attributes.
func attributes(v interface{}, limit int) []attribute {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Ptr || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}

	var attrs []attribute
	switch rv.Kind() {
	case reflect.Struct:
		t := rv.Type()
		for i := 0; i < rv.NumField() && len(attrs) < limit; i++ {
			field := rv.Field(i)
			var r string
			if field.CanInterface() {
				r = repr(field.Interface())
			} else {
				r = fmt.Sprintf("%#v", field)
			}
			attrs = append(attrs, attribute{name: t.Field(i).Name, repr: r})
		}
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil
		}
		keys := rv.MapKeys()
		sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
		for _, key := range keys {
			if len(attrs) == limit {
				break
			}
			attrs = append(attrs, attribute{name: key.String(), repr: repr(rv.MapIndex(key).Interface())})
		}
	}
	return attrs
}

// truncate cuts s to at most n characters.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
