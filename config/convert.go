// This file holds the expression evaluation helpers that turn raw HCL
// attribute expressions into native Go values, with implicit conversion
// through the cty type system.

package config

import (
	"fmt"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
	"github.com/zclconf/go-cty/cty/gocty"
)

// evalValue evaluates expr and converts the result to want. The second
// return is false when the attribute was absent or null.
func evalValue(expr hcl.Expression, want cty.Type) (cty.Value, bool, error) {
	if expr == nil {
		return cty.NilVal, false, nil
	}
	val, diags := expr.Value(nil)
	if diags.HasErrors() {
		return cty.NilVal, false, diags
	}
	if val.IsNull() {
		return cty.NilVal, false, nil
	}
	converted, err := convert.Convert(val, want)
	if err != nil {
		return cty.NilVal, false, fmt.Errorf("cannot convert %s to %s: %w",
			val.Type().FriendlyName(), want.FriendlyName(), err)
	}
	return converted, true, nil
}

func evalString(expr hcl.Expression) (string, bool, error) {
	val, ok, err := evalValue(expr, cty.String)
	if err != nil || !ok {
		return "", ok, err
	}
	var s string
	if err := gocty.FromCtyValue(val, &s); err != nil {
		return "", false, err
	}
	return s, true, nil
}

func evalInt(expr hcl.Expression) (int, bool, error) {
	val, ok, err := evalValue(expr, cty.Number)
	if err != nil || !ok {
		return 0, ok, err
	}
	var n int
	if err := gocty.FromCtyValue(val, &n); err != nil {
		return 0, false, err
	}
	return n, true, nil
}

func evalFloat(expr hcl.Expression) (float64, bool, error) {
	val, ok, err := evalValue(expr, cty.Number)
	if err != nil || !ok {
		return 0, ok, err
	}
	var f float64
	if err := gocty.FromCtyValue(val, &f); err != nil {
		return 0, false, err
	}
	return f, true, nil
}

func evalBool(expr hcl.Expression) (bool, bool, error) {
	val, ok, err := evalValue(expr, cty.Bool)
	if err != nil || !ok {
		return false, ok, err
	}
	var b bool
	if err := gocty.FromCtyValue(val, &b); err != nil {
		return false, false, err
	}
	return b, true, nil
}

// evalDuration evaluates a duration attribute written as a string, for
// example "30s" or "100ms".
func evalDuration(expr hcl.Expression) (time.Duration, bool, error) {
	s, ok, err := evalString(expr)
	if err != nil || !ok {
		return 0, ok, err
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, false, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	return d, true, nil
}
