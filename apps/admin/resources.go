package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/trezcool/shule/core/resource"
)

// formSpecs declares the create/edit forms of every school-management
// resource the CLI can drive. Business fields stay opaque to the engine;
// the specs only pin down what the forms need: required fields, numeric
// bounds, defaults and derived amounts.
var formSpecs = map[string]resource.FormSpec{
	"items": {
		Resource: "items",
		Fields: []resource.FieldSpec{
			{Name: "name", Kind: resource.KindText, Required: true},
			{Name: "category", Kind: resource.KindText},
			{Name: "price", Kind: resource.KindNumber, Min: resource.Float(0)},
			{Name: "stock", Kind: resource.KindNumber, Min: resource.Float(0)},
		},
	},
	"uniforms": {
		Resource: "uniforms",
		Fields: []resource.FieldSpec{
			{Name: "student_id", Kind: resource.KindText, Required: true},
			{Name: "item_id", Kind: resource.KindText, Required: true},
			{Name: "quantity", Kind: resource.KindNumber, Required: true, Default: float64(1)},
			{Name: "unit_price", Kind: resource.KindNumber, Min: resource.Float(0)},
			{Name: "amount", Kind: resource.KindNumber, Min: resource.Float(0)},
		},
		Quantity:   "quantity",
		UnitAmount: "unit_price",
		Amount:     "amount",
	},
	"rooms": {
		Resource: "rooms",
		Fields: []resource.FieldSpec{
			{Name: "name", Kind: resource.KindText, Required: true},
			{Name: "hostel_id", Kind: resource.KindText, Required: true},
			{Name: "capacity", Kind: resource.KindNumber, Min: resource.Float(0)},
			{Name: "status", Kind: resource.KindText, Default: "available"},
		},
	},
	"enrollments": {
		Resource: "enrollments",
		Fields: []resource.FieldSpec{
			{Name: "student_id", Kind: resource.KindText, Required: true},
			{Name: "class", Kind: resource.KindText, Required: true},
			{Name: "academic_year", Kind: resource.KindText, Required: true},
			{Name: "status", Kind: resource.KindText, Default: "active"},
		},
	},
	"routes": {
		Resource: "routes",
		Fields: []resource.FieldSpec{
			{Name: "name", Kind: resource.KindText, Required: true},
			{Name: "fare", Kind: resource.KindNumber, Min: resource.Float(0)},
			{Name: "driver", Kind: resource.KindText},
		},
	},
	"payslips": {
		Resource: "payslips",
		Fields: []resource.FieldSpec{
			{Name: "employee_id", Kind: resource.KindText, Required: true},
			{Name: "month", Kind: resource.KindText, Required: true},
			{Name: "basic_salary", Kind: resource.KindNumber, Min: resource.Float(0)},
			{Name: "allowances", Kind: resource.KindNumber, Min: resource.Float(0)},
			{Name: "deductions", Kind: resource.KindNumber, Min: resource.Float(0)},
		},
	},
	"papers": {
		Resource: "papers",
		Fields: []resource.FieldSpec{
			{Name: "title", Kind: resource.KindText, Required: true},
			{Name: "subject", Kind: resource.KindText, Required: true},
			{Name: "term", Kind: resource.KindText},
			{Name: "year", Kind: resource.KindNumber, Min: resource.Float(2000)},
		},
	},
	"categories": {
		Resource: "categories",
		Fields: []resource.FieldSpec{
			{Name: "name", Kind: resource.KindText, Required: true},
			{Name: "description", Kind: resource.KindText},
		},
	},
}

func formSpecFor(res string) (resource.FormSpec, error) {
	spec, ok := formSpecs[res]
	if !ok {
		return resource.FormSpec{}, fmt.Errorf(
			"unknown resource %q (known: %s)", res, strings.Join(knownResources(), ", "))
	}
	return spec, nil
}

func knownResources() []string {
	names := make([]string, 0, len(formSpecs))
	for name := range formSpecs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// coerceValue turns a -set flag's raw string into the type its field
// declares; numbers that fail to parse are passed through as-is so that
// validation can report them.
func coerceValue(spec resource.FormSpec, name, raw string) interface{} {
	for _, fld := range spec.Fields {
		if fld.Name != name || fld.Kind != resource.KindNumber {
			continue
		}
		if n, err := strconv.ParseFloat(strings.TrimSpace(raw), 64); err == nil {
			return n
		}
	}
	return raw
}
