package resource

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/trezcool/shule/core"
)

type FieldKind int

const (
	KindText FieldKind = iota
	KindNumber
)

type (
	// FieldSpec declares one form field: its kind, whether it is required,
	// optional numeric bounds and the documented default used when the form
	// opens in create mode or a record is missing the field.
	FieldSpec struct {
		Name     string
		Kind     FieldKind
		Required bool
		Min      *float64
		Max      *float64
		Default  interface{}
	}

	// FormSpec declares a resource form. When Quantity, UnitAmount and
	// Amount are all set, the amount field is derived as quantity times
	// unit amount while quantity is being edited.
	FormSpec struct {
		Resource   string
		Fields     []FieldSpec
		Quantity   string
		UnitAmount string
		Amount     string
	}
)

func Float(v float64) *float64 { return &v }

// FormController owns one create/edit form: its field values, validation
// and submission. Mode is decided by how it was opened.
type FormController struct {
	backend Backend
	log     core.Logger
	spec    FormSpec
	onSaved func()

	editing    bool
	recordID   string
	values     map[string]interface{}
	ceiling    float64 // available-stock ceiling for quantity; 0 = unknown
	errMsg     string
	opened     bool
	submitting bool
}

// NewFormController builds a form for the given spec. onSaved is the owning
// list's refresh callback, invoked after every successful submit; it may be
// nil.
func NewFormController(backend Backend, spec FormSpec, logger core.Logger, onSaved func()) *FormController {
	return &FormController{
		backend: backend,
		log:     logger,
		spec:    spec,
		onSaved: onSaved,
	}
}

// Open resets every field to its declared default and enters create mode.
func (fc *FormController) Open() {
	fc.editing = false
	fc.recordID = ""
	fc.values = make(map[string]interface{}, len(fc.spec.Fields))
	for _, fld := range fc.spec.Fields {
		fc.values[fld.Name] = fld.defaultValue()
	}
	fc.errMsg = ""
	fc.opened = true
}

// OpenForEdit seeds every field from the record, falling back to the
// declared default for missing properties. Partially populated records are
// fine. The record's id becomes the update target and is never mutated.
func (fc *FormController) OpenForEdit(rec Record) {
	fc.Open()
	fc.editing = true
	fc.recordID = rec.ID
	for _, fld := range fc.spec.Fields {
		if v, ok := rec.Fields[fld.Name]; ok && v != nil {
			fc.values[fld.Name] = v
		}
	}
}

// Set writes one field value. When the quantity field is edited and the
// spec declares a derived amount, the amount is recomputed as quantity
// times unit amount; that recompute is the only writer of the amount field
// while quantity is being edited. Editing the amount directly never
// rewrites quantity.
func (fc *FormController) Set(name string, value interface{}) {
	if !fc.opened {
		return
	}
	fc.values[name] = value
	if fc.spec.Amount == "" || fc.spec.Quantity == "" || fc.spec.UnitAmount == "" {
		return
	}
	if name == fc.spec.Quantity || name == fc.spec.UnitAmount {
		qty, qok := toFloat(fc.values[fc.spec.Quantity])
		unit, uok := toFloat(fc.values[fc.spec.UnitAmount])
		if qok && uok {
			fc.values[fc.spec.Amount] = qty * unit
		}
	}
}

// SetQuantityCeiling declares the available-stock ceiling for the quantity
// field; zero means unknown and disables the check.
func (fc *FormController) SetQuantityCeiling(n float64) {
	fc.ceiling = n
}

// Validate runs required-presence and numeric range checks. Failure sets a
// single user-visible error string and the form must not submit.
func (fc *FormController) Validate() error {
	for _, fld := range fc.spec.Fields {
		if err := fc.validateField(fld); err != nil {
			fc.errMsg = err.Error()
			return err
		}
	}
	fc.errMsg = ""
	return nil
}

func (fc *FormController) validateField(fld FieldSpec) error {
	value := fc.values[fld.Name]

	if fld.Required {
		missing := value == nil || isBlank(value)
		// zero is a legitimate value for numbers (a free item's price),
		// so only strings go through the required validator
		if !missing && fld.Kind == KindText {
			missing = core.Validate.Var(value, "required") != nil
		}
		if missing {
			return core.NewValidationError(nil, core.FieldError{Field: fld.Name, Error: "this field is required"})
		}
	}
	if fld.Kind != KindNumber {
		return nil
	}
	if value == nil || isBlank(value) {
		return nil // optional and absent
	}

	n, ok := toFloat(value)
	if !ok {
		return core.NewValidationError(nil, core.FieldError{Field: fld.Name, Error: "must be a number"})
	}
	if fld.Min != nil && n < *fld.Min {
		return core.NewValidationError(nil, core.FieldError{
			Field: fld.Name, Error: fmt.Sprintf("must be %s or more", trimFloat(*fld.Min)),
		})
	}
	if fld.Max != nil && n > *fld.Max {
		return core.NewValidationError(nil, core.FieldError{
			Field: fld.Name, Error: fmt.Sprintf("must be %s or less", trimFloat(*fld.Max)),
		})
	}
	if fld.Name == fc.spec.Quantity {
		if n <= 0 {
			return core.NewValidationError(nil, core.FieldError{Field: fld.Name, Error: "must be greater than 0"})
		}
		if fc.ceiling > 0 && n > fc.ceiling {
			return core.NewValidationError(nil, core.FieldError{
				Field: fld.Name, Error: fmt.Sprintf("only %s in stock", trimFloat(fc.ceiling)),
			})
		}
	}
	return nil
}

// Submit validates then POSTs (create) or PUTs (edit). On success the owning
// list is refreshed and the form closes; on failure the server's message (or
// the documented fallback) is surfaced and every entered value stays intact.
// A submission already in flight refuses a second one.
func (fc *FormController) Submit(ctx context.Context) error {
	if !fc.opened {
		return errors.New("form is not open")
	}
	if fc.submitting {
		return errors.New("submission already in flight")
	}
	if err := fc.Validate(); err != nil {
		return err
	}

	fc.submitting = true
	defer func() { fc.submitting = false }()

	payload := make(map[string]interface{}, len(fc.values))
	for name, value := range fc.values {
		if name == "id" || name == "_id" {
			continue // the engine never writes an id field
		}
		payload[name] = value
	}

	var err error
	if fc.editing {
		_, err = fc.backend.Update(ctx, fc.spec.Resource, fc.recordID, payload)
	} else {
		_, err = fc.backend.Create(ctx, fc.spec.Resource, payload)
	}
	if err != nil {
		fc.errMsg = userMessage(err)
		return errors.Wrap(err, "submitting "+fc.spec.Resource+" form")
	}

	if fc.onSaved != nil {
		fc.onSaved()
	}
	fc.Close()
	return nil
}

func (fc *FormController) Close() {
	fc.opened = false
	fc.errMsg = ""
}

func (fc *FormController) Opened() bool     { return fc.opened }
func (fc *FormController) Editing() bool    { return fc.editing }
func (fc *FormController) Submitting() bool { return fc.submitting }
func (fc *FormController) Err() string      { return fc.errMsg }

func (fc *FormController) Value(name string) interface{} {
	return fc.values[name]
}

// Values returns a copy of the current field values.
func (fc *FormController) Values() map[string]interface{} {
	values := make(map[string]interface{}, len(fc.values))
	for name, value := range fc.values {
		values[name] = value
	}
	return values
}

func (fld FieldSpec) defaultValue() interface{} {
	if fld.Default != nil {
		return fld.Default
	}
	if fld.Kind == KindNumber {
		return float64(0)
	}
	return ""
}

func isBlank(v interface{}) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) == ""
	}
	return false
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}
