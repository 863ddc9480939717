package apierr

import (
	"regexp"
	"strings"
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

var phonePattern = regexp.MustCompile(`^(\+62|62|0)8[1-9][0-9]{6,10}$`)

// Validator collects client-side form errors before anything reaches the
// network.
type Validator struct {
	fields map[string][]string
}

// Required records msg for field when value is blank.
func (v *Validator) Required(field, value, msg string) {
	if strings.TrimSpace(value) == "" {
		v.Add(field, msg)
	}
}

// Email records an error when value is not a well-formed address.
// Blank values are left to Required.
func (v *Validator) Email(field, value string) {
	if value = strings.TrimSpace(value); value != "" && !emailPattern.MatchString(value) {
		v.Add(field, "Format email tidak valid")
	}
}

// Phone records an error when value is not an Indonesian mobile number.
// Blank values are accepted.
func (v *Validator) Phone(field, value string) {
	value = strings.NewReplacer(" ", "", "-", "").Replace(strings.TrimSpace(value))
	if value != "" && !phonePattern.MatchString(value) {
		v.Add(field, "Format nomor telepon tidak valid")
	}
}

// MinLength records an error when value is shorter than n runes.
func (v *Validator) MinLength(field, value string, n int, msg string) {
	if value != "" && len([]rune(value)) < n {
		v.Add(field, msg)
	}
}

// Check records msg for field when ok is false.
func (v *Validator) Check(ok bool, field, msg string) {
	if !ok {
		v.Add(field, msg)
	}
}

// Add records a message for field.
func (v *Validator) Add(field, msg string) {
	if v.fields == nil {
		v.fields = make(map[string][]string)
	}
	v.fields[field] = append(v.fields[field], msg)
}

// Err returns a KindValidation error, or nil when nothing was recorded.
func (v *Validator) Err() error {
	if len(v.fields) == 0 {
		return nil
	}
	return &Error{Kind: KindValidation, Message: MsgValidation, Fields: v.fields}
}
