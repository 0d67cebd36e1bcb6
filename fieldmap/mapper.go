package fieldmap

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"checklist-api/domain"
)

// FieldError reports an external field whose value cannot be mapped.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("field %s: %s", e.Field, e.Reason)
}

// Mapper translates patches and records between the external and internal
// naming schemes.
type Mapper struct {
	now func() time.Time
}

// New returns a Mapper stamping patches with the wall clock.
func New() *Mapper {
	return &Mapper{now: time.Now}
}

// NewWithClock returns a Mapper using now as its clock.
func NewWithClock(now func() time.Time) *Mapper {
	if now == nil {
		now = time.Now
	}
	return &Mapper{now: now}
}

// ToInternal maps an external patch to storage columns. Read-only and
// unrecognized fields are dropped, "" on optional fields and null on any
// writable field become an explicit absence.
func (m *Mapper) ToInternal(p domain.ExternalTaskPatch) (domain.InternalTaskPatch, error) {
	out := domain.InternalTaskPatch{Set: map[string]any{}, UpdatedAt: m.now().UTC()}
	for i := range table {
		f := &table[i]
		if f.patch == nil || f.readOnly {
			continue
		}
		v, set, null := f.patch(&p)
		if !set {
			continue
		}
		if f.strictBool {
			if null {
				return domain.InternalTaskPatch{}, &FieldError{Field: f.external, Reason: "must be a boolean"}
			}
			b, err := CoerceBool(v)
			if err != nil {
				return domain.InternalTaskPatch{}, &FieldError{Field: f.external, Reason: err.Error()}
			}
			out.Set[f.internal] = b
			continue
		}
		if null {
			out.Unset = append(out.Unset, f.internal)
			continue
		}
		if s, ok := v.(string); ok && s == "" && f.optional {
			out.Unset = append(out.Unset, f.internal)
			continue
		}
		out.Set[f.internal] = v
	}
	return out, nil
}

// ToExternal builds the client view of a record. Unset columns that clients
// always expect are replaced by their defaults.
func (m *Mapper) ToExternal(r domain.TaskRecord) (domain.ExternalTaskView, error) {
	data, err := sonic.Marshal(r)
	if err != nil {
		return domain.ExternalTaskView{}, err
	}
	row := map[string]any{}
	if err := sonic.Unmarshal(data, &row); err != nil {
		return domain.ExternalTaskView{}, err
	}
	out := make(map[string]any, len(table))
	for i := range table {
		f := &table[i]
		v, ok := row[f.internal]
		if !ok || v == nil || v == "" {
			if f.dflt == nil {
				continue
			}
			v = f.dflt(r)
		}
		out[f.external] = v
	}
	data, err = sonic.Marshal(out)
	if err != nil {
		return domain.ExternalTaskView{}, err
	}
	var view domain.ExternalTaskView
	if err := sonic.Unmarshal(data, &view); err != nil {
		return domain.ExternalTaskView{}, err
	}
	return view, nil
}

// CoerceBool turns boolean-like input into a strict boolean.
func CoerceBool(v any) (bool, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case float64:
		return numberToBool(b)
	case int:
		return numberToBool(float64(b))
	case string:
		s := strings.ToLower(strings.TrimSpace(b))
		switch s {
		case "yes", "y", "on":
			return true, nil
		case "no", "n", "off":
			return false, nil
		}
		parsed, err := strconv.ParseBool(s)
		if err != nil {
			return false, fmt.Errorf("%q is not a boolean", b)
		}
		return parsed, nil
	default:
		return false, fmt.Errorf("%v is not a boolean", v)
	}
}

func numberToBool(f float64) (bool, error) {
	switch f {
	case 1:
		return true, nil
	case 0:
		return false, nil
	}
	return false, fmt.Errorf("%v is not a boolean", f)
}
