package domain

import (
	"bytes"
	"encoding/json"
)

var jsonNull = []byte("null")

// Optional хранит значение поля вместе с признаком его присутствия.
// Set=false: поле отсутствовало; Null=true: поле пришло как null.
type Optional[T any] struct {
	Value T
	Set   bool
	Null  bool
}

// Some возвращает присутствующее значение.
func Some[T any](v T) Optional[T] {
	return Optional[T]{Value: v, Set: true}
}

// Get возвращает значение, если оно присутствует и не null.
func (o Optional[T]) Get() (T, bool) {
	return o.Value, o.Set && !o.Null
}

// IsZero используется тегом omitzero: отсутствующее поле не кодируется.
func (o Optional[T]) IsZero() bool {
	return !o.Set
}

func (o Optional[T]) MarshalJSON() ([]byte, error) {
	if o.Null {
		return jsonNull, nil
	}
	return json.Marshal(o.Value)
}

func (o *Optional[T]) UnmarshalJSON(data []byte) error {
	o.Set = true
	if bytes.Equal(bytes.TrimSpace(data), jsonNull) {
		var zero T
		o.Value = zero
		o.Null = true
		return nil
	}
	o.Null = false
	return json.Unmarshal(data, &o.Value)
}
