package hostbus

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/tidwall/sjson"
)

const contentType = "application/json"

// Event описывает кадр шины хоста: имя канала и полезная нагрузка в исходном виде.
type Event struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// Encode собирает кадр {"event": channel, "payload": ...}.
func Encode(channel string, payload any) ([]byte, error) {
	raw, err := marshalPayload(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", channel, err)
	}
	frame, err := sjson.SetBytes([]byte(`{}`), "event", channel)
	if err != nil {
		return nil, err
	}
	return sjson.SetRawBytes(frame, "payload", raw)
}

// marshalPayload не экранирует HTML: тела запросов и ответов доходят до UI
// с исходными <, > и &.
func marshalPayload(payload any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(payload); err != nil {
		return nil, err
	}
	// Encode завершает значение переводом строки
	return buf.Bytes()[:buf.Len()-1], nil
}
