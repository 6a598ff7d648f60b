package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

var (
	ErrMalformed    = errors.New("malformed json")
	ErrMissingField = errors.New("missing required field")
	ErrInvalidField = errors.New("invalid field")
	ErrUnknownKind  = errors.New("unknown message type")
)

// DecodeError описывает входящее сообщение, не прошедшее проверку схемы.
type DecodeError struct {
	Kind  Kind
	Field string
	Err   error
}

func (e *DecodeError) Error() string {
	var b strings.Builder
	b.WriteString("decode")
	if e.Kind != "" {
		b.WriteString(" ")
		b.WriteString(string(e.Kind))
	}
	if e.Field != "" {
		fmt.Fprintf(&b, " field %q", e.Field)
	}
	b.WriteString(": ")
	b.WriteString(e.Err.Error())
	return b.String()
}

func (e *DecodeError) Unwrap() error { return e.Err }

var (
	networkFields   = []string{"id", "method", "url", "status", "response_time", "headers", "type"}
	headerFields    = []string{"request", "response"}
	wsMessageFields = []string{"id", "direction", "data", "timestamp"}
	consoleFields   = []string{"level", "message"}

	// Все ключи, которые связываются с полями структур.
	networkKeys = []string{
		"id", "method", "url", "status", "response_time", "headers", "cookies", "query_params",
		"request_body", "response_body", "response", "type", "ws_state", "ws_messages",
	}
	updateKeys = []string{"state", "status", "response_time", "message", "error", "close_reason"}
)

// DecodeNetworkEvent декодирует тело NetworkEvent.
// Старый ключ "response" принимается, если "response_body" отсутствует.
func DecodeNetworkEvent(data []byte) (NetworkEvent, error) {
	root, err := parseObject(KindNetwork, data)
	if err != nil {
		return NetworkEvent{}, err
	}
	if err := requireFields(KindNetwork, root, "", networkFields...); err != nil {
		return NetworkEvent{}, err
	}
	if err := requireFields(KindNetwork, root.Get("headers"), "headers.", headerFields...); err != nil {
		return NetworkEvent{}, err
	}

	legacyResponse := false
	if !present(root.Get("response_body")) {
		if !present(root.Get("response")) {
			return NetworkEvent{}, missing(KindNetwork, "response_body")
		}
		legacyResponse = true
	}
	if qp := root.Get("query_params"); present(qp) && !qp.IsObject() {
		return NetworkEvent{}, invalid(KindNetwork, "query_params", errors.New("expected object"))
	}
	levels := []keyLevel{{"", networkKeys}, {"headers", headerFields}}
	if msgs := root.Get("ws_messages"); present(msgs) {
		if !present(root.Get("ws_state")) {
			return NetworkEvent{}, invalid(KindNetwork, "ws_messages", errors.New("ws_messages without ws_state"))
		}
		if !msgs.IsArray() {
			return NetworkEvent{}, invalid(KindNetwork, "ws_messages", errors.New("expected array"))
		}
		for i, m := range msgs.Array() {
			path := fmt.Sprintf("ws_messages.%d", i)
			if err := requireFields(KindNetwork, m, path+".", wsMessageFields...); err != nil {
				return NetworkEvent{}, err
			}
			levels = append(levels, keyLevel{path, wsMessageFields})
		}
	}
	data, err = dropFoldedKeys(KindNetwork, data, levels...)
	if err != nil {
		return NetworkEvent{}, err
	}

	var wire struct {
		NetworkEvent
		Response *string `json:"response"`
	}
	if err := unmarshal(KindNetwork, data, &wire); err != nil {
		return NetworkEvent{}, err
	}
	ev := wire.NetworkEvent
	if legacyResponse {
		ev.ResponseBody = *wire.Response
	}
	return ev, nil
}

// DecodeConsoleLog декодирует тело ConsoleLog.
func DecodeConsoleLog(data []byte) (ConsoleLog, error) {
	root, err := parseObject(KindConsole, data)
	if err != nil {
		return ConsoleLog{}, err
	}
	if err := requireFields(KindConsole, root, "", consoleFields...); err != nil {
		return ConsoleLog{}, err
	}
	data, err = dropFoldedKeys(KindConsole, data, keyLevel{"", consoleFields})
	if err != nil {
		return ConsoleLog{}, err
	}
	var log ConsoleLog
	if err := unmarshal(KindConsole, data, &log); err != nil {
		return ConsoleLog{}, err
	}
	return log, nil
}

// DecodeWebSocketUpdate декодирует тело WebSocketUpdate. Все поля необязательны,
// но вложенное message проверяется целиком.
func DecodeWebSocketUpdate(data []byte) (WebSocketUpdate, error) {
	root, err := parseObject(KindWebSocketUpdate, data)
	if err != nil {
		return WebSocketUpdate{}, err
	}
	levels := []keyLevel{{"", updateKeys}}
	if msg := root.Get("message"); present(msg) {
		if err := requireFields(KindWebSocketUpdate, msg, "message.", wsMessageFields...); err != nil {
			return WebSocketUpdate{}, err
		}
		levels = append(levels, keyLevel{"message", wsMessageFields})
	}
	data, err = dropFoldedKeys(KindWebSocketUpdate, data, levels...)
	if err != nil {
		return WebSocketUpdate{}, err
	}
	var update WebSocketUpdate
	if err := unmarshal(KindWebSocketUpdate, data, &update); err != nil {
		return WebSocketUpdate{}, err
	}
	return update, nil
}

// DecodeWebSocketUpdateEvent собирает конверт из wsId и тела обновления.
func DecodeWebSocketUpdateEvent(wsID string, data []byte) (WebSocketUpdateEvent, error) {
	if wsID == "" {
		return WebSocketUpdateEvent{}, missing(KindWebSocketUpdate, "ws_id")
	}
	update, err := DecodeWebSocketUpdate(data)
	if err != nil {
		return WebSocketUpdateEvent{}, err
	}
	return WebSocketUpdateEvent{WsID: wsID, Update: update}, nil
}

// DecodeFrame декодирует кадр двунаправленного транспорта:
// {"type": "...", "data": {...}, "ws_id": "..."}.
func DecodeFrame(data []byte) (Message, error) {
	root, err := parseObject("", data)
	if err != nil {
		return nil, err
	}
	typ := root.Get("type")
	if !present(typ) {
		return nil, missing("", "type")
	}
	if typ.Type != gjson.String {
		return nil, invalid("", "type", errors.New("expected string"))
	}
	kind := Kind(typ.Str)
	payload := root.Get("data")
	if !present(payload) {
		return nil, missing(kind, "data")
	}
	raw := []byte(payload.Raw)

	switch kind {
	case KindNetwork:
		ev, err := DecodeNetworkEvent(raw)
		if err != nil {
			return nil, err
		}
		return ev, nil
	case KindConsole:
		log, err := DecodeConsoleLog(raw)
		if err != nil {
			return nil, err
		}
		return log, nil
	case KindWebSocketUpdate:
		id := root.Get("ws_id")
		if present(id) && id.Type != gjson.String {
			return nil, invalid(kind, "ws_id", errors.New("expected string"))
		}
		ev, err := DecodeWebSocketUpdateEvent(id.Str, raw)
		if err != nil {
			return nil, err
		}
		return ev, nil
	default:
		return nil, &DecodeError{Kind: kind, Field: "type", Err: ErrUnknownKind}
	}
}

func parseObject(kind Kind, data []byte) (gjson.Result, error) {
	if !gjson.ValidBytes(data) {
		return gjson.Result{}, &DecodeError{Kind: kind, Err: ErrMalformed}
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return gjson.Result{}, &DecodeError{Kind: kind, Err: fmt.Errorf("%w: expected object", ErrMalformed)}
	}
	return root, nil
}

func requireFields(kind Kind, obj gjson.Result, prefix string, fields ...string) error {
	for _, f := range fields {
		if !present(obj.Get(f)) {
			return missing(kind, prefix+f)
		}
	}
	return nil
}

// present: поле есть и не равно null.
func present(r gjson.Result) bool {
	return r.Exists() && r.Type != gjson.Null
}

// keyLevel описывает объект по пути path (пусто для корня) и его поля.
type keyLevel struct {
	path   string
	fields []string
}

// dropFoldedKeys удаляет ключи, которые совпадают с полем только без учёта
// регистра. encoding/json связывает такие ключи с полем, а для схемы они неизвестны.
func dropFoldedKeys(kind Kind, data []byte, levels ...keyLevel) ([]byte, error) {
	for _, lvl := range levels {
		prefix := ""
		if lvl.path != "" {
			prefix = lvl.path + "."
		}
		for _, key := range foldedKeys(data, lvl) {
			out, err := sjson.DeleteBytes(data, prefix+key)
			if err != nil {
				return nil, invalid(kind, prefix+key, err)
			}
			data = out
		}
		// ключ, записанный через \u-escape, sjson по пути не находит
		if left := foldedKeys(data, lvl); len(left) > 0 {
			return nil, invalid(kind, prefix+left[0], errors.New("key differs from field only by case"))
		}
	}
	return data, nil
}

func foldedKeys(data []byte, lvl keyLevel) []string {
	obj := gjson.ParseBytes(data)
	if lvl.path != "" {
		obj = obj.Get(lvl.path)
	}
	if !obj.IsObject() {
		return nil
	}
	var keys []string
	obj.ForEach(func(key, _ gjson.Result) bool {
		for _, f := range lvl.fields {
			if key.Str != f && strings.EqualFold(key.Str, f) {
				keys = append(keys, key.Str)
				break
			}
		}
		return true
	})
	return keys
}

func unmarshal(kind Kind, data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		field := ""
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			field = typeErr.Field
		}
		return invalid(kind, field, err)
	}
	return nil
}

func missing(kind Kind, field string) error {
	return &DecodeError{Kind: kind, Field: field, Err: ErrMissingField}
}

func invalid(kind Kind, field string, err error) error {
	return &DecodeError{Kind: kind, Field: field, Err: fmt.Errorf("%w: %w", ErrInvalidField, err)}
}
