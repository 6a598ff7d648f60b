package domain

import "encoding/json"

// Kind определяет тип сообщения.
type Kind string

const (
	KindNetwork         Kind = "network"
	KindConsole         Kind = "console"
	KindWebSocketUpdate Kind = "websocket-update"
)

// Message реализуют только сообщения, которые принимает relay.
// Реализуют NetworkEvent, ConsoleLog и WebSocketUpdateEvent.
type Message interface {
	Kind() Kind
	message()
}

// WebSocketMessage представляет одно сообщение внутри WebSocket-соединения страницы.
type WebSocketMessage struct {
	ID        string `json:"id"`
	Direction string `json:"direction"`
	Data      string `json:"data"`
	Timestamp uint64 `json:"timestamp"`
}

// NetworkHeaders содержит заголовки запроса и ответа в том регистре, в котором они пришли.
type NetworkHeaders struct {
	Request  map[string]string `json:"request"`
	Response map[string]string `json:"response"`
}

// NetworkEvent представляет сетевой запрос (fetch/xhr) или открытие WebSocket.
type NetworkEvent struct {
	ID           string            `json:"id"`
	Method       string            `json:"method"`
	URL          string            `json:"url"`
	Status       uint16            `json:"status"`
	ResponseTime uint64            `json:"response_time"`
	Headers      NetworkHeaders    `json:"headers"`
	Cookies      map[string]string `json:"cookies,omitzero"`
	// QueryParams хранится как есть: парсеры query string на стороне страницы
	// возвращают вложенные значения.
	QueryParams  json.RawMessage    `json:"query_params,omitzero"`
	RequestBody  *string            `json:"request_body,omitzero"`
	ResponseBody string             `json:"response_body"`
	Type         string             `json:"type"`
	WSState      *string            `json:"ws_state,omitzero"`
	WSMessages   []WebSocketMessage `json:"ws_messages,omitzero"`
}

func (NetworkEvent) Kind() Kind { return KindNetwork }
func (NetworkEvent) message()   {}

// ConsoleLog представляет один вызов console.* на странице.
type ConsoleLog struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

func (ConsoleLog) Kind() Kind { return KindConsole }
func (ConsoleLog) message()   {}

// WebSocketUpdate описывает частичное обновление состояния WebSocket-соединения.
// Отсутствующее поле означает "без изменений", а не "очищено".
type WebSocketUpdate struct {
	State        Optional[string]           `json:"state,omitzero"`
	Status       Optional[uint16]           `json:"status,omitzero"`
	ResponseTime Optional[uint64]           `json:"response_time,omitzero"`
	Message      Optional[WebSocketMessage] `json:"message,omitzero"`
	Error        Optional[string]           `json:"error,omitzero"`
	CloseReason  Optional[string]           `json:"close_reason,omitzero"`
}

// WebSocketUpdateEvent связывает обновление с идентификатором соединения.
// Сопоставление wsId с NetworkEvent выполняет хост.
type WebSocketUpdateEvent struct {
	WsID   string          `json:"ws_id"`
	Update WebSocketUpdate `json:"update"`
}

func (WebSocketUpdateEvent) Kind() Kind { return KindWebSocketUpdate }
func (WebSocketUpdateEvent) message()   {}
