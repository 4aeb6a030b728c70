// Package ws предоставляет WebSocket клиент протокола шлюза OpenClaw с поддержкой:
//   - Handshake по схеме challenge/response (событие connect.challenge → запрос connect)
//   - Конкурентных запросов с корреляцией ответов по строковому ID
//   - Подписки на события, которые сервер отправляет сам
//   - Single-flight подключения: параллельные вызовы Connect используют одну попытку
//   - Таймаутов запросов и отклонения всех ожидающих запросов при разрыве соединения
//
// # Клиент
//
//	client := ws.NewClient(ws.DefaultClientConfig("ws://localhost:18789", token))
//	defer client.Close()
//
//	// Request сам вызывает Connect и ждёт завершения handshake.
//	body, err := client.Request(ctx, "sessions.list", map[string]any{"limit": 10})
//
// # Типизированные ответы
//
//	type Result struct {
//	    Value int `json:"result"`
//	}
//	res, err := ws.Do[Result](ctx, client, "foo.bar", map[string]any{"a": 1})
//
//	f, err := ws.Send[Result](ctx, client, "foo.bar", nil)
//	res, err = f.Await(ctx, ws.WithTimeout(5*time.Second))
//
// # События
//
//	unsubscribe := client.Subscribe("chat", func(payload json.RawMessage) {
//	    ...
//	})
//	defer unsubscribe()
//
// Обработчики вызываются в порядке прихода кадров из отдельной горутины
// соединения, поэтому обработчик может сам отправлять запросы.
// Паника в одном обработчике не мешает доставке остальным.
//
// # Протокол сообщений
//
// Все кадры - JSON текст:
//
//	{"type": "req",   "id": "...", "method": "...", "params": {...}}
//	{"type": "res",   "id": "...", "ok": true, "body": {...}}
//	{"type": "res",   "id": "...", "ok": false, "error": {"message": "..."}}
//	{"type": "event", "event": "...", "payload": {...}}
//
// # Handshake
//
//  1. Клиент открывает WebSocket с заголовком Origin
//  2. Сервер отправляет событие connect.challenge
//  3. Клиент отвечает запросом connect (minProtocol = maxProtocol = 3, role "operator",
//     описание клиента и токен)
//  4. Ответ ok=true переводит соединение в StateConnected, ok=false завершает
//     Connect с *AuthError
//
// Клиент сам не переподключается: Disconnected сообщает о разрыве, Reconnect
// повторяет Connect с экспоненциальной задержкой.
package ws
