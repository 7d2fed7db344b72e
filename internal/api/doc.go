// Package api provides the REST client for the chat backend.
//
// Every endpoint answers with the envelope {code, msg, data, trace_id}; code
// 200 means success and data carries the payload. Endpoints used:
//   - POST /api/login
//   - GET  /api/user/info
//   - GET  /api/chat/message/history
//   - POST /api/chat/message/send
//   - POST /api/chat/message/read
//   - GET  /api/chat/message/unread
package api
