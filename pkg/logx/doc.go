// Package logx configures tgbroadcast's structured logging.
//
// A small wrapper (logx.Logger) on top of zerolog keeps:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - An optional Telegram sink for operators (min-level + rate limiting)
//
// Never pass secrets (bot token, api hash, session credentials, login codes)
// as field values.
package logx
