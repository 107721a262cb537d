// Package tgui provides small Telegram UI helpers:
//   - Inline keyboard builders
//   - Callback data helpers (scope:action:payload)
//   - A message builder with HTML-safe defaults
//   - Markup repair for user-supplied HTML (CloseTags)
package tgui
