// Package bot is the chat front end: commands, inline menus and the
// per-user input flows that feed the broadcast service.
//
// Free text is never interpreted on its own. It is routed to the flow the
// user opened last (phone, login code, recipients, message, duration or
// delay) and ignored when no flow is open or the flow has expired.
package bot
