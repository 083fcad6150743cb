// Package tools implements the gateway between provider tool requests and
// the web capabilities (search_web, visit_page).
//
// The gateway never returns an error: every capability failure is converted
// into a textual tool result prefixed with "ERROR:" so the requesting role
// can reason about the failure on its next generation turn.
package tools
