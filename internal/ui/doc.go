// Package ui renders zradio CLI output with Lipgloss.
//
// Components follow a "print and move on" pattern; nothing here reads
// input:
//
//   - Header: command banner with the port and settings in use
//   - Result: success/failure/warning boxes, with troubleshooting tips
//   - FormatFrame: one line per monitored frame, direction-coloured
//   - RenderCoordinators: discovery listing
//
// Colours degrade to plain text when stdout is not a terminal, so output
// can be piped into files or grep.
package ui
