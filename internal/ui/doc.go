// Package ui provides terminal UI components for the jsonwire-server client
// commands.
//
// This package uses Bubble Tea and Lipgloss to render terminal output for
// commands such as send, discover and watch. Most components follow a "run
// once and exit" pattern: they render output but don't require user
// interaction. The watch view is the one interactive screen.
//
// # Architecture
//
// The UI package provides four main component types:
//
//   - Header: Command banner showing operation name and parameters
//   - Result: Success/failure boxes with styled information
//   - Table: Bordered rows, used for discovered servers and connections
//   - WatchModel: Live table refreshed from a FetchFunc
//
// Printer writes the static components to any io.Writer; RunWatch drives the
// live view.
//
// # Usage Pattern
//
//	p := ui.NewPrinter(os.Stdout)
//	p.PrintHeader("Send", "jsonwire-server send", map[string]string{
//	    "Server": "localhost:6000",
//	})
//
//	reply, err := c.Request(ctx, doc)
//	if err != nil {
//	    p.PrintError("Request failed", err, []string{
//	        "Check the server is running",
//	    })
//	    return err
//	}
//	p.PrintSuccess("Reply received", map[string]string{"Type": reply.Type()}, pretty)
//
// # Non-interactive Output
//
// When stdout is not a terminal, RenderOnce writes the content unchanged and
// RunWatch prints a single table snapshot, so output can be piped.
//
// # Logging Integration
//
// This package expects logging to be controlled via the JSONWIRE_LOG_LEVEL
// environment variable. Client commands keep zap silent unless it is set,
// allowing the curated UI output to be displayed cleanly.
package ui
