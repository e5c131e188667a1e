// Package server implements a multi-client TCP server for back-to-back JSON
// documents.
//
// Peers send JSON objects with no delimiter between them. The server frames
// each byte stream into complete documents, answers every document with one
// response in receive order, and detects dead peers with an idle receive
// timeout.
//
// # Architecture
//
// A Listener owns the connection table and runs a single control goroutine
// (Run). Every accepted socket becomes a Connection with its own worker
// goroutine:
//
//	Listener.Run                       Connection worker
//	------------                       -----------------
//	accept (bounded by poll interval)  read (bounded by receive timeout)
//	insert Connection                  frame with protocol.Extract
//	scan for pendingDelete             dispatch each document
//	join, notify, close, remove        send each response (send timeout)
//
// Workers never touch the table. The first terminal condition (peer close,
// timeout, receive error, send failure) sets the connection's pendingDelete
// flag and the worker exits at the end of that iteration. The Listener reaps
// in two phases: it collects flagged ids, then for each one joins the worker,
// tells the presence store the user left, closes the socket and removes the
// entry. A connection is never removed while its worker can still run.
//
// # Usage Example
//
//	ln, err := server.Listen(server.Config{
//	    ReceiveTimeout: 10 * time.Second,
//	    SendTimeout:    10 * time.Second,
//	}, ":6000",
//	    server.WithLogger(log),
//	    server.WithPresence(store),
//	)
//	if err != nil {
//	    return err
//	}
//
//	// Run blocks until ctx is cancelled
//	return ln.Run(ctx)
//
// # WebSocket Gateway
//
// WebSocketListener adapts gorilla/websocket upgrades to net.Listener, so a
// second Listener serves WebSocket peers with the same worker. Message
// boundaries are ignored on input: payloads are concatenated into one stream
// and framed exactly like TCP bytes. Each response goes out as one text
// message.
//
// # Errors
//
// Per-connection failures are *ConnError values that stay inside their
// connection. Match them with errors.Is against ErrPeerClosed, ErrTimeout,
// ErrIO, ErrSendFailure, ErrAccept or ErrConnectionInit.
//
// # Logging
//
// Every lifecycle event carries conn_id, session, remote_addr and socket:
//   - debug: received chunks as hex/ascii dumps, framing, sent responses
//   - info: accept, login, peer close, reap
//   - warn: timeouts, dropped documents and responses
//   - error: receive and send failures, accept failures
//
// # Graceful Shutdown
//
// Cancelling the context passed to Run:
//  1. Closes the listening socket
//  2. Closes every connection socket, which unblocks its worker
//  3. Waits up to ShutdownTimeout for the workers to exit
//  4. Reaps every exited connection, notifying presence
package server
