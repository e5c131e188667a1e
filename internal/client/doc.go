// Package client dials a jsonwire server, writes JSON documents and frames
// the replies.
//
// The server sends responses back to back with no delimiter, exactly like
// requests, so Receive runs the bytes through protocol.Framer and returns one
// complete document at a time, in the order the server sent them.
//
// # Usage Example
//
//	c, err := client.Dial(ctx, "localhost:6000", 5*time.Second)
//	if err != nil {
//	    return err
//	}
//	defer c.Close()
//
//	resp, err := c.Request(ctx, map[string]string{
//	    "type":     "userLogin",
//	    "login":    "bob",
//	    "password": "secret",
//	})
//	if err != nil {
//	    return err
//	}
//	fmt.Println(resp.Type()) // userLoginAnswer
package client
