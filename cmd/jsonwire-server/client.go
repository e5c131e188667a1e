package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/muurk/jsonwire/internal/client"
	"github.com/muurk/jsonwire/internal/discovery"
	"github.com/muurk/jsonwire/internal/protocol"
	"github.com/muurk/jsonwire/internal/server"
	"github.com/muurk/jsonwire/internal/ui"
	"github.com/muurk/jsonwire/internal/version"
)

// Client command flags
var (
	serverAddr   string
	instanceName string
	dialTimeout  time.Duration
	scanTimeout  time.Duration
	loginName    string
	password     string
	rawOutput    bool
	statusURL    string
	interval     time.Duration
)

func init() {
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(discoverCmd)
	rootCmd.AddCommand(watchCmd)
}

// sendCmd sends documents to a server and prints the replies
var sendCmd = &cobra.Command{
	Use:   "send [document...]",
	Short: "Send JSON documents to a server",
	Long: `Connect to a jsonwire server, send each document and print its reply.

Documents are sent in order over one connection, so a login followed by
other requests behaves like a real client session. With --login a
userLogin document is sent first.`,
	Example: `  # Log in
  jsonwire-server send --login bob --password secret

  # Send raw documents
  jsonwire-server send '{"type":"ping"}' '{"type":"status"}'

  # Find the server over mDNS first
  jsonwire-server send --instance lab --login bob --password secret

  # Print bare replies for scripting
  jsonwire-server send --raw '{"type":"ping"}'`,
	RunE: runSend,
}

func init() {
	sendCmd.Flags().StringVar(&serverAddr, "server", "localhost:6000", "Server address")
	sendCmd.Flags().StringVar(&instanceName, "instance", "", "Resolve the server by mDNS instance name instead of --server")
	sendCmd.Flags().DurationVar(&dialTimeout, "timeout", client.DefaultTimeout, "Dial and reply timeout")
	sendCmd.Flags().StringVar(&loginName, "login", "", "Send a userLogin document for this user first")
	sendCmd.Flags().StringVar(&password, "password", "", "Password for --login")
	sendCmd.Flags().BoolVar(&rawOutput, "raw", false, "Print one reply per line without styling")
}

// buildDocuments returns the documents to send, in order
func buildDocuments(login, password string, args []string) ([][]byte, error) {
	var docs [][]byte
	if login != "" {
		doc, err := json.Marshal(map[string]string{
			protocol.FieldType:     protocol.KindUserLogin,
			protocol.FieldLogin:    login,
			protocol.FieldPassword: password,
		})
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}

	for i, arg := range args {
		if !json.Valid([]byte(arg)) {
			return nil, fmt.Errorf("document %d is not valid JSON: %s", i+1, arg)
		}
		docs = append(docs, []byte(arg))
	}

	if len(docs) == 0 {
		return nil, fmt.Errorf("nothing to send: pass documents or --login")
	}
	return docs, nil
}

func runSend(cmd *cobra.Command, args []string) error {
	docs, err := buildDocuments(loginName, password, args)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	p := ui.NewPrinter(cmd.OutOrStdout())

	addr := serverAddr
	if instanceName != "" {
		scanner := discovery.NewScanner()
		scanner.Timeout = dialTimeout
		instance, err := scanner.WaitFor(ctx, instanceName)
		if err != nil {
			return err
		}
		addr = instance.Addr()
	}

	if !rawOutput {
		p.PrintHeader("Send", "jsonwire-server send", map[string]string{
			"Server":    addr,
			"Documents": strconv.Itoa(len(docs)),
		})
	}

	c, err := client.Dial(ctx, addr, dialTimeout)
	if err != nil {
		if !rawOutput {
			p.PrintError("Connection failed", err, []string{
				"Check the server is running: jsonwire-server server",
				"Check the address and port",
				"Use 'jsonwire-server discover' to find servers on the local network",
			})
		}
		return err
	}
	defer func() { _ = c.Close() }()

	for i, doc := range docs {
		reply, err := c.Request(ctx, doc)
		if err != nil {
			if !rawOutput {
				p.PrintError(fmt.Sprintf("Document %d failed", i+1), err, []string{
					"The server drops documents it cannot parse without replying",
					"Idle connections are closed after the receive timeout",
				})
			}
			return err
		}

		if rawOutput {
			encoded, err := reply.Marshal()
			if err != nil {
				return err
			}
			p.Println(string(encoded))
			continue
		}

		pretty, err := json.MarshalIndent(reply, "", "  ")
		if err != nil {
			return err
		}
		p.PrintSuccess("Reply received", map[string]string{
			"Document": strconv.Itoa(i + 1),
			"Type":     reply.Type(),
		}, string(pretty))
	}

	return nil
}

// discoverCmd lists servers advertised over mDNS
var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Find jsonwire servers on the local network",
	Long: `Browse for jsonwire servers advertised over mDNS/DNS-SD.

Servers advertise themselves when started with --advertise.`,
	Example: `  # Scan for 5 seconds (default)
  jsonwire-server discover

  # Longer scan for slow networks
  jsonwire-server discover --timeout 15s`,
	RunE: runDiscover,
}

func init() {
	discoverCmd.Flags().DurationVar(&scanTimeout, "timeout", discovery.DefaultScanTimeout, "Scan timeout")
}

// instanceTable renders discovered instances
func instanceTable(instances []*discovery.Instance) ui.Table {
	t := ui.Table{
		Headers: []string{"NAME", "ADDRESS", "VERSION", "PROTOCOL", "WEBSOCKET"},
		Empty:   "No servers found.",
	}
	for _, instance := range instances {
		proto := instance.GetMetadata(discovery.TxtProtocol)
		if !version.Compatible(proto) {
			proto += " (incompatible)"
		}
		t.Rows = append(t.Rows, []string{
			instance.Name,
			instance.Addr(),
			instance.GetMetadata(discovery.TxtVersion),
			proto,
			instance.GetMetadata(discovery.TxtWebSocket),
		})
	}
	return t
}

func runDiscover(cmd *cobra.Command, args []string) error {
	p := ui.NewPrinter(cmd.OutOrStdout())
	p.PrintHeader("Discover", "jsonwire-server discover", map[string]string{
		"Service": discovery.ServiceType,
		"Timeout": scanTimeout.String(),
	})

	scanner := discovery.NewScanner()
	scanner.Timeout = scanTimeout
	instances, err := scanner.Scan(cmd.Context())
	if err != nil {
		p.PrintError("Scan failed", err, []string{
			"mDNS needs multicast on the network interface",
			"Allow UDP port 5353 through the firewall",
		})
		return err
	}

	if len(instances) == 0 {
		p.PrintWarning("No servers found", map[string]string{
			"Timeout": scanTimeout.String(),
		})
		return nil
	}

	return ui.RenderOnce(instanceTable(instances).Render(p.Width()))
}

// watchCmd shows live connection tables from /status
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch the connections of a running server",
	Long: `Poll a server's /status endpoint and show every live connection.

Press r to refresh immediately and q to quit. When stdout is not a
terminal a single snapshot is printed.`,
	Example: `  # Watch the local server
  jsonwire-server watch

  # Watch a remote server every 5 seconds
  jsonwire-server watch --status http://10.0.0.5:6080/status --interval 5s`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVar(&statusURL, "status", "http://127.0.0.1:6080/status", "Status endpoint URL")
	watchCmd.Flags().DurationVar(&interval, "interval", ui.DefaultWatchInterval, "Refresh interval")
}

// fetchStatus loads the connection tables from a status endpoint
func fetchStatus(ctx context.Context, httpClient *http.Client, url string) (*server.StatusResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch status: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status endpoint returned %s", resp.Status)
	}

	var status server.StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("failed to decode status: %w", err)
	}
	return &status, nil
}

// connectionTable flattens every listener's connections into one table
func connectionTable(status *server.StatusResponse, now time.Time) ui.Table {
	t := ui.Table{
		Headers: []string{"LISTENER", "ID", "LOGIN", "STATE", "REMOTE", "AGE"},
		Empty:   "No connections.",
	}
	for _, l := range status.Listeners {
		for _, c := range l.Connections {
			login := c.Login
			if login == "" {
				login = "-"
			}
			t.Rows = append(t.Rows, []string{
				l.Name,
				strconv.FormatUint(c.ID, 10),
				login,
				c.State,
				c.RemoteAddr,
				now.Sub(c.Created).Truncate(time.Second).String(),
			})
		}
	}
	return t
}

func runWatch(cmd *cobra.Command, args []string) error {
	if !strings.HasPrefix(statusURL, "http://") && !strings.HasPrefix(statusURL, "https://") {
		return fmt.Errorf("invalid --status URL %q: must start with http:// or https://", statusURL)
	}

	httpClient := &http.Client{Timeout: interval + 5*time.Second}
	fetch := func(ctx context.Context) (ui.Table, error) {
		status, err := fetchStatus(ctx, httpClient, statusURL)
		if err != nil {
			return ui.Table{}, err
		}
		return connectionTable(status, time.Now()), nil
	}

	return ui.RunWatch(cmd.Context(), "Connections", interval, fetch)
}
