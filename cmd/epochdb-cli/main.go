// Command epochdb-cli is a thin RESP client for talking to epochdb-server
// from a shell, one subcommand per wire command.
package main

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/epochdb/epochdb/internal/protocol"
)

func main() {
	var addr string

	root := &cobra.Command{
		Use:   "epochdb-cli",
		Short: "Talk to an epochdb-server over its wire protocol",
	}
	root.PersistentFlags().StringVar(&addr, "addr", "127.0.0.1:7878", "server address")

	send := func(args ...string) error {
		conn, err := net.Dial("tcp", addr)
		if err != nil {
			return err
		}
		defer conn.Close()

		w := bufio.NewWriter(conn)
		if err := protocol.WriteArray(w, len(args)); err != nil {
			return err
		}
		for _, a := range args {
			if err := protocol.WriteBulkString(w, []byte(a)); err != nil {
				return err
			}
		}
		if err := w.Flush(); err != nil {
			return err
		}

		reply, err := readReply(bufio.NewReader(conn))
		if err != nil {
			return err
		}
		fmt.Println(reply)
		return nil
	}

	root.AddCommand(
		&cobra.Command{
			Use:  "set <key> <value> [ttl-ms]",
			Args: cobra.RangeArgs(2, 3),
			RunE: func(cmd *cobra.Command, args []string) error { return send(append([]string{"SET"}, args...)...) },
		},
		&cobra.Command{
			Use:  "get <key>",
			Args: cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error { return send("GET", args[0]) },
		},
		&cobra.Command{
			Use:  "rm <key>",
			Args: cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error { return send("RM", args[0]) },
		},
		&cobra.Command{
			Use:  "increment-frequency <key>",
			Args: cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return send("INCREMENT_FREQUENCY", args[0])
			},
		},
		&cobra.Command{
			Use:  "get-metadata <key>",
			Args: cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error { return send("GET_METADATA", args[0]) },
		},
		&cobra.Command{
			Use:  "ping",
			Args: cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error { return send("PING") },
		},
		&cobra.Command{
			Use:  "size",
			Args: cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error { return send("SIZE") },
		},
		&cobra.Command{
			Use:  "flush",
			Args: cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error { return send("FLUSH") },
		},
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// readReply parses one reply frame, rendering it to a human-readable
// string for display. It understands every reply type the server sends:
// simple strings, errors, integers, bulk strings (including null and
// empty), and arrays (used by GET_METADATA).
func readReply(r *bufio.Reader) (string, error) {
	prefix, err := r.ReadByte()
	if err != nil {
		return "", err
	}
	switch prefix {
	case '+', '-':
		line, err := readLine(r)
		if err != nil {
			return "", err
		}
		return string(prefix) + line, nil
	case ':':
		line, err := readLine(r)
		if err != nil {
			return "", err
		}
		return line, nil
	case '$':
		return readBulkStringBody(r)
	case '*':
		line, err := readLine(r)
		if err != nil {
			return "", err
		}
		n, err := strconv.Atoi(line)
		if err != nil {
			return "", err
		}
		out := ""
		for i := 0; i < n; i++ {
			elem, err := readReply(r)
			if err != nil {
				return "", err
			}
			if i > 0 {
				out += " "
			}
			out += elem
		}
		return out, nil
	default:
		return "", fmt.Errorf("unexpected reply prefix %q", prefix)
	}
}

func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return "", err
	}
	if len(line) >= 2 {
		line = line[:len(line)-2]
	}
	return line, nil
}

func readBulkStringBody(r *bufio.Reader) (string, error) {
	line, err := readLine(r)
	if err != nil {
		return "", err
	}
	n, err := strconv.Atoi(line)
	if err != nil {
		return "", err
	}
	if n < 0 {
		return "(nil)", nil
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return "", err
	}
	if _, err := readLine(r); err != nil {
		return "", err
	}
	return string(data), nil
}
