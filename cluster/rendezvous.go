package cluster

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
)

// ReadRendezvousFile reads the addresses of every server from a rendezvous file. The file lists
// one server per line, as "host:port" or "host port", in rank order. Blank lines and lines
// starting with # are ignored.
func ReadRendezvousFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("unable to open rendezvous file: %w", err)
	}
	defer f.Close()
	addrs, err := ParseRendezvous(f)
	if err != nil {
		return nil, fmt.Errorf("rendezvous file %s: %w", path, err)
	}
	return addrs, nil
}

// ParseRendezvous parses the contents of a rendezvous file
func ParseRendezvous(r io.Reader) ([]string, error) {
	var addrs []string
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		var host, port string
		if fields := strings.Fields(text); len(fields) == 2 {
			host, port = fields[0], fields[1]
		} else if len(fields) == 1 {
			var err error
			if host, port, err = net.SplitHostPort(text); err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
		} else {
			return nil, fmt.Errorf("line %d: expected \"host:port\" or \"host port\", got %q", line, text)
		}
		if p, err := strconv.Atoi(port); err != nil || p <= 0 || p > 65535 {
			return nil, fmt.Errorf("line %d: invalid port %q", line, port)
		}
		addrs = append(addrs, net.JoinHostPort(host, port))
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("no servers listed")
	}
	return addrs, nil
}

// WriteRendezvousFile writes addrs to path, one per line
func WriteRendezvousFile(path string, addrs []string) error {
	return os.WriteFile(path, []byte(strings.Join(addrs, "\n")+"\n"), 0o644)
}
