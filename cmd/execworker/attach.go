package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
)

// attachSpec is the parsed value of -debug-attach, e.g.
// "transport=tcp,address=127.0.0.1:40123" or "transport=fd,address=3:4".
type attachSpec struct {
	Transport string
	Address   string
}

func parseAttach(value string) (attachSpec, error) {
	var att attachSpec

	for part := range strings.SplitSeq(value, ",") {
		key, val, ok := strings.Cut(part, "=")
		if !ok {
			return att, fmt.Errorf("malformed debug-attach element %q", part)
		}

		switch key {
		case "transport":
			att.Transport = val
		case "address":
			att.Address = val
		default:
			return att, fmt.Errorf("unknown debug-attach key %q", key)
		}
	}

	switch att.Transport {
	case "fd", "tcp":
	case "":
		return att, stderrors.New("debug-attach: missing transport")
	default:
		return att, fmt.Errorf("debug-attach: unsupported transport %q", att.Transport)
	}

	if att.Address == "" {
		return att, stderrors.New("debug-attach: missing address")
	}

	return att, nil
}

// dial opens the debug connection described by att.
func (att attachSpec) dial(ctx context.Context) (io.ReadWriteCloser, error) {
	if att.Transport == "tcp" {
		var d net.Dialer

		return d.DialContext(ctx, "tcp", att.Address)
	}

	in, out, ok := strings.Cut(att.Address, ":")
	if !ok {
		return nil, fmt.Errorf("fd address %q: want <read>:<write>", att.Address)
	}

	rfd, err := strconv.Atoi(in)
	if err != nil {
		return nil, fmt.Errorf("fd address %q: %w", att.Address, err)
	}

	wfd, err := strconv.Atoi(out)
	if err != nil {
		return nil, fmt.Errorf("fd address %q: %w", att.Address, err)
	}

	r := os.NewFile(uintptr(rfd), "debug-in")
	w := os.NewFile(uintptr(wfd), "debug-out")

	if r == nil || w == nil {
		return nil, fmt.Errorf("fd address %q: invalid descriptor", att.Address)
	}

	return &fdConn{r: r, w: w}, nil
}

// fdConn joins the two inherited descriptors into one connection.
type fdConn struct {
	r *os.File
	w *os.File
}

func (c *fdConn) Read(p []byte) (int, error)  { return c.r.Read(p) }
func (c *fdConn) Write(p []byte) (int, error) { return c.w.Write(p) }

func (c *fdConn) Close() error {
	return stderrors.Join(c.w.Close(), c.r.Close())
}
