package main

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseAttach(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		want    attachSpec
		wantErr string
	}{
		{
			name:  "tcp",
			value: "transport=tcp,address=127.0.0.1:4000",
			want:  attachSpec{Transport: "tcp", Address: "127.0.0.1:4000"},
		},
		{
			name:  "fd",
			value: "transport=fd,address=3:4",
			want:  attachSpec{Transport: "fd", Address: "3:4"},
		},
		{name: "empty", value: "", wantErr: "malformed"},
		{name: "unknown key", value: "transport=tcp,address=x,suspend=y", wantErr: "unknown debug-attach key"},
		{name: "unknown transport", value: "transport=shmem,address=x", wantErr: "unsupported transport"},
		{name: "missing address", value: "transport=tcp", wantErr: "missing address"},
		{name: "missing transport", value: "address=x", wantErr: "missing transport"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseAttach(tt.value)
			if tt.wantErr != "" {
				require.ErrorContains(t, err, tt.wantErr)

				return
			}

			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestAttachSpec_DialTCP(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	defer ln.Close()

	conn, err := attachSpec{Transport: "tcp", Address: ln.Addr().String()}.dial(context.Background())
	require.NoError(t, err)
	require.NoError(t, conn.Close())
}

func TestAttachSpec_DialBadFD(t *testing.T) {
	_, err := attachSpec{Transport: "fd", Address: "three:4"}.dial(context.Background())
	require.Error(t, err)

	_, err = attachSpec{Transport: "fd", Address: "3"}.dial(context.Background())
	require.Error(t, err)
}

func TestRun_Version(t *testing.T) {
	require.NoError(t, run([]string{"-version"}))
}

func TestRun_BadArguments(t *testing.T) {
	require.ErrorContains(t, run([]string{"-debug-attach=transport=tcp,address=x", "execctl.agent"}), "want <entry> <port>")
	require.ErrorContains(t, run([]string{"-debug-attach=transport=tcp,address=x", "other", "1"}), "unknown entry point")
	require.ErrorContains(t, run([]string{"-debug-attach=transport=tcp,address=x", "execctl.agent", "port"}), "command port")
	require.ErrorContains(t, run([]string{"-log-level=loud"}), "log level")
}
