package command

import (
	"bufio"
	"bytes"
	"context"
	stderrors "errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wagiedev/execctl-go/internal/errors"
	"github.com/wagiedev/execctl-go/internal/pipe"
)

func TestConn_CallRoundTrip(t *testing.T) {
	var sent bytes.Buffer

	responses := pipe.New()
	_, _ = responses.Write([]byte(`{"status":"success","value":"5"}` + "\n"))

	conn := NewConn(slog.Default(), &sent, responses)

	resp, err := conn.Call(context.Background(), &Request{Cmd: CmdInvoke, Class: "Echo", Method: "run"})
	require.NoError(t, err)
	require.Equal(t, "5", resp.Value)
	require.JSONEq(t, `{"cmd":"invoke","class":"Echo","method":"run"}`, strings.TrimSpace(sent.String()))
}

func TestConn_ResponseSplitAcrossWrites(t *testing.T) {
	responses := pipe.New()
	conn := NewConn(slog.Default(), &bytes.Buffer{}, responses)

	go func() {
		for _, part := range []string{`{"status":"succ`, `ess","val`, `ue":"ok"}`, "\n"} {
			_, _ = responses.Write([]byte(part))
		}
	}()

	resp, err := conn.Call(context.Background(), &Request{Cmd: CmdVarValue, Class: "C", Var: "x"})
	require.NoError(t, err)
	require.Equal(t, "ok", resp.Value)
}

func TestConn_ClosedStreamIsTermination(t *testing.T) {
	responses := pipe.New()
	_, _ = responses.Write([]byte(`{"status":"succ`))
	require.NoError(t, responses.Close())

	conn := NewConn(slog.Default(), &bytes.Buffer{}, responses)

	_, err := conn.Call(context.Background(), &Request{Cmd: CmdInvoke})
	require.ErrorIs(t, err, errors.ErrSessionClosed)

	_, ok := stderrors.AsType[*errors.TerminationError](err)
	require.True(t, ok)
}

func TestConn_MalformedResponseIsInternal(t *testing.T) {
	responses := pipe.New()
	_, _ = responses.Write([]byte("not json\n"))

	conn := NewConn(slog.Default(), &bytes.Buffer{}, responses)

	_, err := conn.Call(context.Background(), &Request{Cmd: CmdInvoke})

	internal, ok := stderrors.AsType[*errors.InternalError](err)
	require.True(t, ok, "got %v", err)
	require.Equal(t, CmdInvoke, internal.Op)
}

func TestConn_CancelledContextSendsNothing(t *testing.T) {
	var sent bytes.Buffer

	conn := NewConn(slog.Default(), &sent, pipe.New())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := conn.Call(ctx, &Request{Cmd: CmdInvoke})
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, sent.Len())
}

func TestResponse_Err(t *testing.T) {
	testCases := []struct {
		name  string
		cmd   string
		resp  Response
		check func(t *testing.T, err error)
	}{
		{
			name: "success",
			cmd:  CmdInvoke,
			resp: Response{Status: StatusSuccess},
			check: func(t *testing.T, err error) {
				require.NoError(t, err)
			},
		},
		{
			name: "exception",
			cmd:  CmdInvoke,
			resp: Response{Status: StatusException, ExceptionClass: "IllegalStateException", Message: "bad"},
			check: func(t *testing.T, err error) {
				ue, ok := stderrors.AsType[*errors.UserException](err)
				require.True(t, ok)
				require.Equal(t, "IllegalStateException", ue.ClassName)
				require.Equal(t, "bad", ue.Message)
			},
		},
		{
			name: "killed",
			cmd:  CmdInvoke,
			resp: Response{Status: StatusKilled},
			check: func(t *testing.T, err error) {
				_, ok := stderrors.AsType[*errors.StoppedError](err)
				require.True(t, ok)
			},
		},
		{
			name: "corralled",
			cmd:  CmdInvoke,
			resp: Response{Status: StatusCorralled, ID: "7", Message: "missing method"},
			check: func(t *testing.T, err error) {
				re, ok := stderrors.AsType[*errors.ResolutionError](err)
				require.True(t, ok)
				require.Equal(t, "7", re.ID)
			},
		},
		{
			name: "load failure",
			cmd:  CmdLoad,
			resp: Response{Status: StatusFail, Message: "duplicate class"},
			check: func(t *testing.T, err error) {
				_, ok := stderrors.AsType[*errors.ClassInstallError](err)
				require.True(t, ok)
			},
		},
		{
			name: "invoke failure",
			cmd:  CmdInvoke,
			resp: Response{Status: StatusFail, Message: "no such method"},
			check: func(t *testing.T, err error) {
				_, ok := stderrors.AsType[*errors.ExecutionFailure](err)
				require.True(t, ok)
			},
		},
		{
			name: "not implemented",
			cmd:  CmdRedefine,
			resp: Response{Status: StatusNotImplemented},
			check: func(t *testing.T, err error) {
				ni, ok := stderrors.AsType[*errors.NotImplementedError](err)
				require.True(t, ok)
				require.Equal(t, CmdRedefine, ni.Command)
			},
		},
		{
			name: "unknown status",
			cmd:  CmdInvoke,
			resp: Response{Status: "maybe"},
			check: func(t *testing.T, err error) {
				_, ok := stderrors.AsType[*errors.InternalError](err)
				require.True(t, ok)
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			tc.check(t, tc.resp.Err(tc.cmd))
		})
	}
}

func TestRead_TruncatedLine(t *testing.T) {
	var v Response

	err := Read(bufio.NewReader(strings.NewReader(`{"status":`)), &v)
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
}
