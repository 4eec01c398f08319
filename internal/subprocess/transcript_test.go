package subprocess

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTranscript_AppendSplitsLines(t *testing.T) {
	tr := NewTranscript()

	require.Equal(t, []string{"Interface: utun4"}, tr.Append([]byte("Interface: utun4\r\n--rsd fd")))
	require.Equal(t, []string{"Interface: utun4"}, tr.Lines())

	completed := tr.Append([]byte("00::1 52731\n"))
	require.Equal(t, []string{"--rsd fd00::1 52731"}, completed)
	require.Equal(t, 2, tr.LineCount())
	require.Equal(t, "Interface: utun4\r\n--rsd fd00::1 52731\n", tr.String())
}

func TestTranscript_CloseFlushesPartialLine(t *testing.T) {
	tr := NewTranscript()
	tr.Append([]byte("(lldb) "))
	require.Equal(t, 0, tr.LineCount())

	require.Equal(t, []string{"(lldb) "}, tr.Close())
	require.True(t, tr.Closed())
	require.Equal(t, 1, tr.LineCount())

	// writes after close are dropped
	require.Nil(t, tr.Append([]byte("late\n")))
	require.Nil(t, tr.Close())
}

func TestTranscript_SinceAndLastLine(t *testing.T) {
	tr := NewTranscript()
	tr.Append([]byte("one\n"))
	offset := tr.Len()
	tr.Append([]byte("two\n\n  \n"))

	require.Equal(t, "two\n\n  \n", tr.Since(offset))
	require.Equal(t, "two", tr.LastLine())
	require.Equal(t, tr.String(), tr.Since(-1))
	require.Equal(t, "", LastNonEmptyLine("\n \n"))
}

func TestTranscript_WaitLines(t *testing.T) {
	tr := NewTranscript()
	go func() {
		time.Sleep(10 * time.Millisecond)
		tr.Append([]byte("a\nb\n"))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, tr.WaitLines(ctx, 2))

	tr.Close()
	require.ErrorIs(t, tr.WaitLines(ctx, 5), io.EOF)
}

func TestTranscript_WaitLinesHonoursContext(t *testing.T) {
	tr := NewTranscript()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, tr.WaitLines(ctx, 1), context.Canceled)
}

func TestCursor_ReadsEveryLineThenEOF(t *testing.T) {
	tr := NewTranscript()
	tr.Append([]byte("first\n"))

	cur := tr.Cursor()
	tail := tr.Tail()

	ctx := context.Background()
	line, err := cur.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, "first", line)

	tr.Append([]byte("second\n"))
	tr.Close()

	line, err = cur.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, "second", line)

	// the tail cursor never sees lines completed before it was created
	line, err = tail.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, "second", line)

	_, err = cur.Next(ctx)
	require.ErrorIs(t, err, io.EOF)
	_, err = tail.Next(ctx)
	require.ErrorIs(t, err, io.EOF)
}
