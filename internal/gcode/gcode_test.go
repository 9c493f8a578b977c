package gcode

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_Decoder_Ok(t *testing.T) {
	d := NewDecoder(strings.NewReader("ok\n"))

	reply, err := d.ReadReply()
	require.NoError(t, err)
	assert.Equal(t, ReplyOK, reply)
}

func Test_Decoder_Err(t *testing.T) {
	d := NewDecoder(strings.NewReader("error: 12\n"))

	reply, err := d.ReadReply()
	require.NoError(t, err)
	assert.Equal(t, ReplyErr, reply)
}

func Test_Decoder_NoNewline_IsUnexpectedEOF(t *testing.T) {
	d := NewDecoder(strings.NewReader("ok"))

	_, err := d.ReadReply()
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func Test_Command_Lines(t *testing.T) {
	assert.Equal(t, "M5\n", M5{}.Line())
	assert.Equal(t, "G0 X1Y2\n", G0{X: 1, Y: 2}.Line())
	assert.Equal(t, "G1 X1Y2F3\n", G1{X: 1, Y: 2, F: 3}.Line())
	assert.Equal(t, "M3 S5\n", M3{S: 5}.Line())
	assert.Equal(t, "ping\n", Raw("ping").Line())
}
