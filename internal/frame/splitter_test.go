package frame

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/zjrosen/diagwire/internal/envelope"
)

func frameStrings(frames [][]byte) []string {
	out := make([]string, len(frames))
	for i, f := range frames {
		out[i] = string(f)
	}
	return out
}

func TestSplitter_Adversarial(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		frames []string
	}{
		{"empty buffer", ``, []string{}},
		{"whitespace only", " \n\t ", []string{}},
		{"single", `{"a":1}`, []string{`{"a":1}`}},
		{"nested", `{"a":{"b":{"c":{}}}}`, []string{`{"a":{"b":{"c":{}}}}`}},
		{"brace in string", `{"text":"}{ not a frame }"}`, []string{`{"text":"}{ not a frame }"}`}},
		{"escaped quote", `{"text":"say \"}\" loudly"}`, []string{`{"text":"say \"}\" loudly"}`}},
		{"escaped backslash before quote", `{"path":"C:\\"}{"b":2}`, []string{`{"path":"C:\\"}`, `{"b":2}`}},
		{"back to back", `{"a":1}{"b":2}{"c":3}`, []string{`{"a":1}`, `{"b":2}`, `{"c":3}`}},
		{"newline separated", "{\"a\":1}\n{\"b\":2}\n", []string{`{"a":1}`, `{"b":2}`}},
		{"unicode in string", `{"t":"héllo {☃}"}`, []string{`{"t":"héllo {☃}"}`}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSplitter()
			res := s.Feed([]byte(tt.input))
			require.Equal(t, tt.frames, frameStrings(res.Frames))
			require.Empty(t, res.Stray)
			require.Zero(t, s.Pending())
			require.NoError(t, s.Flush())
		})
	}
}

func TestSplitter_TrailingPartialBuffered(t *testing.T) {
	s := NewSplitter()

	res := s.Feed([]byte(`{"a":1}{"b":"x}`))
	require.Equal(t, []string{`{"a":1}`}, frameStrings(res.Frames))
	require.Equal(t, len(`{"b":"x}`), s.Pending())

	res = s.Feed([]byte(`y"}`))
	require.Equal(t, []string{`{"b":"x}y"}`}, frameStrings(res.Frames))
	require.Zero(t, s.Pending())
}

func TestSplitter_SplitInsideEscape(t *testing.T) {
	s := NewSplitter()

	res := s.Feed([]byte(`{"q":"a\`))
	require.Empty(t, res.Frames)

	// The first byte of this chunk is escaped, so the quote must not close
	// the string.
	res = s.Feed([]byte(`"}"}`))
	require.Equal(t, []string{`{"q":"a\"}"}`}, frameStrings(res.Frames))
}

func TestSplitter_FlushUnterminated(t *testing.T) {
	s := NewSplitter()
	s.Feed([]byte(`{"a":{"b":1}`))

	err := s.Flush()
	require.Error(t, err)
	require.ErrorIs(t, err, ErrUnterminated)

	var fe *FramingError
	require.True(t, errors.As(err, &fe))
	require.Equal(t, `{"a":{"b":1}`, string(fe.Partial))
	require.Equal(t, 1, fe.Depth)

	// Flush resets the splitter.
	require.Zero(t, s.Pending())
	require.NoError(t, s.Flush())
}

func TestSplitter_Stray(t *testing.T) {
	s := NewSplitter()

	res := s.Feed([]byte(`garbage {"a":1} } more{"b":2}`))
	require.Equal(t, []string{`{"a":1}`, `{"b":2}`}, frameStrings(res.Frames))
	require.Equal(t, []string{"garbage", "}", "more"}, frameStrings(res.Stray))
}

func TestSplitter_Overflow(t *testing.T) {
	s := NewSplitterWithLimit(16)

	res := s.Feed([]byte(`{"a":"0123456789abcdef`))
	require.NotNil(t, res.Overflow)
	require.ErrorIs(t, res.Overflow, ErrUnterminated)
	require.Zero(t, s.Pending())

	// The splitter recovers for the next frame.
	res = s.Feed([]byte(`{"b":2}`))
	require.Equal(t, []string{`{"b":2}`}, frameStrings(res.Frames))
}

func TestSplit_Stateless(t *testing.T) {
	frames, rest := Split([]byte(`{"a":1} {"b":`))
	require.Equal(t, []string{`{"a":1}`}, frameStrings(frames))
	require.Equal(t, `{"b":`, string(rest))

	frames, rest = Split(nil)
	require.Empty(t, frames)
	require.Nil(t, rest)
}

func TestSplitter_ManyEnvelopes(t *testing.T) {
	var stream bytes.Buffer
	var want []envelope.Envelope
	for i := 0; i < 50; i++ {
		env := envelope.New(envelope.DebugMessage{
			Heading: fmt.Sprintf("step {%d}", i),
			Body:    `quote " and brace } inside`,
			Level:   "INFO",
		})
		want = append(want, env)
		data, err := envelope.Encode(env)
		require.NoError(t, err)
		stream.Write(data)
	}

	res := NewSplitter().Feed(stream.Bytes())
	require.Len(t, res.Frames, len(want))
	for i, f := range res.Frames {
		got, err := envelope.Decode(f)
		require.NoError(t, err)
		require.Equal(t, want[i], got)
	}
}

func genEnvelope(t *rapid.T, label string) envelope.Envelope {
	text := rapid.StringOf(rapid.SampledFrom([]rune(`ab{}"\ :,é`+"\n"))).Draw(t, label+".text")
	var p envelope.Payload
	switch rapid.IntRange(0, 2).Draw(t, label+".kind") {
	case 0:
		p = envelope.PlainText(text)
	case 1:
		p = envelope.DebugMessage{Heading: text, Body: text, Level: "DEBUG"}
	default:
		p = envelope.ErrorLog{ErrorType: "E", ErrorMessage: text, TracebackSummary: text}
	}
	return envelope.New(p)
}

func TestSplitter_RoundTripProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 8).Draw(t, "n")
		var want []envelope.Envelope
		var stream []byte
		for i := 0; i < n; i++ {
			env := genEnvelope(t, fmt.Sprintf("env%d", i))
			data, err := envelope.Encode(env)
			require.NoError(t, err)
			want = append(want, env)
			stream = append(stream, data...)
		}

		res := NewSplitter().Feed(stream)
		require.Len(t, res.Frames, n)
		for i, f := range res.Frames {
			got, err := envelope.Decode(f)
			require.NoError(t, err)
			require.Equal(t, want[i], got)
		}
	})
}

func TestSplitter_SplitAcrossReadsProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		env := genEnvelope(t, "env")
		data, err := envelope.Encode(env)
		require.NoError(t, err)

		cut := rapid.IntRange(0, len(data)).Draw(t, "cut")

		s := NewSplitter()
		first := s.Feed(data[:cut])
		second := s.Feed(data[cut:])

		frames := append(first.Frames, second.Frames...)
		require.Len(t, frames, 1)

		got, err := envelope.Decode(frames[0])
		require.NoError(t, err)
		require.Equal(t, env, got)
		require.NoError(t, s.Flush())
	})
}

func TestSplitter_ArbitraryChunkingProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		var stream []byte
		n := rapid.IntRange(1, 5).Draw(t, "n")
		for i := 0; i < n; i++ {
			data, err := envelope.Encode(genEnvelope(t, fmt.Sprintf("env%d", i)))
			require.NoError(t, err)
			stream = append(stream, data...)
		}

		whole := NewSplitter().Feed(stream).Frames

		s := NewSplitter()
		var chunked [][]byte
		for rest := stream; len(rest) > 0; {
			size := rapid.IntRange(1, len(rest)).Draw(t, "size")
			chunked = append(chunked, s.Feed(rest[:size]).Frames...)
			rest = rest[size:]
		}

		require.Equal(t, frameStrings(whole), frameStrings(chunked))
	})
}
