package broadcast

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCleanHTML(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want string
	}{
		{name: "plain text passes through", in: "just words", want: "just words"},
		{name: "tags stripped", in: "<p>Hello <b>world</b></p>", want: "Hello world"},
		{name: "breaks become newlines", in: "line one<br>line two", want: "line one\nline two"},
		{name: "paragraphs separated", in: "<p>one</p><p>two</p>", want: "one\ntwo"},
		{name: "entities decoded", in: "fish &amp; chips", want: "fish & chips"},
		{name: "surrounding whitespace trimmed", in: "<div>  padded  </div>", want: "padded"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, CleanHTML(tc.in))
		})
	}
}
