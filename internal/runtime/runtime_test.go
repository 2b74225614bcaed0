package runtime

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
)

func TestPromptConfirmAnswers(t *testing.T) {
	cases := []struct {
		name  string
		input string
		want  bool
	}{
		{name: "yes", input: "y\n", want: true},
		{name: "yes uppercase", input: "Y\n", want: true},
		{name: "yes padded", input: "  y  \n", want: true},
		{name: "no", input: "n\n", want: false},
		{name: "anything else", input: "continue\n", want: false},
		{name: "eof without newline", input: "y", want: true},
		{name: "empty input", input: "", want: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var out bytes.Buffer
			confirm := promptConfirm(strings.NewReader(tc.input), &out)
			got, err := confirm(context.Background(), 1.25, 5000)
			if err != nil {
				t.Fatalf("confirm returned error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("confirm(%q) = %v, want %v", tc.input, got, tc.want)
			}
			if !strings.Contains(out.String(), "$1.25") {
				t.Fatalf("prompt output missing estimate: %q", out.String())
			}
			if !strings.Contains(out.String(), "Do you want to continue? (y/n)") {
				t.Fatalf("prompt output missing question: %q", out.String())
			}
		})
	}
}

func TestPromptConfirmCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// A reader that never produces input, like an idle terminal.
	blocked := &blockingReader{ch: make(chan struct{})}
	t.Cleanup(func() { close(blocked.ch) })

	confirm := promptConfirm(blocked, &bytes.Buffer{})
	if _, err := confirm(ctx, 0, 0); err == nil {
		t.Fatal("expected context error, got nil")
	}
}

type blockingReader struct {
	ch chan struct{}
}

func (b *blockingReader) Read(p []byte) (int, error) {
	<-b.ch
	return 0, io.EOF
}
