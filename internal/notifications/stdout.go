package notifications

import (
	"context"
	"fmt"
	"io"
)

// StdoutTransport prints deliveries instead of sending them. It backs DRY_RUN.
type StdoutTransport struct {
	out io.Writer
}

func NewStdoutTransport(out io.Writer) *StdoutTransport {
	return &StdoutTransport{out: out}
}

func (s *StdoutTransport) Name() string {
	return "stdout"
}

func (s *StdoutTransport) Send(_ context.Context, token string, n Notification) error {
	_, err := fmt.Fprintf(s.out, "[dry-run] to=%s source=%s posting=%s\n%s\n\n", redactToken(token), n.SourceID, n.PostingID, n.Text())
	return err
}
