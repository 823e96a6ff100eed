package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/jdziat/simple-lease-jobs/pkg/jobctx"
	"github.com/jdziat/simple-lease-jobs/pkg/queue"
)

// Handler keys.
const (
	PrintMessage = "print_message"
	Echo         = "echo"
	SendEmail    = "send_email"
	GeneratePDF  = "generate_pdf"
)

// Config wires the demo handlers to their outputs.
type Config struct {
	Output       io.Writer // print_message destination; defaults to stdout
	Sender       EmailSender
	PDFOutputDir string
	Logger       *slog.Logger
}

// Tasks implements the demo handlers.
type Tasks struct {
	out    io.Writer
	sender EmailSender
	pdfDir string
	logger *slog.Logger
}

// New creates the handler set. Without a Sender, emails are logged.
func New(cfg Config) *Tasks {
	t := &Tasks{
		out:    cfg.Output,
		sender: cfg.Sender,
		pdfDir: cfg.PDFOutputDir,
		logger: cfg.Logger,
	}
	if t.out == nil {
		t.out = os.Stdout
	}
	if t.logger == nil {
		t.logger = slog.Default()
	}
	if t.sender == nil {
		t.sender = NewLogSender(t.logger, "")
	}
	if t.pdfDir == "" {
		t.pdfDir = "."
	}
	return t
}

// Register binds every demo handler on q.
func (t *Tasks) Register(q *queue.Queue) error {
	return errors.Join(
		q.Register(PrintMessage, t.PrintMessage),
		q.Register(Echo, EchoHandler),
		q.Register(SendEmail, t.SendEmail),
		q.Register(GeneratePDF, t.GeneratePDF),
	)
}

// PrintMessage writes msg and extra, followed by the running job's id.
func (t *Tasks) PrintMessage(ctx context.Context, msg, extra string) error {
	var b strings.Builder
	fmt.Fprintf(&b, "Worker says: %s\n", msg)
	fmt.Fprintf(&b, "Extra info: %s\n", extra)
	if id := jobctx.JobIDFromContext(ctx); id != "" {
		fmt.Fprintf(&b, "My job ID is: %s\n", id)
	}
	_, err := io.WriteString(t.out, b.String())
	return err
}

// EchoHandler returns its argument unchanged.
func EchoHandler(x json.RawMessage) (json.RawMessage, error) {
	return x, nil
}

// SendEmail validates e and hands it to the configured sender.
func (t *Tasks) SendEmail(ctx context.Context, e Email) error {
	if err := e.Validate(); err != nil {
		return err
	}
	if err := t.sender.SendEmail(ctx, e); err != nil {
		return err
	}
	t.logger.InfoContext(ctx, "email sent", "to", e.To, "subject", e.Subject)
	return nil
}

// GeneratePDF renders doc into PDFOutputDir and returns the file path.
func (t *Tasks) GeneratePDF(ctx context.Context, doc Document) (string, error) {
	if strings.TrimSpace(doc.Title) == "" {
		return "", errors.New("tasks: pdf title is required")
	}
	path := filepath.Join(t.pdfDir, pdfFilename(jobctx.JobIDFromContext(ctx), doc.Title))
	if err := renderPDF(path, doc); err != nil {
		return "", err
	}
	t.logger.InfoContext(ctx, "pdf generated", "path", path, "lines", len(doc.Lines))
	return path, nil
}
