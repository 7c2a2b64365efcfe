package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"auto_xhs_publisher/pipeline"
)

type line struct {
	text string
	err  error
}

// Prompter answers pipeline checkpoints from a line-based terminal (or any
// piped input).
type Prompter struct {
	in   io.Reader
	out  io.Writer
	once sync.Once
	read chan line

	title   lipgloss.Style
	stage   lipgloss.Style
	box     lipgloss.Style
	problem lipgloss.Style
	prompt  lipgloss.Style
}

func New(in io.Reader, out io.Writer) *Prompter {
	r := lipgloss.NewRenderer(out)
	return &Prompter{
		in:      in,
		out:     out,
		read:    make(chan line),
		title:   r.NewStyle().Foreground(lipgloss.Color("#ff2442")).Bold(true),
		stage:   r.NewStyle().Foreground(lipgloss.Color("245")),
		box:     r.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240")).Padding(0, 1),
		problem: r.NewStyle().Foreground(lipgloss.Color("#f87171")),
		prompt:  r.NewStyle().Foreground(lipgloss.Color("#D4A017")).Bold(true),
	}
}

// Respond renders req and waits for one line. ctx cancellation returns
// immediately; the pending read is picked up by the next call.
func (p *Prompter) Respond(ctx context.Context, req pipeline.Request) (string, error) {
	p.once.Do(func() { go p.readLines() })
	p.render(req)
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case l := <-p.read:
		return l.text, l.err
	}
}

func (p *Prompter) readLines() {
	br := bufio.NewReader(p.in)
	for {
		text, err := br.ReadString('\n')
		text = strings.TrimRight(text, "\r\n")
		if err != nil {
			if text != "" {
				p.read <- line{text: text}
			}
			for {
				p.read <- line{err: err}
			}
		}
		p.read <- line{text: text}
	}
}

func (p *Prompter) render(req pipeline.Request) {
	if req.Problem == "" {
		fmt.Fprintf(p.out, "\n%s %s\n", p.title.Render(req.Title), p.stage.Render("["+req.Stage.String()+"]"))
		if req.Detail != "" {
			fmt.Fprintln(p.out, p.box.Render(req.Detail))
		}
	} else {
		fmt.Fprintln(p.out, p.problem.Render("✗ "+req.Problem))
	}
	fmt.Fprintf(p.out, "%s > ", p.prompt.Render(req.Prompt))
}
