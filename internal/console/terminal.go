package console

import (
	"bufio"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// Prompt is the interactive prompt.
const Prompt = "(sdb) "

// Terminal is the console's input and output.
type Terminal struct {
	LineReader
	io.Writer

	// Interactive is true when input comes from a terminal in raw mode.
	Interactive bool

	restore func()
}

// OpenTerminal sets up in and out. When both are terminals the input is
// switched to raw mode and read with line editing and history; otherwise
// lines are read plainly.
func OpenTerminal(in, out *os.File) (*Terminal, error) {
	fd := int(in.Fd())
	if !term.IsTerminal(fd) || !term.IsTerminal(int(out.Fd())) {
		return &Terminal{
			LineReader: newScanReader(in),
			Writer:     out,
			restore:    func() {},
		}, nil
	}

	state, err := term.MakeRaw(fd)
	if err != nil {
		return nil, err
	}
	t := term.NewTerminal(struct {
		io.Reader
		io.Writer
	}{in, out}, Prompt)
	if w, h, err := term.GetSize(int(out.Fd())); err == nil {
		_ = t.SetSize(w, h)
	}
	return &Terminal{
		LineReader:  t,
		Writer:      t,
		Interactive: true,
		restore:     func() { _ = term.Restore(fd, state) },
	}, nil
}

// SetCompleter installs tab completion of command names on interactive
// terminals.
func (t *Terminal) SetCompleter(c *Console) {
	xt, ok := t.LineReader.(*term.Terminal)
	if !ok {
		return
	}
	xt.AutoCompleteCallback = func(line string, pos int, key rune) (string, int, bool) {
		if key != '\t' || strings.Contains(line, " ") {
			return "", 0, false
		}
		matches := c.Complete(line)
		if len(matches) != 1 {
			return "", 0, false
		}
		return matches[0] + " ", len(matches[0]) + 1, true
	}
}

// Restore puts the terminal back into its original mode.
func (t *Terminal) Restore() {
	t.restore()
}

// scanReader reads lines from a non-terminal input.
type scanReader struct {
	s *bufio.Scanner
}

func newScanReader(r io.Reader) *scanReader {
	return &scanReader{s: bufio.NewScanner(r)}
}

func (r *scanReader) ReadLine() (string, error) {
	if r.s.Scan() {
		return r.s.Text(), nil
	}
	if err := r.s.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}
