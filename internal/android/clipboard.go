package android

import (
	"context"
	"fmt"
	"strings"
	"time"

	"nlmirror/internal/types"
)

const clipboardTimeout = 5 * time.Second

// Clipboard reads and writes the device clipboard through configurable
// shell commands, since stock shells ship none. The set command reads the
// new text from stdin.
type Clipboard struct {
	sh     *Shell
	getCmd string
	setCmd string
}

func NewClipboard(sh *Shell, getCmd, setCmd string) *Clipboard {
	return &Clipboard{sh: sh, getCmd: getCmd, setCmd: setCmd}
}

func (c *Clipboard) GetText() (string, error) {
	if c.getCmd == "" {
		return "", fmt.Errorf("clipboard get: %w", types.ErrUnsupported)
	}
	ctx, cancel := context.WithTimeout(context.Background(), clipboardTimeout)
	defer cancel()
	out, err := c.sh.Output(ctx, c.getCmd)
	if err != nil {
		return "", err
	}
	return strings.TrimSuffix(string(out), "\n"), nil
}

func (c *Clipboard) SetText(text string) error {
	if c.setCmd == "" {
		return fmt.Errorf("clipboard set: %w", types.ErrUnsupported)
	}
	ctx, cancel := context.WithTimeout(context.Background(), clipboardTimeout)
	defer cancel()
	_, err := c.sh.OutputInput(ctx, c.setCmd, strings.NewReader(text))
	return err
}
