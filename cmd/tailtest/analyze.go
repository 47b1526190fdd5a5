package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/tailtest/tailtest/internal/diagnostics"
	"github.com/tailtest/tailtest/internal/transport"
)

func newAnalyzeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "analyze <file>",
		Short: "Analyze a captured scan log offline",
		Long:  "Reads one captured scan (\"-\" for stdin) and prints the same report a live scan would produce.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			lines, err := readCapture(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}

			return renderResult(cmd.OutOrStdout(), diagnostics.Analyze(lines))
		},
	}
}

func readCapture(stdin io.Reader, name string) ([]string, error) {
	src := stdin
	if name != "-" {
		// #nosec G304 -- the operator names the capture file explicitly.
		f, err := os.Open(filepath.Clean(name))
		if err != nil {
			return nil, fmt.Errorf("open capture: %w", err)
		}
		defer func() {
			_ = f.Close()
		}()
		src = f
	}

	return scanLines(src)
}

// scanLines mirrors what the session forwards: CR stripped, empty lines dropped.
func scanLines(r io.Reader) ([]string, error) {
	var lines []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if line := transport.StripCR(sc.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read capture: %w", err)
	}

	return lines, nil
}
