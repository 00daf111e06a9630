package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/agusx1211/ccplane/internal/store"
	"github.com/agusx1211/ccplane/internal/theme"
)

func newLsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "ls",
		Aliases: []string{"list"},
		Short:   "List persisted terminals",
		Long: `List the terminals recorded in the data directory. This only reads
terminals.json, so it works whether or not a server is running; statuses
reflect the last state the server persisted.`,
		Args: cobra.NoArgs,
		RunE: runLs,
	}
	cmd.Flags().Bool("json", false, "Print as JSON")
	cmd.Flags().BoolP("children", "c", false, "Show child agents under each terminal")
	return cmd
}

func runLs(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	terminals := store.New(cfg.DataDir).LoadTerminals()

	out := cmd.OutOrStdout()
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(terminals)
	}
	children, _ := cmd.Flags().GetBool("children")
	renderTerminals(out, terminals, children, isTTY(out), time.Now())
	return nil
}

func isTTY(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// renderTerminals writes an aligned table. Styling is applied only when
// color is set.
func renderTerminals(w io.Writer, terminals []store.Terminal, children, color bool, now time.Time) {
	if len(terminals) == 0 {
		fmt.Fprintln(w, "No terminals.")
		return
	}

	style := func(s lipgloss.Style, text string) string {
		if !color {
			return text
		}
		return s.Render(text)
	}

	rows := [][]string{{"ID", "STATUS", "PROJECT", "SESSION", "AGE", "CHILDREN"}}
	for _, t := range terminals {
		project := t.Project()
		if project == "" {
			project = "-"
		}
		sessionID := t.Session()
		if sessionID == "" {
			sessionID = "-"
		}
		rows = append(rows, []string{
			t.ID,
			t.Status,
			project,
			sessionID,
			formatAge(now.Sub(t.CreatedAt)),
			fmt.Sprintf("%d", len(t.ChildAgents)),
		})
	}

	widths := make([]int, len(rows[0]))
	for _, row := range rows {
		for i, cell := range row {
			widths[i] = max(widths[i], len(cell))
		}
	}

	for r, row := range rows {
		var b strings.Builder
		for i, cell := range row {
			padded := cell + strings.Repeat(" ", widths[i]-len(cell))
			switch {
			case r == 0:
				padded = style(theme.Header, padded)
			case i == 1:
				padded = style(theme.TerminalStatus(cell), padded)
			case i == 3 && cell != "-":
				padded = style(theme.Dim, padded)
			}
			if i > 0 {
				b.WriteString("  ")
			}
			b.WriteString(padded)
		}
		fmt.Fprintln(w, strings.TrimRight(b.String(), " "))

		if r == 0 || !children {
			continue
		}
		for _, c := range terminals[r-1].ChildAgents {
			line := fmt.Sprintf("  └ %s %s %s", c.ID, style(theme.ChildStatus(c.Status), c.Status), style(theme.Dim, c.TmuxSession))
			fmt.Fprintln(w, line)
		}
	}
}

func formatAge(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}
