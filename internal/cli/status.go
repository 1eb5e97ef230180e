package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/wilsonzlin/aero/proxy/webrtc-roulette/internal/protocol"
)

const statusWatchInterval = 5 * time.Second

var flagWatch bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show how many people are waiting and chatting",
	Long: `Fetch the server's GET /status snapshot.

Examples:
  roulette status
  roulette status --watch
  roulette status --server wss://roulette.example.com/socket`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return showStatus(cmd.Context(), cmd.OutOrStdout(), cfg.HTTPBaseURL(), flagWatch, statusWatchInterval)
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().BoolVarP(&flagWatch, "watch", "w", false, "refresh every 5 seconds until interrupted")
}

func showStatus(ctx context.Context, w io.Writer, baseURL string, watch bool, interval time.Duration) error {
	st, err := fetchStatus(ctx, baseURL)
	if err != nil {
		return err
	}
	renderStatus(w, baseURL, st)
	if !watch {
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		st, err := fetchStatus(ctx, baseURL)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			printWarning(w, err.Error())
			continue
		}
		fmt.Fprintln(w)
		renderStatus(w, baseURL, st)
	}
}

func renderStatus(w io.Writer, baseURL string, st protocol.Status) {
	fmt.Fprintln(w, TitleStyle.Render(baseURL))
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Metric", "Value"})
	t.AppendRows([]table.Row{
		{"Waiting", st.WaitingUsers},
		{"In a call", st.ActiveConnections},
		{"Rooms", st.TotalRooms},
		{"Uptime", formatUptime(st.Uptime)},
	})
	t.SetStyle(table.StyleRounded)
	t.Render()
}

func formatUptime(seconds float64) string {
	return time.Duration(seconds * float64(time.Second)).Truncate(time.Second).String()
}
