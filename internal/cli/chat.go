package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wilsonzlin/aero/proxy/webrtc-roulette/internal/client"
	"github.com/wilsonzlin/aero/proxy/webrtc-roulette/internal/negotiation"
	"github.com/wilsonzlin/aero/proxy/webrtc-roulette/internal/webrtcpeer"
)

var flagNoAuto bool

var chatCmd = &cobra.Command{
	Use:     "chat",
	Aliases: []string{"c"},
	Short:   "Pair with a stranger and chat",
	Long: `Connect to the server, find a partner and start a call.

Type a line to send it. Commands:
  /next   leave the current partner and find another
  /leave  end the current call
  /quit   disconnect

Examples:
  roulette chat
  roulette chat --server ws://localhost:3001/socket --max-bitrate 200000`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runChat(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().DurationVar(&flagStatsInterval, "stats-interval", 0, "outbound stats sampling interval (env ROULETTE_STATS_INTERVAL)")
	chatCmd.Flags().Uint64Var(&flagMaxBitrate, "max-bitrate", 0, "outbound video bitrate cap in bits/s (env ROULETTE_MAX_BITRATE)")
	chatCmd.Flags().BoolVar(&flagNoAuto, "no-auto", false, "wait for /next instead of searching immediately")
}

func runChat(ctx context.Context, in io.Reader, out io.Writer) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	iceServers, err := fetchICEServers(ctx, cfg.HTTPBaseURL())
	if err != nil {
		printWarning(out, fmt.Sprintf("using no ICE servers: %v", err))
	}
	api, err := webrtcpeer.NewAPI(logger)
	if err != nil {
		return err
	}

	s := newSession(out)
	s.machine = negotiation.New(negotiation.Options{
		Transport: s,
		Factory: webrtcpeer.NewFactory(webrtcpeer.Options{
			API:         api,
			ICEServers:  iceServers,
			Logger:      logger,
			TestPattern: true,
		}),
		Logger:        logger,
		StatsInterval: cfg.StatsInterval,
		Bitrate:       negotiation.BitratePolicy{Max: cfg.MaxBitrate},
		OnStateChange: s.onStateChange,
		OnRemoteTrack: s.onRemoteTrack,
		OnStats:       s.onStats,
		OnError:       s.onError,
	})

	conn, err := client.Dial(ctx, cfg.ServerURL, client.Options{
		Handlers: s.handlers(),
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	defer conn.Close()
	s.conn = conn

	machineCtx, stopMachine := context.WithCancel(ctx)
	defer func() {
		stopMachine()
		<-s.machine.Done()
	}()
	go s.machine.Run(machineCtx)

	printSuccess(out, fmt.Sprintf("connected to %s", TitleStyle.Render(cfg.ServerURL)))
	if !flagNoAuto {
		if err := s.machine.FindPeer(); err != nil {
			return err
		}
	}

	readCtx, stopReading := context.WithCancel(ctx)
	defer stopReading()
	lines := readLines(readCtx, in)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-conn.Done():
			if err := conn.Err(); err != nil {
				return fmt.Errorf("disconnected: %w", err)
			}
			return nil
		case line, ok := <-lines:
			// Closing the socket ends any call through the server's
			// disconnect path.
			if !ok || s.handleLine(strings.TrimSpace(line)) {
				return nil
			}
		}
	}
}

// readLines delivers lines from in until it is exhausted or ctx is done.
func readLines(ctx context.Context, in io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	return lines
}
