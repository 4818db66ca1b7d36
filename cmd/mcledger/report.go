package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/coder/quartz"
	"github.com/fatih/color"
	"github.com/goodtune/mcledger/internal/config"
	"github.com/goodtune/mcledger/internal/ledger"
	"github.com/goodtune/mcledger/internal/storage"
	"github.com/spf13/cobra"
)

const rule = "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━"

var (
	topPeriod   string
	topLimit    int
	historyDays int
	activeDays  int
)

var onlineCmd = &cobra.Command{
	Use:   "online",
	Short: "List players currently online",
	Long:  `List the players the ledger currently marks online, as of the last pass.`,
	Args:  cobra.NoArgs,
	RunE:  runOnline,
}

var topCmd = &cobra.Command{
	Use:   "top",
	Short: "Show the play time leaderboard",
	Long: `Rank players by play time over today, this week (from Monday), this month,
or the current map (from reports.map_start).`,
	Example: `  mcledger top
  mcledger --config config.yaml top --period month --limit 5
  mcledger top --period map`,
	Args: cobra.NoArgs,
	RunE: runTop,
}

var playerCmd = &cobra.Command{
	Use:   "player [flags] NAME",
	Short: "Show a player's daily play time",
	Long:  `Show one player's status and play time per day. Names match case-insensitively.`,
	Example: `  mcledger player Steve
  mcledger player --days 30 steve`,
	Args: cobra.ExactArgs(1),
	RunE: runPlayer,
}

var activeCmd = &cobra.Command{
	Use:   "active",
	Short: "Count recently active players",
	Long:  `Count distinct players with play time recorded since N days ago, inclusive.`,
	Args:  cobra.NoArgs,
	RunE:  runActive,
}

func init() {
	topCmd.Flags().StringVar(&topPeriod, "period", "week", "Period to rank over (day, week, month, map)")
	topCmd.Flags().IntVar(&topLimit, "limit", 10, "Number of players to show (0 for all)")
	playerCmd.Flags().IntVar(&historyDays, "days", 7, "Number of days to show, ending today")
	activeCmd.Flags().IntVar(&activeDays, "days", 7, "Count play time on or after this many days ago")

	rootCmd.AddCommand(onlineCmd)
	rootCmd.AddCommand(topCmd)
	rootCmd.AddCommand(playerCmd)
	rootCmd.AddCommand(activeCmd)
}

// reportSession is an open store and reporter for one report command.
type reportSession struct {
	cfg      *config.Config
	reporter *ledger.Reporter
	store    storage.Store
}

func (s *reportSession) Close() {
	_ = s.store.Close()
}

// openReporter loads configuration and opens the existing store for a
// read-only report.
func openReporter(cmd *cobra.Command) (*reportSession, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	store, err := openExistingStore(cmd.Context(), cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	return &reportSession{
		cfg:      cfg,
		reporter: ledger.NewReporter(store, quartz.NewReal(), loc),
		store:    store,
	}, nil
}

func runOnline(cmd *cobra.Command, args []string) error {
	session, err := openReporter(cmd)
	if err != nil {
		return err
	}
	defer session.Close()

	players, err := session.reporter.OnlinePlayers(cmd.Context())
	if err != nil {
		return err
	}

	printOnline(cmd.OutOrStdout(), players)
	return nil
}

func runTop(cmd *cobra.Command, args []string) error {
	session, err := openReporter(cmd)
	if err != nil {
		return err
	}
	defer session.Close()

	period, err := topPeriodFor(session, topPeriod)
	if err != nil {
		return err
	}

	standings, err := session.reporter.TopPlayers(cmd.Context(), period, topLimit)
	if err != nil {
		return err
	}

	printTop(cmd.OutOrStdout(), period, standings)
	return nil
}

// topPeriodFor resolves a --period name against the session's clock and
// configuration.
func topPeriodFor(session *reportSession, name string) (ledger.Period, error) {
	reporter := session.reporter
	switch strings.ToLower(name) {
	case "day", "today":
		return reporter.Today(), nil
	case "week":
		return reporter.ThisWeek(), nil
	case "month":
		return reporter.ThisMonth(), nil
	case "map":
		start, err := session.cfg.MapStartDate()
		if err != nil {
			return ledger.Period{}, err
		}
		if start.IsZero() {
			return ledger.Period{}, fmt.Errorf("period map requires reports.map_start")
		}
		return reporter.Since(start), nil
	default:
		return ledger.Period{}, fmt.Errorf("invalid period: %s (expected day, week, month or map)", name)
	}
}

func runPlayer(cmd *cobra.Command, args []string) error {
	if historyDays < 1 {
		return fmt.Errorf("invalid days: %d", historyDays)
	}

	session, err := openReporter(cmd)
	if err != nil {
		return err
	}
	defer session.Close()

	history, err := session.reporter.PlayerHistory(cmd.Context(), args[0], historyDays)
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("unknown player: %s", args[0])
	}
	if err != nil {
		return err
	}

	printHistory(cmd.OutOrStdout(), history)
	return nil
}

func runActive(cmd *cobra.Command, args []string) error {
	if activeDays < 0 {
		return fmt.Errorf("invalid days: %d", activeDays)
	}

	session, err := openReporter(cmd)
	if err != nil {
		return err
	}
	defer session.Close()

	count, err := session.reporter.ActivePlayerCount(cmd.Context(), activeDays)
	if err != nil {
		return err
	}

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%d player(s) active since %d day(s) ago\n", count, activeDays)
	return nil
}

// printOnline prints the online list with colors
func printOnline(w io.Writer, players []storage.Player) {
	cyan := color.New(color.FgCyan, color.Bold)
	green := color.New(color.FgGreen, color.Bold)

	fmt.Fprintln(w)
	_, _ = cyan.Fprintln(w, rule)
	_, _ = cyan.Fprintf(w, "ONLINE PLAYERS (%d)\n", len(players))
	_, _ = cyan.Fprintln(w, rule)
	fmt.Fprintln(w)

	if len(players) == 0 {
		fmt.Fprintln(w, "Nobody is online.")
	}
	for _, p := range players {
		_, _ = green.Fprintf(w, "● %-16s", p.Name)
		fmt.Fprintf(w, " %s played\n", formatSeconds(p.TotalSeconds))
	}

	fmt.Fprintln(w)
}

// printTop prints the leaderboard with colors
func printTop(w io.Writer, period ledger.Period, standings []ledger.Standing) {
	cyan := color.New(color.FgCyan, color.Bold)
	yellow := color.New(color.FgYellow, color.Bold)

	fmt.Fprintln(w)
	_, _ = cyan.Fprintln(w, rule)
	_, _ = cyan.Fprintf(w, "TOP PLAYERS %s → %s\n", period.From, period.To)
	_, _ = cyan.Fprintln(w, rule)
	fmt.Fprintln(w)

	if len(standings) == 0 {
		fmt.Fprintln(w, "No play time recorded.")
	}
	for i, s := range standings {
		line := fmt.Sprintf("%3d. %-16s %s\n", i+1, s.Name, formatSeconds(s.Seconds))
		if i == 0 {
			_, _ = yellow.Fprint(w, line)
			continue
		}
		fmt.Fprint(w, line)
	}

	fmt.Fprintln(w)
}

// printHistory prints a player's days with colors
func printHistory(w io.Writer, history *ledger.History) {
	cyan := color.New(color.FgCyan, color.Bold)
	green := color.New(color.FgGreen, color.Bold)
	red := color.New(color.FgRed)

	fmt.Fprintln(w)
	_, _ = cyan.Fprintln(w, rule)
	_, _ = cyan.Fprintf(w, "PLAYER %s\n", history.Player.Name)
	_, _ = cyan.Fprintln(w, rule)
	fmt.Fprintln(w)

	fmt.Fprintf(w, "ID:         %s\n", history.Player.ID)
	fmt.Fprint(w, "Status:     ")
	if history.Player.Online {
		_, _ = green.Fprintln(w, "ONLINE")
	} else {
		_, _ = red.Fprintln(w, "OFFLINE")
	}
	if history.Player.LastSeen != nil {
		fmt.Fprintf(w, "Last seen:  %s\n", history.Player.LastSeen.Local().Format(time.RFC1123))
	}
	fmt.Fprintf(w, "Total:      %s\n", formatSeconds(history.Player.TotalSeconds))
	fmt.Fprintln(w)

	for _, d := range history.Days {
		fmt.Fprintf(w, "  %s  %s\n", d.Date, formatSeconds(d.Seconds))
	}
	fmt.Fprintf(w, "  %-10s  %s\n", "period", formatSeconds(history.Total))

	fmt.Fprintln(w)
	_, _ = cyan.Fprintln(w, rule)
	fmt.Fprintln(w)
}

// formatSeconds renders play time as hours and minutes.
func formatSeconds(seconds int64) string {
	d := time.Duration(seconds) * time.Second
	hours := int64(d / time.Hour)
	minutes := int64((d % time.Hour) / time.Minute)
	if hours == 0 {
		return fmt.Sprintf("%dm", minutes)
	}
	return fmt.Sprintf("%dh %02dm", hours, minutes)
}
