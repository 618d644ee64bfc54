package main

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/yourusername/gameinstall-go/internal/app"
	"github.com/yourusername/gameinstall-go/internal/domain"
	"github.com/yourusername/gameinstall-go/pkg/logger"
)

var (
	serverURL   string
	configPath  string
	noAutoStart bool
	verbose     bool
	cliLog      = zap.NewNop()
	rootCmd     = &cobra.Command{
		Use:   "gameinstall",
		Short: "gameinstall CLI - install, update and repair launcher games",
		Long: `A command-line interface for the game install server. Installs run
in the server; the CLI starts them and follows their progress.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			cliLog = logger.NewCLI(verbose)
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8787", "Server URL")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file passed to an auto-started server")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log requests to stderr")
	rootCmd.PersistentFlags().BoolVar(&noAutoStart, "no-auto-start", false, "Don't auto-start server if not running")

	for _, task := range []domain.InstallTask{
		domain.TaskInstall,
		domain.TaskUpdate,
		domain.TaskRepair,
		domain.TaskPreDownload,
		domain.TaskHardLink,
	} {
		rootCmd.AddCommand(taskCommand(task))
	}
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(pauseCmd)
	rootCmd.AddCommand(continueCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(rateLimitCmd)
	rootCmd.AddCommand(titlesCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(logsCmd)
}

// ensureServer checks if server is running and starts it if needed (unless --no-auto-start)
func ensureServer() {
	if noAutoStart {
		return
	}
	if err := ensureServerRunning(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}
}

var taskDescriptions = map[domain.InstallTask]string{
	domain.TaskInstall:     "Download and install the latest full package",
	domain.TaskUpdate:      "Update an installed game to the latest version",
	domain.TaskRepair:      "Verify every game file and re-download damaged ones",
	domain.TaskPreDownload: "Stage the packages of the next version",
	domain.TaskHardLink:    "Install by hard-linking files from another region's install",
}

func taskCommand(task domain.InstallTask) *cobra.Command {
	cmd := &cobra.Command{
		Use:   string(task) + " [title]",
		Short: taskDescriptions[task],
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ensureServer()

			req := app.StartRequest{Title: args[0], Task: task}
			if task == domain.TaskHardLink {
				req.LinkTitle, _ = cmd.Flags().GetString("from")
			}

			var info app.InstallInfo
			if err := call(http.MethodPost, "/api/v1/installs", req, &info); err != nil {
				return err
			}
			fmt.Printf("Started %s of %s", info.Task, info.Title)
			if info.Version != "" {
				fmt.Printf(" (version %s)", info.Version)
			}
			fmt.Println()

			if watch, _ := cmd.Flags().GetBool("watch"); watch {
				return watchInstall(info.Title)
			}
			return nil
		},
	}
	cmd.Flags().BoolP("watch", "w", false, "Follow progress until the install ends")
	if task == domain.TaskHardLink {
		cmd.Flags().String("from", "", "Title whose install provides the files")
		cmd.MarkFlagRequired("from")
	}
	return cmd
}

var statusCmd = &cobra.Command{
	Use:   "status [title]",
	Short: "Show active installs",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ensureServer()

		if len(args) == 1 {
			var info app.InstallInfo
			if err := call(http.MethodGet, "/api/v1/installs/"+url.PathEscape(args[0]), nil, &info); err != nil {
				return err
			}
			p := info.Progress
			fmt.Printf("Install Details:\n")
			fmt.Printf("  Title:    %s\n", info.Title)
			fmt.Printf("  Task:     %s\n", info.Task)
			fmt.Printf("  Version:  %s\n", info.Version)
			fmt.Printf("  State:    %s\n", p.StateText)
			fmt.Printf("  Progress: %.1f%% (%s)\n", p.Percent, p.Text)
			if p.SpeedText != "" {
				fmt.Printf("  Speed:    %s\n", p.SpeedText)
			}
			if p.ETAText != "" {
				fmt.Printf("  ETA:      %s\n", p.ETAText)
			}
			fmt.Printf("  Started:  %s\n", humanize.Time(info.StartedAt))
			return nil
		}

		var list struct {
			Installs []*app.InstallInfo `json:"installs"`
			Speed    float64            `json:"speed"`
		}
		if err := call(http.MethodGet, "/api/v1/installs", nil, &list); err != nil {
			return err
		}
		if len(list.Installs) == 0 {
			fmt.Println("No active installs")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "TITLE\tTASK\tSTATE\tPROGRESS\tSPEED\tETA")
		for _, info := range list.Installs {
			p := info.Progress
			fmt.Fprintf(w, "%s\t%s\t%s\t%.1f%% %s\t%s\t%s\n",
				info.Title, info.Task, p.StateText, p.Percent, p.Text, p.SpeedText, p.ETAText)
		}
		w.Flush()
		fmt.Printf("\nTotal speed: %s/s\n", humanize.IBytes(uint64(list.Speed)))
		return nil
	},
}

func titleAction(use, short, action, done string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " [title]",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ensureServer()
			if err := call(http.MethodPost, "/api/v1/installs/"+url.PathEscape(args[0])+"/"+action, nil, nil); err != nil {
				return err
			}
			fmt.Println(done)
			return nil
		},
	}
}

var (
	pauseCmd    = titleAction("pause", "Pause an install", "pause", "Install paused")
	continueCmd = titleAction("continue", "Continue a paused install", "continue", "Install continued")
	cancelCmd   = titleAction("cancel", "Cancel an install, keeping partial files", "cancel", "Install canceled")
)

var rateLimitCmd = &cobra.Command{
	Use:   "ratelimit [limit]",
	Short: "Show or set the shared download speed limit",
	Long: `Show or set the download speed limit shared by all installs.
The limit is a size per second such as 10MiB or 500KB; 0 removes it.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ensureServer()

		var resp struct {
			BytesPerSecond int64 `json:"bytes_per_second"`
		}
		if len(args) == 0 {
			if err := call(http.MethodGet, "/api/v1/ratelimit", nil, &resp); err != nil {
				return err
			}
		} else {
			limit, err := parseRate(args[0])
			if err != nil {
				return err
			}
			payload := map[string]int64{"bytes_per_second": limit}
			if err := call(http.MethodPut, "/api/v1/ratelimit", payload, &resp); err != nil {
				return err
			}
		}

		if resp.BytesPerSecond == 0 {
			fmt.Println("Rate limit: unlimited")
		} else {
			fmt.Printf("Rate limit: %s/s\n", humanize.IBytes(uint64(resp.BytesPerSecond)))
		}
		return nil
	},
}

// parseRate accepts a plain byte count or a humanized size
func parseRate(s string) (int64, error) {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n < 0 {
			return 0, fmt.Errorf("rate limit must be >= 0")
		}
		return n, nil
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid rate limit %q: %w", s, err)
	}
	return int64(n), nil
}

var titlesCmd = &cobra.Command{
	Use:   "titles",
	Short: "List configured titles",
	RunE: func(cmd *cobra.Command, args []string) error {
		ensureServer()

		var titles []struct {
			domain.Title
			LocalVersion string `json:"local_version"`
			Installing   bool   `json:"installing"`
		}
		if err := call(http.MethodGet, "/api/v1/titles", nil, &titles); err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tVERSION\tINSTALL PATH\tACTIVE")
		for _, t := range titles {
			version := t.LocalVersion
			if version == "" {
				version = "-"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%v\n", t.ID, t.Name, version, t.InstallPath, t.Installing)
		}
		w.Flush()

		check, _ := cmd.Flags().GetBool("check")
		if !check {
			return nil
		}
		fmt.Println()
		for _, t := range titles {
			var need struct {
				UpToDate      bool   `json:"up_to_date"`
				Kind          string `json:"kind"`
				TargetVersion string `json:"target_version"`
				Size          int64  `json:"size"`
			}
			if err := call(http.MethodGet, "/api/v1/titles/"+url.PathEscape(t.ID)+"/resource", nil, &need); err != nil {
				fmt.Printf("%s: %v\n", t.ID, err)
				continue
			}
			if need.UpToDate {
				fmt.Printf("%s: up to date\n", t.ID)
				continue
			}
			fmt.Printf("%s: %s %s, %s to download\n", t.ID, need.Kind, need.TargetVersion, humanize.IBytes(uint64(need.Size)))
		}
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show past installs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ensureServer()

		if stats, _ := cmd.Flags().GetBool("stats"); stats {
			var s domain.InstallStats
			if err := call(http.MethodGet, "/api/v1/history/stats", nil, &s); err != nil {
				return err
			}
			fmt.Println("Install Statistics:")
			fmt.Printf("  Total:    %d\n", s.Total)
			fmt.Printf("  Running:  %d\n", s.Running)
			fmt.Printf("  Finished: %d\n", s.Finished)
			fmt.Printf("  Failed:   %d\n", s.Failed)
			fmt.Printf("  Canceled: %d\n", s.Canceled)
			return nil
		}

		q := url.Values{}
		for _, key := range []string{"title", "status"} {
			if v, _ := cmd.Flags().GetString(key); v != "" {
				q.Set(key, v)
			}
		}
		path := "/api/v1/history"
		if len(q) > 0 {
			path += "?" + q.Encode()
		}

		var records []domain.InstallRecord
		if err := call(http.MethodGet, path, nil, &records); err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTITLE\tTASK\tSTATUS\tVERSION\tSIZE\tSTARTED")
		for _, r := range records {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				truncate(r.ID, 8),
				r.Title,
				r.Task,
				r.Status,
				r.Version,
				humanize.IBytes(uint64(max(r.FinishBytes, 0))),
				r.CreatedAt.Format(time.DateTime))
		}
		w.Flush()
		return nil
	},
}

var logsCmd = &cobra.Command{
	Use:   "logs [category]",
	Short: "View server logs (install, queue, error)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ensureServer()
		limit, _ := cmd.Flags().GetInt("limit")
		query, _ := cmd.Flags().GetString("search")

		path := "/api/v1/logs/" + url.PathEscape(args[0])
		q := url.Values{"limit": {strconv.Itoa(limit)}}
		if query != "" {
			path += "/search"
			q.Set("q", query)
		}

		var result struct {
			Entries []struct {
				Timestamp string                 `json:"timestamp"`
				Level     string                 `json:"level"`
				Message   string                 `json:"message"`
				Fields    map[string]interface{} `json:"fields"`
			} `json:"entries"`
		}
		if err := call(http.MethodGet, path+"?"+q.Encode(), nil, &result); err != nil {
			return err
		}
		for _, e := range result.Entries {
			fmt.Printf("%s %-5s %s", e.Timestamp, e.Level, e.Message)
			for k, v := range e.Fields {
				fmt.Printf(" %s=%v", k, v)
			}
			fmt.Println()
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().StringP("title", "t", "", "Filter by title")
	historyCmd.Flags().StringP("status", "s", "", "Filter by status")
	historyCmd.Flags().Bool("stats", false, "Show counts instead of records")
	titlesCmd.Flags().Bool("check", false, "Ask the server what each title needs to download")
	logsCmd.Flags().IntP("limit", "n", 50, "Number of entries")
	logsCmd.Flags().StringP("search", "q", "", "Only entries containing this text")
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
