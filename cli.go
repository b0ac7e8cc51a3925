package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"inboxpal/audio"
	"inboxpal/beep"
	"inboxpal/clipboard"
	"inboxpal/config"
	"inboxpal/doctor"
	"inboxpal/log"
	"inboxpal/metrics"
	"inboxpal/recorder"
	"inboxpal/session"
	"inboxpal/shutdown"
)

var version = "dev"

const loginTimeout = 5 * time.Minute

type cli struct {
	overrides config.Overrides
	noCues    bool
	noCopy    bool

	cfg *config.Config
	app *App
}

func execute() int {
	ctx, stop := shutdown.Context(context.Background())
	defer stop()

	c := &cli{}
	err := c.run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	var code exitCode
	switch {
	case err == nil:
		return 0
	case errors.As(err, &code):
		return int(code)
	}
	fmt.Fprintln(os.Stderr, "Error:", UserMessage(err))
	return 1
}

func (c *cli) run(ctx context.Context, args []string, in io.Reader, out, errOut io.Writer) error {
	defer c.teardown()
	root := c.rootCmd()
	root.SetArgs(args)
	root.SetIn(in)
	root.SetOut(out)
	root.SetErr(errOut)
	return root.ExecuteContext(ctx)
}

func (c *cli) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "inboxpal",
		Short: "Talk to your inbox",
		Long: "inboxpal records a short voice command, sends it to the inbox-pal backend\n" +
			"and shows what came back. Without a subcommand it starts the interactive view.",
		Args:              cobra.NoArgs,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: c.setup,
		RunE:              c.runTUI,
	}

	f := root.PersistentFlags()
	f.StringVar(&c.overrides.EnvFile, "env-file", ".env", "dotenv file to load")
	f.StringVar(&c.overrides.BackendURL, "backend", "", "backend base URL (INBOXPAL_BACKEND_URL)")
	f.StringVar(&c.overrides.StateDir, "state-dir", "", "session state directory (INBOXPAL_STATE_DIR)")
	f.StringVar(&c.overrides.Store, "store", "", "session store: file or sqlite (INBOXPAL_STORE)")
	f.StringVar(&c.overrides.UploadFormat, "format", "", "upload format: flac, wav or raw (INBOXPAL_UPLOAD_FORMAT)")
	f.StringVar(&c.overrides.Device, "device", "", "capture device name or id (INBOXPAL_DEVICE)")
	f.StringVar(&c.overrides.LogLevel, "log-level", "", "diagnostics log level (INBOXPAL_LOG_LEVEL)")
	f.StringVar(&c.overrides.LogPath, "logpath", "", "log directory (INBOXPAL_LOG_PATH)")
	f.StringVar(&c.overrides.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (INBOXPAL_METRICS_ADDR)")
	f.BoolVar(&c.noCues, "no-cues", false, "disable the start/stop sounds")
	f.BoolVar(&c.noCopy, "no-copy", false, "do not copy transcripts to the clipboard")

	root.AddCommand(
		c.recordCmd(),
		c.textCmd(),
		c.loginCmd(),
		c.logoutCmd(),
		c.statusCmd(),
		c.unreadCmd(),
		c.recentCmd(),
		c.devicesCmd(),
		c.doctorCmd(),
		versionCmd(),
		c.testCmd(),
	)
	return root
}

func (c *cli) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(c.overrides)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.noCues {
		cfg.Cues = false
	}
	if c.noCopy {
		cfg.Copy = false
	}
	if !cfg.Cues {
		beep.Disable()
	}
	c.cfg = cfg

	dir, err := log.ResolveDir(cfg.LogPath)
	if err == nil {
		log.SetDir(dir)
		err = log.Init(cfg.LogLevel)
	}
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "Warning: could not init logging: %v\n", err)
	}
	log.SessionStart(cfg.BackendURL, cfg.Store, cfg.UploadFormat)

	if cfg.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(cfg.MetricsAddr); err != nil {
				log.Warnf("metrics server: %v", err)
			}
		}()
	}
	return nil
}

func (c *cli) teardown() {
	n := 0
	if c.app != nil {
		n = c.app.Transcripts()
		if err := c.app.Close(); err != nil {
			log.Warnf("closing: %v", err)
		}
		c.app = nil
	}
	if c.cfg != nil {
		log.SessionEnd(n)
	}
	log.Close()
}

func (c *cli) open(opts appOptions) (*App, error) {
	a, err := newApp(c.cfg, opts)
	if err != nil {
		return nil, err
	}
	c.app = a
	return a, nil
}

func (c *cli) sinks(extra ...recorder.EventSink) []recorder.EventSink {
	if c.cfg.Cues {
		extra = append(extra, cueSink{})
	}
	return extra
}

func (c *cli) printTranscript(w io.Writer, text string) {
	fmt.Fprintln(w, text)
	if !c.cfg.Copy || text == "" {
		return
	}
	if err := clipboard.Copy(text); err != nil {
		log.Warnf("clipboard copy: %v", err)
	}
}

func (c *cli) recordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "record",
		Short: "Record one voice command and print the transcript",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := c.open(appOptions{audio: true, sinks: c.sinks()})
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if err := a.rec.Start(ctx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Recording on %s. Press Enter to stop (stops by itself after %s).\n",
				a.adapter.DeviceName(), recorder.MaxDuration)

			go func() {
				_, _ = bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				a.rec.Stop()
			}()

			if err := a.rec.Wait(ctx); err != nil {
				return err
			}
			c.printTranscript(cmd.OutOrStdout(), a.rec.Transcript())
			return nil
		},
	}
}

func (c *cli) textCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "text <command...>",
		Short: "Send a typed command instead of speaking it",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open(appOptions{})
			if err != nil {
				return err
			}
			res, err := a.disp.DispatchText(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			log.TranscriptText(res.Text)
			c.printTranscript(cmd.OutOrStdout(), res.Text)
			return nil
		},
	}
}

func (c *cli) loginCmd() *cobra.Command {
	var token string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in with Google and store the session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := c.open(appOptions{})
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			if token == "" {
				cb, err := session.ListenCallback(c.cfg.CallbackAddr)
				if err != nil {
					return err
				}
				defer cb.Close()

				consentURL, err := a.store.Login(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Opening your browser to sign in. If it does not open, visit:\n  %s\n", consentURL)

				waitCtx, cancel := context.WithTimeout(ctx, loginTimeout)
				defer cancel()
				token, err = cb.Wait(waitCtx)
				if err != nil {
					return fmt.Errorf("waiting for sign-in: %w", err)
				}
			}

			bundle, err := a.store.CompleteLogin(ctx, token)
			if errors.Is(err, session.ErrBundleIncomplete) {
				fmt.Fprintln(cmd.ErrOrStderr(), "Warning:", UserMessage(err))
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Signed in. %d scope(s) granted.\n", len(bundle.Scopes))
			return nil
		},
	}
	cmd.Flags().StringVar(&token, "token", "", "complete login with a token obtained elsewhere")
	return cmd
}

func (c *cli) logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := c.open(appOptions{})
			if err != nil {
				return err
			}
			if err := a.store.Logout(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Signed out.")
			return nil
		},
	}
}

func (c *cli) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show backend, session and device settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := c.open(appOptions{})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			health := "unreachable"
			if status, rtt, err := a.client.Health(cmd.Context()); err == nil {
				health = fmt.Sprintf("%s (%dms)", status, rtt.Milliseconds())
			} else {
				log.Warnf("health check: %v", err)
			}
			signedIn := "no"
			if a.store.IsAuthenticated() {
				signedIn = "yes"
			}
			device := c.cfg.Device
			if device == "" {
				device = "system default"
			}

			fmt.Fprintf(out, "backend:   %s\n", a.client.BaseURL())
			fmt.Fprintf(out, "health:    %s\n", health)
			fmt.Fprintf(out, "signed in: %s\n", signedIn)
			fmt.Fprintf(out, "store:     %s (%s)\n", c.cfg.Store, c.cfg.StateDir)
			fmt.Fprintf(out, "format:    %s\n", a.disp.Format())
			fmt.Fprintf(out, "device:    %s\n", device)
			fmt.Fprintf(out, "logs:      %s\n", log.Dir())
			return nil
		},
	}
}

func (c *cli) unreadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unread",
		Short: "Print the number of unread emails",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := c.open(appOptions{})
			if err != nil {
				return err
			}
			n, err := a.mail.UnreadCount(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d unread\n", n)
			return nil
		},
	}
}

const snippetWidth = 72

var (
	unreadStyle = lipgloss.NewStyle().Bold(true)
	subtleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

func (c *cli) recentCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "recent",
		Short: "List recent emails",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := c.open(appOptions{})
			if err != nil {
				return err
			}
			emails, err := a.mail.Recent(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(emails) == 0 {
				fmt.Fprintln(out, "No recent emails.")
				return nil
			}
			for _, e := range emails {
				marker, subject := " ", e.Subject
				if e.Unread {
					marker, subject = "●", unreadStyle.Render(e.Subject)
				}
				fmt.Fprintf(out, "%s %s\n", marker, subject)
				fmt.Fprintf(out, "  %s\n", subtleStyle.Render(e.From+"  "+e.Date))
				if e.Snippet != "" {
					fmt.Fprintf(out, "  %s\n", wrapText(e.Snippet, snippetWidth)[0])
				}
			}
			return nil
		},
	}
}

func (c *cli) devicesCmd() *cobra.Command {
	var pick bool
	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List capture devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			actx, err := audio.NewContext()
			if err != nil {
				return fmt.Errorf("%w: %v", audio.ErrDeviceUnavailable, err)
			}
			defer actx.Close()
			out := cmd.OutOrStdout()

			if pick {
				dev, err := audio.SelectDevice(actx)
				if errors.Is(err, audio.ErrPickerCancelled) {
					return nil
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Selected %s. To keep it, set INBOXPAL_DEVICE=%q\n", dev.Name, dev.Name)
				return nil
			}

			devices, err := actx.Devices()
			if err != nil {
				return err
			}
			for _, d := range devices {
				mark := " "
				if c.cfg.Device != "" && (strings.EqualFold(d.Name, c.cfg.Device) || d.ID == c.cfg.Device) {
					mark = "*"
				}
				fmt.Fprintf(out, "%s %s\n", mark, d.Name)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&pick, "pick", false, "choose a device interactively")
	return cmd
}

func (c *cli) doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check the backend, session store, microphone, hotkey and clipboard",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := c.open(appOptions{})
			if err != nil {
				return err
			}
			deps := doctor.Deps{
				Backend: a.client,
				Store:   a.store,
				Listen:  time.Second,
			}
			if actx, err := audio.NewContext(); err == nil {
				defer actx.Close()
				deps.Audio = actx
				if dev, err := audio.FindDevice(actx, c.cfg.Device); err == nil {
					deps.Device = dev
				}
			} else {
				log.Warnf("audio context: %v", err)
			}

			if code := doctor.Run(cmd.Context(), cmd.OutOrStdout(), doctor.Checks(deps)); code != 0 {
				return exitCode(code)
			}
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		// Needs no configuration.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "inboxpal", version)
		},
	}
}

func (c *cli) testCmd() *cobra.Command {
	var (
		wav      string
		realtime bool
		maxDur   time.Duration
	)
	cmd := &cobra.Command{
		Use:    "test",
		Short:  "Headless mode driven by commands on stdin",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			beep.Disable()
			fake := audio.NewFakeContext()
			if wav != "" {
				var err error
				if fake, err = audio.NewFakeContextFromWAV(wav, realtime); err != nil {
					return err
				}
			}
			a, err := c.open(appOptions{audio: true, audioCtx: fake, maxDuration: maxDur})
			if err != nil {
				return err
			}
			return runTestMode(cmd.Context(), a, fake, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&wav, "wav", "", "replay this 16 kHz mono WAV as microphone input")
	cmd.Flags().BoolVar(&realtime, "realtime", false, "pace WAV replay at capture speed")
	cmd.Flags().DurationVar(&maxDur, "max", 0, "override the recording limit")
	return cmd
}
