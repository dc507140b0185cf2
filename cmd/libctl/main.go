// Command libctl browses and reorganizes a Librarian content server.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fruitsalade/librarian/internal/browser"
	"github.com/fruitsalade/librarian/internal/logging"
	"github.com/fruitsalade/librarian/internal/notify"
	"github.com/fruitsalade/librarian/internal/tree"
	"github.com/fruitsalade/librarian/pkg/client"
	"github.com/fruitsalade/librarian/pkg/models"
	"github.com/fruitsalade/librarian/pkg/retry"
)

// app is what every command runs against once flags and the profile are read.
type app struct {
	profile     Profile
	profilePath string
	client      *client.Client
	sink        *termSink
	out         printer
	in          io.Reader
	assumeYes   bool
}

type appKey struct{}

func appFrom(cmd *cobra.Command) *app {
	return cmd.Context().Value(appKey{}).(*app)
}

func newRootCmd() *cobra.Command {
	var (
		profilePath string
		server      string
		noColor     bool
		verbose     bool
		assumeYes   bool
	)

	root := &cobra.Command{
		Use:   "libctl",
		Short: "Browse and organize a Librarian content server",
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "help" || cmd.Name() == "completion" || cmd.Name() == "__complete" {
				return nil
			}

			level := "warn"
			if verbose {
				level = "debug"
			}
			if err := logging.Init(logging.Config{Level: level, Format: "console", OutputPath: "stderr"}); err != nil {
				return err
			}

			prof, err := loadProfile(profilePath, defaultProfile())
			if err != nil {
				return err
			}
			if env := os.Getenv("LIBRARIAN_SERVER"); env != "" {
				prof.Server = env
			}
			if cmd.Flags().Changed("server") {
				prof.Server = server
			}
			if noColor || os.Getenv("NO_COLOR") != "" {
				prof.Output.Color = false
			}
			if prof.TokenFile == "" {
				prof.TokenFile = client.TokenFilePath()
			}

			c := client.New(client.Config{BaseURL: prof.Server, Timeout: prof.Timeout})
			if tf, err := client.LoadToken(prof.TokenFile); err == nil && tf.Server == c.BaseURL() && !tf.IsExpired(0) {
				c.SetAuthToken(tf.Token)
			}

			st := newStyles(prof.Output.Color)
			a := &app{
				profile:     prof,
				profilePath: profilePath,
				client:      c,
				sink:        &termSink{w: cmd.ErrOrStderr(), styles: st},
				out:         printer{w: cmd.OutOrStdout(), styles: st, showSize: prof.Output.ShowSize},
				in:          cmd.InOrStdin(),
				assumeYes:   assumeYes,
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey{}, a))
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			_ = logging.Sync()
			a, ok := cmd.Context().Value(appKey{}).(*app)
			if ok && a.sink.errorCount() > 0 {
				return fmt.Errorf("%d operation(s) reported errors", a.sink.errorCount())
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&profilePath, "config", defaultProfilePath(), "profile file")
	root.PersistentFlags().StringVarP(&server, "server", "s", "", "server URL (overrides profile and LIBRARIAN_SERVER)")
	root.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging to stderr")
	root.PersistentFlags().BoolVarP(&assumeYes, "yes", "y", false, "answer yes to confirmations")

	root.AddCommand(
		newLoginCmd(),
		newLsCmd(),
		newTreeCmd(),
		newMkdirCmd(),
		newMklibCmd(),
		newUploadCmd(),
		newMvCmd(),
		newRmCmd(),
		newWatchCmd(),
	)
	return root
}

// session starts a browser session with every library's folders loaded, so
// names anywhere in the tree can be resolved.
func (a *app) session(ctx context.Context) (*browser.Session, error) {
	s := browser.NewSession(a.client, browser.Options{
		Sink:    notify.Multi{a.sink, notify.LogSink{}},
		Retry:   retry.DefaultConfig(),
		Confirm: a.confirmTwoStep,
	})
	if err := s.Start(ctx); err != nil {
		return nil, err
	}
	for _, lib := range s.Tree().Forest() {
		if _, err := s.Expand(ctx, lib.ID); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (a *app) confirmTwoStep(_ context.Context, plan models.MoveResult) bool {
	fmt.Fprintf(a.sink.w, "Moving into %q requires adding the files to %q first.\n",
		plan.TargetFolderName, plan.TargetLibraryName)
	return a.confirm("Continue?")
}

func (a *app) confirm(prompt string) bool {
	if a.assumeYes {
		return true
	}
	fmt.Fprintf(a.sink.w, "%s [y/N] ", prompt)
	line, _ := bufio.NewReader(a.in).ReadString('\n')
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	}
	return false
}

// resolveContainer accepts "library:<key>", "folder:<key>" or a label path
// such as "Legal/Contracts". Labels match case-insensitively.
func resolveContainer(forest []models.Container, arg string) (models.ContainerID, error) {
	if id, err := models.ParseContainerID(arg); err == nil {
		if _, ok := tree.Find(forest, id); !ok {
			return models.ContainerID{}, fmt.Errorf("%s not found", id)
		}
		return id, nil
	}

	parts := strings.Split(strings.Trim(arg, "/"), "/")
	nodes := forest
	var found models.Container
	for i, part := range parts {
		match, ok := findChild(nodes, part)
		if !ok {
			return models.ContainerID{}, fmt.Errorf("no container named %q in %q", part, strings.Join(parts[:i], "/"))
		}
		found, nodes = match, match.Children
	}
	return found.ID, nil
}

func findChild(nodes []models.Container, label string) (models.Container, bool) {
	for _, n := range nodes {
		if strings.EqualFold(n.Label, strings.TrimSpace(label)) {
			return n, true
		}
	}
	return models.Container{}, false
}

// resolveItems maps item ids or titles at the session's current location to ids.
func resolveItems(s *browser.Session, args []string) ([]string, error) {
	items := s.CurrentItems()
	ids := make([]string, 0, len(args))
	for _, arg := range args {
		id := ""
		for _, it := range items {
			if it.ID == arg || it.Title == arg {
				id = it.ID
				break
			}
		}
		if id == "" {
			lib, folder := s.Current()
			if lib.IsZero() {
				// No location to search; pass raw ids through.
				id = arg
			} else {
				where := lib
				if !folder.IsZero() {
					where = folder
				}
				return nil, fmt.Errorf("no item %q in %s", arg, s.DestinationLabel(where))
			}
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// ─── Commands ───────────────────────────────────────────────────────────────

func newLoginCmd() *cobra.Command {
	var username, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and save a token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := appFrom(cmd)
			if username == "" {
				username = a.profile.Username
			}
			if username == "" {
				return errors.New("--username is required")
			}
			if password == "" {
				password = os.Getenv("LIBRARIAN_PASSWORD")
			}
			if password == "" {
				fmt.Fprint(a.sink.w, "Password: ")
				line, _ := bufio.NewReader(a.in).ReadString('\n')
				password = strings.TrimSpace(line)
			}

			tf, err := a.client.Login(cmd.Context(), username, password)
			if err != nil {
				return err
			}
			if err := client.SaveToken(a.profile.TokenFile, tf); err != nil {
				return fmt.Errorf("save token: %w", err)
			}
			a.profile.Username = username
			if err := saveProfile(a.profilePath, a.profile); err != nil {
				logging.Warn("failed to save profile", logging.Err(err))
			}
			fmt.Fprintf(a.out.w, "Signed in as %s (token expires %s)\n", tf.Username, tf.ExpiresAt.Format("2006-01-02 15:04"))
			return nil
		},
	}
	cmd.Flags().StringVarP(&username, "username", "u", "", "user name")
	cmd.Flags().StringVarP(&password, "password", "p", "", "password (or LIBRARIAN_PASSWORD)")
	return cmd
}

func newLsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls [library|folder]",
		Short: "List libraries, or the items at a location",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFrom(cmd)
			s, err := a.session(cmd.Context())
			if err != nil {
				return err
			}
			if len(args) == 0 {
				for _, lib := range s.Tree().Forest() {
					fmt.Fprintf(a.out.w, "%s %s\n", a.out.styles.library.Render(lib.Label), a.out.styles.id.Render(lib.ID.String()))
				}
				return nil
			}
			id, err := resolveContainer(s.Tree().Forest(), args[0])
			if err != nil {
				return err
			}
			if err := s.Select(cmd.Context(), id); err != nil {
				return err
			}
			lib, folder := s.Current()
			resp, err := a.client.ListItems(cmd.Context(), lib, folder)
			if err != nil {
				return err
			}
			a.out.listing(resp)
			return nil
		},
	}
}

func newTreeCmd() *cobra.Command {
	var filter string
	cmd := &cobra.Command{
		Use:   "tree",
		Short: "Show libraries and folders",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := appFrom(cmd)
			s, err := a.session(cmd.Context())
			if err != nil {
				return err
			}
			a.out.forest(s.Destinations(filter))
			return nil
		},
	}
	cmd.Flags().StringVarP(&filter, "filter", "f", "", "only show containers whose name contains this text")
	return cmd
}

func newMkdirCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mkdir <library|folder> <name>",
		Short: "Create a folder",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFrom(cmd)
			s, err := a.session(cmd.Context())
			if err != nil {
				return err
			}
			parent, err := resolveContainer(s.Tree().Forest(), args[0])
			if err != nil {
				return err
			}
			if err := s.Select(cmd.Context(), parent); err != nil {
				return err
			}
			_, err = s.CreateFolder(cmd.Context(), args[1])
			return err
		},
	}
}

func newMklibCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mklib <name>",
		Short: "Create a library",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFrom(cmd)
			lib, err := a.client.CreateLibrary(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out.w, "Created %s %s\n", a.out.styles.library.Render(lib.Label), a.out.styles.id.Render(lib.ID.String()))
			return nil
		},
	}
}

func newUploadCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "upload <library|folder> <file>",
		Short: "Upload a file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFrom(cmd)
			s, err := a.session(cmd.Context())
			if err != nil {
				return err
			}
			dest, err := resolveContainer(s.Tree().Forest(), args[0])
			if err != nil {
				return err
			}
			library, folder := dest, models.ContainerID{}
			if dest.IsFolder() {
				lib, ok := s.Tree().FindContainerForNestedID(dest)
				if !ok {
					return fmt.Errorf("no library holds %s", dest)
				}
				library, folder = lib, dest
			}

			f, err := os.Open(args[1])
			if err != nil {
				return err
			}
			defer f.Close()
			info, err := f.Stat()
			if err != nil {
				return err
			}
			if name == "" {
				name = filepath.Base(args[1])
			}

			item, err := a.client.Upload(cmd.Context(), library, folder, name, f, info.Size())
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out.w, "Uploaded %s (%s) %s\n", item.Title, humanSize(item.Size), a.out.styles.id.Render(item.ID))
			return nil
		},
	}
	cmd.Flags().StringVarP(&name, "name", "n", "", "title to store the file under (default: file name)")
	return cmd
}

func newMvCmd() *cobra.Command {
	var from string
	cmd := &cobra.Command{
		Use:   "mv <destination> <item>...",
		Short: "Move items to a library or folder",
		Long: `Move items to a library or folder.

Items are ids, or titles when --from names the location they are in. Moving
into a folder of another library first adds the items to that library, then
files them into the folder.`,
		Example: `  libctl mv --from Finance Legal/Contracts nda.pdf
  libctl mv library:4f2a 0b9c1e7a-...`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFrom(cmd)
			s, err := a.session(cmd.Context())
			if err != nil {
				return err
			}
			forest := s.Tree().Forest()
			dest, err := resolveContainer(forest, args[0])
			if err != nil {
				return err
			}
			if from != "" {
				src, err := resolveContainer(forest, from)
				if err != nil {
					return err
				}
				if err := s.Select(cmd.Context(), src); err != nil {
					return err
				}
			}
			ids, err := resolveItems(s, args[1:])
			if err != nil {
				return err
			}
			s.SelectItems(ids...)

			report, err := s.Move(cmd.Context(), dest)
			if err != nil {
				return err
			}
			if lib, folder := s.Current(); !lib.IsZero() {
				where := lib
				if !folder.IsZero() {
					where = folder
				}
				fmt.Fprintf(a.out.w, "Now at %s\n", s.DestinationLabel(where))
			}
			logging.Debug("move report", logging.String("outcome", string(report.Outcome)))
			return nil
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "location the items are in")
	return cmd
}

func newRmCmd() *cobra.Command {
	var from string
	cmd := &cobra.Command{
		Use:   "rm <item>...",
		Short: "Delete items",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFrom(cmd)
			s, err := a.session(cmd.Context())
			if err != nil {
				return err
			}
			if from != "" {
				src, err := resolveContainer(s.Tree().Forest(), from)
				if err != nil {
					return err
				}
				if err := s.Select(cmd.Context(), src); err != nil {
					return err
				}
			}
			ids, err := resolveItems(s, args)
			if err != nil {
				return err
			}
			if !a.confirm(fmt.Sprintf("Delete %d item(s)?", len(ids))) {
				return errors.New("cancelled")
			}
			s.SelectItems(ids...)
			res, err := s.Delete(cmd.Context())
			if err != nil {
				return err
			}
			if !res.Success {
				return fmt.Errorf("%d of %d items deleted", res.SuccessCount, len(ids))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "location the items are in")
	return cmd
}

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Print change events as they happen",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := appFrom(cmd)
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			events, errs := a.client.Events().Subscribe(ctx)
			for {
				select {
				case ev, ok := <-events:
					if !ok {
						return nil
					}
					a.out.event(ev)
				case err, ok := <-errs:
					if !ok {
						errs = nil
						continue
					}
					logging.Debug("event stream error", logging.Err(err))
				}
			}
		},
	}
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
