package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/christopherklint97/convene/internal/calendar"
	"github.com/christopherklint97/convene/internal/config"
	"github.com/christopherklint97/convene/internal/directory"
	"github.com/christopherklint97/convene/internal/notify"
	"github.com/christopherklint97/convene/internal/scheduler"
	"github.com/christopherklint97/convene/internal/store"
	"github.com/christopherklint97/convene/internal/tui"
)

var rootCmd = &cobra.Command{
	Use:   "convene",
	Short: "Meeting scheduling assistant powered by AI",
	Long:  "convene books meetings from plain-English requests. It asks for whatever is missing, offers free slots and confirms before touching your calendar.",
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive scheduling conversation",
	RunE:  runChat,
}

var sayCmd = &cobra.Command{
	Use:   "say <message>",
	Short: "Send one message to a conversation and print the reply",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSay,
}

var meetingsCmd = &cobra.Command{
	Use:   "meetings",
	Short: "List upcoming and recent meetings",
	RunE:  runMeetings,
}

var contactsCmd = &cobra.Command{
	Use:   "contacts",
	Short: "Manage the address book",
}

var contactsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List contacts",
	RunE:  runContactsList,
}

var contactsAddCmd = &cobra.Command{
	Use:   "add <name> <email>",
	Short: "Add a contact",
	Args:  cobra.ExactArgs(2),
	RunE:  runContactsAdd,
}

var contactsRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Remove a contact by id",
	Args:  cobra.ExactArgs(1),
	RunE:  runContactsRemove,
}

var calendarCmd = &cobra.Command{
	Use:   "calendar",
	Short: "Calendar backend commands",
}

var calendarAuthCmd = &cobra.Command{
	Use:   "auth",
	Short: "Sign in to Microsoft Graph with a device code",
	RunE:  runCalendarAuth,
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Run desktop reminders for upcoming meetings",
	RunE:  runStart,
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running reminder process",
	RunE:  runStop,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Open config file in your editor",
	RunE:  runConfig,
}

func init() {
	chatCmd.Flags().StringP("conversation", "c", "", "Conversation id (default: the configured user id)")
	sayCmd.Flags().StringP("conversation", "c", "", "Conversation id (default: the configured user id)")
	meetingsCmd.Flags().StringP("search", "s", "", "Search past meetings by title or participant")
	meetingsCmd.Flags().IntP("limit", "n", 10, "Maximum meetings to show")
	meetingsCmd.Flags().StringP("thread", "t", "", "Show the follow-up thread of a meeting (id, title or thread id)")
	contactsAddCmd.Flags().String("department", "", "Department")
	contactsAddCmd.Flags().String("role", "", "Role or title")
	contactsAddCmd.Flags().Bool("private", false, "Only visible to you")

	contactsCmd.AddCommand(contactsListCmd, contactsAddCmd, contactsRemoveCmd)
	calendarCmd.AddCommand(calendarAuthCmd)

	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(sayCmd)
	rootCmd.AddCommand(meetingsCmd)
	rootCmd.AddCommand(contactsCmd)
	rootCmd.AddCommand(calendarCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func conversationID(cmd *cobra.Command, cfg *config.Config) string {
	if id, _ := cmd.Flags().GetString("conversation"); id != "" {
		return id
	}
	return "cli:" + cfg.User.ID
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	svc, err := openServices(ctx)
	if err != nil {
		return err
	}
	defer svc.Close()

	app := tui.NewApp(ctx, svc.manager, tui.Options{
		ConversationID: conversationID(cmd, svc.cfg),
		UserID:         svc.cfg.User.ID,
	})
	if _, err := tea.NewProgram(app, tea.WithAltScreen()).Run(); err != nil {
		return fmt.Errorf("running TUI: %w", err)
	}
	return nil
}

func runSay(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := openServices(ctx)
	if err != nil {
		return err
	}
	defer svc.Close()

	res, err := svc.manager.ProcessMessage(ctx, conversationID(cmd, svc.cfg), svc.cfg.User.ID, strings.Join(args, " "))
	if err != nil {
		return err
	}
	if res.Reply.Text != "" {
		fmt.Println(res.Reply.Text)
	}
	if res.Reply.Warning != "" {
		fmt.Fprintf(os.Stderr, "Warning: %s\n", res.Reply.Warning)
	}
	if res.Reply.Text == "" && res.Reply.Err != nil {
		return res.Reply.Err
	}
	return nil
}

func runMeetings(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	dir, err := config.ConfigDir()
	if err != nil {
		return err
	}
	db, err := store.Open(dir)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	ctx := context.Background()
	limit, _ := cmd.Flags().GetInt("limit")
	query, _ := cmd.Flags().GetString("search")
	thread, _ := cmd.Flags().GetString("thread")

	if thread != "" {
		return printThread(ctx, os.Stdout, db, cfg.User.ID, thread)
	}
	if query != "" {
		found, err := db.SearchMeetings(ctx, cfg.User.ID, query, limit)
		if err != nil {
			return fmt.Errorf("searching meetings: %w", err)
		}
		printMeetings(os.Stdout, fmt.Sprintf("Meetings matching %q:", query), found)
		return nil
	}

	upcoming, err := db.UpcomingMeetings(ctx, cfg.User.ID, time.Now(), limit)
	if err != nil {
		return fmt.Errorf("fetching upcoming meetings: %w", err)
	}
	recent, err := db.RecentMeetings(ctx, cfg.User.ID, limit)
	if err != nil {
		return fmt.Errorf("fetching recent meetings: %w", err)
	}
	printMeetings(os.Stdout, "Upcoming:", upcoming)
	fmt.Println()
	printMeetings(os.Stdout, "Recently booked:", recent)
	return nil
}

// printThread lists a meeting and its follow-ups. ref is a thread id or the
// id of any meeting in the thread.
func printThread(ctx context.Context, w io.Writer, db *store.DB, userID, ref string) error {
	threadID := ref
	if !strings.HasPrefix(ref, "thr_") {
		m, err := db.FindMeeting(ctx, userID, ref)
		if err != nil {
			return fmt.Errorf("finding meeting: %w", err)
		}
		if m == nil {
			return fmt.Errorf("no meeting matches %q", ref)
		}
		threadID = m.ThreadID
	}
	meetings, err := db.ThreadMeetings(ctx, threadID)
	if err != nil {
		return fmt.Errorf("fetching thread: %w", err)
	}
	printMeetings(w, fmt.Sprintf("Thread %s:", threadID), meetings)
	return nil
}

func printMeetings(w io.Writer, header string, meetings []store.Meeting) {
	fmt.Fprintln(w, header)
	if len(meetings) == 0 {
		fmt.Fprintln(w, "  (none)")
		return
	}
	for _, m := range meetings {
		names := make([]string, 0, len(m.Participants))
		for _, p := range m.Participants {
			names = append(names, p.Name)
		}
		fmt.Fprintf(w, "  %s  %3dmin  %-30s  %s  [%s]\n",
			calendar.FormatSlot(m.Start.Local()),
			m.DurationMinutes,
			m.Title,
			strings.Join(names, ", "),
			m.ID,
		)
	}
}

func openContacts() (*config.Config, *directory.Directory, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, nil, err
	}
	logger, logFile := openLogger(cfg)
	closeLog := func() {
		if logFile != nil {
			logFile.Close()
		}
	}
	return cfg, openDirectory(cfg, logger), closeLog, nil
}

func runContactsList(cmd *cobra.Command, args []string) error {
	cfg, dir, done, err := openContacts()
	if err != nil {
		return err
	}
	defer done()

	contacts, err := dir.List(directory.Scope{UserID: cfg.User.ID, Privileged: cfg.Directory.Privileged})
	if err != nil {
		return fmt.Errorf("reading address book: %w", err)
	}
	if len(contacts) == 0 {
		fmt.Printf("No contacts in %s.\n", dir.Path())
		return nil
	}
	fmt.Printf("%d contacts:\n\n", len(contacts))
	for _, c := range contacts {
		fmt.Printf("  %-10s  %-40s  %s\n", c.ID, c.Label(), c.Email)
	}
	return nil
}

func runContactsAdd(cmd *cobra.Command, args []string) error {
	cfg, dir, done, err := openContacts()
	if err != nil {
		return err
	}
	defer done()

	c := directory.Contact{Name: args[0], Email: args[1]}
	c.Department, _ = cmd.Flags().GetString("department")
	c.Role, _ = cmd.Flags().GetString("role")
	if private, _ := cmd.Flags().GetBool("private"); private {
		c.Owner = cfg.User.ID
	}

	added, err := dir.Add(c)
	if err != nil {
		return fmt.Errorf("adding contact: %w", err)
	}
	fmt.Printf("Added %s [%s]\n", added.Label(), added.ID)
	return nil
}

func runContactsRemove(cmd *cobra.Command, args []string) error {
	_, dir, done, err := openContacts()
	if err != nil {
		return err
	}
	defer done()

	removed, err := dir.Remove(args[0])
	if err != nil {
		return fmt.Errorf("removing contact: %w", err)
	}
	if !removed {
		return fmt.Errorf("no contact with id %s", args[0])
	}
	fmt.Printf("Removed %s\n", args[0])
	return nil
}

func runCalendarAuth(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, logFile := openLogger(cfg)
	if logFile != nil {
		defer logFile.Close()
	}
	auth, err := newGraphAuth(cfg, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	code, err := auth.StartDeviceCodeFlow(ctx)
	if err != nil {
		return err
	}
	if code.Message != "" {
		fmt.Println(code.Message)
	} else {
		fmt.Printf("Open %s and enter the code %s\n", code.VerificationURI, code.UserCode)
	}

	if _, err := auth.PollForToken(ctx, code.DeviceCode, code.Interval); err != nil {
		return err
	}
	fmt.Println("Signed in to Microsoft Graph.")
	return nil
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, logFile := openLogger(cfg)
	if logFile != nil {
		defer logFile.Close()
	}
	hours, err := calendar.ParseWorkingHours(cfg.Schedule.WorkStart, cfg.Schedule.WorkEnd, cfg.Schedule.WorkDays,
		time.Duration(cfg.Schedule.SlotIncrementMinutes)*time.Minute)
	if err != nil {
		return fmt.Errorf("parsing working hours: %w", err)
	}

	dir, err := config.ConfigDir()
	if err != nil {
		return err
	}
	db, err := store.Open(dir)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	lead := time.Duration(cfg.Notifications.ReminderMinutes) * time.Minute
	sched := scheduler.New(db, notify.NewDesktop().Alert, cfg.User.ID, lead, hours, logger.With("component", "reminders"))
	fmt.Printf("Reminders running (%s before each meeting, %s-%s). Ctrl+C to stop.\n",
		lead, cfg.Schedule.WorkStart, cfg.Schedule.WorkEnd)
	return sched.Run(ctx)
}

func runStop(cmd *cobra.Command, args []string) error {
	pid, err := scheduler.ReadPID()
	if err != nil {
		return err
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("finding process %d: %w", pid, err)
	}
	if err := process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("sending stop signal: %w", err)
	}

	fmt.Printf("Sent stop signal to convene reminders (PID %d)\n", pid)
	return nil
}

func runConfig(cmd *cobra.Command, args []string) error {
	if err := config.EnsureConfigDir(); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	configPath, err := config.ConfigPath()
	if err != nil {
		return err
	}
	if err := config.WriteDefault(configPath); err != nil {
		return err
	}

	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = "vi"
	}
	fmt.Printf("Opening %s with %s...\n", configPath, editor)

	c := exec.Command(editor, configPath)
	c.Stdin, c.Stdout, c.Stderr = os.Stdin, os.Stdout, os.Stderr
	if err := c.Run(); err != nil {
		fmt.Printf("Could not open editor. Config file is at: %s\n", configPath)
	}
	return nil
}
