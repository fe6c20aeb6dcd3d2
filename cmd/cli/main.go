package main

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/nickyhof/GlobalDB"
	"github.com/nickyhof/GlobalDB/conn"
	"github.com/nickyhof/GlobalDB/core"
	"github.com/nickyhof/GlobalDB/cursor"
	"github.com/nickyhof/GlobalDB/format"
	"github.com/nickyhof/GlobalDB/log"
	"github.com/nickyhof/GlobalDB/ps"
	"github.com/nickyhof/GlobalDB/ps/pebble"
	"github.com/nickyhof/GlobalDB/remote"
)

const (
	PromptColor  = "\033[36m" // Cyan
	ErrorColor   = "\033[31m" // Red
	SuccessColor = "\033[32m" // Green
	ResetColor   = "\033[0m"
	BoldColor    = "\033[1m"
)

// Version is set at build time via -ldflags
var Version = "dev"

var errQuit = errors.New("quit")

// CLI holds the CLI state
type CLI struct {
	instance    *GlobalDB.Instance
	conn        *conn.Local
	persistence *ps.Persistence
	identity    core.Identity
	auth        *ps.RemoteAuth
	out         io.Writer
	history     []string
	historyFile string
}

// Config is read from flags and an optional YAML file.
type Config struct {
	Store    string `mapstructure:"store"`
	BaseDir  string `mapstructure:"base-dir"`
	GitURL   string `mapstructure:"git-url"`
	GitToken string `mapstructure:"git-token"`
	SQLDSN   string `mapstructure:"sql-dsn"`
	SQLFile  string `mapstructure:"sql-file"`
	Name     string `mapstructure:"name"`
	Email    string `mapstructure:"email"`
	LogLevel string `mapstructure:"log-level"`
}

func main() {
	if err := NewCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%sError: %v%s\n", ErrorColor, err, ResetColor)
		os.Exit(1)
	}
}

func NewCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:     "globaldb [flags]",
		Short:   "Interactive shell for GlobalDB.",
		Version: Version,
	}

	cmd.Flags().StringVar(&cfgFile, "config", "", "The yaml configuration file.")
	cmd.Flags().String("store", "git", "Globals store: git or pebble.")
	cmd.Flags().String("base-dir", "", "Directory of the store (memory if empty).")
	cmd.Flags().String("git-url", "", "Git URL for remote sync (git store only).")
	cmd.Flags().String("git-token", "", "Token for push and pull (git store only).")
	cmd.Flags().String("sql-dsn", "", "DuckDB data source (in-memory if empty).")
	cmd.Flags().String("sql-file", "", "SQL file to execute (non-interactive).")
	cmd.Flags().String("name", "GlobalDB", "User name for Git commits.")
	cmd.Flags().String("email", "cli@globaldb.local", "User email for Git commits.")
	cmd.Flags().String("log-level", "warn", "Log level: debug, info, warn or error.")

	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		v := viper.New()
		if cfgFile != "" {
			v.SetConfigType("yaml")
			v.SetConfigFile(cfgFile)
			if err := v.ReadInConfig(); err != nil {
				return err
			}
		}
		if err := v.BindPFlags(cmd.Flags()); err != nil {
			return err
		}
		cfg := new(Config)
		if err := v.Unmarshal(cfg); err != nil {
			return err
		}
		return run(cfg, cmd.OutOrStdout())
	}
	return cmd
}

func run(cfg *Config, out io.Writer) error {
	logger, err := log.NewLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	db, err := sql.Open("duckdb", cfg.SQLDSN)
	if err != nil {
		return err
	}
	defer db.Close()

	printBanner(out)

	identity := core.Identity{Name: cfg.Name, Email: cfg.Email}
	opts := []GlobalDB.Option{GlobalDB.WithLogger(logger)}

	cli := &CLI{out: out, identity: identity, history: make([]string, 0), historyFile: getHistoryPath()}
	if cfg.GitToken != "" {
		cli.auth = &ps.RemoteAuth{Type: ps.AuthTypeToken, Token: cfg.GitToken}
	}
	switch cfg.Store {
	case "", "git":
		var persistence *ps.Persistence
		if cfg.BaseDir == "" {
			fmt.Fprintf(out, "%sUsing memory persistence%s\n", SuccessColor, ResetColor)
			persistence, err = ps.NewMemoryPersistence()
		} else {
			fmt.Fprintf(out, "%sUsing file persistence: %s%s\n", SuccessColor, cfg.BaseDir, ResetColor)
			var gitURL *string
			if cfg.GitURL != "" {
				gitURL = &cfg.GitURL
			}
			persistence, err = ps.NewFilePersistence(cfg.BaseDir, gitURL)
		}
		if err != nil {
			return err
		}
		cli.persistence = persistence
		cli.instance = GlobalDB.OpenGit(persistence, identity, db, opts...)
	case "pebble":
		var store *pebble.Store
		if cfg.BaseDir == "" {
			store, err = pebble.NewMem()
		} else {
			store, err = pebble.New(cfg.BaseDir, logger)
		}
		if err != nil {
			return err
		}
		defer store.Close()
		fmt.Fprintf(out, "%sUsing pebble store%s\n", SuccessColor, ResetColor)
		cli.instance = GlobalDB.Open(store, db, opts...)
	default:
		return fmt.Errorf("unknown store %q", cfg.Store)
	}
	defer cli.instance.Close()
	cli.conn = cli.instance.Connect()

	if cfg.SQLFile != "" {
		return cli.importFile(cfg.SQLFile)
	}

	cli.loadHistory()
	cli.run(os.Stdin)
	cli.saveHistory()
	return nil
}

func printBanner(out io.Writer) {
	fmt.Fprintln(out)
	fmt.Fprintf(out, "%s%sGlobalDB v%s%s\n", BoldColor, PromptColor, Version, ResetColor)
	fmt.Fprintln(out, "Type .help for commands, .quit to exit")
	fmt.Fprintln(out)
}

func (cli *CLI) run(in io.Reader) {
	reader := bufio.NewReader(in)
	var multiLineBuffer strings.Builder

	for {
		fmt.Fprint(cli.out, cli.getPrompt(multiLineBuffer.Len() > 0))

		input, err := reader.ReadString('\n')
		if err != nil {
			fmt.Fprintf(cli.out, "\n%sGoodbye!%s\n", SuccessColor, ResetColor)
			return
		}

		input = strings.TrimSuffix(input, "\n")
		input = strings.TrimSuffix(input, "\r")

		if strings.TrimSpace(input) == "" {
			continue
		}

		// Special commands only outside multi-line mode
		if multiLineBuffer.Len() == 0 && strings.HasPrefix(input, ".") {
			cli.addToHistory(input)
			if err := cli.handleCommand(input); errors.Is(err, errQuit) {
				fmt.Fprintf(cli.out, "%sGoodbye!%s\n", SuccessColor, ResetColor)
				return
			}
			continue
		}

		// Accumulate until we see a semicolon
		multiLineBuffer.WriteString(input)
		trimmed := strings.TrimSpace(multiLineBuffer.String())
		if !strings.HasSuffix(trimmed, ";") {
			multiLineBuffer.WriteString(" ")
			continue
		}

		stmt := strings.TrimSuffix(trimmed, ";")
		multiLineBuffer.Reset()
		if strings.TrimSpace(stmt) == "" {
			continue
		}

		cli.addToHistory(stmt + ";")
		if _, err := cli.execSQL(stmt, true); err != nil {
			cli.errorf("%v", err)
		}
	}
}

func (cli *CLI) getPrompt(multiLine bool) string {
	if multiLine {
		return fmt.Sprintf("%s   ...>%s ", PromptColor, ResetColor)
	}
	return fmt.Sprintf("%sglobaldb>%s ", PromptColor, ResetColor)
}

func (cli *CLI) errorf(format string, args ...any) {
	fmt.Fprintf(cli.out, "%s✗ Error: %s%s\n", ErrorColor, fmt.Sprintf(format, args...), ResetColor)
}

func (cli *CLI) okf(format string, args ...any) {
	fmt.Fprintf(cli.out, "%s✓ %s%s\n", SuccessColor, fmt.Sprintf(format, args...), ResetColor)
}

// handleCommand runs a dot command. It returns errQuit for .quit.
func (cli *CLI) handleCommand(input string) error {
	name, rest, _ := strings.Cut(strings.TrimSpace(input), " ")
	rest = strings.TrimSpace(rest)

	var err error
	switch strings.ToLower(name) {
	case ".quit", ".exit", ".q":
		return errQuit

	case ".help", ".h", ".?":
		cli.printHelp()

	case ".set":
		ref, value, perr := splitRef(rest)
		if perr != nil || value == "" {
			cli.usage(".set <ref> <value>")
			return nil
		}
		if err = cli.conn.Set(ref, []byte(value)); err == nil {
			cli.okf("%s = %q", ref, value)
		}

	case ".get":
		ref, _, perr := splitRef(rest)
		if perr != nil {
			cli.usage(".get <ref>")
			return nil
		}
		var data []byte
		var ok bool
		if data, ok, err = cli.conn.Get(ref); err == nil {
			if ok {
				fmt.Fprintf(cli.out, "%s = %q\n", ref, data)
			} else {
				fmt.Fprintf(cli.out, "%s is undefined\n", ref)
			}
		}

	case ".kill":
		ref, _, perr := splitRef(rest)
		if perr != nil {
			cli.usage(".kill <ref>")
			return nil
		}
		if err = cli.conn.Kill(ref); err == nil {
			cli.okf("killed %s", ref)
		}

	case ".order", ".query":
		ref, flags, perr := splitRef(rest)
		if perr != nil {
			cli.usage(name + " <ref> [data] [url] [reverse]")
			return nil
		}
		options := core.Options{Multilevel: strings.EqualFold(name, ".query")}
		reverse := false
		for _, f := range strings.Fields(strings.ToLower(flags)) {
			switch f {
			case "data":
				options.GetData = true
			case "url":
				options.Format = core.Encoded
			case "reverse":
				reverse = true
			}
		}
		_, err = cli.walk(ref, options, reverse)

	case ".dir", ".globals":
		_, err = cli.walk(core.Query{}, core.Options{GlobalDirectory: true}, false)

	case ".dump":
		parts := strings.Fields(rest)
		if len(parts) != 2 {
			cli.usage(".dump <global> <path|s3://bucket/key>")
			return nil
		}
		var n int
		if n, err = remote.DumpTo(context.Background(), cli.conn, strings.TrimPrefix(parts[0], "^"), parts[1], nil); err == nil {
			cli.okf("dumped %d nodes to %s", n, parts[1])
		}

	case ".load":
		parts := strings.Fields(rest)
		if len(parts) != 2 {
			cli.usage(".load <global> <path|url>")
			return nil
		}
		var n int
		if n, err = remote.LoadFrom(context.Background(), cli.conn, strings.TrimPrefix(parts[0], "^"), parts[1], nil); err == nil {
			cli.okf("loaded %d nodes into ^%s", n, strings.TrimPrefix(parts[0], "^"))
		}

	case ".log":
		cli.printTransactions()

	case ".snapshot", ".recover", ".restore", ".branch", ".checkout", ".push", ".pull":
		err = cli.handleHistory(strings.ToLower(name), strings.Fields(rest))

	case ".history":
		cli.printHistory()

	case ".clear", ".cls":
		fmt.Fprint(cli.out, "\033[H\033[2J")

	case ".version":
		fmt.Fprintf(cli.out, "GlobalDB version %s\n", Version)

	case ".import":
		if rest == "" {
			cli.usage(".import <file.sql>")
			return nil
		}
		err = cli.importFile(rest)

	default:
		fmt.Fprintf(cli.out, "%s✗ Unknown command: %s (type .help for commands)%s\n", ErrorColor, name, ResetColor)
	}

	if err != nil {
		cli.errorf("%v", err)
	}
	return nil
}

var errGitOnly = errors.New("requires the git store")

// handleHistory runs the commands backed by the repository history.
func (cli *CLI) handleHistory(name string, args []string) error {
	p := cli.persistence
	if p == nil {
		return fmt.Errorf("%s %w", name, errGitOnly)
	}

	switch {
	case name == ".snapshot" && len(args) == 1:
		if err := p.Snapshot(args[0], nil); err != nil {
			return err
		}
		cli.okf("snapshot %s", args[0])
	case name == ".recover" && len(args) == 1:
		if err := p.Recover(args[0]); err != nil {
			return err
		}
		cli.okf("recovered %s", args[0])
	case name == ".restore" && len(args) == 2:
		global := strings.TrimPrefix(args[0], "^")
		txn, err := p.RestoreGlobal(ps.Transaction{Id: args[1]}, global, cli.identity)
		if err != nil {
			return err
		}
		if txn.Id == "" {
			cli.okf("^%s unchanged", global)
		} else {
			cli.okf("restored ^%s in %s", global, txn.Id[:min(len(txn.Id), 8)])
		}
	case name == ".branch" && len(args) == 0:
		branches, err := p.ListBranches()
		if err != nil {
			return err
		}
		current, _ := p.CurrentBranch()
		for _, b := range branches {
			marker := " "
			if b == current {
				marker = "*"
			}
			fmt.Fprintf(cli.out, "%s %s\n", marker, b)
		}
	case name == ".branch" && len(args) == 1:
		if err := p.Branch(args[0], nil); err != nil {
			return err
		}
		cli.okf("created branch %s", args[0])
	case name == ".checkout" && len(args) == 1:
		if err := p.Checkout(args[0]); err != nil {
			return err
		}
		cli.okf("switched to %s", args[0])
	case name == ".push" && len(args) <= 2, name == ".pull" && len(args) <= 2:
		remoteName, branch := ps.DefaultRemote, ""
		if len(args) > 0 {
			remoteName = args[0]
		}
		if len(args) > 1 {
			branch = args[1]
		}
		sync := p.Push
		if name == ".pull" {
			sync = p.Pull
		}
		if err := sync(remoteName, branch, cli.auth); err != nil {
			return err
		}
		cli.okf("%s %s done", strings.TrimPrefix(name, "."), remoteName)
	default:
		cli.usage(historyUsage[name])
	}
	return nil
}

var historyUsage = map[string]string{
	".snapshot": ".snapshot <name>",
	".recover":  ".recover <name>",
	".restore":  ".restore <global> <transaction id>",
	".branch":   ".branch [name]",
	".checkout": ".checkout <branch>",
	".push":     ".push [remote] [branch]",
	".pull":     ".pull [remote] [branch]",
}

func (cli *CLI) usage(text string) {
	fmt.Fprintf(cli.out, "%s✗ Usage: %s%s\n", ErrorColor, text, ResetColor)
}

// walk prints every step of a global cursor and returns the step count.
func (cli *CLI) walk(start any, options core.Options, reverse bool) (int, error) {
	c, err := cursor.New(cli.conn, start, options)
	if err != nil {
		return 0, err
	}
	defer c.Close()

	step := c.Next
	if reverse {
		step = c.Previous
	}
	n := 0
	for {
		v, err := step()
		if err != nil {
			return n, err
		}
		if v == nil {
			break
		}
		fmt.Fprintf(cli.out, "  %s\n", format.String(v))
		n++
	}
	fmt.Fprintf(cli.out, "(%d)\n", n)
	return n, nil
}

// execSQL runs stmt through an SQL cursor and renders its rows as a
// table when display is set. It returns the number of rows.
func (cli *CLI) execSQL(stmt string, display bool) (int, error) {
	start := time.Now()
	c, err := cursor.New(cli.conn, core.SQLQuery{SQL: stmt})
	if err != nil {
		return 0, err
	}
	defer c.Close()

	res, err := c.Execute()
	if err != nil {
		return 0, err
	}
	if res.Err != nil {
		return 0, errors.New(res.Error)
	}

	var table *tablewriter.Table
	if display {
		table = tablewriter.NewWriter(cli.out)
		table.SetHeader(c.Statement().ColumnNames())
		table.SetAutoFormatHeaders(false)
	}

	n := 0
	for {
		v, err := c.Next()
		if err != nil {
			return n, err
		}
		if v == nil {
			break
		}
		row := v.(format.Row)
		n++
		if table == nil {
			continue
		}
		values := make([]string, len(row.Columns))
		for i := range row.Values {
			values[i] = string(row.Values[i])
		}
		table.Append(values)
	}

	if display {
		if n > 0 {
			table.Render()
		}
		fmt.Fprintf(cli.out, "%s%d rows in %.3fs%s\n", SuccessColor, n, time.Since(start).Seconds(), ResetColor)
	}
	return n, nil
}

func (cli *CLI) printHelp() {
	w := cli.out
	fmt.Fprintln(w)
	fmt.Fprintf(w, "%s%sSpecial Commands:%s\n", BoldColor, PromptColor, ResetColor)
	fmt.Fprintln(w, "  .help, .h                    Show this help message")
	fmt.Fprintln(w, "  .quit, .exit                 Exit the CLI")
	fmt.Fprintln(w, "  .set <ref> <value>           Set a node, e.g. .set ^Customer(1,\"name\") Alice")
	fmt.Fprintln(w, "  .get <ref>                   Show a node's data")
	fmt.Fprintln(w, "  .kill <ref>                  Remove a node and its descendants")
	fmt.Fprintln(w, "  .order <ref> [data] [url]    List subscripts at the level of ref")
	fmt.Fprintln(w, "  .query <ref> [data] [url]    List data nodes after ref")
	fmt.Fprintln(w, "  .globals, .dir               List global names")
	fmt.Fprintln(w, "  .dump <global> <path>        Write a global to a file or s3:// URL")
	fmt.Fprintln(w, "  .load <global> <path>        Read a global from a file, http(s):// or s3:// URL")
	fmt.Fprintln(w, "  .import <file>               Execute SQL statements from a file")
	fmt.Fprintln(w, "  .log                         Show recent transactions (git store)")
	fmt.Fprintln(w, "  .snapshot <name>             Tag the current state (git store)")
	fmt.Fprintln(w, "  .recover <name>              Move back to a snapshot (git store)")
	fmt.Fprintln(w, "  .restore <global> <id>       Rewind one global to a transaction (git store)")
	fmt.Fprintln(w, "  .branch [name]               List or create branches (git store)")
	fmt.Fprintln(w, "  .checkout <branch>           Switch branch (git store)")
	fmt.Fprintln(w, "  .push/.pull [remote] [branch] Sync with a git remote (git store)")
	fmt.Fprintln(w, "  .history                     Show command history")
	fmt.Fprintln(w, "  .clear                       Clear the screen")
	fmt.Fprintln(w, "  .version                     Show version info")
	fmt.Fprintln(w)
	fmt.Fprintf(w, "%s%sSQL:%s any statement ending in ';' runs through an SQL cursor.\n", BoldColor, PromptColor, ResetColor)
	fmt.Fprintln(w)
}

func (cli *CLI) printTransactions() {
	if cli.persistence == nil {
		fmt.Fprintln(cli.out, "Transaction history requires the git store")
		return
	}
	transactions := cli.persistence.TransactionsSince(time.Time{})
	if len(transactions) > 20 {
		transactions = transactions[:20]
	}
	table := tablewriter.NewWriter(cli.out)
	table.SetHeader([]string{"Id", "When", "Author"})
	table.SetAutoFormatHeaders(false)
	for _, tx := range transactions {
		table.Append([]string{tx.Id[:min(len(tx.Id), 8)], tx.When.Format(time.RFC3339), tx.Author})
	}
	table.Render()
}

func (cli *CLI) addToHistory(cmd string) {
	// Don't add duplicates of the last command
	if len(cli.history) > 0 && cli.history[len(cli.history)-1] == cmd {
		return
	}
	cli.history = append(cli.history, cmd)

	if len(cli.history) > 1000 {
		cli.history = cli.history[len(cli.history)-1000:]
	}
}

func (cli *CLI) printHistory() {
	if len(cli.history) == 0 {
		fmt.Fprintln(cli.out, "No command history")
		return
	}

	start := 0
	if len(cli.history) > 20 {
		start = len(cli.history) - 20
	}

	for i := start; i < len(cli.history); i++ {
		fmt.Fprintf(cli.out, "  %3d  %s\n", i+1, cli.history[i])
	}
}

func getHistoryPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".globaldb_history")
}

func (cli *CLI) loadHistory() {
	if cli.historyFile == "" {
		return
	}

	file, err := os.Open(cli.historyFile)
	if err != nil {
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		cli.history = append(cli.history, scanner.Text())
	}
}

func (cli *CLI) saveHistory() {
	if cli.historyFile == "" {
		return
	}

	file, err := os.Create(cli.historyFile)
	if err != nil {
		return
	}
	defer file.Close()

	start := 0
	if len(cli.history) > 1000 {
		start = len(cli.history) - 1000
	}

	for i := start; i < len(cli.history); i++ {
		_, _ = file.WriteString(cli.history[i] + "\n")
	}
}

// importFile reads and executes SQL statements from a file
func (cli *CLI) importFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	successCount := 0
	errorCount := 0

	for i, stmt := range splitStatements(string(data)) {
		n, err := cli.execSQL(stmt, false)
		if err != nil {
			fmt.Fprintf(cli.out, "%s[%d] ✗ %s%s\n", ErrorColor, i+1, truncate(stmt, 50), ResetColor)
			fmt.Fprintf(cli.out, "      Error: %v\n", err)
			errorCount++
			continue
		}
		successCount++
		fmt.Fprintf(cli.out, "%s[%d] ✓ %s (%d rows)%s\n", SuccessColor, i+1, truncate(stmt, 50), n, ResetColor)
	}

	fmt.Fprintf(cli.out, "\n%s✓ Import complete: %d succeeded, %d failed%s\n",
		SuccessColor, successCount, errorCount, ResetColor)

	return nil
}

// splitRef splits input into a leading reference and the text after it.
// The reference ends at the first space outside quotes and parentheses.
func splitRef(input string) (core.Reference, string, error) {
	input = strings.TrimSpace(input)
	inString := false
	depth := 0
	end := len(input)
	for i := 0; i < len(input) && end == len(input); i++ {
		switch input[i] {
		case '"':
			inString = !inString
		case '(':
			if !inString {
				depth++
			}
		case ')':
			if !inString {
				depth--
			}
		case ' ':
			if !inString && depth == 0 {
				end = i
			}
		}
	}
	ref, err := core.ParseReference(input[:end])
	if err != nil {
		return core.Reference{}, "", err
	}
	return ref, strings.TrimSpace(input[end:]), nil
}

// splitStatements splits SQL content into individual statements
func splitStatements(content string) []string {
	var statements []string
	var current strings.Builder
	inString := false
	stringChar := byte(0)

	for i := 0; i < len(content); i++ {
		ch := content[i]

		if (ch == '\'' || ch == '"') && (i == 0 || content[i-1] != '\\') {
			if !inString {
				inString = true
				stringChar = ch
			} else if ch == stringChar {
				inString = false
			}
		}

		if !inString && ch == '-' && i+1 < len(content) && content[i+1] == '-' {
			for i < len(content) && content[i] != '\n' {
				i++
			}
			continue
		}

		if !inString && ch == ';' {
			stmt := strings.TrimSpace(current.String())
			if stmt != "" {
				statements = append(statements, stmt)
			}
			current.Reset()
			continue
		}

		current.WriteByte(ch)
	}

	stmt := strings.TrimSpace(current.String())
	if stmt != "" {
		statements = append(statements, stmt)
	}

	return statements
}

// truncate shortens a string to max length with ellipsis
func truncate(s string, max int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\t", " ")
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
