package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/term"

	apiclient "github.com/splax/todolist/pkg/api/client"
)

type cliConfig struct {
	APIBaseURL  string `json:"api_base_url"`
	AccessToken string `json:"access_token"`
	UserID      int64  `json:"user_id,omitempty"`
}

var buildVersion = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "register":
		err = commandCredentials("register", args)
	case "login":
		err = commandCredentials("login", args)
	case "logout":
		err = commandLogout()
	case "list", "ls":
		err = commandList(args)
	case "add":
		err = commandAdd(args)
	case "done":
		err = commandToggle(args, true)
	case "undone":
		err = commandToggle(args, false)
	case "edit":
		err = commandEdit(args)
	case "rm":
		err = commandRemove(args)
	case "reorder":
		err = commandReorder(args)
	case "version", "--version", "-v":
		printVersion()
		return
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func commandCredentials(name string, args []string) error {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	email := fs.String("email", "", "Email address")
	password := fs.String("password", "", "Password (supply to avoid prompt)")
	apiBase := fs.String("api", "", "API base URL (default "+apiclient.DefaultBaseURL+")")
	fs.Parse(args)

	if strings.TrimSpace(*email) == "" {
		return errors.New("--email is required")
	}

	secret := *password
	if secret == "" {
		fmt.Print("Password: ")
		bytes, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Print("\n")
		if err != nil {
			return fmt.Errorf("read password: %w", err)
		}
		secret = string(bytes)
	}

	cfg, _ := loadConfig()
	if strings.TrimSpace(*apiBase) != "" {
		cfg.APIBaseURL = *apiBase
	}

	client, err := apiclient.New(cfg.APIBaseURL)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	var session apiclient.Session
	if name == "register" {
		session, err = client.Register(ctx, *email, secret)
	} else {
		session, err = client.Login(ctx, *email, secret)
	}
	if err != nil {
		return err
	}
	cfg.AccessToken = session.Token
	cfg.UserID = session.UserID
	if err := saveConfig(cfg); err != nil {
		return err
	}
	fmt.Printf("%s successful (user %d)\n", name, session.UserID)
	return nil
}

func commandLogout() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cfg.AccessToken = ""
	cfg.UserID = 0
	if err := saveConfig(cfg); err != nil {
		return err
	}
	fmt.Println("logged out")
	return nil
}

func commandList(args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	pending := fs.Bool("pending", false, "Only show todos that are not completed")
	asJSON := fs.Bool("json", false, "Print the raw JSON list")
	fs.Parse(args)

	client, token, err := authenticated()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	todos, err := client.ListTodos(ctx, token)
	if err != nil {
		return err
	}
	if *asJSON {
		data, err := json.MarshalIndent(todos, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}
	for _, t := range todos {
		if *pending && t.Completed {
			continue
		}
		fmt.Println(formatTodo(t))
	}
	return nil
}

func commandAdd(args []string) error {
	fs := flag.NewFlagSet("add", flag.ExitOnError)
	due := fs.String("due", "", "Optional due date (YYYY-MM-DD)")
	fs.Parse(args)

	text := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if text == "" {
		return errors.New("usage: todo add [--due YYYY-MM-DD] <text>")
	}

	client, token, err := authenticated()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	todo, err := client.CreateTodo(ctx, token, text, *due)
	if err != nil {
		return err
	}
	fmt.Printf("todo created: %s\n", formatTodo(todo))
	return nil
}

func commandToggle(args []string, completed bool) error {
	ids, err := parseIDs(args)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return errors.New("at least one todo id is required")
	}

	client, token, err := authenticated()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	current, err := todosByID(ctx, client, token)
	if err != nil {
		return err
	}
	for _, id := range ids {
		existing, ok := current[id]
		if !ok {
			return fmt.Errorf("todo %d not found", id)
		}
		// The due date is always written on update, so carry the current one.
		update := apiclient.TodoUpdate{Completed: &completed, DueDate: existing.DueDate}
		if err := client.UpdateTodo(ctx, token, id, update); err != nil {
			return err
		}
		fmt.Println(formatTodo(existing.Apply(update)))
	}
	return nil
}

func commandEdit(args []string) error {
	fs := flag.NewFlagSet("edit", flag.ExitOnError)
	text := fs.String("text", "", "Replacement text")
	due := fs.String("due", "", "Replacement due date (YYYY-MM-DD)")
	clearDue := fs.Bool("clear-due", false, "Remove the due date")
	fs.Parse(args)

	ids, err := parseIDs(fs.Args())
	if err != nil {
		return err
	}
	if len(ids) != 1 {
		return errors.New("usage: todo edit [--text T] [--due D | --clear-due] <id>")
	}
	id := ids[0]

	client, token, err := authenticated()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	current, err := todosByID(ctx, client, token)
	if err != nil {
		return err
	}
	existing, ok := current[id]
	if !ok {
		return fmt.Errorf("todo %d not found", id)
	}

	update := apiclient.TodoUpdate{DueDate: existing.DueDate}
	if strings.TrimSpace(*text) != "" {
		update.Text = text
	}
	switch {
	case *clearDue:
		update.DueDate = nil
	case strings.TrimSpace(*due) != "":
		update.DueDate = due
	}

	if err := client.UpdateTodo(ctx, token, id, update); err != nil {
		return err
	}
	fmt.Printf("todo updated: %s\n", formatTodo(existing.Apply(update)))
	return nil
}

func commandRemove(args []string) error {
	ids, err := parseIDs(args)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return errors.New("at least one todo id is required")
	}

	client, token, err := authenticated()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, id := range ids {
		if err := client.DeleteTodo(ctx, token, id); err != nil {
			return fmt.Errorf("delete %d: %w", id, err)
		}
		fmt.Printf("todo %d deleted\n", id)
	}
	return nil
}

func commandReorder(args []string) error {
	ids, err := parseIDs(args)
	if err != nil {
		return err
	}

	client, token, err := authenticated()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := client.ReorderTodos(ctx, token, ids); err != nil {
		return err
	}
	fmt.Println("todos reordered")
	return nil
}

func authenticated() (*apiclient.Client, string, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, "", err
	}
	token := strings.TrimSpace(cfg.AccessToken)
	if token == "" {
		return nil, "", errors.New("please login first using 'todo login'")
	}
	client, err := apiclient.New(cfg.APIBaseURL)
	if err != nil {
		return nil, "", err
	}
	return client, token, nil
}

func todosByID(ctx context.Context, client *apiclient.Client, token string) (map[int64]apiclient.Todo, error) {
	todos, err := client.ListTodos(ctx, token)
	if err != nil {
		return nil, err
	}
	out := make(map[int64]apiclient.Todo, len(todos))
	for _, t := range todos {
		out[t.ID] = t
	}
	return out, nil
}

func parseIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, arg := range args {
		for _, part := range strings.Split(arg, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			id, err := strconv.ParseInt(part, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid todo id %q", part)
			}
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func formatTodo(t apiclient.Todo) string {
	mark := " "
	if t.Completed {
		mark = "x"
	}
	line := fmt.Sprintf("%d\t[%s] %s", t.ID, mark, t.Text)
	if t.DueDate != nil {
		line += "\t(due " + *t.DueDate + ")"
	}
	return line
}

func loadConfig() (cliConfig, error) {
	path, err := configPath()
	if err != nil {
		return cliConfig{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cliConfig{APIBaseURL: apiclient.DefaultBaseURL}, nil
		}
		return cliConfig{}, err
	}
	var cfg cliConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cliConfig{}, err
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = apiclient.DefaultBaseURL
	}
	return cfg, nil
}

func saveConfig(cfg cliConfig) error {
	path, err := configPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func configPath() (string, error) {
	if override := strings.TrimSpace(os.Getenv("TODO_CONFIG")); override != "" {
		return override, nil
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "todolist", "config.json"), nil
}

func printUsage() {
	fmt.Printf("todo CLI %s\n\n", buildVersion)
	fmt.Print(`Usage:
	todo register --email user@example.com [--password secret] [--api http://localhost:3001/api]
	todo login --email user@example.com [--password secret] [--api http://localhost:3001/api]
	todo logout
	todo list [--pending] [--json]
	todo add [--due YYYY-MM-DD] <text>
	todo done <id>[,<id>...]
	todo undone <id>[,<id>...]
	todo edit [--text T] [--due YYYY-MM-DD | --clear-due] <id>
	todo rm <id>[,<id>...]
	todo reorder <id> <id> ...
	todo version
`)
}

func printVersion() {
	fmt.Println(strings.TrimSpace(buildVersion))
}
