package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
)

func main() {
	server := flag.String("server", "http://localhost:8080", "AgentSpawn server URL")
	thread := flag.String("thread", "", "conversation thread (default: a new one per session)")
	verbose := flag.Bool("v", false, "show agent breakdown for every answer")
	flag.Parse()

	threadID := *thread
	if threadID == "" {
		threadID = "cli:" + uuid.NewString()[:8]
	}

	fmt.Println("AgentSpawn CLI Chat")
	fmt.Printf("Server: %s | Thread: %s\n", *server, threadID)
	fmt.Println("Type 'exit' or 'quit' to leave.")
	fmt.Println("Commands: /agents, /active, /status, /assess <task>")
	fmt.Println("---")

	client := &http.Client{Timeout: 10 * time.Minute}
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("\n> ")
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		switch {
		case input == "exit" || input == "quit":
			fmt.Println("Bye!")
			return
		case input == "/agents":
			fetchAgents(client, *server)
		case input == "/active":
			fetchActive(client, *server)
		case input == "/status":
			fetchStatus(client, *server)
		case strings.HasPrefix(input, "/assess "):
			assess(client, *server, strings.TrimPrefix(input, "/assess "))
		default:
			sendTask(client, *server, threadID, input, *verbose)
		}
	}
}

func getJSON(client *http.Client, url string, v any) error {
	resp, err := client.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decode(resp, v)
}

func postJSON(client *http.Client, url string, body, v any) error {
	b, _ := json.Marshal(body)
	resp, err := client.Post(url, "application/json", bytes.NewReader(b))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decode(resp, v)
}

func decode(resp *http.Response, v any) error {
	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server error (%d): %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

func fetchAgents(client *http.Client, server string) {
	var agents []struct {
		Type         string   `json:"agent_type"`
		Name         string   `json:"name"`
		Capabilities []string `json:"capabilities"`
	}
	if err := getJSON(client, server+"/api/agents", &agents); err != nil {
		printError("Failed to fetch agents: %v", err)
		return
	}
	fmt.Println("Available agents:")
	for _, a := range agents {
		fmt.Printf("  %s (%s): %s\n", a.Type, a.Name, strings.Join(a.Capabilities, ", "))
	}
}

func fetchActive(client *http.Client, server string) {
	var running []struct {
		TaskID    string    `json:"task_id"`
		AgentID   string    `json:"agent_id"`
		StartedAt time.Time `json:"started_at"`
	}
	if err := getJSON(client, server+"/api/runs/active", &running); err != nil {
		printError("Failed to fetch activity: %v", err)
		return
	}
	if len(running) == 0 {
		fmt.Println("No specialists running.")
		return
	}
	for _, r := range running {
		fmt.Printf("  %s task=%s for %s\n", r.AgentID, r.TaskID, time.Since(r.StartedAt).Round(time.Second))
	}
}

func fetchStatus(client *http.Client, server string) {
	var statuses []struct {
		Platform  string `json:"platform"`
		Connected bool   `json:"connected"`
		Error     string `json:"error,omitempty"`
		Details   string `json:"details,omitempty"`
	}
	if err := getJSON(client, server+"/api/gateway/status", &statuses); err != nil {
		printError("Failed to fetch status: %v", err)
		return
	}
	fmt.Println("Gateway Status:")
	for _, s := range statuses {
		icon := "\033[31m✗\033[0m"
		if s.Connected {
			icon = "\033[32m✓\033[0m"
		}
		fmt.Printf("  %s %s", icon, s.Platform)
		if s.Details != "" {
			fmt.Printf(" (%s)", s.Details)
		}
		if s.Error != "" {
			fmt.Printf(" \033[31m%s\033[0m", s.Error)
		}
		fmt.Println()
	}
}

func assess(client *http.Client, server, text string) {
	var out struct {
		Complexity string   `json:"complexity"`
		Keywords   []string `json:"keywords"`
		Agents     []string `json:"agents"`
	}
	if err := postJSON(client, server+"/api/assess", map[string]string{"text": text}, &out); err != nil {
		printError("Assess failed: %v", err)
		return
	}
	fmt.Printf("Complexity: %s\nKeywords: %s\nAgents: %s\n",
		out.Complexity, strings.Join(out.Keywords, ", "), strings.Join(out.Agents, ", "))
}

type spawned struct {
	AgentID  string `json:"agent_id"`
	Status   string `json:"status"`
	Error    string `json:"error,omitempty"`
	Duration int64  `json:"duration_ns,omitempty"`
}

func sendTask(client *http.Client, server, threadID, text string, verbose bool) {
	var res struct {
		TaskID         string    `json:"task_id"`
		FinalResponse  string    `json:"final_response"`
		WorkflowStatus string    `json:"workflow_status"`
		SpawnedAgents  []spawned `json:"spawned_agents"`
		Errors         []string  `json:"errors"`
	}
	req := map[string]string{"text": text, "thread_id": threadID}
	if err := postJSON(client, server+"/api/tasks", req, &res); err != nil {
		printError("Request failed: %v", err)
		return
	}

	if res.WorkflowStatus != "complete" {
		printError("Task %s failed", res.TaskID)
		for _, e := range res.Errors {
			printError("  %s", e)
		}
		return
	}
	if verbose || hasFailures(res.SpawnedAgents) {
		for _, a := range res.SpawnedAgents {
			line := fmt.Sprintf("\033[36m[%s]\033[0m %s %s", a.AgentID, a.Status, time.Duration(a.Duration).Round(time.Millisecond))
			if a.Error != "" {
				line += " \033[31m" + a.Error + "\033[0m"
			}
			fmt.Println(line)
		}
	}
	fmt.Println(res.FinalResponse)
}

func hasFailures(agents []spawned) bool {
	for _, a := range agents {
		if a.Status == "failed" {
			return true
		}
	}
	return false
}

func printError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "\033[31m"+format+"\033[0m\n", args...)
}
