// Command browserclaw is a minimal terminal chat front end for the
// BrowserClaw agent core. It wires the config store, the model provider,
// the browser toolset, and the host allowlist into one conversation and
// streams responses to stdout.
package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"gopkg.in/yaml.v3"

	"github.com/kelvincushman/browserclaw/pkg/agent"
	agenttools "github.com/kelvincushman/browserclaw/pkg/agent/tools"
	"github.com/kelvincushman/browserclaw/pkg/config"
	"github.com/kelvincushman/browserclaw/pkg/events"
	"github.com/kelvincushman/browserclaw/pkg/llm"
	"github.com/kelvincushman/browserclaw/pkg/llm/openai"
	"github.com/kelvincushman/browserclaw/pkg/logging"
	"github.com/kelvincushman/browserclaw/pkg/policy"
	"github.com/kelvincushman/browserclaw/pkg/tools/browser"
	"github.com/kelvincushman/browserclaw/pkg/types"
)

var (
	userStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	agentStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	toolStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Italic(true)
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("13")).Faint(true)
)

const defaultSystemPrompt = `You are BrowserClaw, an AI assistant that can see and control the user's browser through tools. Use the tools to inspect tabs and pages before answering questions about them. Be concise.`

// profile is the optional YAML boot profile at ~/.browserclaw/profile.yaml.
// It overrides the JSON config store so a checkout can run without the
// interactive settings flow.
type profile struct {
	Model        string            `yaml:"model"`
	BaseURL      string            `yaml:"base_url"`
	APIKey       string            `yaml:"api_key"`
	ExtraHeaders map[string]string `yaml:"extra_headers"`
	SystemPrompt string            `yaml:"system_prompt"`
	Allowlist    []string          `yaml:"allowlist"`
	Headless     *bool             `yaml:"headless"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("error: "+err.Error()))
		os.Exit(1)
	}
}

func run() error {
	log, _ := logging.NewLogger("cli")
	defer log.Close()

	store, err := config.NewFileStore("")
	if err != nil {
		return err
	}
	settings := config.LoadLLMSettings(store)
	allowPatterns := config.LoadHostAllowlist(store)
	systemPrompt := defaultSystemPrompt
	headless := true

	if prof, err := loadProfile(); err != nil {
		log.Warnf("profile ignored: %v", err)
	} else if prof != nil {
		if prof.Model != "" {
			settings.Model = prof.Model
		}
		if prof.BaseURL != "" {
			settings.BaseURL = prof.BaseURL
		}
		if prof.APIKey != "" {
			settings.APIKey = prof.APIKey
		}
		if prof.ExtraHeaders != nil {
			settings.ExtraHeaders = prof.ExtraHeaders
		}
		if prof.SystemPrompt != "" {
			systemPrompt = prof.SystemPrompt
		}
		if prof.Allowlist != nil {
			allowPatterns = prof.Allowlist
		}
		if prof.Headless != nil {
			headless = *prof.Headless
		}
	}

	var providerOpts []openai.ProviderOption
	if settings.Model != "" {
		providerOpts = append(providerOpts, openai.WithModel(settings.Model))
	}
	if settings.BaseURL != "" {
		providerOpts = append(providerOpts, openai.WithBaseURL(settings.BaseURL))
	}
	if len(settings.ExtraHeaders) > 0 {
		providerOpts = append(providerOpts, openai.WithExtraHeaders(settings.ExtraHeaders))
	}
	provider, err := openai.NewProvider(settings.APIKey, providerOpts...)
	if err != nil {
		return err
	}

	allowlist, err := policy.NewAllowlist(allowPatterns)
	if err != nil {
		return err
	}

	manager := browser.NewManager(
		browser.WithHeadless(headless),
		browser.WithPolicy(allowlist),
	)
	if err := manager.Start(); err != nil {
		log.Warnf("browser unavailable: %v", err)
		fmt.Println(statusStyle.Render("browser unavailable, continuing without tab tools"))
	}
	defer manager.Shutdown()

	registry := agenttools.NewRegistry()
	browser.RegisterTools(registry, manager)

	conv := agent.NewConversation(provider, registry,
		agent.WithSystemPrompt(systemPrompt),
		agent.WithValidator(policy.NewValidator(allowlist)),
	)
	defer conv.Destroy()

	renderer := newRenderer(conv)
	defer renderer.close()

	fmt.Println(statusStyle.Render(fmt.Sprintf("browserclaw | model %s | %s", provider.GetModel(), provider.GetBaseURL())))
	fmt.Println(statusStyle.Render("commands: /stop /regen /reset /model <name> /quit"))

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print(userStyle.Render("you> "))
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch {
		case line == "/quit":
			return nil
		case line == "/stop":
			conv.StopStream()
			continue
		case line == "/reset":
			conv.ResetMessages()
			continue
		case line == "/regen":
			if err := conv.Regenerate(); err != nil {
				fmt.Println(errorStyle.Render(err.Error()))
				continue
			}
		case strings.HasPrefix(line, "/model "):
			model := strings.TrimSpace(strings.TrimPrefix(line, "/model "))
			if err := conv.UpdateConfig(llm.Config{Model: model}); err != nil {
				fmt.Println(errorStyle.Render(err.Error()))
			} else {
				fmt.Println(statusStyle.Render("model set to " + model))
			}
			continue
		default:
			if err := conv.SendMessage(line, nil, nil); err != nil {
				fmt.Println(errorStyle.Render(err.Error()))
				continue
			}
		}

		renderer.waitTurn()
	}
	return scanner.Err()
}

func loadProfile() (*profile, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(filepath.Join(home, ".browserclaw", "profile.yaml"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var prof profile
	if err := yaml.Unmarshal(raw, &prof); err != nil {
		return nil, fmt.Errorf("invalid profile.yaml: %w", err)
	}
	return &prof, nil
}

// renderer follows the event bus, printing streamed text incrementally and
// tool activity as it resolves.
type renderer struct {
	mu       sync.Mutex
	printed  map[string]int
	reported map[string]types.ToolState
	settled  chan struct{}
	unsubs   []func()
}

func newRenderer(conv *agent.Conversation) *renderer {
	r := &renderer{
		printed:  make(map[string]int),
		reported: make(map[string]types.ToolState),
		settled:  make(chan struct{}, 1),
	}
	r.unsubs = append(r.unsubs,
		conv.Bus().Subscribe(events.KindMessagesUpdated, r.onMessages),
		conv.Bus().Subscribe(events.KindStatusChanged, r.onStatus),
	)
	return r
}

func (r *renderer) onMessages(payload interface{}) {
	messages, ok := payload.([]*types.Message)
	if !ok || len(messages) == 0 {
		return
	}
	last := messages[len(messages)-1]
	if last.Role != types.RoleAssistant {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	text := last.Text()
	if done := r.printed[last.ID]; len(text) > done {
		fmt.Print(agentStyle.Render(text[done:]))
		r.printed[last.ID] = len(text)
	}
	for _, part := range last.ToolParts() {
		if r.reported[part.ToolCallID] == part.State {
			continue
		}
		r.reported[part.ToolCallID] = part.State
		switch part.State {
		case types.ToolStateExecuting:
			fmt.Print(toolStyle.Render(fmt.Sprintf("\n[%s running]", part.ToolName)))
		case types.ToolStateOutputAvailable:
			fmt.Print(toolStyle.Render(fmt.Sprintf("\n[%s done]", part.ToolName)))
		case types.ToolStateOutputError:
			fmt.Print(errorStyle.Render(fmt.Sprintf("\n[%s failed: %s]", part.ToolName, part.ErrorText)))
		}
	}
}

func (r *renderer) onStatus(payload interface{}) {
	status, ok := payload.(types.Status)
	if !ok {
		return
	}
	if status == types.StatusIdle || status == types.StatusError {
		fmt.Println()
		select {
		case r.settled <- struct{}{}:
		default:
		}
	}
}

// waitTurn blocks until the conversation settles back to idle or error.
func (r *renderer) waitTurn() {
	<-r.settled
}

func (r *renderer) close() {
	for _, unsub := range r.unsubs {
		unsub()
	}
}
