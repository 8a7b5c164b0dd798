package command

import (
	"fmt"
	"io"
	"io/fs"
	"maps"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	gherkin "github.com/cucumber/gherkin/go/v26"
	messages "github.com/cucumber/messages/go/v21"
	"github.com/urfave/cli/v2"

	"github.com/tomatool/todospec/internal/config"
	"github.com/tomatool/todospec/internal/container"
	"github.com/tomatool/todospec/internal/steps"
)

var validateCommand = &cli.Command{
	Name:  "validate",
	Usage: "Validate configuration and feature files",
	Flags: []cli.Flag{
		configFlag(),
		&cli.BoolFlag{
			Name:  "plain",
			Usage: "disable colors and interactive UI (for CI)",
		},
	},
	Action: runValidate,
}

// Validation statuses
const (
	statusOK      = "ok"
	statusWarning = "warning"
	statusError   = "error"
)

// ValidationResult holds the result of a validation check
type ValidationResult struct {
	Category   string
	Item       string
	Status     string // "ok", "warning", "error"
	Message    string
	Suggestion string
}

// Validator performs all validation checks
type Validator struct {
	configPath string
	config     *config.Config
	results    []ValidationResult
	matcher    *steps.Matcher
	out        io.Writer
}

func runValidate(c *cli.Context) error {
	v := &Validator{
		configPath: c.String("config"),
		out:        c.App.Writer,
	}

	if c.Bool("plain") {
		return v.runPlain()
	}

	return v.runInteractive()
}

func (v *Validator) add(r ValidationResult) {
	v.results = append(v.results, r)
}

// counts returns ok, warning and error totals
func (v *Validator) counts() (ok, warnings, errors int) {
	for _, r := range v.results {
		switch r.Status {
		case statusOK:
			ok++
		case statusWarning:
			warnings++
		case statusError:
			errors++
		}
	}
	return ok, warnings, errors
}

// grouped returns results by category in first-seen order
func (v *Validator) grouped() ([]string, map[string][]ValidationResult) {
	categories := make(map[string][]ValidationResult)
	var order []string
	for _, r := range v.results {
		if _, exists := categories[r.Category]; !exists {
			order = append(order, r.Category)
		}
		categories[r.Category] = append(categories[r.Category], r)
	}
	return order, categories
}

// runPlain runs validation without Bubble Tea UI
func (v *Validator) runPlain() error {
	fmt.Fprintln(v.out, "Validating todospec configuration...")
	fmt.Fprintln(v.out)

	v.validate()

	order, categories := v.grouped()
	for _, category := range order {
		fmt.Fprintf(v.out, "[%s]\n", category)
		for _, r := range categories[category] {
			icon := "✓"
			if r.Status == statusError {
				icon = "✗"
			} else if r.Status == statusWarning {
				icon = "!"
			}

			fmt.Fprintf(v.out, "  %s %s", icon, r.Item)
			if r.Message != "" {
				fmt.Fprintf(v.out, ": %s", r.Message)
			}
			fmt.Fprintln(v.out)

			if r.Suggestion != "" {
				fmt.Fprintf(v.out, "    → %s\n", r.Suggestion)
			}
		}
		fmt.Fprintln(v.out)
	}

	okCount, warningCount, errorCount := v.counts()
	fmt.Fprintf(v.out, "Summary: %d passed, %d warnings, %d errors\n", okCount, warningCount, errorCount)

	if errorCount > 0 {
		return fmt.Errorf("validation failed with %d error(s)", errorCount)
	}
	if warningCount > 0 {
		fmt.Fprintln(v.out, "Validation passed with warnings")
	} else {
		fmt.Fprintln(v.out, "Validation passed!")
	}

	return nil
}

// runInteractive runs validation with Bubble Tea UI
func (v *Validator) runInteractive() error {
	p := tea.NewProgram(newValidateModel(v), tea.WithOutput(v.out))
	m, err := p.Run()
	if err != nil {
		return err
	}

	model := m.(validateModel)
	if model.hasErrors {
		return fmt.Errorf("validation failed")
	}

	return nil
}

// validate performs all validation checks
func (v *Validator) validate() {
	matcher, err := steps.NewMatcher(steps.Catalog())
	if err != nil {
		v.add(ValidationResult{Category: "Steps", Item: "catalog", Status: statusError, Message: err.Error()})
		return
	}
	v.matcher = matcher

	v.validateConfigExists()
	if v.config == nil {
		return
	}

	v.validateApp()
	v.validateBrowser()
	v.validateContainers()
	v.validateFeatureFiles()
}

func (v *Validator) validateConfigExists() {
	if _, err := os.Stat(v.configPath); os.IsNotExist(err) {
		v.add(ValidationResult{
			Category:   "Config",
			Item:       v.configPath,
			Status:     statusError,
			Message:    "config file not found",
			Suggestion: fmt.Sprintf("Run 'todospec init' or specify path with --config (looked for %s)", v.configPath),
		})
		return
	}

	cfg, err := config.Load(v.configPath)
	if err != nil {
		v.add(ValidationResult{
			Category:   "Config",
			Item:       v.configPath,
			Status:     statusError,
			Message:    err.Error(),
			Suggestion: "Check the config file syntax and structure",
		})
		return
	}

	v.config = cfg
	v.add(ValidationResult{
		Category: "Config",
		Item:     v.configPath,
		Status:   statusOK,
		Message:  "valid configuration",
	})
}

func (v *Validator) validateApp() {
	app := v.config.App
	if app.BaseURL == "" {
		v.add(ValidationResult{
			Category:   "App",
			Item:       "base_url",
			Status:     statusError,
			Message:    "no base URL, the home page cannot be opened",
			Suggestion: "Set app.base_url, e.g. http://localhost:8000",
		})
	} else {
		v.add(ValidationResult{Category: "App", Item: "base_url", Status: statusOK, Message: app.BaseURL})
	}

	if app.Command != "" && app.Ready == nil {
		v.add(ValidationResult{
			Category:   "App",
			Item:       "command",
			Status:     statusWarning,
			Message:    "app command without ready check",
			Suggestion: "Add 'ready: {path: /}' so scenarios wait for the app to serve",
		})
	}
}

func (v *Validator) validateBrowser() {
	b := v.config.Browser
	v.add(ValidationResult{Category: "Browser", Item: "driver", Status: statusOK, Message: b.Driver})

	if b.Driver == "webdriver" && b.RemoteURL == "" && b.Container == "" {
		v.add(ValidationResult{
			Category:   "Browser",
			Item:       "remote_url",
			Status:     statusWarning,
			Message:    "webdriver without remote_url or container, a local driver binary is needed",
			Suggestion: "Point browser.remote_url at a Selenium Grid or add a grid container",
		})
	}

	if cont, ok := v.config.Containers[b.Container]; ok {
		v.validateBrowserReach(b.Container, cont)
	}

	for _, c := range b.Capabilities {
		v.add(ValidationResult{
			Category: "Browser",
			Item:     c.Name,
			Status:   statusOK,
			Message:  fmt.Sprintf("browser: %s", c.Browser),
		})
	}
}

// validateBrowserReach checks that a browser running in a container can open
// an app served on this host
func (v *Validator) validateBrowserReach(name string, cont config.Container) {
	app := v.config.App
	if app.BrowserURL == "" {
		hostURL, port, onHost := container.HostURL(app.BaseURL)
		if onHost {
			v.add(ValidationResult{
				Category:   "Browser",
				Item:       "browser_url",
				Status:     statusWarning,
				Message:    fmt.Sprintf("the browser runs in container %q, where %s is the container itself", name, app.BaseURL),
				Suggestion: fmt.Sprintf("Set app.browser_url: %s and containers.%s.host_access_ports: [%d]", hostURL, name, port),
			})
		}
		return
	}

	u, err := url.Parse(app.BrowserURL)
	if err != nil || u.Hostname() != container.HostInternal {
		return
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		return
	}
	if !slices.Contains(cont.HostAccessPorts, port) {
		v.add(ValidationResult{
			Category:   "Browser",
			Item:       "host_access_ports",
			Status:     statusWarning,
			Message:    fmt.Sprintf("port %d is not exposed to container %q", port, name),
			Suggestion: fmt.Sprintf("Add %d to containers.%s.host_access_ports", port, name),
		})
	}
}

func (v *Validator) validateContainers() {
	for _, name := range slices.Sorted(maps.Keys(v.config.Containers)) {
		cont := v.config.Containers[name]
		if cont.WaitFor.Type == "" {
			v.add(ValidationResult{
				Category:   "Containers",
				Item:       name,
				Status:     statusWarning,
				Message:    "no wait_for strategy defined",
				Suggestion: `Add wait_for to ensure container is ready: wait_for: {type: http, path: /status, target: "4444/tcp"}`,
			})
			continue
		}

		v.add(ValidationResult{
			Category: "Containers",
			Item:     name,
			Status:   statusOK,
			Message:  fmt.Sprintf("image: %s", cont.Image),
		})
	}
}

func (v *Validator) validateFeatureFiles() {
	var featureFiles []string

	for _, path := range v.config.Features.Paths {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			v.add(ValidationResult{
				Category:   "Features",
				Item:       path,
				Status:     statusWarning,
				Message:    "path does not exist",
				Suggestion: fmt.Sprintf("Create the directory: mkdir -p %s", path),
			})
			continue
		}
		filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
			if err == nil && !d.IsDir() && strings.HasSuffix(p, ".feature") {
				featureFiles = append(featureFiles, p)
			}
			return nil
		})
	}

	if len(featureFiles) == 0 {
		v.add(ValidationResult{
			Category:   "Features",
			Item:       "(none)",
			Status:     statusWarning,
			Message:    "no feature files found",
			Suggestion: "Create .feature files in your features directory",
		})
		return
	}

	for _, file := range featureFiles {
		v.validateFeatureFile(file)
	}
}

func (v *Validator) validateFeatureFile(path string) {
	content, err := os.ReadFile(path)
	if err != nil {
		v.add(ValidationResult{
			Category: "Features",
			Item:     filepath.Base(path),
			Status:   statusError,
			Message:  fmt.Sprintf("cannot read file: %v", err),
		})
		return
	}

	doc, err := gherkin.ParseGherkinDocument(strings.NewReader(string(content)), (&messages.Incrementing{}).NewId)
	if err != nil {
		v.add(ValidationResult{
			Category:   "Features",
			Item:       filepath.Base(path),
			Status:     statusError,
			Message:    fmt.Sprintf("parse error: %v", err),
			Suggestion: "Check Gherkin syntax: https://cucumber.io/docs/gherkin/reference/",
		})
		return
	}

	if doc.Feature == nil {
		v.add(ValidationResult{
			Category:   "Features",
			Item:       filepath.Base(path),
			Status:     statusError,
			Message:    "no Feature found in file",
			Suggestion: "Add 'Feature: <name>' at the top of the file",
		})
		return
	}

	var scenarios, home int
	var undefinedSteps []string

	checkSteps := func(stepList []*messages.Step) {
		for _, step := range stepList {
			if _, ok := v.matcher.Match(step.Text); !ok {
				undefinedSteps = append(undefinedSteps, step.Text)
			}
		}
	}
	checkScenario := func(sc *messages.Scenario) {
		scenarios++
		for _, tag := range sc.Tags {
			if tag.Name == steps.HomeTag {
				home++
				break
			}
		}
		checkSteps(sc.Steps)
	}

	for _, child := range doc.Feature.Children {
		if child.Background != nil {
			checkSteps(child.Background.Steps)
		}
		if child.Scenario != nil {
			checkScenario(child.Scenario)
		}
		if child.Rule != nil {
			for _, rc := range child.Rule.Children {
				if rc.Background != nil {
					checkSteps(rc.Background.Steps)
				}
				if rc.Scenario != nil {
					checkScenario(rc.Scenario)
				}
			}
		}
	}

	if len(undefinedSteps) > 0 {
		// Show first few undefined steps
		shown := undefinedSteps
		if len(shown) > 3 {
			shown = shown[:3]
		}
		v.add(ValidationResult{
			Category:   "Features",
			Item:       filepath.Base(path),
			Status:     statusWarning,
			Message:    fmt.Sprintf("%d undefined step(s): %s", len(undefinedSteps), strings.Join(shown, ", ")),
			Suggestion: "Run 'todospec steps' to see available steps",
		})
		return
	}

	v.add(ValidationResult{
		Category: "Features",
		Item:     filepath.Base(path),
		Status:   statusOK,
		Message:  fmt.Sprintf("%d scenario(s), %d tagged %s", scenarios, home, steps.HomeTag),
	})
}

// Bubble Tea Model
type validateModel struct {
	validator   *Validator
	spinner     spinner.Model
	done        bool
	hasErrors   bool
	hasWarnings bool
}

func newValidateModel(v *Validator) validateModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	return validateModel{
		validator: v,
		spinner:   s,
	}
}

type validationDoneMsg struct{}

func (m validateModel) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		func() tea.Msg {
			m.validator.validate()
			return validationDoneMsg{}
		},
	)
}

func (m validateModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
	case validationDoneMsg:
		m.done = true
		_, warnings, errors := m.validator.counts()
		m.hasErrors = errors > 0
		m.hasWarnings = warnings > 0
		return m, tea.Quit
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m validateModel) View() string {
	var s strings.Builder

	categoryStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	okStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	warningStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	errStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	suggestionStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("243")).Italic(true)

	s.WriteString("\n")
	s.WriteString(titleStyle.Render("todospec validator"))
	s.WriteString("\n\n")

	if !m.done {
		s.WriteString(m.spinner.View())
		s.WriteString(" Validating configuration...")
		return s.String()
	}

	order, categories := m.validator.grouped()
	for _, category := range order {
		s.WriteString(categoryStyle.Render(category))
		s.WriteString("\n")

		for _, r := range categories[category] {
			var icon string
			switch r.Status {
			case statusOK:
				icon = okStyle.Render("✓")
			case statusWarning:
				icon = warningStyle.Render("!")
			case statusError:
				icon = errStyle.Render("✗")
			}

			s.WriteString(fmt.Sprintf("  %s %s", icon, r.Item))
			if r.Message != "" {
				s.WriteString(fmt.Sprintf(": %s", r.Message))
			}
			s.WriteString("\n")

			if r.Suggestion != "" {
				s.WriteString(fmt.Sprintf("    %s\n", suggestionStyle.Render("→ "+r.Suggestion)))
			}
		}
		s.WriteString("\n")
	}

	okCount, warningCount, errorCount := m.validator.counts()
	summaryParts := []string{
		okStyle.Render(fmt.Sprintf("%d passed", okCount)),
	}
	if warningCount > 0 {
		summaryParts = append(summaryParts, warningStyle.Render(fmt.Sprintf("%d warnings", warningCount)))
	}
	if errorCount > 0 {
		summaryParts = append(summaryParts, errStyle.Render(fmt.Sprintf("%d errors", errorCount)))
	}

	s.WriteString(fmt.Sprintf("Summary: %s\n", strings.Join(summaryParts, ", ")))

	if m.hasErrors {
		s.WriteString(errStyle.Render("\n✗ Validation failed\n"))
	} else if m.hasWarnings {
		s.WriteString(warningStyle.Render("\n! Validation passed with warnings\n"))
	} else {
		s.WriteString(okStyle.Render("\n✓ Validation passed!\n"))
	}

	return s.String()
}
