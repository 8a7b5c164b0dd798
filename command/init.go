package command

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/urfave/cli/v2"

	"github.com/tomatool/todospec/internal/container"
)

// Styles for interactive CLI
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#B83F45")).
			MarginBottom(1)

	subtitleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#4ECDC4")).
			MarginBottom(1)

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#B83F45")).
			Bold(true)

	unselectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))

	checkStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#4ECDC4"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666")).
			MarginTop(1)

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#4ECDC4")).
			Bold(true)

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFA500")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B")).
			Bold(true)
)

var initCommand = &cli.Command{
	Name:  "init",
	Usage: "Initialize a new todospec project",
	Description: `Create todospec.yml and an example feature interactively.

Guides you through picking a browser driver, the browsers to run the
scenarios in and how to serve the app under test.`,
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:    "force",
			Aliases: []string{"f"},
			Usage:   "overwrite existing files",
		},
		&cli.BoolFlag{
			Name:    "yes",
			Aliases: []string{"y"},
			Usage:   "skip the wizard and write the defaults",
		},
	},
	Action: runInit,
}

type choice struct {
	name        string
	description string
	key         string
}

var availableDrivers = []choice{
	{"WebDriver", "Selenium Grid or a local chromedriver/geckodriver", "webdriver"},
	{"Playwright", "Local Chromium, Firefox and WebKit via Playwright", "playwright"},
	{"Chrome DevTools", "Chrome only, over the DevTools protocol", "chromedp"},
}

// driverBrowsers lists the browsers each driver can launch
var driverBrowsers = map[string][]choice{
	"webdriver": {
		{"Chrome", "", "chrome"},
		{"Firefox", "", "firefox"},
	},
	"playwright": {
		{"Chromium", "", "chromium"},
		{"Firefox", "", "firefox"},
		{"WebKit", "", "webkit"},
	},
	"chromedp": {
		{"Chrome", "", "chrome"},
	},
}

// initOptions is what the wizard collects
type initOptions struct {
	Driver   string
	Browsers []string
	Command  string
	BaseURL  string
	// Grid runs a Selenium container for the webdriver driver
	Grid bool
}

func defaultInitOptions() initOptions {
	return initOptions{
		Driver:   "webdriver",
		Browsers: []string{"chrome"},
		BaseURL:  "http://localhost:8000",
	}
}

type initStep int

const (
	stepDriver initStep = iota
	stepBrowsers
	stepBaseURL
	stepCommand
	stepConfirm
)

type initModel struct {
	step     initStep
	cursor   int
	driver   string
	selected map[string]bool

	// Text inputs for the base URL and the app command
	baseURL textinput.Model
	command textinput.Model

	opts      initOptions
	done      bool
	cancelled bool
}

func initialInitModel() initModel {
	opts := defaultInitOptions()

	baseURL := textinput.New()
	baseURL.SetValue(opts.BaseURL)
	baseURL.Width = 50

	command := textinput.New()
	command.Placeholder = "npm start"
	command.Width = 50

	return initModel{
		step:     stepDriver,
		selected: make(map[string]bool),
		opts:     opts,
		baseURL:  baseURL,
		command:  command,
	}
}

func (m initModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m initModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.step == stepBaseURL || m.step == stepCommand {
			return m.handleTextInput(msg)
		}

		switch msg.String() {
		case "ctrl+c", "q":
			m.cancelled = true
			return m, tea.Quit

		case "up", "k":
			if m.cursor > 0 {
				m.cursor--
			}

		case "down", "j":
			if m.cursor < m.maxCursor() {
				m.cursor++
			}

		case " ", "x":
			if m.step == stepBrowsers {
				key := driverBrowsers[m.driver][m.cursor].key
				m.selected[key] = !m.selected[key]
			}

		case "a":
			if m.step == stepBrowsers {
				for _, b := range driverBrowsers[m.driver] {
					m.selected[b.key] = true
				}
			}

		case "enter":
			return m.handleEnter()
		}
	}

	return m, nil
}

func (m initModel) handleTextInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		m.cancelled = true
		return m, tea.Quit
	case "enter":
		if m.step == stepBaseURL {
			if v := strings.TrimSpace(m.baseURL.Value()); v != "" {
				m.opts.BaseURL = v
			}
			m.baseURL.Blur()
			m.step = stepCommand
			cmd := m.command.Focus()
			return m, cmd
		}
		m.opts.Command = strings.TrimSpace(m.command.Value())
		m.command.Blur()
		m.step = stepConfirm
		m.cursor = 0
		return m, nil
	case "esc":
		m.baseURL.Blur()
		m.command.Blur()
		m.step = stepBrowsers
		m.cursor = 0
		return m, nil
	}

	var cmd tea.Cmd
	if m.step == stepBaseURL {
		m.baseURL, cmd = m.baseURL.Update(msg)
	} else {
		m.command, cmd = m.command.Update(msg)
	}
	return m, cmd
}

func (m initModel) maxCursor() int {
	switch m.step {
	case stepDriver:
		return len(availableDrivers) - 1
	case stepBrowsers:
		return len(driverBrowsers[m.driver]) - 1
	case stepConfirm:
		return 1 // Create, Cancel
	default:
		return 0
	}
}

func (m initModel) handleEnter() (tea.Model, tea.Cmd) {
	switch m.step {
	case stepDriver:
		m.driver = availableDrivers[m.cursor].key
		m.opts.Driver = m.driver
		m.opts.Grid = m.driver == "webdriver"
		m.selected = map[string]bool{driverBrowsers[m.driver][0].key: true}
		m.step = stepBrowsers
		m.cursor = 0

	case stepBrowsers:
		var browsers []string
		for _, b := range driverBrowsers[m.driver] {
			if m.selected[b.key] {
				browsers = append(browsers, b.key)
			}
		}
		if len(browsers) == 0 {
			return m, nil
		}
		m.opts.Browsers = browsers
		m.step = stepBaseURL
		m.cursor = 0
		cmd := m.baseURL.Focus()
		return m, cmd

	case stepConfirm:
		if m.cursor == 0 {
			m.done = true
		} else {
			m.cancelled = true
		}
		return m, tea.Quit
	}

	return m, nil
}

func (m initModel) View() string {
	var s strings.Builder

	s.WriteString(titleStyle.Render("todospec init"))
	s.WriteString("\n")

	switch m.step {
	case stepDriver:
		s.WriteString(subtitleStyle.Render("Which browser driver should run the scenarios?"))
		s.WriteString("\n\n")
		for i, d := range availableDrivers {
			s.WriteString(renderOption(i == m.cursor, d.name, d.description))
		}
		s.WriteString("\n")
		s.WriteString(helpStyle.Render("ENTER select"))

	case stepBrowsers:
		s.WriteString(subtitleStyle.Render("Which browsers should run the scenarios?"))
		s.WriteString("\n\n")
		for i, b := range driverBrowsers[m.driver] {
			cursor := "  "
			nameStyle := unselectedStyle
			if i == m.cursor {
				cursor = "> "
				nameStyle = selectedStyle
			}
			checked := "[ ]"
			if m.selected[b.key] {
				checked = checkStyle.Render("[✓]")
			}
			s.WriteString(fmt.Sprintf("%s%s %s\n", cursor, checked, nameStyle.Render(b.name)))
		}
		s.WriteString("\n")
		s.WriteString(helpStyle.Render("SPACE select • a all • ENTER continue"))

	case stepBaseURL:
		s.WriteString(subtitleStyle.Render("Where is the TodoMVC app served?"))
		s.WriteString("\n\n")
		s.WriteString(m.baseURL.View())
		s.WriteString("\n\n")
		s.WriteString(helpStyle.Render("ENTER confirm • ESC back"))

	case stepCommand:
		s.WriteString(subtitleStyle.Render("Command serving the app (empty if it already runs):"))
		s.WriteString("\n\n")
		s.WriteString(m.command.View())
		s.WriteString("\n\n")
		s.WriteString(helpStyle.Render("Examples: npm start, python -m http.server 8000"))
		s.WriteString("\n")
		s.WriteString(helpStyle.Render("ENTER confirm • ESC back"))

	case stepConfirm:
		s.WriteString(subtitleStyle.Render("Ready to create configuration"))
		s.WriteString("\n\n")
		s.WriteString(fmt.Sprintf("Driver:   %s\n", m.opts.Driver))
		s.WriteString(fmt.Sprintf("Browsers: %s\n", strings.Join(m.opts.Browsers, ", ")))
		s.WriteString(fmt.Sprintf("App:      %s\n", m.opts.BaseURL))
		if m.opts.Command != "" {
			s.WriteString(fmt.Sprintf("Command:  %s\n", m.opts.Command))
		}
		s.WriteString("\n")
		for i, opt := range []string{"Create " + DefaultConfig, "Cancel"} {
			s.WriteString(renderOption(i == m.cursor, opt, ""))
		}
	}

	return s.String()
}

func renderOption(active bool, name, desc string) string {
	cursor := "  "
	style := unselectedStyle
	if active {
		cursor = "> "
		style = selectedStyle
	}
	line := cursor + style.Render(name)
	if active && desc != "" {
		line += helpStyle.Render("  " + desc)
	}
	return line + "\n"
}

func runInit(c *cli.Context) error {
	out := c.App.Writer
	if _, err := os.Stat(DefaultConfig); err == nil && !c.Bool("force") {
		return fmt.Errorf("%s already exists (use --force to overwrite)", DefaultConfig)
	}

	opts := defaultInitOptions()
	if !c.Bool("yes") {
		result, err := tea.NewProgram(initialInitModel()).Run()
		if err != nil {
			return fmt.Errorf("error running init: %w", err)
		}

		finalModel := result.(initModel)
		if finalModel.cancelled || !finalModel.done {
			fmt.Fprintln(out, "\nCancelled.")
			return nil
		}
		opts = finalModel.opts
	}

	wrote, err := writeProject(".", opts, c.Bool("force"))
	if err != nil {
		return err
	}

	fmt.Fprintln(out, "\n"+successStyle.Render("✓ Created "+DefaultConfig))
	if wrote {
		fmt.Fprintln(out, successStyle.Render("✓ Created ./features/todo.feature"))
	} else {
		fmt.Fprintln(out, warnStyle.Render("! Kept existing ./features/todo.feature"))
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Next steps:")
	fmt.Fprintln(out, "  1. Review "+DefaultConfig+" and point app.base_url at your TodoMVC app")
	fmt.Fprintln(out, "  2. Run "+selectedStyle.Render("todospec validate"))
	fmt.Fprintln(out, "  3. Run "+selectedStyle.Render("todospec run"))
	fmt.Fprintln(out)

	return nil
}

// writeProject writes the config and the example feature under dir. An
// existing feature file is kept unless force is set; the result reports
// whether the feature was written.
func writeProject(dir string, opts initOptions, force bool) (bool, error) {
	if err := os.WriteFile(filepath.Join(dir, DefaultConfig), []byte(generateConfig(opts)), 0644); err != nil {
		return false, fmt.Errorf("creating %s: %w", DefaultConfig, err)
	}

	featuresDir := filepath.Join(dir, "features")
	if err := os.MkdirAll(featuresDir, 0755); err != nil {
		return false, fmt.Errorf("creating features directory: %w", err)
	}

	examplePath := filepath.Join(featuresDir, "todo.feature")
	if _, err := os.Stat(examplePath); err == nil && !force {
		return false, nil
	}
	if err := os.WriteFile(examplePath, []byte(generateFeature()), 0644); err != nil {
		return false, fmt.Errorf("creating example feature: %w", err)
	}
	return true, nil
}

func generateConfig(opts initOptions) string {
	var s strings.Builder

	s.WriteString("version: 1\n\n")

	s.WriteString("settings:\n")
	s.WriteString("  parallel: 1\n")
	s.WriteString("  fail_fast: false\n")
	s.WriteString("  output: pretty\n")
	s.WriteString("  step_timeout: 30s\n")
	s.WriteString("\n")

	grid := opts.Grid && opts.Driver == "webdriver"
	browserURL, hostPort, onHost := container.HostURL(opts.BaseURL)
	onHost = onHost && grid

	s.WriteString("# Application under test\n")
	s.WriteString("app:\n")
	s.WriteString(fmt.Sprintf("  base_url: %s\n", opts.BaseURL))
	if onHost {
		s.WriteString("  # The browser runs in the grid container and reaches this host here\n")
		s.WriteString(fmt.Sprintf("  browser_url: %s\n", browserURL))
	}
	if opts.Command != "" {
		s.WriteString(fmt.Sprintf("  command: %s\n", opts.Command))
		s.WriteString("  ready:\n")
		s.WriteString("    path: /\n")
		s.WriteString("    timeout: 30s\n")
	}
	s.WriteString("\n")

	s.WriteString("browser:\n")
	s.WriteString(fmt.Sprintf("  driver: %s\n", opts.Driver))
	if grid {
		s.WriteString("  container: grid\n")
		s.WriteString("  remote_path: /wd/hub\n")
	}
	s.WriteString("  capabilities:\n")
	for _, b := range opts.Browsers {
		s.WriteString(fmt.Sprintf("    - name: %s\n", b))
		s.WriteString(fmt.Sprintf("      browser: %s\n", b))
	}
	s.WriteString("\n")

	if grid {
		image := "selenium/standalone-chrome:latest"
		if len(opts.Browsers) == 1 && opts.Browsers[0] == "firefox" {
			image = "selenium/standalone-firefox:latest"
		}
		s.WriteString("# Browsers the webdriver sessions run in\n")
		s.WriteString("containers:\n")
		s.WriteString("  grid:\n")
		s.WriteString(fmt.Sprintf("    image: %s\n", image))
		s.WriteString("    shm_size: 2147483648\n")
		s.WriteString("    ports:\n")
		s.WriteString("      - \"4444/tcp\"\n")
		s.WriteString("    wait_for:\n")
		s.WriteString("      type: http\n")
		s.WriteString("      target: \"4444/tcp\"\n")
		s.WriteString("      path: /status\n")
		s.WriteString("      timeout: 60s\n")
		if onHost {
			s.WriteString(fmt.Sprintf("    host_access_ports: [%d]\n", hostPort))
		}
		s.WriteString("\n")
	}

	s.WriteString("features:\n")
	s.WriteString("  paths:\n")
	s.WriteString("    - ./features\n")
	s.WriteString("\n")

	s.WriteString("report:\n")
	s.WriteString("  results: ./cucumber/results.json\n")
	s.WriteString("  dir: ./cucumber/report\n")

	return s.String()
}

func generateFeature() string {
	return `Feature: Todo list
  As a busy person
  I want to keep a list of todos
  So that I do not forget anything

  @home
  Scenario: Adding a single todo
    Given I am on the app home page.
    When I add a todo called "Get Milk".
    Then I should see it added to the todo list.
    And it should appear in the list.

  @home
  Scenario: Adding todos from a doc string
    Given I am on the app home page.
    When I add the todos
      """
      Buy milk
      Walk the dog
      """
    Then I should see them added to the todo list.

  @home
  Scenario: Adding todos from a table
    Given I am on the app home page.
    When I add multiple todos:
      | Buy milk     |
      | Walk the dog |
      | Call mum     |
    Then there should be that number of todos in the list.

  @home
  Scenario Outline: Adding a named todo
    Given I am on the app home page.
    When I add a todo called "<todo>".
    Then I should see a todo called "<todo>".

    Examples:
      | todo        |
      | Get Milk    |
      | Feed cat    |
`
}
