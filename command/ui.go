package command

import (
	"bufio"
	"embed"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	gherkin "github.com/cucumber/gherkin/go/v26"
	messages "github.com/cucumber/messages/go/v21"
	"github.com/fsnotify/fsnotify"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/tomatool/todospec/internal/config"
	"github.com/tomatool/todospec/internal/formatter"
	"github.com/tomatool/todospec/internal/runlog"
)

//go:embed ui_assets/*
var uiAssets embed.FS

var uiCommand = &cli.Command{
	Name:  "ui",
	Usage: "Web UI to browse feature files and run them with live results",
	Flags: []cli.Flag{
		configFlag(),
		&cli.StringSliceFlag{
			Name:    "path",
			Aliases: []string{"p"},
			Usage:   "feature path (repeatable, defaults to features.paths)",
		},
		&cli.IntFlag{
			Name:  "port",
			Usage: "port to listen on (random when 0)",
		},
		&cli.BoolFlag{
			Name:  "no-browser",
			Usage: "don't open the browser automatically",
		},
	},
	Action: runWebUI,
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// UIServer serves the feature browser and relays runs over websockets
type UIServer struct {
	featurePaths []string
	configPath   string
	runRoot      string

	clients    map[*websocket.Conn]*sync.Mutex
	clientsMux sync.RWMutex

	watcher *fsnotify.Watcher

	runningMux sync.Mutex
	runningCmd *exec.Cmd
	isRunning  bool

	// command builds the process for a run; replaced in tests
	command func(args ...string) (*exec.Cmd, error)
}

// FeatureJSON is a parsed feature file as served to the UI
type FeatureJSON struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Tags        []string       `json:"tags,omitempty"`
	FilePath    string         `json:"filePath"`
	Scenarios   []ScenarioJSON `json:"scenarios"`
}

type ScenarioJSON struct {
	Name      string        `json:"name"`
	Tags      []string      `json:"tags,omitempty"`
	Steps     []StepJSON    `json:"steps"`
	IsOutline bool          `json:"isOutline,omitempty"`
	Examples  []ExampleJSON `json:"examples,omitempty"`
}

type StepJSON struct {
	Keyword   string     `json:"keyword"`
	Text      string     `json:"text"`
	DocString string     `json:"docString,omitempty"`
	Table     [][]string `json:"table,omitempty"`
}

type ExampleJSON struct {
	Name string     `json:"name,omitempty"`
	Rows [][]string `json:"rows"`
}

// WSMessage is pushed to every connected client
type WSMessage struct {
	Type         string        `json:"type"`
	Features     []FeatureJSON `json:"features,omitempty"`
	ChangedFiles []string      `json:"changedFiles,omitempty"`
	Error        string        `json:"error,omitempty"`

	// Run status fields
	Capability string `json:"capability,omitempty"`
	Scenario   string `json:"scenario,omitempty"`
	Status     string `json:"status,omitempty"` // "running", "passed", "failed"
	Output     string `json:"output,omitempty"`

	Runs []runlog.RunInfo `json:"runs,omitempty"`
}

func newUIServer(configPath string, featurePaths []string) *UIServer {
	return &UIServer{
		featurePaths: featurePaths,
		configPath:   configPath,
		runRoot:      runlog.DefaultRoot,
		clients:      make(map[*websocket.Conn]*sync.Mutex),
		command: func(args ...string) (*exec.Cmd, error) {
			execPath, err := os.Executable()
			if err != nil {
				return nil, err
			}
			return exec.Command(execPath, args...), nil
		},
	}
}

func runWebUI(c *cli.Context) error {
	featurePaths := c.StringSlice("path")
	if len(featurePaths) == 0 {
		featurePaths = []string{"./features"}
		if cfg, err := config.Load(c.String("config")); err == nil {
			featurePaths = cfg.Features.Paths
		} else {
			log.Warn().Err(err).Msg("using ./features")
		}
	}

	server := newUIServer(c.String("config"), featurePaths)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()
	server.watcher = watcher

	for _, path := range featurePaths {
		if err := server.watchPath(path); err != nil {
			log.Warn().Err(err).Str("path", path).Msg("couldn't watch")
		}
	}
	go server.watchLoop()

	handler, err := server.Handler()
	if err != nil {
		return err
	}

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", c.Int("port")))
	if err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	url := fmt.Sprintf("http://localhost:%d", listener.Addr().(*net.TCPAddr).Port)

	out := c.App.Writer
	fmt.Fprintf(out, "%s todospec UI running at %s\n", successStyle.Render("✓"), url)
	fmt.Fprintf(out, "  Watching for changes in: %s\n", strings.Join(featurePaths, ", "))
	fmt.Fprintf(out, "  %s\n\n", helpStyle.Render("Press Ctrl+C to stop"))

	if !c.Bool("no-browser") {
		go openBrowser(url)
	}

	srv := &http.Server{Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-c.Context.Done()
		srv.Close()
	}()
	if err := srv.Serve(listener); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Handler routes the UI assets, the JSON API and the websocket
func (s *UIServer) Handler() (http.Handler, error) {
	assetsFS, err := fs.Sub(uiAssets, "ui_assets")
	if err != nil {
		return nil, fmt.Errorf("failed to setup assets: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/", http.FileServer(http.FS(assetsFS)))
	mux.HandleFunc("/api/features", s.handleFeatures)
	mux.HandleFunc("/api/config", s.handleConfig)
	mux.HandleFunc("/api/run", s.handleRun)
	mux.HandleFunc("/api/stop", s.handleStop)
	mux.HandleFunc("/api/runs", s.handleRuns)
	mux.Handle("/runs/", http.StripPrefix("/runs/", http.FileServer(http.Dir(filepath.Join(s.runRoot, "runs")))))
	mux.HandleFunc("/ws", s.handleWebSocket)
	return mux, nil
}

func (s *UIServer) watchPath(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	if info.IsDir() {
		return filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return s.watcher.Add(p)
			}
			return nil
		})
	}

	return s.watcher.Add(filepath.Dir(path))
}

func (s *UIServer) watchLoop() {
	// Editors write in bursts
	var debounceTimer *time.Timer
	var debounceMux sync.Mutex
	changedFiles := make(map[string]bool)

	triggerUpdate := func(filePath string) {
		debounceMux.Lock()
		defer debounceMux.Unlock()

		changedFiles[filePath] = true

		if debounceTimer != nil {
			debounceTimer.Stop()
		}
		debounceTimer = time.AfterFunc(100*time.Millisecond, func() {
			debounceMux.Lock()
			files := make([]string, 0, len(changedFiles))
			for f := range changedFiles {
				files = append(files, f)
			}
			changedFiles = make(map[string]bool)
			debounceMux.Unlock()

			sort.Strings(files)
			s.broadcastUpdate(files)
		})
	}

	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}

			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					s.watcher.Add(event.Name)
				}
			}

			if strings.HasSuffix(event.Name, ".feature") &&
				(event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename)) {
				triggerUpdate(event.Name)
			}

		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("watcher error")
		}
	}
}

func (s *UIServer) broadcast(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}

	s.clientsMux.RLock()
	defer s.clientsMux.RUnlock()

	for client, mu := range s.clients {
		mu.Lock()
		client.WriteMessage(websocket.TextMessage, data)
		mu.Unlock()
	}
}

func (s *UIServer) broadcastUpdate(changedFiles []string) {
	s.broadcast(WSMessage{Type: "update", Features: s.loadFeatures(), ChangedFiles: changedFiles})
}

func (s *UIServer) broadcastRunsUpdate() {
	runs, err := runlog.ListRuns(s.runRoot)
	if err != nil {
		return
	}
	s.broadcast(WSMessage{Type: "runs_update", Runs: runs})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func (s *UIServer) handleFeatures(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.loadFeatures())
}

func (s *UIServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	content, err := os.ReadFile(s.configPath)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to read config: %v", err), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]string{"path": s.configPath, "content": string(content)})
}

func (s *UIServer) handleRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.runningMux.Lock()
	if s.isRunning {
		s.runningMux.Unlock()
		http.Error(w, "Tests already running", http.StatusConflict)
		return
	}
	s.isRunning = true
	s.runningMux.Unlock()

	q := r.URL.Query()
	go s.runTests(q.Get("scenario"), q.Get("capability"))

	writeJSON(w, map[string]string{"status": "started"})
}

func (s *UIServer) handleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.runningMux.Lock()
	cmd := s.runningCmd
	s.runningMux.Unlock()
	if cmd == nil || cmd.Process == nil {
		http.Error(w, "No tests running", http.StatusConflict)
		return
	}

	// An interrupt lets the run close its browser sessions
	if err := cmd.Process.Signal(os.Interrupt); err != nil {
		cmd.Process.Kill()
	}
	writeJSON(w, map[string]string{"status": "stopped"})
}

func (s *UIServer) handleRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := runlog.ListRuns(s.runRoot)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, runs)
}

func (s *UIServer) isBusy() bool {
	s.runningMux.Lock()
	defer s.runningMux.Unlock()
	return s.isRunning
}

func (s *UIServer) runTests(scenario, capability string) {
	defer func() {
		s.runningMux.Lock()
		s.isRunning = false
		s.runningCmd = nil
		s.runningMux.Unlock()
		s.broadcastRunsUpdate()
	}()

	s.broadcast(WSMessage{Type: "run_started"})

	args := []string{"--log-format", "json", "run", "-c", s.configPath, "--format", formatter.Name}
	if scenario != "" {
		args = append(args, "--scenario", scenario)
	}
	if capability != "" {
		args = append(args, "--capability", capability)
	}

	cmd, err := s.command(args...)
	if err != nil {
		s.broadcast(WSMessage{Type: "run_error", Status: "failed", Error: err.Error()})
		return
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		s.broadcast(WSMessage{Type: "run_error", Status: "failed", Error: err.Error()})
		return
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		s.broadcast(WSMessage{Type: "run_error", Status: "failed", Error: err.Error()})
		return
	}

	if err := cmd.Start(); err != nil {
		s.broadcast(WSMessage{Type: "run_error", Status: "failed", Error: err.Error()})
		return
	}

	s.runningMux.Lock()
	s.runningCmd = cmd
	s.runningMux.Unlock()

	lines := make(chan string, 100)
	var wg sync.WaitGroup
	for _, r := range []io.Reader{stdout, stderr} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			scanner := bufio.NewScanner(r)
			scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
			for scanner.Scan() {
				lines <- scanner.Text()
			}
		}()
	}
	go func() {
		wg.Wait()
		close(lines)
	}()

	for line := range lines {
		if msg, ok := relayLine(line); ok {
			s.broadcast(msg)
		}
	}

	if err := cmd.Wait(); err != nil {
		s.broadcast(WSMessage{Type: "run_finished", Status: "failed", Error: err.Error()})
		return
	}
	s.broadcast(WSMessage{Type: "run_finished", Status: "passed"})
}

// relayLine turns one line of run output into a websocket message. Events
// become status updates, everything else is forwarded as plain output.
func relayLine(line string) (WSMessage, bool) {
	clean := strings.TrimSpace(stripAnsi(line))
	if clean == "" {
		return WSMessage{}, false
	}

	data, ok := strings.CutPrefix(clean, formatter.EventPrefix)
	if !ok {
		return WSMessage{Type: "run_output", Output: clean}, true
	}

	var event formatter.Event
	if err := json.Unmarshal([]byte(data), &event); err != nil {
		return WSMessage{}, false
	}

	msg := WSMessage{Capability: event.Capability, Scenario: event.Scenario, Status: event.Status, Error: event.Error}
	switch event.Type {
	case formatter.EventScenarioStart:
		msg.Type = "scenario_running"
		msg.Status = "running"
	case formatter.EventScenarioEnd:
		msg.Type = "scenario_" + event.Status
	case formatter.EventStepEnd:
		if event.Status != "failed" {
			return WSMessage{}, false
		}
		msg.Type = "step_failed"
		msg.Output = event.Step
	case formatter.EventSummary:
		msg.Type = "summary"
		msg.Output = fmt.Sprintf("%d scenarios: %d passed, %d failed, %d skipped", event.Total, event.Passed, event.Failed, event.Skipped)
	default:
		return WSMessage{}, false
	}
	return msg, true
}

var ansiPattern = regexp.MustCompile("[\u001B\u009B][[\\]()#;?]*(?:(?:(?:[a-zA-Z\\d]*(?:;[a-zA-Z\\d]*)*)?\u0007)|(?:(?:\\d{1,4}(?:;\\d{0,4})*)?[\\dA-PRZcf-ntqry=><~]))")

// stripAnsi removes ANSI escape codes from a string
func stripAnsi(str string) string {
	return ansiPattern.ReplaceAllString(str, "")
}

func (s *UIServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	mu := &sync.Mutex{}
	runs, _ := runlog.ListRuns(s.runRoot)
	data, _ := json.Marshal(WSMessage{Type: "init", Features: s.loadFeatures(), Runs: runs})

	// Register under the lock so init is always the first message
	mu.Lock()
	s.clientsMux.Lock()
	s.clients[conn] = mu
	s.clientsMux.Unlock()
	conn.WriteMessage(websocket.TextMessage, data)
	mu.Unlock()

	defer func() {
		s.clientsMux.Lock()
		delete(s.clients, conn)
		s.clientsMux.Unlock()
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

func (s *UIServer) loadFeatures() []FeatureJSON {
	features := []FeatureJSON{}

	for _, path := range s.featurePaths {
		files, err := findFeatureFiles(path)
		if err != nil {
			continue
		}

		for _, file := range files {
			f, err := parseFeatureFileJSON(file)
			if err != nil {
				log.Debug().Err(err).Str("file", file).Msg("skipping unparsable feature")
				continue
			}
			if f != nil {
				features = append(features, *f)
			}
		}
	}

	return features
}

func findFeatureFiles(root string) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}

	if !info.IsDir() {
		if strings.HasSuffix(root, ".feature") {
			return []string{root}, nil
		}
		return nil, nil
	}

	var files []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(path, ".feature") {
			files = append(files, path)
		}
		return nil
	})

	return files, err
}

func parseFeatureFileJSON(filePath string) (*FeatureJSON, error) {
	content, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}

	doc, err := gherkin.ParseGherkinDocument(strings.NewReader(string(content)), (&messages.Incrementing{}).NewId)
	if err != nil {
		return nil, err
	}

	if doc.Feature == nil {
		return nil, nil
	}

	feature := doc.Feature
	fd := &FeatureJSON{
		Name:        feature.Name,
		Description: strings.TrimSpace(feature.Description),
		FilePath:    filePath,
		Tags:        tagNames(feature.Tags),
		Scenarios:   []ScenarioJSON{},
	}

	for _, child := range feature.Children {
		sc := child.Scenario
		if sc == nil {
			continue
		}

		sd := ScenarioJSON{
			Name:      sc.Name,
			Tags:      tagNames(sc.Tags),
			IsOutline: len(sc.Examples) > 0,
		}

		for _, step := range sc.Steps {
			st := StepJSON{Keyword: strings.TrimSpace(step.Keyword), Text: step.Text}
			if step.DocString != nil {
				st.DocString = step.DocString.Content
			}
			if step.DataTable != nil {
				for _, row := range step.DataTable.Rows {
					st.Table = append(st.Table, cellValues(row))
				}
			}
			sd.Steps = append(sd.Steps, st)
		}

		for _, ex := range sc.Examples {
			ed := ExampleJSON{Name: ex.Name}
			if ex.TableHeader != nil {
				ed.Rows = append(ed.Rows, cellValues(ex.TableHeader))
			}
			for _, row := range ex.TableBody {
				ed.Rows = append(ed.Rows, cellValues(row))
			}
			sd.Examples = append(sd.Examples, ed)
		}

		fd.Scenarios = append(fd.Scenarios, sd)
	}

	return fd, nil
}

func cellValues(row *messages.TableRow) []string {
	cells := make([]string, 0, len(row.Cells))
	for _, cell := range row.Cells {
		cells = append(cells, cell.Value)
	}
	return cells
}

func tagNames(tags []*messages.Tag) []string {
	var result []string
	for _, t := range tags {
		result = append(result, t.Name)
	}
	return result
}

func openBrowser(url string) {
	var cmd string
	var args []string

	switch runtime.GOOS {
	case "darwin":
		cmd = "open"
		args = []string{url}
	case "linux":
		cmd = "xdg-open"
		args = []string{url}
	case "windows":
		cmd = "rundll32"
		args = []string{"url.dll,FileProtocolHandler", url}
	default:
		return
	}

	exec.Command(cmd, args...).Start()
}
