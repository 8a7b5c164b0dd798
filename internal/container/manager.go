package container

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"os/exec"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	dockercontainer "github.com/docker/docker/api/types/container"
	"github.com/docker/go-connections/nat"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/network"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/tomatool/todospec/internal/config"
	"github.com/tomatool/todospec/internal/runlog"
)

// HostInternal is the host name a container uses to reach its
// host_access_ports on this machine
const HostInternal = testcontainers.HostInternal

// HostURL rewrites a URL served on this machine's loopback so a browser
// inside a container can open it. It also returns the host port that must be
// listed in host_access_ports. ok is false for URLs on other hosts.
func HostURL(rawURL string) (hostURL string, port int, ok bool) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "", 0, false
	}
	switch h := u.Hostname(); h {
	case "localhost", "127.0.0.1", "::1", "0.0.0.0":
	default:
		return "", 0, false
	}

	p := u.Port()
	if p == "" {
		p = "80"
		if u.Scheme == "https" {
			p = "443"
		}
	}
	port, err = strconv.Atoi(p)
	if err != nil {
		return "", 0, false
	}

	u.Host = net.JoinHostPort(HostInternal, p)
	return u.String(), port, true
}

// CheckDockerAvailable verifies that Docker daemon is running and accessible
func CheckDockerAvailable() error {
	cmd := exec.Command("docker", "info")
	if err := cmd.Run(); err != nil {
		return &DockerNotRunningError{}
	}
	return nil
}

// DockerNotRunningError provides helpful instructions for starting Docker
type DockerNotRunningError struct{}

func (e *DockerNotRunningError) Error() string {
	switch runtime.GOOS {
	case "darwin", "windows":
		return `Docker is not running. The configured containers (e.g. the Selenium grid) need it:

  1. Open Docker Desktop
  2. Wait for Docker to start
  3. Run todospec again`
	case "linux":
		return `Docker is not running. The configured containers (e.g. the Selenium grid) need it:

  1. Start the daemon:
       sudo systemctl start docker
  2. Run todospec again`
	default:
		return "Docker is not running. Please start Docker and try again."
	}
}

// Manager handles the lifecycle of the containers a run depends on, such as
// a Selenium grid or a containerized app under test
type Manager struct {
	configs     map[string]config.Container
	containers  map[string]testcontainers.Container
	order       []string // startup order based on dependencies
	mu          sync.RWMutex
	runCtx      *runlog.RunContext
	logFiles    map[string]*os.File
	network     *testcontainers.DockerNetwork
	networkName string
}

// NewManager creates a new container manager
func NewManager(configs map[string]config.Container) (*Manager, error) {
	m := &Manager{
		configs:     configs,
		containers:  make(map[string]testcontainers.Container),
		logFiles:    make(map[string]*os.File),
		networkName: fmt.Sprintf("todospec-%s", uuid.New().String()[:8]),
	}

	order, err := m.calculateStartOrder()
	if err != nil {
		return nil, fmt.Errorf("calculating start order: %w", err)
	}
	m.order = order

	return m, nil
}

// SetRunContext sets the run context container logs are written to
func (m *Manager) SetRunContext(ctx *runlog.RunContext) {
	m.runCtx = ctx
}

// Order returns the container names in startup order
func (m *Manager) Order() []string {
	return append([]string{}, m.order...)
}

// CreateNetwork creates the shared Docker network so browsers in the grid
// can reach app containers by name
func (m *Manager) CreateNetwork(ctx context.Context) error {
	if m.network != nil {
		return nil
	}

	net, err := network.New(ctx, network.WithDriver("bridge"))
	if err != nil {
		return fmt.Errorf("creating network: %w", err)
	}

	m.network = net
	m.networkName = net.Name
	log.Debug().Str("network", m.networkName).Msg("docker network created")
	return nil
}

// calculateStartOrder returns containers in dependency order (Kahn)
func (m *Manager) calculateStartOrder() ([]string, error) {
	inDegree := make(map[string]int)
	dependents := make(map[string][]string)

	for name := range m.configs {
		inDegree[name] = 0
	}
	for name, cfg := range m.configs {
		for _, dep := range cfg.DependsOn {
			inDegree[name]++
			dependents[dep] = append(dependents[dep], name)
		}
	}

	var queue []string
	for name, degree := range inDegree {
		if degree == 0 {
			queue = append(queue, name)
		}
	}
	sort.Strings(queue)

	var order []string
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		order = append(order, name)

		for _, dep := range dependents[name] {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				queue = append(queue, dep)
				sort.Strings(queue)
			}
		}
	}

	if len(order) != len(m.configs) {
		return nil, fmt.Errorf("circular dependency detected in container configuration")
	}
	return order, nil
}

// StartAll starts all containers in dependency order
func (m *Manager) StartAll(ctx context.Context) error {
	if len(m.order) == 0 {
		return nil
	}
	if err := m.CreateNetwork(ctx); err != nil {
		return err
	}

	for _, name := range m.order {
		if err := m.Start(ctx, name); err != nil {
			return fmt.Errorf("starting container %s: %w", name, err)
		}
	}
	return nil
}

// request builds the container request for one configured container
func (m *Manager) request(name string, cfg config.Container) testcontainers.ContainerRequest {
	req := testcontainers.ContainerRequest{
		Image:        cfg.Image,
		Env:          cfg.Env,
		ExposedPorts: append([]string{}, cfg.Ports...),
		WaitingFor:   m.buildWaitStrategy(cfg.WaitFor),
	}

	// Reached from the container at testcontainers.HostInternal
	if len(cfg.HostAccessPorts) > 0 {
		req.HostAccessPorts = append([]int{}, cfg.HostAccessPorts...)
	}

	// Browsers crash with Docker's default 64MB /dev/shm
	if cfg.ShmSize > 0 {
		req.HostConfigModifier = func(hc *dockercontainer.HostConfig) {
			hc.ShmSize = cfg.ShmSize
		}
	}

	if m.network != nil {
		req.Networks = []string{m.networkName}
		req.NetworkAliases = map[string][]string{
			m.networkName: {name},
		}
	}
	return req
}

// Start starts a single container
func (m *Manager) Start(ctx context.Context, name string) error {
	cfg, ok := m.configs[name]
	if !ok {
		return fmt.Errorf("unknown container: %s", name)
	}

	log.Debug().Str("container", name).Str("image", cfg.Image).Msg("starting container")
	startTime := time.Now()

	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: m.request(name, cfg),
		Started:          true,
	})
	if err != nil {
		return fmt.Errorf("creating container: %w", err)
	}

	m.mu.Lock()
	m.containers[name] = c
	m.mu.Unlock()

	log.Debug().Str("container", name).Dur("duration", time.Since(startTime)).Msg("container ready")

	if m.runCtx != nil {
		m.captureContainerLogs(ctx, name, c)
	}
	return nil
}

// captureContainerLogs streams container logs to a file in the run directory
func (m *Manager) captureContainerLogs(ctx context.Context, name string, c testcontainers.Container) {
	logFile, err := m.runCtx.CreateLogFile("container-" + name)
	if err != nil {
		log.Warn().Err(err).Str("container", name).Msg("failed to create container log file")
		return
	}

	m.mu.Lock()
	m.logFiles[name] = logFile
	m.mu.Unlock()

	logs, err := c.Logs(ctx)
	if err != nil {
		log.Warn().Err(err).Str("container", name).Msg("failed to get container logs")
		return
	}

	go func() {
		defer logs.Close()
		io.Copy(logFile, logs)
	}()
}

// buildWaitStrategy converts config wait strategy to testcontainers wait strategy
func (m *Manager) buildWaitStrategy(ws config.WaitStrategy) wait.Strategy {
	timeout := ws.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}

	switch ws.Type {
	case "port":
		return wait.ForListeningPort(nat.Port(ws.Target)).WithStartupTimeout(timeout)
	case "log":
		return wait.ForLog(ws.Target).WithStartupTimeout(timeout)
	case "http":
		strategy := wait.ForHTTP(ws.Path).WithPort(nat.Port(ws.Target)).WithStartupTimeout(timeout)
		if ws.Method != "" {
			strategy = strategy.WithMethod(ws.Method)
		}
		return strategy
	default:
		return wait.ForLog("").WithStartupTimeout(timeout)
	}
}

// Get returns a running container by name
func (m *Manager) Get(name string) (testcontainers.Container, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.containers[name]
	if !ok {
		return nil, fmt.Errorf("container not found: %s", name)
	}
	return c, nil
}

// GetConnectionString returns host:port of a container port as seen from the host
func (m *Manager) GetConnectionString(ctx context.Context, name, port string) (string, error) {
	c, err := m.Get(name)
	if err != nil {
		return "", err
	}
	host, err := c.Host(ctx)
	if err != nil {
		return "", err
	}
	mapped, err := c.MappedPort(ctx, nat.Port(port))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s:%s", host, mapped.Port()), nil
}

// FirstPort returns the first port a container exposes
func (m *Manager) FirstPort(name string) (string, error) {
	cfg, ok := m.configs[name]
	if !ok {
		return "", fmt.Errorf("unknown container: %s", name)
	}
	if len(cfg.Ports) == 0 {
		return "", fmt.Errorf("container %s exposes no ports", name)
	}
	return cfg.Ports[0], nil
}

// Endpoint returns scheme://host:port/path for the first exposed port of a
// container, e.g. the WebDriver URL of a Selenium grid
func (m *Manager) Endpoint(ctx context.Context, name, scheme, path string) (string, error) {
	port, err := m.FirstPort(name)
	if err != nil {
		return "", err
	}
	addr, err := m.GetConnectionString(ctx, name, port)
	if err != nil {
		return "", err
	}
	return joinEndpoint(scheme, addr, path), nil
}

func joinEndpoint(scheme, addr, path string) string {
	if scheme == "" {
		scheme = "http"
	}
	if path != "" && !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return fmt.Sprintf("%s://%s%s", scheme, addr, path)
}

// StopAll stops all containers in reverse startup order
func (m *Manager) StopAll(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := len(m.order) - 1; i >= 0; i-- {
		name := m.order[i]
		if c, ok := m.containers[name]; ok {
			log.Debug().Str("container", name).Msg("stopping container")
			if err := c.Terminate(ctx); err != nil {
				log.Warn().Err(err).Str("container", name).Msg("failed to stop container")
			}
			delete(m.containers, name)
		}
	}
}

// Cleanup stops all containers and removes the network
func (m *Manager) Cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	m.mu.Lock()
	for _, f := range m.logFiles {
		f.Close()
	}
	m.logFiles = make(map[string]*os.File)
	m.mu.Unlock()

	m.StopAll(ctx)

	if m.network != nil {
		log.Debug().Str("network", m.networkName).Msg("removing docker network")
		if err := m.network.Remove(ctx); err != nil {
			log.Warn().Err(err).Str("network", m.networkName).Msg("failed to remove network")
		}
		m.network = nil
	}
}
