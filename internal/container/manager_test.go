package container

import (
	"context"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
	tcexec "github.com/testcontainers/testcontainers-go/exec"

	"github.com/tomatool/todospec/internal/config"
)

// mockContainer satisfies testcontainers.Container without Docker
type mockContainer struct {
	hostVal    string
	hostErr    error
	ports      map[nat.Port][]nat.PortBinding
	portsErr   error
	execCode   int
	execReader io.Reader
	execErr    error
}

func (m *mockContainer) GetContainerID() string { return "mock-id" }
func (m *mockContainer) Start(ctx context.Context) error { return nil }
func (m *mockContainer) Stop(ctx context.Context, timeout *time.Duration) error { return nil }
func (m *mockContainer) Terminate(ctx context.Context, opts ...testcontainers.TerminateOption) error { return nil }
func (m *mockContainer) Host(ctx context.Context) (string, error) {
	return m.hostVal, m.hostErr
}
func (m *mockContainer) MappedPort(ctx context.Context, port nat.Port) (nat.Port, error) {
	if bindings, ok := m.ports[port]; ok && len(bindings) > 0 {
		return nat.Port(bindings[0].HostPort), nil
	}
	return "", fmt.Errorf("port not found: %s", port)
}
func (m *mockContainer) Ports(ctx context.Context) (nat.PortMap, error) {
	return m.ports, m.portsErr
}
func (m *mockContainer) SessionID() string { return "session" }
func (m *mockContainer) IsRunning() bool { return true }
func (m *mockContainer) Exec(ctx context.Context, cmd []string, options ...tcexec.ProcessOption) (int, io.Reader, error) {
	return m.execCode, m.execReader, m.execErr
}
func (m *mockContainer) Logs(ctx context.Context) (io.ReadCloser, error) {
	if m.execReader == nil {
		return io.NopCloser(&mockReader{}), nil
	}
	return io.NopCloser(m.execReader), nil
}
func (m *mockContainer) FollowOutput(consumer testcontainers.LogConsumer) {}
func (m *mockContainer) StartLogProducer(ctx context.Context, opts ...testcontainers.LogProductionOption) error { return nil }
func (m *mockContainer) StopLogProducer() error { return nil }
func (m *mockContainer) Name(ctx context.Context) (string, error) { return "mock", nil }
func (m *mockContainer) State(ctx context.Context) (*container.State, error) { return nil, nil }
func (m *mockContainer) Networks(ctx context.Context) ([]string, error) { return nil, nil }
func (m *mockContainer) NetworkAliases(ctx context.Context) (map[string][]string, error) { return nil, nil }
func (m *mockContainer) Endpoint(ctx context.Context, proto string) (string, error) { return "", nil }
func (m *mockContainer) PortEndpoint(ctx context.Context, port nat.Port, proto string) (string, error) { return "", nil }
func (m *mockContainer) CopyToContainer(ctx context.Context, fileContent []byte, containerFilePath string, fileMode int64) error { return nil }
func (m *mockContainer) CopyDirToContainer(ctx context.Context, hostDirPath string, containerParentPath string, fileMode int64) error { return nil }
func (m *mockContainer) CopyFileToContainer(ctx context.Context, hostFilePath string, containerFilePath string, fileMode int64) error { return nil }
func (m *mockContainer) CopyFileFromContainer(ctx context.Context, filePath string) (io.ReadCloser, error) { return nil, nil }
func (m *mockContainer) GetLogProductionErrorChannel() <-chan error { return nil }
func (m *mockContainer) Inspect(ctx context.Context) (*container.InspectResponse, error) { return nil, nil }
func (m *mockContainer) ContainerIP(ctx context.Context) (string, error) { return "172.17.0.2", nil }
func (m *mockContainer) ContainerIPs(ctx context.Context) ([]string, error) { return []string{"172.17.0.2"}, nil }

func TestNewManagerOrder(t *testing.T) {
	tests := []struct {
		name        string
		configs     map[string]config.Container
		wantOrder   []string
		errContains string
	}{
		{
			name:      "no containers",
			configs:   map[string]config.Container{},
			wantOrder: []string{},
		},
		{
			name: "independent containers sort by name",
			configs: map[string]config.Container{
				"grid": {Image: "selenium/standalone-chrome"},
				"app":  {Image: "todomvc"},
			},
			wantOrder: []string{"app", "grid"},
		},
		{
			name: "grid waits for the app",
			configs: map[string]config.Container{
				"grid": {Image: "selenium/standalone-chrome", DependsOn: []string{"app"}},
				"app":  {Image: "todomvc", DependsOn: []string{"api"}},
				"api":  {Image: "todo-api"},
			},
			wantOrder: []string{"api", "app", "grid"},
		},
		{
			name: "diamond",
			configs: map[string]config.Container{
				"grid":    {Image: "grid", DependsOn: []string{"chrome", "firefox"}},
				"chrome":  {Image: "node-chrome", DependsOn: []string{"hub"}},
				"firefox": {Image: "node-firefox", DependsOn: []string{"hub"}},
				"hub":     {Image: "hub"},
			},
			wantOrder: []string{"hub", "chrome", "firefox", "grid"},
		},
		{
			name: "self dependency",
			configs: map[string]config.Container{
				"grid": {Image: "grid", DependsOn: []string{"grid"}},
			},
			errContains: "circular dependency",
		},
		{
			name: "cycle",
			configs: map[string]config.Container{
				"a": {Image: "a", DependsOn: []string{"b"}},
				"b": {Image: "b", DependsOn: []string{"a"}},
			},
			errContains: "circular dependency",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			manager, err := NewManager(tt.configs)
			if tt.errContains != "" {
				if err == nil || !strings.Contains(err.Error(), tt.errContains) {
					t.Fatalf("expected error containing %q, got %v", tt.errContains, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			got := manager.Order()
			if strings.Join(got, ",") != strings.Join(tt.wantOrder, ",") {
				t.Errorf("order = %v, want %v", got, tt.wantOrder)
			}
		})
	}
}

func TestBuildWaitStrategy(t *testing.T) {
	manager := &Manager{}

	tests := []struct {
		name   string
		config config.WaitStrategy
	}{
		{name: "default", config: config.WaitStrategy{}},
		{name: "port", config: config.WaitStrategy{Type: "port", Target: "4444/tcp"}},
		{name: "log", config: config.WaitStrategy{Type: "log", Target: "Started Selenium Standalone"}},
		{name: "http", config: config.WaitStrategy{Type: "http", Target: "4444/tcp", Path: "/status", Timeout: time.Minute}},
		{name: "http with method", config: config.WaitStrategy{Type: "http", Target: "8000/tcp", Path: "/", Method: "HEAD"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if manager.buildWaitStrategy(tt.config) == nil {
				t.Error("expected strategy, got nil")
			}
		})
	}
}

func TestRequest(t *testing.T) {
	manager := &Manager{networkName: "todospec-test"}

	req := manager.request("grid", config.Container{
		Image:   "selenium/standalone-firefox",
		Env:     map[string]string{"SE_NODE_MAX_SESSIONS": "2"},
		Ports:   []string{"4444/tcp"},
		ShmSize: 2 << 30,
	})

	if req.Image != "selenium/standalone-firefox" {
		t.Errorf("image = %q", req.Image)
	}
	if len(req.ExposedPorts) != 1 || req.ExposedPorts[0] != "4444/tcp" {
		t.Errorf("exposed ports = %v", req.ExposedPorts)
	}
	if req.HostConfigModifier == nil {
		t.Fatal("expected shm size modifier")
	}
	hc := &container.HostConfig{}
	req.HostConfigModifier(hc)
	if hc.ShmSize != 2<<30 {
		t.Errorf("shm size = %d", hc.ShmSize)
	}
	if req.Networks != nil {
		t.Error("no network should be attached before CreateNetwork")
	}

	plain := manager.request("app", config.Container{Image: "todomvc"})
	if plain.HostConfigModifier != nil {
		t.Error("no modifier expected without shm size")
	}
	if plain.HostAccessPorts != nil {
		t.Errorf("host access ports = %v", plain.HostAccessPorts)
	}

	exposed := manager.request("grid", config.Container{Image: "selenium/standalone-chrome", HostAccessPorts: []int{8000}})
	if len(exposed.HostAccessPorts) != 1 || exposed.HostAccessPorts[0] != 8000 {
		t.Errorf("host access ports = %v", exposed.HostAccessPorts)
	}
}

func TestHostURL(t *testing.T) {
	tests := []struct {
		in       string
		wantURL  string
		wantPort int
		wantOK   bool
	}{
		{"http://localhost:8000", "http://host.testcontainers.internal:8000", 8000, true},
		{"http://127.0.0.1:3000/app/", "http://host.testcontainers.internal:3000/app/", 3000, true},
		{"http://localhost", "http://host.testcontainers.internal:80", 80, true},
		{"https://[::1]/", "https://host.testcontainers.internal:443/", 443, true},
		{"http://todo.example.com:8000", "", 0, false},
		{"http://app:8000", "", 0, false},
		{"not a url", "", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, port, ok := HostURL(tt.in)
			if ok != tt.wantOK || got != tt.wantURL || port != tt.wantPort {
				t.Errorf("HostURL(%q) = %q, %d, %v; want %q, %d, %v", tt.in, got, port, ok, tt.wantURL, tt.wantPort, tt.wantOK)
			}
		})
	}
}

func grid() *mockContainer {
	return &mockContainer{
		hostVal: "localhost",
		ports: map[nat.Port][]nat.PortBinding{
			"4444/tcp": {{HostPort: "32768"}},
		},
	}
}

func TestGetConnectionString(t *testing.T) {
	tests := []struct {
		name        string
		containers  map[string]testcontainers.Container
		port        string
		want        string
		errContains string
	}{
		{
			name:       "mapped port",
			containers: map[string]testcontainers.Container{"grid": grid()},
			port:       "4444/tcp",
			want:       "localhost:32768",
		},
		{
			name:        "container not found",
			containers:  map[string]testcontainers.Container{},
			port:        "4444/tcp",
			errContains: "container not found",
		},
		{
			name:        "port not mapped",
			containers:  map[string]testcontainers.Container{"grid": grid()},
			port:        "7900/tcp",
			errContains: "port not found",
		},
		{
			name:        "host error",
			containers:  map[string]testcontainers.Container{"grid": &mockContainer{hostErr: fmt.Errorf("daemon gone")}},
			port:        "4444/tcp",
			errContains: "daemon gone",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			manager := &Manager{containers: tt.containers}

			got, err := manager.GetConnectionString(context.Background(), "grid", tt.port)
			if tt.errContains != "" {
				if err == nil || !strings.Contains(err.Error(), tt.errContains) {
					t.Fatalf("expected error containing %q, got %v", tt.errContains, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestEndpoint(t *testing.T) {
	manager := &Manager{
		configs: map[string]config.Container{
			"grid": {Image: "selenium/standalone-chrome", Ports: []string{"4444/tcp", "7900/tcp"}},
			"bare": {Image: "busybox"},
		},
		containers: map[string]testcontainers.Container{"grid": grid()},
	}
	ctx := context.Background()

	got, err := manager.Endpoint(ctx, "grid", "", "wd/hub")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "http://localhost:32768/wd/hub" {
		t.Errorf("endpoint = %q", got)
	}

	got, err = manager.Endpoint(ctx, "grid", "ws", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "ws://localhost:32768" {
		t.Errorf("endpoint = %q", got)
	}

	if _, err := manager.Endpoint(ctx, "bare", "", ""); err == nil {
		t.Error("expected error for container without ports")
	}
	if _, err := manager.Endpoint(ctx, "missing", "", ""); err == nil {
		t.Error("expected error for unknown container")
	}
}

func TestStopAll(t *testing.T) {
	manager := &Manager{
		containers: map[string]testcontainers.Container{
			"app":  &mockContainer{},
			"grid": &mockContainer{},
		},
		order: []string{"app", "grid"},
	}

	manager.StopAll(context.Background())

	if len(manager.containers) != 0 {
		t.Errorf("expected containers to be cleared, got %d", len(manager.containers))
	}
}

func TestCleanupWithoutNetwork(t *testing.T) {
	manager, err := NewManager(map[string]config.Container{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	manager.Cleanup()
}

func TestDockerNotRunningError(t *testing.T) {
	msg := (&DockerNotRunningError{}).Error()
	if !strings.Contains(msg, "Docker is not running") {
		t.Errorf("unexpected message: %q", msg)
	}
}

type mockReader struct {
	data string
	pos  int
}

func (r *mockReader) Read(p []byte) (n int, err error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	n = copy(p, r.data[r.pos:])
	r.pos += n
	return n, nil
}
