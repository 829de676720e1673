package core

import (
	"bytes"
	"errors"
	"log/slog"
	"slices"
	"testing"

	"gopkg.in/yaml.v3"
)

// recordingModule appends every lifecycle step it goes through to steps and
// fails the step named by fail. configurableRecorder adds Configure.
type recordingModule struct {
	id    ModuleID
	steps *[]string
	fail  string
	got   *string
}

func (m *recordingModule) ModuleInfo() ModuleInfo {
	return ModuleInfo{ID: m.id, New: func() Module { cp := *m; return &cp }}
}

func (m *recordingModule) step(name string) error {
	*m.steps = append(*m.steps, name)
	if m.fail == name {
		return errors.New(name + " failed")
	}
	return nil
}

func (m *recordingModule) Provision(*AppContext) error { return m.step("provision") }
func (m *recordingModule) Validate() error             { return m.step("validate") }

type configurableRecorder struct{ recordingModule }

func (m *configurableRecorder) ModuleInfo() ModuleInfo {
	return ModuleInfo{ID: m.id, New: func() Module { cp := *m; return &cp }}
}

func (m *configurableRecorder) Configure(node *yaml.Node) error {
	var cfg struct {
		Bind string `yaml:"bind"`
	}
	if err := node.Decode(&cfg); err != nil {
		return err
	}
	*m.got = cfg.Bind
	return m.step("configure")
}

func moduleNode(t *testing.T, body string) yaml.Node {
	t.Helper()
	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(body), &doc); err != nil {
		t.Fatal(err)
	}
	return *doc.Content[0]
}

func TestAppContext_LoadModule(t *testing.T) {
	tests := []struct {
		name         string
		configurable bool
		withConfig   bool
		fail         string
		wantSteps    []string
		wantErr      bool
	}{
		{name: "provision and validate", wantSteps: []string{"provision", "validate"}},
		{name: "configure first", configurable: true, withConfig: true, wantSteps: []string{"configure", "provision", "validate"}},
		{name: "no entry skips configure", configurable: true, wantSteps: []string{"provision", "validate"}},
		{name: "entry ignored when not configurable", withConfig: true, wantSteps: []string{"provision", "validate"}},
		{name: "configure error", configurable: true, withConfig: true, fail: "configure", wantSteps: []string{"configure"}, wantErr: true},
		{name: "provision error", fail: "provision", wantSteps: []string{"provision"}, wantErr: true},
		{name: "validate error", fail: "validate", wantSteps: []string{"provision", "validate"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Cleanup(resetRegistry)

			var steps []string
			var bind string
			base := recordingModule{id: "gateway.http", steps: &steps, fail: tt.fail, got: &bind}
			if tt.configurable {
				RegisterModule(&configurableRecorder{base})
			} else {
				RegisterModule(&base)
			}

			ctx := NewAppContext(nil, "/data", "/memory")
			if tt.withConfig {
				ctx = ctx.WithModuleConfigs(map[string]yaml.Node{
					"gateway.http": moduleNode(t, "bind: 127.0.0.1:7420"),
				})
			}

			mod, err := ctx.LoadModule("gateway.http")
			if (err != nil) != tt.wantErr {
				t.Fatalf("LoadModule err = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && mod == nil {
				t.Fatal("nil module")
			}
			if !slices.Equal(steps, tt.wantSteps) {
				t.Errorf("steps = %v, want %v", steps, tt.wantSteps)
			}
			if tt.configurable && tt.withConfig && bind != "127.0.0.1:7420" {
				t.Errorf("configured bind = %q", bind)
			}
		})
	}
}

func TestAppContext_LoadModule_Unknown(t *testing.T) {
	t.Cleanup(resetRegistry)

	_, err := NewAppContext(nil, "/data", "/memory").LoadModule("memory.missing")
	if !errors.Is(err, ErrUnknownModule) {
		t.Fatalf("err = %v, want ErrUnknownModule", err)
	}
}

func TestAppContext_ForModule(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	root := NewAppContext(slog.New(slog.NewTextHandler(&buf, nil)), "/data", "/memory")
	root = root.WithModuleConfigs(map[string]yaml.Node{"hook.websocket": moduleNode(t, "max_connections: 2")})

	child := root.ForModule("hook.websocket")
	child.Logger.Info("listening")
	if !bytes.Contains(buf.Bytes(), []byte("module=hook.websocket")) {
		t.Errorf("log line lacks module tag: %s", buf.String())
	}
	if _, ok := child.ModuleConfig("hook.websocket"); !ok {
		t.Error("module configs not carried over")
	}
	if child.DataDir != "/data" || child.MemoryDir != "/memory" {
		t.Errorf("dirs = %q, %q", child.DataDir, child.MemoryDir)
	}

	// A module context derived from an already scoped one is tagged once.
	buf.Reset()
	child.ForModule("gateway.http").Logger.Info("x")
	if bytes.Contains(buf.Bytes(), []byte("hook.websocket")) {
		t.Errorf("nested scope kept the previous tag: %s", buf.String())
	}
}

func TestAppContext_Services(t *testing.T) {
	t.Parallel()

	root := NewAppContext(nil, "/data", "/memory")
	module := root.ForModule("memory.sqlite").WithModuleConfigs(nil)

	module.RegisterService("memory.journal", 42)
	if v, ok := ServiceAs[int](root, "memory.journal"); !ok || v != 42 {
		t.Errorf("journal seen from root = %v, %v", v, ok)
	}

	root.RegisterService("memory.journal", 7)
	if v, _ := ServiceAs[int](module, "memory.journal"); v != 7 {
		t.Errorf("replaced service = %d, want 7", v)
	}

	if _, ok := ServiceAs[string](root, "memory.journal"); ok {
		t.Error("type mismatch reported ok")
	}
	if _, ok := root.Service("metrics.manager"); ok {
		t.Error("absent service reported ok")
	}
}
