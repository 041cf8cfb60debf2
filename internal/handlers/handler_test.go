package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/rcliao/agent-loop/internal/model"
)

var testCreatedAt = time.Date(2026, 10, 16, 12, 30, 0, 0, time.UTC)

func newTestRegistry(t *testing.T) (*Registry, string) {
	t.Helper()
	root := t.TempDir()
	return NewRegistry(Env{
		Root: root,
		Now:  func() time.Time { return testCreatedAt.Add(time.Minute) },
	}), root
}

func intent(t *testing.T, id string, typ model.IntentType, details any) model.Intent {
	t.Helper()
	var raw json.RawMessage
	switch d := details.(type) {
	case nil:
	case string:
		raw = model.TextDetails(d)
	default:
		var err error
		raw, err = model.RecordDetails(d)
		if err != nil {
			t.Fatal(err)
		}
	}
	return model.Intent{ID: id, Type: string(typ), Details: raw, CreatedAt: testCreatedAt}
}

func mustSucceed(t *testing.T, res model.Result) model.Result {
	t.Helper()
	if !res.Success {
		t.Fatalf("expected success, got error %q", res.Error)
	}
	return res
}

func assertFiles(t *testing.T, root string, files []string) {
	t.Helper()
	for _, f := range files {
		if _, err := os.Stat(filepath.Join(root, filepath.FromSlash(f))); err != nil {
			t.Errorf("expected file %s: %v", f, err)
		}
	}
}

func TestCreateAgent(t *testing.T) {
	r, root := newTestRegistry(t)
	res := mustSucceed(t, r.Dispatch(context.Background(),
		intent(t, "i1", model.IntentCreateAgent, map[string]string{"name": "Helper", "purpose": "test"})))

	want := model.Result{
		Success:      true,
		Name:         "Helper",
		Path:         "agents/Helper",
		FilesCreated: []string{"agents/Helper/Helper.go", "agents/Helper/manifest.json"},
		Kind:         "agent",
	}
	if diff := cmp.Diff(want, res); diff != "" {
		t.Fatalf("result mismatch (-want +got):\n%s", diff)
	}
	assertFiles(t, root, res.FilesCreated)

	code, err := os.ReadFile(filepath.Join(root, "agents", "Helper", "Helper.go"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := parser.ParseFile(token.NewFileSet(), "Helper.go", code, 0); err != nil {
		t.Errorf("generated agent does not parse: %v\n%s", err, code)
	}
	if !strings.Contains(string(code), "type Helper struct") || !strings.Contains(string(code), `"test"`) {
		t.Errorf("agent stub missing class or purpose:\n%s", code)
	}

	var manifest agentManifest
	data, err := os.ReadFile(filepath.Join(root, "agents", "Helper", "manifest.json"))
	if err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal(data, &manifest); err != nil {
		t.Fatal(err)
	}
	if manifest.Purpose != "test" || !manifest.CreatedAt.Equal(testCreatedAt) {
		t.Errorf("unexpected manifest %+v", manifest)
	}
	if diff := cmp.Diff(res.FilesCreated, manifest.Files); diff != "" {
		t.Errorf("manifest files (-result +manifest):\n%s", diff)
	}
}

func TestCreateAgentFromText(t *testing.T) {
	r, root := newTestRegistry(t)
	res := mustSucceed(t, r.Dispatch(context.Background(),
		intent(t, "i1", model.IntentCreateAgent, "watch the event log for errors")))

	if res.Name != "Agent_20261016_123000" {
		t.Errorf("expected derived name, got %q", res.Name)
	}
	assertFiles(t, root, res.FilesCreated)
}

func TestCreateRoom(t *testing.T) {
	r, root := newTestRegistry(t)
	res := mustSucceed(t, r.Dispatch(context.Background(),
		intent(t, "r1", model.IntentCreateRoom, map[string]any{"name": "Star Lab", "theme": "cosmic"})))

	base := "frontend/src/components/rooms/Star_Lab"
	want := []string{base + "/Star_LabRoom.jsx", base + "/Star_Lab.css", base + "/room.json"}
	if diff := cmp.Diff(want, res.FilesCreated); diff != "" {
		t.Fatalf("files (-want +got):\n%s", diff)
	}
	assertFiles(t, root, res.FilesCreated)

	var doc roomDoc
	data, _ := os.ReadFile(filepath.Join(root, filepath.FromSlash(base), "room.json"))
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatal(err)
	}
	if doc.Theme != "cosmic" || len(doc.Colors) != 3 {
		t.Errorf("unexpected room doc %+v", doc)
	}

	jsx, _ := os.ReadFile(filepath.Join(root, filepath.FromSlash(want[0])))
	if !strings.Contains(string(jsx), "export default function Star_LabRoom()") {
		t.Errorf("component missing:\n%s", jsx)
	}
}

func TestCreateTool(t *testing.T) {
	r, root := newTestRegistry(t)
	res := mustSucceed(t, r.Dispatch(context.Background(),
		model.Intent{ID: "t1", Type: "monetize", Details: model.TextDetails("turn CSV into charts"), CreatedAt: testCreatedAt}))

	if res.Kind != "tool" || !strings.HasPrefix(res.Path, "creations/monetization/Tool_") {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(res.FilesCreated) != 3 {
		t.Fatalf("expected 3 files, got %v", res.FilesCreated)
	}
	assertFiles(t, root, res.FilesCreated)

	code, _ := os.ReadFile(filepath.Join(root, filepath.FromSlash(res.FilesCreated[0])))
	if _, err := parser.ParseFile(token.NewFileSet(), "tool.go", code, 0); err != nil {
		t.Errorf("generated tool does not parse: %v\n%s", err, code)
	}
	if !strings.Contains(string(code), "func Run(input string)") {
		t.Errorf("tool stub missing Run:\n%s", code)
	}

	var pricing pricingDoc
	data, _ := os.ReadFile(filepath.Join(root, res.Path, "pricing.json"))
	if err := json.Unmarshal(data, &pricing); err != nil {
		t.Fatal(err)
	}
	if len(pricing.Tiers) != 3 {
		t.Errorf("expected three default tiers, got %d", len(pricing.Tiers))
	}

	readme, _ := os.ReadFile(filepath.Join(root, res.Path, "README.md"))
	for _, tier := range []string{"starter", "pro", "enterprise"} {
		if !strings.Contains(string(readme), "| "+tier+" |") {
			t.Errorf("README missing tier %s", tier)
		}
	}
}

func TestEvolveUI(t *testing.T) {
	r, root := newTestRegistry(t)
	res := mustSucceed(t, r.Dispatch(context.Background(),
		intent(t, "u1", model.IntentEvolveUI, map[string]string{"target": "header", "type": "animation"})))

	want := []string{"frontend/src/enhancements/Enhancement_20261016_123000.jsx"}
	if diff := cmp.Diff(want, res.FilesCreated); diff != "" {
		t.Fatalf("files (-want +got):\n%s", diff)
	}
	data, _ := os.ReadFile(filepath.Join(root, filepath.FromSlash(want[0])))
	if !strings.HasPrefix(string(data), "// intent: u1\n") {
		t.Errorf("missing owner line:\n%s", data)
	}
}

func TestReplayIsIdempotent(t *testing.T) {
	cases := []model.Intent{
		intent(t, "a1", model.IntentCreateAgent, map[string]string{"name": "Helper"}),
		intent(t, "r1", model.IntentCreateRoom, "underwater library"),
		intent(t, "t1", model.IntentCreateTool, map[string]string{"name": "calc"}),
		intent(t, "u1", model.IntentEvolveUI, "soft glow on hover"),
	}
	for _, in := range cases {
		t.Run(in.Type, func(t *testing.T) {
			r, root := newTestRegistry(t)
			first := mustSucceed(t, r.Dispatch(context.Background(), in))
			before := listTree(t, root)

			second := mustSucceed(t, r.Dispatch(context.Background(), in))
			if diff := cmp.Diff(first, second); diff != "" {
				t.Errorf("replay result differs:\n%s", diff)
			}
			if diff := cmp.Diff(before, listTree(t, root)); diff != "" {
				t.Errorf("replay changed the tree:\n%s", diff)
			}
		})
	}
}

func TestReplayFinishesPartialRun(t *testing.T) {
	r, root := newTestRegistry(t)
	dir := filepath.Join(root, "agents", "Helper")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	// Claimed by i1 but never completed.
	if err := os.WriteFile(filepath.Join(dir, SentinelFile), []byte(`{"intent_id":"i1","type":"create_agent"}`), 0o644); err != nil {
		t.Fatal(err)
	}

	res := mustSucceed(t, r.Dispatch(context.Background(),
		intent(t, "i1", model.IntentCreateAgent, map[string]string{"name": "Helper"})))
	if res.Path != "agents/Helper" {
		t.Errorf("expected replay into the claimed dir, got %s", res.Path)
	}
	c, err := readClaim(dir)
	if err != nil {
		t.Fatal(err)
	}
	if c.Result == nil || !c.Result.Success {
		t.Errorf("sentinel not completed: %+v", c)
	}
}

func TestNameCollisionSuffix(t *testing.T) {
	r, root := newTestRegistry(t)
	ctx := context.Background()

	// A directory nobody claimed is never reused.
	if err := os.MkdirAll(filepath.Join(root, "agents", "Helper"), 0o755); err != nil {
		t.Fatal(err)
	}
	a := mustSucceed(t, r.Dispatch(ctx, intent(t, "i1", model.IntentCreateAgent, map[string]string{"name": "Helper"})))
	b := mustSucceed(t, r.Dispatch(ctx, intent(t, "i2", model.IntentCreateAgent, map[string]string{"name": "Helper"})))

	if a.Name != "Helper_2" || b.Name != "Helper_3" {
		t.Errorf("expected Helper_2 and Helper_3, got %s and %s", a.Name, b.Name)
	}
}

func TestEvolveUICollision(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()
	a := mustSucceed(t, r.Dispatch(ctx, intent(t, "u1", model.IntentEvolveUI, map[string]string{"name": "Glow"})))
	b := mustSucceed(t, r.Dispatch(ctx, intent(t, "u2", model.IntentEvolveUI, map[string]string{"name": "Glow"})))
	if a.Name != "Glow" || b.Name != "Glow_2" {
		t.Errorf("expected Glow and Glow_2, got %s and %s", a.Name, b.Name)
	}
}

func TestDispatchFailures(t *testing.T) {
	r, root := newTestRegistry(t)
	ctx := context.Background()

	tests := []struct {
		name string
		in   model.Intent
	}{
		{"unknown type", model.Intent{ID: "x1", Type: "teleport"}},
		{"unprintable name", intent(t, "x2", model.IntentCreateAgent, map[string]string{"name": "bad\x07name"})},
		{"path traversal", intent(t, "x3", model.IntentCreateTool, map[string]string{"name": "../../etc"})},
		{"details schema", intent(t, "x4", model.IntentCreateRoom, map[string]any{"colors": []string{"teal"}})},
		{"details wrong shape", model.Intent{ID: "x5", Type: "create_agent", Details: json.RawMessage(`[1,2]`)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := r.Dispatch(ctx, tt.in)
			if res.Success {
				t.Fatalf("expected failure, got %+v", res)
			}
			if !strings.Contains(res.Error, model.ErrValidation.Error()) {
				t.Errorf("expected validation error, got %q", res.Error)
			}
		})
	}

	if entries, _ := os.ReadDir(root); len(entries) != 0 {
		t.Errorf("failed dispatches wrote to the root: %v", entries)
	}
}

type panicHandler struct{}

func (panicHandler) Type() model.IntentType { return model.IntentCreateRoom }

func (panicHandler) Handle(context.Context, model.Intent) (model.Result, error) {
	panic("kaboom")
}

type errHandler struct{ err error }

func (errHandler) Type() model.IntentType { return model.IntentCreateTool }

func (h errHandler) Handle(context.Context, model.Intent) (model.Result, error) {
	return model.Result{Success: true}, h.err
}

func TestDispatchRecoversPanic(t *testing.T) {
	r, _ := newTestRegistry(t)
	if err := r.Register(panicHandler{}); err != nil {
		t.Fatal(err)
	}
	res := r.Dispatch(context.Background(), intent(t, "p1", model.IntentCreateRoom, nil))
	if res.Success || !strings.Contains(res.Error, "kaboom") {
		t.Errorf("expected panic converted to failure, got %+v", res)
	}
}

func TestDispatchErrorOverridesSuccess(t *testing.T) {
	r, _ := newTestRegistry(t)
	if err := r.Register(errHandler{err: errors.New("disk full")}); err != nil {
		t.Fatal(err)
	}
	res := r.Dispatch(context.Background(), intent(t, "e1", model.IntentCreateTool, nil))
	if res.Success || res.Error != "disk full" {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestCancelledDispatchRetries(t *testing.T) {
	r, root := newTestRegistry(t)
	in := intent(t, "c1", model.IntentCreateAgent, map[string]string{"name": "Helper"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if res := r.Dispatch(ctx, in); res.Success {
		t.Fatal("expected cancelled dispatch to fail")
	}

	res := mustSucceed(t, r.Dispatch(context.Background(), in))
	if res.Name != "Helper" {
		t.Errorf("retry should reuse the dir, got %s", res.Name)
	}
	assertFiles(t, root, res.FilesCreated)
}

func listTree(t *testing.T, root string) map[string]string {
	t.Helper()
	out := map[string]string{}
	err := filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(root, p)
		out[filepath.ToSlash(rel)] = string(data)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	return out
}
