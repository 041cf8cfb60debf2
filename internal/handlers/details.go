package handlers

import (
	"bytes"
	"encoding/json"
	"hash/fnv"
	"regexp"
	"strings"
	"time"

	"github.com/rcliao/agent-loop/internal/model"
	"github.com/rcliao/agent-loop/internal/schemas"
)

var namePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]{0,63}$`)

var nameReplacer = strings.NewReplacer(" ", "_", "-", "_")

// Sanitize turns name into a filesystem-safe identifier. Spaces and hyphens
// become underscores; anything else outside [A-Za-z0-9_] is rejected.
func Sanitize(name string) (string, error) {
	s := nameReplacer.Replace(strings.TrimSpace(name))
	if !namePattern.MatchString(s) {
		return "", invalid("name %q is not a safe identifier", name)
	}
	return s, nil
}

// AgentDetails is the normalized create_agent record.
type AgentDetails struct {
	Name    string `json:"name"`
	Purpose string `json:"purpose"`
}

// RoomDetails is the normalized create_room record.
type RoomDetails struct {
	Name   string   `json:"name"`
	Theme  string   `json:"theme"`
	Colors []string `json:"colors,omitempty"`
}

// Tier is one pricing tier of a tool.
type Tier struct {
	Tier     string   `json:"tier"`
	Price    float64  `json:"price"`
	Features []string `json:"features,omitempty"`
}

// ToolDetails is the normalized create_tool record.
type ToolDetails struct {
	Name    string `json:"name"`
	Purpose string `json:"purpose"`
	Pricing []Tier `json:"pricing,omitempty"`
}

// UIDetails is the normalized evolve_ui record.
type UIDetails struct {
	Name        string `json:"name"`
	Target      string `json:"target"`
	Type        string `json:"type"`
	Description string `json:"description"`
}

// decodeDetails accepts details as a JSON string or a record. A string is
// returned as text; a record is validated against schema and decoded into rec.
func decodeDetails(raw json.RawMessage, schema string, rec any) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}
	if raw[0] == '"' {
		var text string
		if err := json.Unmarshal(raw, &text); err != nil {
			return "", invalid("details: %v", err)
		}
		return strings.TrimSpace(text), nil
	}
	if err := schemas.Validate(schema, raw); err != nil {
		return "", invalid("details: %v", err)
	}
	if err := json.Unmarshal(raw, rec); err != nil {
		return "", invalid("details: %v", err)
	}
	return "", nil
}

func stamp(at time.Time) string {
	return at.UTC().Format("20060102_150405")
}

// derivedName names an entity from its kind and creation time.
func derivedName(prefix string, at time.Time) string {
	return prefix + "_" + stamp(at)
}

// resolveName sanitizes name, or derives one when it is empty.
func resolveName(name, prefix string, at time.Time) (string, error) {
	if strings.TrimSpace(name) == "" {
		return derivedName(prefix, at), nil
	}
	return Sanitize(name)
}

// pick selects a stable element of options for key.
func pick(options []string, key string) string {
	h := fnv.New32a()
	h.Write([]byte(key))
	return options[int(h.Sum32()%uint32(len(options)))]
}

// NormalizeAgent converts create_agent details into a record.
func NormalizeAgent(in model.Intent) (AgentDetails, error) {
	var d AgentDetails
	text, err := decodeDetails(in.Details, schemas.CreateAgent, &d)
	if err != nil {
		return d, err
	}
	if text != "" {
		d.Purpose = text
	}
	if d.Name, err = resolveName(d.Name, "Agent", in.CreatedAt); err != nil {
		return d, err
	}
	if strings.TrimSpace(d.Purpose) == "" {
		d.Purpose = "autonomous helper created " + stamp(in.CreatedAt)
	}
	return d, nil
}

var roomThemes = []string{"cosmic", "forest", "ocean", "neon", "crystal", "desert"}

var themePalettes = map[string][]string{
	"cosmic":  {"#1b1035", "#6a4c93", "#f5d76e"},
	"forest":  {"#1e3d2f", "#4f7942", "#c2b280"},
	"ocean":   {"#03256c", "#2541b2", "#06bee1"},
	"neon":    {"#0d0221", "#ff2a6d", "#05d9e8"},
	"crystal": {"#e0fbfc", "#98c1d9", "#3d5a80"},
	"desert":  {"#edc9af", "#c19a6b", "#8b4513"},
}

var defaultPalette = []string{"#222222", "#888888", "#eeeeee"}

// NormalizeRoom converts create_room details into a record.
func NormalizeRoom(in model.Intent) (RoomDetails, error) {
	var d RoomDetails
	text, err := decodeDetails(in.Details, schemas.CreateRoom, &d)
	if err != nil {
		return d, err
	}
	if text != "" {
		d.Theme = text
	}
	if d.Name, err = resolveName(d.Name, "Room", in.CreatedAt); err != nil {
		return d, err
	}
	if strings.TrimSpace(d.Theme) == "" {
		d.Theme = pick(roomThemes, in.ID+stamp(in.CreatedAt))
	}
	if len(d.Colors) == 0 {
		palette, ok := themePalettes[strings.ToLower(d.Theme)]
		if !ok {
			palette = defaultPalette
		}
		d.Colors = append([]string(nil), palette...)
	}
	return d, nil
}

// DefaultPricing is the three-tier pricing used when none is given.
func DefaultPricing() []Tier {
	return []Tier{
		{Tier: "starter", Price: 9, Features: []string{"100 runs per month", "email support"}},
		{Tier: "pro", Price: 29, Features: []string{"unlimited runs", "priority support", "usage reports"}},
		{Tier: "enterprise", Price: 99, Features: []string{"dedicated instance", "SLA", "custom integrations"}},
	}
}

// NormalizeTool converts create_tool details into a record.
func NormalizeTool(in model.Intent) (ToolDetails, error) {
	var d ToolDetails
	text, err := decodeDetails(in.Details, schemas.CreateTool, &d)
	if err != nil {
		return d, err
	}
	if text != "" {
		d.Purpose = text
	}
	if d.Name, err = resolveName(d.Name, "Tool", in.CreatedAt); err != nil {
		return d, err
	}
	if strings.TrimSpace(d.Purpose) == "" {
		d.Purpose = "utility tool created " + stamp(in.CreatedAt)
	}
	if len(d.Pricing) == 0 {
		d.Pricing = DefaultPricing()
	}
	return d, nil
}

// NormalizeUI converts evolve_ui details into a record.
func NormalizeUI(in model.Intent) (UIDetails, error) {
	var d UIDetails
	text, err := decodeDetails(in.Details, schemas.EvolveUI, &d)
	if err != nil {
		return d, err
	}
	if text != "" {
		d.Description = text
	}
	if d.Name, err = resolveName(d.Name, "Enhancement", in.CreatedAt); err != nil {
		return d, err
	}
	if d.Target == "" {
		d.Target = "app"
	}
	if d.Type == "" {
		d.Type = "visual"
	}
	if d.Description == "" {
		d.Description = d.Type + " enhancement for " + d.Target
	}
	return d, nil
}
