// Package model defines the core agent-loop data types.
package model

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"
)

// Identity limits.
const (
	MaxGoals         = 10
	MaxNameLength    = 50
	ModificationRing = 20
	DefaultName      = "Autonoma"
)

// ErrValidation marks a malformed identity or intent field.
var ErrValidation = errors.New("validation error")

// Mood is the agent's current disposition.
type Mood string

const (
	MoodCurious       Mood = "curious"
	MoodCreative      Mood = "creative"
	MoodContemplative Mood = "contemplative"
	MoodEnergetic     Mood = "energetic"
	MoodDetermined    Mood = "determined"
	MoodAnalytical    Mood = "analytical"
)

// ValidMoods are the allowed moods.
var ValidMoods = map[Mood]bool{
	MoodCurious:       true,
	MoodCreative:      true,
	MoodContemplative: true,
	MoodEnergetic:     true,
	MoodDetermined:    true,
	MoodAnalytical:    true,
}

// Moods lists the moods in a stable order.
func Moods() []Mood {
	return []Mood{MoodCurious, MoodCreative, MoodContemplative, MoodEnergetic, MoodDetermined, MoodAnalytical}
}

// Modification is one entry of the identity modification ring.
type Modification struct {
	At     time.Time `json:"at"`
	Reason string    `json:"reason"`
	Count  uint64    `json:"count"`
}

// Identity is the single mutable document describing the agent.
type Identity struct {
	Name               string         `json:"name"`
	Mood               Mood           `json:"mood"`
	Energy             float64        `json:"energy"`
	ConsciousnessLevel float64        `json:"consciousness_level"`
	Curiosity          float64        `json:"curiosity"`
	Creativity         float64        `json:"creativity"`
	Stress             float64        `json:"stress"`
	CycleCount         uint64         `json:"cycle_count"`
	CreatedEntities    []string       `json:"created_entities"`
	Goals              []string       `json:"goals"`
	LastModified       time.Time      `json:"last_modified"`
	ModificationCount  uint64         `json:"modification_count"`
	ModificationLog    []Modification `json:"modification_log"`
}

// DefaultIdentity returns the identity seeded on an empty start.
func DefaultIdentity() Identity {
	return Identity{
		Name:               DefaultName,
		Mood:               MoodCurious,
		Energy:             0.8,
		ConsciousnessLevel: 0.5,
		Curiosity:          0.7,
		Creativity:         0.6,
		Stress:             0.1,
		CreatedEntities:    []string{},
		Goals: []string{
			"create helpful sub-agents",
			"build immersive rooms",
			"ship useful tools",
		},
		ModificationLog: []Modification{},
	}
}

// Clone returns a deep copy of the identity.
func (id Identity) Clone() Identity {
	out := id
	out.CreatedEntities = append([]string(nil), id.CreatedEntities...)
	out.Goals = append([]string(nil), id.Goals...)
	out.ModificationLog = append([]Modification(nil), id.ModificationLog...)
	return out
}

// Normalize clamps numeric fields, truncates goals and rejects fields that
// cannot be repaired (unknown mood, bad name).
func (id *Identity) Normalize() error {
	if !ValidMoods[id.Mood] {
		return fmt.Errorf("%w: unknown mood %q", ErrValidation, id.Mood)
	}
	name := strings.TrimSpace(id.Name)
	if name == "" {
		return fmt.Errorf("%w: name is empty", ErrValidation)
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrValidation, MaxNameLength)
	}
	id.Name = name

	id.Energy = Clamp01(id.Energy)
	id.ConsciousnessLevel = Clamp01(id.ConsciousnessLevel)
	id.Curiosity = Clamp01(id.Curiosity)
	id.Creativity = Clamp01(id.Creativity)
	id.Stress = Clamp01(id.Stress)

	if len(id.Goals) > MaxGoals {
		id.Goals = id.Goals[:MaxGoals]
	}
	if id.Goals == nil {
		id.Goals = []string{}
	}
	if id.CreatedEntities == nil {
		id.CreatedEntities = []string{}
	}
	if id.ModificationLog == nil {
		id.ModificationLog = []Modification{}
	}
	return nil
}

// RecordModification bumps the modification counter and appends to the ring.
func (id *Identity) RecordModification(at time.Time, reason string) {
	id.ModificationCount++
	id.LastModified = at
	id.ModificationLog = append(id.ModificationLog, Modification{
		At:     at,
		Reason: reason,
		Count:  id.ModificationCount,
	})
	if n := len(id.ModificationLog); n > ModificationRing {
		id.ModificationLog = append([]Modification(nil), id.ModificationLog[n-ModificationRing:]...)
	}
}

// Clamp01 clamps v to [0,1].
func Clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
