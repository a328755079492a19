// Package dossier stores covert agent character records as JSON. Crop
// sessions write their committed images into a record's image slots.
package dossier

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// Image slots a crop preset can target.
const (
	SlotAvatar          = "avatar"
	SlotBackgroundImage = "backgroundImage"
)

var ErrUnknownSlot = errors.New("unknown image slot")

//go:embed schema.json
var schemaJSON []byte

var schema = gojsonschema.NewBytesLoader(schemaJSON)

type SocialAttributes struct {
	Wealth   int `json:"wealth"`
	Power    int `json:"power"`
	Prestige int `json:"prestige"`
	Network  int `json:"network"`
}

type SocialAttributeDescriptions struct {
	Wealth   string `json:"wealth"`
	Power    string `json:"power"`
	Prestige string `json:"prestige"`
	Network  string `json:"network"`
}

type AlcoholTokens struct {
	Red    int `json:"red"`
	Yellow int `json:"yellow"`
	Blue   int `json:"blue"`
	Green  int `json:"green"`
}

type Health struct {
	Current int      `json:"current"`
	Max     int      `json:"max"`
	Stress  int      `json:"stress"`
	Trauma  []string `json:"trauma"`
}

type Equipment struct {
	Weapons   []string `json:"weapons"`
	Gadgets   []string `json:"gadgets"`
	Documents []string `json:"documents"`
	Contacts  []string `json:"contacts"`
}

type Profession struct {
	Name       string   `json:"name"`
	Adjectives []string `json:"adjectives"`
}

type Mission struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Status     string `json:"status"` // completed, failed, ongoing or aborted
	Difficulty int    `json:"difficulty"`
	Outcome    string `json:"outcome"`
	Date       string `json:"date"`
}

type Secrets struct {
	CoverIdentity string   `json:"coverIdentity"`
	KnownAliases  []string `json:"knownAliases"`
	Weaknesses    []string `json:"weaknesses"`
	Objectives    []string `json:"objectives"`
}

// Agent is one character record.
type Agent struct {
	Codename   string `json:"codename"`
	RealName   string `json:"realName"`
	Avatar     string `json:"avatar,omitempty"`
	Age        int    `json:"age"`
	Gender     string `json:"gender"`
	BirthPlace string `json:"birthPlace"`
	Experience int    `json:"experience"`

	InitialBlackCoin    int `json:"initialBlackCoin"`
	CurrentIntoxication int `json:"currentIntoxication"`
	SettledBlackCoin    int `json:"settledBlackCoin"`
	RemainingBlackCoin  int `json:"remainingBlackCoin"`

	SocialAttributes            SocialAttributes            `json:"socialAttributes"`
	SocialAttributeDescriptions SocialAttributeDescriptions `json:"socialAttributeDescriptions"`
	AlcoholTokens               AlcoholTokens               `json:"alcoholTokens"`

	Profession      Profession `json:"profession"`
	Backpack        string     `json:"backpack"`
	SkillAdjectives []string   `json:"skillAdjectives"`
	Nouns           []string   `json:"nouns"`
	Background      string     `json:"background"`
	BackgroundImage string     `json:"backgroundImage,omitempty"`

	Health      Health    `json:"health"`
	Equipment   Equipment `json:"equipment"`
	Specialties []string  `json:"specialties"`
	Missions    []Mission `json:"missions"`
	Secrets     Secrets   `json:"secrets"`
}

// New returns a blank record with the sheet's default slots filled in.
func New() *Agent {
	return &Agent{
		Profession:      Profession{Adjectives: make([]string, 5)},
		SkillAdjectives: make([]string, 10),
		Nouns:           make([]string, 10),
		Health:          Health{Current: 10, Max: 10, Trauma: []string{}},
		Equipment: Equipment{
			Weapons:   []string{},
			Gadgets:   []string{},
			Documents: []string{},
			Contacts:  []string{},
		},
		Specialties: []string{},
		Missions:    []Mission{},
		Secrets: Secrets{
			KnownAliases: []string{},
			Weaknesses:   []string{},
			Objectives:   []string{},
		},
	}
}

// SetImage stores a data URL in the named image slot.
func (a *Agent) SetImage(slot, dataURL string) error {
	switch slot {
	case SlotAvatar:
		a.Avatar = dataURL
	case SlotBackgroundImage:
		a.BackgroundImage = dataURL
	default:
		return fmt.Errorf("%w: %q", ErrUnknownSlot, slot)
	}
	return nil
}

// Image returns the data URL stored in the named slot.
func (a *Agent) Image(slot string) (string, error) {
	switch slot {
	case SlotAvatar:
		return a.Avatar, nil
	case SlotBackgroundImage:
		return a.BackgroundImage, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownSlot, slot)
	}
}

// Parse validates data against the record schema and decodes it.
func Parse(data []byte) (*Agent, error) {
	result, err := gojsonschema.Validate(schema, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to validate dossier: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return nil, fmt.Errorf("invalid dossier: %s", strings.Join(msgs, "; "))
	}

	agent := New()
	if err := json.Unmarshal(data, agent); err != nil {
		return nil, fmt.Errorf("failed to unmarshal dossier: %w", err)
	}
	return agent, nil
}

// Load reads the record at path. A missing file yields a blank record.
func Load(path string) (*Agent, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return New(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read dossier %s: %w", path, err)
	}
	agent, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return agent, nil
}

// Save writes the record to path through a temporary file.
func (a *Agent) Save(path string) error {
	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal dossier: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create dossier directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".dossier-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write dossier: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write dossier: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace dossier %s: %w", path, err)
	}
	return nil
}
