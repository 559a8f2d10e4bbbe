package parser

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"unicode"
)

// Типы ниже принимают значения в том виде, в каком их обычно возвращают модели:
// число вместо строки, строку вместо списка и т.п.

// flexString - строка, число или bool. Списки склеиваются через "、".
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(strings.TrimSpace(s))
	case '[':
		var items flexList
		if err := json.Unmarshal(data, &items); err != nil {
			return err
		}
		*f = flexString(strings.Join(items, "、"))
	case '{':
		var buf bytes.Buffer
		if err := json.Compact(&buf, data); err != nil {
			return err
		}
		*f = flexString(buf.String())
	default:
		*f = flexString(string(data))
	}
	return nil
}

func (f flexString) String() string { return string(f) }

// flexList - список строк или одна строка с разделителями.
type flexList []string

func (f *flexList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = nil
		return nil
	}
	if data[0] != '[' {
		var s flexString
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = splitList(string(s))
		return nil
	}
	var raw []flexString
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if item != "" {
			out = append(out, string(item))
		}
	}
	*f = out
	return nil
}

func splitList(s string) []string {
	parts := strings.FieldsFunc(s, func(r rune) bool {
		switch r {
		case '、', ',', '，', ';', '；', '\n':
			return true
		}
		return false
	})
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// flexInt - число или строка, начинающаяся с числа ("7", "7/10", "7分").
type flexInt struct {
	Value int
	Set   bool
}

func (f *flexInt) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		end := strings.IndexFunc(s, func(r rune) bool { return !unicode.IsDigit(r) && r != '.' })
		if end >= 0 {
			s = s[:end]
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil
		}
		f.Value, f.Set = int(math.Round(v)), true
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	f.Value, f.Set = int(math.Round(v)), true
	return nil
}

// flexBool - bool или строка "true"/"是"/"yes".
type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = false
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "true", "yes", "1", "是":
			*f = true
		default:
			*f = false
		}
		return nil
	}
	var b bool
	if err := json.Unmarshal(data, &b); err != nil {
		return nil
	}
	*f = flexBool(b)
	return nil
}

type wireWorld struct {
	WorldName        flexString `json:"world_name"`
	WorldDescription flexString `json:"world_description"`
	PowerSystem      flexString `json:"power_system"`
	MainLocations    flexList   `json:"main_locations"`
	KeyFactions      flexList   `json:"key_factions"`
	WorldRules       flexList   `json:"world_rules"`
	StartingScene    flexString `json:"starting_scene"`
}

type wireProtagonist struct {
	Name             flexString `json:"name"`
	Age              flexString `json:"age"`
	Gender           flexString `json:"gender"`
	Appearance       flexString `json:"appearance"`
	Personality      flexString `json:"personality"`
	Background       flexString `json:"background"`
	InitialAbilities flexList   `json:"initial_abilities"`
	Goals            flexList   `json:"goals"`
	Weaknesses       flexList   `json:"weaknesses"`
	SpecialTraits    flexList   `json:"special_traits"`
	StartingScenario flexString `json:"starting_scenario"`
}

type wireChoice struct {
	ID              flexString `json:"id"`
	Text            flexString `json:"text"`
	Description     flexString `json:"description"`
	ConsequenceHint flexString `json:"consequence_hint"`
	Difficulty      flexString `json:"difficulty"`
	Kind            flexString `json:"kind"`
	Type            flexString `json:"type"`
}

// UnmarshalJSON принимает и объект, и просто строку с текстом варианта.
func (w *wireChoice) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] != '{' {
		var s flexString
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*w = wireChoice{Text: s}
		return nil
	}
	type alias wireChoice
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*w = wireChoice(a)
	return nil
}

type wireChapter struct {
	Title                flexString   `json:"title"`
	Content              flexString   `json:"content"`
	Summary              flexString   `json:"summary"`
	CharacterDevelopment flexString   `json:"character_development"`
	WorldExpansion       flexString   `json:"world_expansion"`
	Choices              []wireChoice `json:"choices"`
	IsCriticalMoment     flexBool     `json:"is_critical_moment"`
	IsEnding             flexBool     `json:"is_ending"`
}

type wireChoiceAnalysis struct {
	ImmediateConsequence flexString `json:"immediate_consequence"`
	LongTermImpact       flexString `json:"long_term_impact"`
	CharacterChange      flexString `json:"character_change"`
	RelationshipChange   flexString `json:"relationship_change"`
	PlotDirection        flexString `json:"plot_direction"`
}

type wireStoryAnalysis struct {
	CurrentPlotStage     flexString `json:"current_plot_stage"`
	TensionLevel         flexInt    `json:"tension_level"`
	CharacterArcProgress flexString `json:"character_arc_progress"`
	SuggestedNextEvents  flexList   `json:"suggested_next_events"`
	PotentialEndings     flexList   `json:"potential_endings"`
	Summary              flexString `json:"summary"`
}

type wireMemory struct {
	Content    flexString      `json:"content"`
	MemoryType flexString      `json:"memory_type"`
	Type       flexString      `json:"type"`
	Importance json.RawMessage `json:"importance"`
	Tags       flexList        `json:"tags"`
}

type wireMemories struct {
	Memories []wireMemory `json:"memories"`
}
