package prompt

// Entity is a named world element with the text injected when a shot
// mentions it.
type Entity struct {
	Name        string `json:"name"`
	Description string `json:"prompt_description"`
}

// ColorScriptEntry overrides palette and lighting for one scene of a story.
type ColorScriptEntry struct {
	SceneIndex        int      `json:"scene_index"`
	Palette           []string `json:"palette"`
	LightingDirection string   `json:"lighting_direction"`
}

// WorldBible holds the story-wide look shared by every prompt.
type WorldBible struct {
	CameraPrefix   string             `json:"camera_prefix"`
	GlobalStyle    string             `json:"global_style_prompt"`
	DesignLanguage string             `json:"design_language"`
	Characters     []Entity           `json:"characters"`
	Locations      []Entity           `json:"locations"`
	Props          []Entity           `json:"props"`
	ColorScript    []ColorScriptEntry `json:"color_script"`
}

// Style is everything a builder knows about the story beyond the shot.
type Style struct {
	VisualStyle string             `json:"visual_style"`
	ColorScript []ColorScriptEntry `json:"color_script"`
	Bible       *WorldBible        `json:"world_bible,omitempty"`
}

func (s Style) bible() WorldBible {
	if s.Bible == nil {
		return WorldBible{}
	}
	return *s.Bible
}

// colorScript prefers the world bible entries over the story's own.
func (s Style) colorScript() []ColorScriptEntry {
	if b := s.bible(); len(b.ColorScript) > 0 {
		return b.ColorScript
	}
	return s.ColorScript
}
