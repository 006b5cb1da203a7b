package dispatch

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

const (
	callbackStylePrefix    = "style_"
	callbackConfirmRestart = "confirm_restart"
	callbackCancelRestart  = "cancel_restart"
)

// PostStyle is one selectable tone for generated posts. Tag is the stable
// identifier carried in callback data, Label is what the button shows,
// Prompt is the instruction prefix sent to the language model.
type PostStyle struct {
	Tag    string `yaml:"tag"`
	Label  string `yaml:"label"`
	Prompt string `yaml:"prompt"`
}

// DefaultStyles returns the built-in style presets used when no styles
// file is configured.
func DefaultStyles() []PostStyle {
	return []PostStyle{
		{
			Tag:    "official",
			Label:  "🎯 Official",
			Prompt: "Write an official, formal announcement post for a company channel on the topic",
		},
		{
			Tag:    "friendly",
			Label:  "😊 Friendly",
			Prompt: "Write a warm, friendly post with a conversational tone on the topic",
		},
		{
			Tag:    "promo",
			Label:  "🔥 Promo",
			Prompt: "Write an energetic promotional post with a call to action on the topic",
		},
		{
			Tag:    "news",
			Label:  "📰 News",
			Prompt: "Write a concise news-style post with the key facts first on the topic",
		},
	}
}

// LoadStyles reads style presets from a YAML file. An empty path yields
// the defaults.
func LoadStyles(path string) ([]PostStyle, error) {
	if path == "" {
		return DefaultStyles(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read styles file: %w", err)
	}
	var doc struct {
		Styles []PostStyle `yaml:"styles"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse styles file: %w", err)
	}
	if len(doc.Styles) == 0 {
		return nil, fmt.Errorf("styles file %s defines no styles", path)
	}
	for i, s := range doc.Styles {
		if s.Tag == "" || s.Label == "" || s.Prompt == "" {
			return nil, fmt.Errorf("styles file %s: entry %d is missing tag, label or prompt", path, i)
		}
	}
	return doc.Styles, nil
}

func buildPostPrompt(style PostStyle, topic string) string {
	return style.Prompt + ": " + topic
}

func styleKeyboard(styles []PostStyle) [][]Button {
	rows := make([][]Button, 0, len(styles))
	for _, s := range styles {
		rows = append(rows, []Button{{Text: s.Label, Data: callbackStylePrefix + s.Tag}})
	}
	return rows
}

func findStyle(styles []PostStyle, tag string) (PostStyle, bool) {
	for _, s := range styles {
		if s.Tag == tag {
			return s, true
		}
	}
	return PostStyle{}, false
}
