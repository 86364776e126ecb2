// Package script loads the persona script that configures both engines: the
// typewriter phrases and cadence, and the chat reply strategy.
package script

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/BTreeMap/PortfolioChat/internal/conversation"
	"github.com/BTreeMap/PortfolioChat/internal/models"
	"github.com/BTreeMap/PortfolioChat/internal/typewriter"
)

// ReplyMode selects the reply strategy.
type ReplyMode string

const (
	ReplyModeTemplate ReplyMode = "template"
	ReplyModeCanned   ReplyMode = "canned"
	ReplyModeStatic   ReplyMode = "static"
	ReplyModeKeyword  ReplyMode = "keyword"
	ReplyModeGenAI    ReplyMode = "genai"
)

// IsValid reports whether m is a known reply mode.
func (m ReplyMode) IsValid() bool {
	switch m {
	case ReplyModeTemplate, ReplyModeCanned, ReplyModeStatic, ReplyModeKeyword, ReplyModeGenAI:
		return true
	default:
		return false
	}
}

// Typewriter configures the hero banner animation.
type Typewriter struct {
	Phrases    []string          `yaml:"phrases" json:"phrases"`
	Cadence    typewriter.Config `yaml:"cadence" json:"cadence"`
	StartDelay time.Duration     `yaml:"start_delay" json:"start_delay"`
}

// Chat configures the simulated conversation.
type Chat struct {
	conversation.Config `yaml:",inline"`

	Mode         ReplyMode                  `yaml:"mode" json:"mode"`
	Template     string                     `yaml:"template,omitempty" json:"template,omitempty"`
	Canned       []string                   `yaml:"canned,omitempty" json:"canned,omitempty"`
	Static       string                     `yaml:"static,omitempty" json:"static,omitempty"`
	Keywords     []conversation.KeywordRule `yaml:"keywords,omitempty" json:"keywords,omitempty"`
	Default      string                     `yaml:"default,omitempty" json:"default,omitempty"`
	SystemPrompt string                     `yaml:"system_prompt,omitempty" json:"-"`
	Presets      []string                   `yaml:"presets,omitempty" json:"presets"`
}

// Script is the whole persona file.
type Script struct {
	Name       string     `yaml:"name" json:"name"`
	Greeting   string     `yaml:"greeting,omitempty" json:"greeting,omitempty"`
	Typewriter Typewriter `yaml:"typewriter" json:"typewriter"`
	Chat       Chat       `yaml:"chat" json:"chat"`
}

// Default returns the built-in portfolio persona.
func Default() *Script {
	return &Script{
		Name:     "portfolio",
		Greeting: `Type "help" for available commands`,
		Typewriter: Typewriter{
			Phrases: []string{
				"Front-end Developer",
				"UI/UX Enthusiast",
				"React Specialist",
				"Problem Solver",
			},
			Cadence:    typewriter.DefaultConfig(),
			StartDelay: time.Second,
		},
		Chat: Chat{
			Config:   conversation.DefaultConfig(),
			Mode:     ReplyModeCanned,
			Template: conversation.DefaultTemplate,
			Canned: []string{
				conversation.DefaultTemplate,
				"That's an interesting topic! Let me share my thoughts...",
				"Great question! I'm passionate about this area...",
			},
			Static: "I'm an AI assistant that's still learning. Soon I'll be able to help you learn more about my work and experience!",
			Keywords: []conversation.KeywordRule{
				{Keywords: []string{"help"}, Reply: "Available commands: about, skills, contact"},
				{Keywords: []string{"about"}, Reply: "Passionate front-end developer with expertise in building modern web applications."},
				{Keywords: []string{"skills", "stack"}, Reply: "JavaScript, TypeScript, React, Angular, HTML, CSS, Git"},
				{Keywords: []string{"contact", "email"}, Reply: "Use the contact form on the site and I'll get back to you."},
			},
			Default:      `Command not found. Type "help" for available commands`,
			SystemPrompt: "You are the friendly assistant on a developer's portfolio site. Answer briefly and stay on the topic of their work, skills and projects.",
			Presets: []string{
				"Tell me about your projects",
				"What's your tech stack?",
				"How can I contact you?",
			},
		},
	}
}

// Load reads and validates a script file.
func Load(path string) (*Script, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open script %s: %w", path, err)
	}
	defer f.Close()

	s, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("failed to load script %s: %w", path, err)
	}
	slog.Info("Script.Load: loaded persona script", "path", path, "name", s.Name, "mode", s.Chat.Mode)
	return s, nil
}

// Parse decodes a script from YAML. Fields left out keep the values from
// Default, and unknown fields are rejected.
func Parse(r io.Reader) (*Script, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	s := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(s); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("invalid script yaml: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks that both engines can start from this script.
func (s *Script) Validate() error {
	if len(s.Typewriter.Phrases) == 0 {
		return fmt.Errorf("script needs at least one typewriter phrase: %w", models.ErrInvalidInput)
	}
	for i, p := range s.Typewriter.Phrases {
		if len(p) > models.MaxPhraseLength {
			return fmt.Errorf("typewriter phrase %d exceeds %d bytes: %w", i, models.MaxPhraseLength, models.ErrInvalidInput)
		}
	}
	if err := s.Typewriter.Cadence.Validate(); err != nil {
		return err
	}
	if s.Typewriter.StartDelay < 0 {
		return fmt.Errorf("typewriter start delay must be non-negative: %w", models.ErrInvalidInput)
	}
	if err := s.Chat.Config.Validate(); err != nil {
		return err
	}

	switch s.Chat.Mode {
	case ReplyModeTemplate:
		if strings.TrimSpace(s.Chat.Template) == "" {
			return fmt.Errorf("template mode needs a template: %w", models.ErrInvalidInput)
		}
	case ReplyModeCanned:
		if len(s.Chat.Canned) == 0 {
			return fmt.Errorf("canned mode needs at least one reply: %w", models.ErrInvalidInput)
		}
	case ReplyModeStatic:
		if strings.TrimSpace(s.Chat.Static) == "" {
			return fmt.Errorf("static mode needs a reply: %w", models.ErrInvalidInput)
		}
	case ReplyModeKeyword:
		if len(s.Chat.Keywords) == 0 && s.Chat.Default == "" {
			return fmt.Errorf("keyword mode needs rules or a default: %w", models.ErrInvalidInput)
		}
	case ReplyModeGenAI:
	default:
		return fmt.Errorf("unknown reply mode %q: %w", s.Chat.Mode, models.ErrInvalidInput)
	}
	return nil
}

// Resolver builds the reply strategy for the script's mode. In genai mode gen
// answers first and the script's canned replies back it up; a nil gen
// falls back to canned replies alone.
func (s *Script) Resolver(gen conversation.Generator) conversation.Resolver {
	switch s.Chat.Mode {
	case ReplyModeTemplate:
		return &conversation.TemplateResolver{Template: s.Chat.Template}
	case ReplyModeStatic:
		return conversation.StaticResolver{Reply: s.Chat.Static}
	case ReplyModeKeyword:
		return &conversation.KeywordResolver{Rules: s.Chat.Keywords, Default: s.Chat.Default}
	case ReplyModeGenAI:
		backup := s.backupResolver()
		if gen == nil {
			slog.Warn("Script.Resolver: genai mode without a client, using backup replies", "name", s.Name)
			return backup
		}
		fallback := conversation.NewFallbackResolver(&conversation.GenAIResolver{Client: gen, SystemPrompt: s.Chat.SystemPrompt}, backup)
		fallback.Fallback = s.Chat.FallbackReply
		return fallback
	default:
		return conversation.NewCannedResolver(s.Chat.Canned)
	}
}

func (s *Script) backupResolver() conversation.Resolver {
	if len(s.Chat.Canned) > 0 {
		return conversation.NewCannedResolver(s.Chat.Canned)
	}
	return conversation.DefaultTemplateResolver()
}
