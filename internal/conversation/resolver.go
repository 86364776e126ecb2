package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
)

// Resolver turns a submitted message into the counterpart's reply.
type Resolver interface {
	Resolve(ctx context.Context, text string) (string, error)
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(ctx context.Context, text string) (string, error)

// Resolve calls f.
func (f ResolverFunc) Resolve(ctx context.Context, text string) (string, error) {
	return f(ctx, text)
}

// ErrNoReply is returned by resolvers that have nothing to say.
var ErrNoReply = errors.New("no reply available")

// DefaultTemplate interpolates the submitted text into a friendly reply.
const DefaultTemplate = "Thanks for reaching out! I'd love to chat about %s"

// TemplateResolver substitutes the submitted text for the first %s in
// Template. Other percent signs are literal, and a template without %s is
// returned verbatim.
type TemplateResolver struct {
	Template string
}

// DefaultTemplateResolver returns a TemplateResolver using DefaultTemplate.
func DefaultTemplateResolver() *TemplateResolver {
	return &TemplateResolver{Template: DefaultTemplate}
}

func (r *TemplateResolver) Resolve(ctx context.Context, text string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return strings.Replace(r.Template, "%s", text, 1), nil
}

// CannedResolver picks one of Replies at random. Replies may contain a %s
// verb for the submitted text. Pick defaults to math/rand/v2 and can be
// replaced for deterministic tests.
type CannedResolver struct {
	Replies []string
	Pick    func(n int) int
}

// NewCannedResolver creates a CannedResolver with the package random source.
func NewCannedResolver(replies []string) *CannedResolver {
	return &CannedResolver{Replies: replies, Pick: rand.IntN}
}

func (r *CannedResolver) Resolve(ctx context.Context, text string) (string, error) {
	if len(r.Replies) == 0 {
		return "", ErrNoReply
	}
	pick := r.Pick
	if pick == nil {
		pick = rand.IntN
	}
	i := pick(len(r.Replies))
	if i < 0 || i >= len(r.Replies) {
		return "", fmt.Errorf("canned reply index %d out of range [0,%d)", i, len(r.Replies))
	}
	return (&TemplateResolver{Template: r.Replies[i]}).Resolve(ctx, text)
}

// StaticResolver always returns Reply.
type StaticResolver struct {
	Reply string
}

func (r StaticResolver) Resolve(context.Context, string) (string, error) {
	if r.Reply == "" {
		return "", ErrNoReply
	}
	return r.Reply, nil
}

// KeywordRule maps any of its keywords to a reply.
type KeywordRule struct {
	Keywords []string `json:"keywords" yaml:"keywords"`
	Reply    string   `json:"reply" yaml:"reply"`
}

// KeywordResolver answers with the first rule whose keyword appears in the
// submitted text, compared case-insensitively. An exact match on a keyword
// wins over a substring match in an earlier rule. Default is used when no
// rule matches; an empty Default yields ErrNoReply.
type KeywordResolver struct {
	Rules   []KeywordRule
	Default string
}

func (r *KeywordResolver) Resolve(ctx context.Context, text string) (string, error) {
	needle := strings.ToLower(strings.TrimSpace(text))

	for _, rule := range r.Rules {
		for _, kw := range rule.Keywords {
			if strings.ToLower(strings.TrimSpace(kw)) == needle {
				return rule.Reply, nil
			}
		}
	}
	for _, rule := range r.Rules {
		for _, kw := range rule.Keywords {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw != "" && strings.Contains(needle, kw) {
				return rule.Reply, nil
			}
		}
	}
	if r.Default == "" {
		return "", ErrNoReply
	}
	return (&TemplateResolver{Template: r.Default}).Resolve(ctx, text)
}

// Generator produces a model completion for a system and user prompt.
type Generator interface {
	GeneratePromptWithContext(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// GenAIResolver asks a language model to answer in the persona described by
// SystemPrompt.
type GenAIResolver struct {
	Client       Generator
	SystemPrompt string
}

func (r *GenAIResolver) Resolve(ctx context.Context, text string) (string, error) {
	if r.Client == nil {
		return "", errors.New("genai client not configured")
	}
	reply, err := r.Client.GeneratePromptWithContext(ctx, r.SystemPrompt, text)
	if err != nil {
		return "", fmt.Errorf("failed to generate reply: %w", err)
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return "", ErrNoReply
	}
	return reply, nil
}

// FallbackResolver tries each resolver in turn and returns Fallback when all
// of them fail.
type FallbackResolver struct {
	Resolvers []Resolver
	Fallback  string
}

// NewFallbackResolver chains primary resolvers in front of the standard
// connection-trouble reply.
func NewFallbackResolver(resolvers ...Resolver) *FallbackResolver {
	return &FallbackResolver{Resolvers: resolvers, Fallback: DefaultFallbackReply}
}

func (r *FallbackResolver) Resolve(ctx context.Context, text string) (string, error) {
	for i, next := range r.Resolvers {
		if next == nil {
			continue
		}
		reply, err := next.Resolve(ctx, text)
		if err == nil && reply != "" {
			return reply, nil
		}
		if ctx.Err() != nil {
			break
		}
		slog.Debug("FallbackResolver.Resolve: resolver failed, trying next", "index", i, "error", err)
	}
	if r.Fallback == "" {
		return "", ErrNoReply
	}
	return r.Fallback, nil
}
