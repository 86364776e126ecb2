package conversation

import (
	"context"
	"errors"
	"testing"
)

type fakeGenerator struct {
	reply  string
	err    error
	system string
	user   string
}

func (f *fakeGenerator) GeneratePromptWithContext(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	f.system, f.user = systemPrompt, userPrompt
	return f.reply, f.err
}

func TestTemplateResolver(t *testing.T) {
	ctx := context.Background()

	got, _ := DefaultTemplateResolver().Resolve(ctx, "Go services")
	if want := "Thanks for reaching out! I'd love to chat about Go services"; got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
	got, _ = (&TemplateResolver{Template: "Hello there"}).Resolve(ctx, "ignored")
	if got != "Hello there" {
		t.Errorf("expected verbatim template, got %q", got)
	}
	got, _ = (&TemplateResolver{Template: "I'm 100% into %s, not %d"}).Resolve(ctx, "Go")
	if want := "I'm 100% into Go, not %d"; got != want {
		t.Errorf("expected %q, got %q", want, got)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := DefaultTemplateResolver().Resolve(cancelled, "x"); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestCannedResolver(t *testing.T) {
	ctx := context.Background()
	r := &CannedResolver{
		Replies: []string{"first about %s", "second"},
		Pick:    func(n int) int { return 0 },
	}
	if got, _ := r.Resolve(ctx, "cats"); got != "first about cats" {
		t.Errorf("expected interpolated canned reply, got %q", got)
	}
	r.Pick = func(n int) int { return n - 1 }
	if got, _ := r.Resolve(ctx, "cats"); got != "second" {
		t.Errorf("expected last canned reply, got %q", got)
	}
	r.Pick = func(n int) int { return n }
	if _, err := r.Resolve(ctx, "cats"); err == nil {
		t.Error("expected out-of-range pick to fail")
	}

	if _, err := NewCannedResolver(nil).Resolve(ctx, "x"); !errors.Is(err, ErrNoReply) {
		t.Errorf("expected ErrNoReply, got %v", err)
	}
	random := NewCannedResolver([]string{"only"})
	if got, _ := random.Resolve(ctx, "x"); got != "only" {
		t.Errorf("expected the single canned reply, got %q", got)
	}
}

func TestStaticResolver(t *testing.T) {
	got, err := StaticResolver{Reply: "I'll get back to you."}.Resolve(context.Background(), "anything")
	if err != nil || got != "I'll get back to you." {
		t.Errorf("unexpected result %q, %v", got, err)
	}
	if _, err := (StaticResolver{}).Resolve(context.Background(), "x"); !errors.Is(err, ErrNoReply) {
		t.Errorf("expected ErrNoReply, got %v", err)
	}
}

func TestKeywordResolver(t *testing.T) {
	r := &KeywordResolver{
		Rules: []KeywordRule{
			{Keywords: []string{"project", "work"}, Reply: "Here are my projects."},
			{Keywords: []string{"help"}, Reply: "Commands: about, projects, contact"},
			{Keywords: []string{"contact"}, Reply: "Email me!"},
		},
		Default: "Command not found: %s",
	}
	tests := []struct {
		input string
		want  string
	}{
		{"HELP", "Commands: about, projects, contact"},
		{"tell me about your work", "Here are my projects."},
		{"contact", "Email me!"},
		{"help with contact", "Commands: about, projects, contact"},
		{"sudo", "Command not found: sudo"},
	}
	for _, tt := range tests {
		got, err := r.Resolve(context.Background(), tt.input)
		if err != nil {
			t.Fatalf("Resolve(%q) failed: %v", tt.input, err)
		}
		if got != tt.want {
			t.Errorf("Resolve(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := r.Resolve(ctx, "sudo"); !errors.Is(err, context.Canceled) {
		t.Errorf("expected the default reply to observe the caller's context, got %v", err)
	}

	r.Default = ""
	if _, err := r.Resolve(context.Background(), "sudo"); !errors.Is(err, ErrNoReply) {
		t.Errorf("expected ErrNoReply without default, got %v", err)
	}
}

func TestGenAIResolver(t *testing.T) {
	gen := &fakeGenerator{reply: "  I build Go services.\n"}
	r := &GenAIResolver{Client: gen, SystemPrompt: "You are a portfolio assistant."}

	got, err := r.Resolve(context.Background(), "What do you do?")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "I build Go services." {
		t.Errorf("expected trimmed reply, got %q", got)
	}
	if gen.system != "You are a portfolio assistant." || gen.user != "What do you do?" {
		t.Errorf("unexpected prompts %q / %q", gen.system, gen.user)
	}

	gen.err = errors.New("rate limited")
	if _, err := r.Resolve(context.Background(), "x"); err == nil {
		t.Error("expected generator error")
	}
	gen.err, gen.reply = nil, " "
	if _, err := r.Resolve(context.Background(), "x"); !errors.Is(err, ErrNoReply) {
		t.Errorf("expected ErrNoReply for blank completion, got %v", err)
	}
	if _, err := (&GenAIResolver{}).Resolve(context.Background(), "x"); err == nil {
		t.Error("expected error without client")
	}
}

func TestFallbackResolver(t *testing.T) {
	failing := ResolverFunc(func(context.Context, string) (string, error) { return "", errors.New("down") })
	r := NewFallbackResolver(failing, nil, StaticResolver{Reply: "backup"})

	if got, _ := r.Resolve(context.Background(), "x"); got != "backup" {
		t.Errorf("expected second resolver to answer, got %q", got)
	}

	r = NewFallbackResolver(failing)
	if got, _ := r.Resolve(context.Background(), "x"); got != DefaultFallbackReply {
		t.Errorf("expected fallback reply, got %q", got)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	counting := ResolverFunc(func(context.Context, string) (string, error) { calls++; return "late", nil })
	r = NewFallbackResolver(failing, counting)
	if got, _ := r.Resolve(ctx, "x"); got != DefaultFallbackReply || calls != 0 {
		t.Errorf("expected cancelled context to skip remaining resolvers, got %q after %d calls", got, calls)
	}
}
