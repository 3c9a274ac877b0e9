// Package partner implements the AI conversation partner of a training
// session.
//
// A [Partner] holds the conversation context (scenario, language, role text,
// context documents and the turn history) and produces the partner's replies
// through an [llm.Provider]. Every completion is a paid call and goes through
// a [quota.Gate]: when the budget is exhausted or the provider keeps failing,
// the partner answers with a fixed localized fallback sentence instead of an
// error, so a turn never stalls. In mock mode no provider is called and the
// replies come from a deterministic canned list.
//
// Calls are serialised by an internal mutex to keep the history coherent.
package partner

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/callcoach/internal/callqueue"
	"github.com/MrWong99/callcoach/internal/observe"
	"github.com/MrWong99/callcoach/internal/quota"
	"github.com/MrWong99/callcoach/pkg/provider/llm"
)

// Fallback reasons reported in [Reply.Reason].
const (
	ReasonMock  = "mock"
	ReasonQuota = "quota"
	ReasonError = "error"
)

// defaultTemperature keeps replies varied without drifting out of character.
const defaultTemperature = 0.8

var errEmptyReply = errors.New("partner: empty reply from provider")

var _ callqueue.HistoryClearer = (*Partner)(nil)

// Context is the session-level conversation context.
type Context struct {
	// Scenario is the scenario tag, e.g. "customer_service".
	Scenario string
	// Language is the reply language ("en", "id", ...).
	Language string
	// Role overrides the role text inferred from Scenario.
	Role string
	// Documents are reference texts the conversation may draw on.
	Documents []string
	// Name is attached to the partner's messages in the history.
	Name string
	// Mock forces canned replies for this session.
	Mock bool
}

// Reply is one partner turn.
type Reply struct {
	Text string
	// Fallback is set when Text is canned rather than generated.
	Fallback bool
	// Reason is one of ReasonMock, ReasonQuota or ReasonError when Fallback
	// is set.
	Reason string
}

// Option configures a [Partner].
type Option func(*Partner)

// WithMockMode makes the partner answer from canned text without calling
// the provider.
func WithMockMode(mock bool) Option {
	return func(p *Partner) {
		p.mockMode = mock
	}
}

// WithCosts sets the prices used for quota estimates and debits.
// Default: [quota.DefaultCosts].
func WithCosts(c quota.Costs) Option {
	return func(p *Partner) {
		p.costs = c
	}
}

// WithMetrics records latency, provider requests and fallbacks on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Partner) {
		p.metrics = m
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(p *Partner) {
		p.log = l
	}
}

// WithProviderName sets the provider label used in metrics. Default: "llm".
func WithProviderName(name string) Option {
	return func(p *Partner) {
		p.providerName = name
	}
}

// Partner is the AI conversation partner. All methods are safe for
// concurrent use.
type Partner struct {
	llm          llm.Provider
	gate         *quota.Gate
	costs        quota.Costs
	metrics      *observe.Metrics
	log          *slog.Logger
	mockMode     bool
	providerName string

	mu      sync.Mutex
	conv    Context
	role    string
	history *history
	canned  int
}

// New returns a partner completing through provider, gated by gate. A nil
// provider or gate forces mock mode.
func New(provider llm.Provider, gate *quota.Gate, opts ...Option) *Partner {
	p := &Partner{
		llm:          provider,
		gate:         gate,
		costs:        quota.DefaultCosts,
		log:          slog.Default(),
		providerName: "llm",
	}
	for _, o := range opts {
		o(p)
	}
	if p.llm == nil || p.gate == nil {
		p.mockMode = true
	}
	maxTokens := 0
	if p.llm != nil {
		maxTokens = p.llm.Capabilities().ContextWindow
	}
	p.history = newHistory(maxTokens)
	return p
}

// MockMode reports whether the partner answers from canned text.
func (p *Partner) MockMode() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.offlineLocked()
}

func (p *Partner) offlineLocked() bool {
	return p.mockMode || p.conv.Mock
}

// Initialize sets the session context and empties the history.
func (p *Partner) Initialize(c Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.conv = c
	p.role = c.Role
	if p.role == "" {
		p.role = RoleFor(c.Scenario)
	}
	p.history.reset()
	p.canned = 0
}

// SetCaller switches the role to a stress-mode caller. The history is left
// alone; the caller queue clears it on transition.
func (p *Partner) SetCaller(c callqueue.Caller) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.role = CallerRole(c, p.conv.Scenario)
	p.conv.Name = c.Name
}

// ClearHistory drops the conversation history. Scenario, language, role and
// documents are kept.
func (p *Partner) ClearHistory() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.history.reset()
}

// Language returns the session language.
func (p *Partner) Language() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conv.Language
}

// Role returns the current role text.
func (p *Partner) Role() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.role
}

// History returns a copy of the conversation history.
func (p *Partner) History() []llm.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.history.snapshot()
}

// Greet produces the partner's opening line and records it in the history.
func (p *Partner) Greet(ctx context.Context) (Reply, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var r Reply
	if p.offlineLocked() {
		r = Reply{Text: Greeting(p.conv.Language), Fallback: true, Reason: ReasonMock}
	} else {
		opener := llm.Message{
			Role:    llm.RoleUser,
			Content: "(The call has just connected. Open the conversation in character with one short sentence.)",
		}
		r = p.completeLocked(ctx, append(p.history.snapshot(), opener))
		if r.Fallback {
			r.Text = Greeting(p.conv.Language)
		}
	}
	if err := ctx.Err(); err != nil {
		return Reply{}, err
	}
	p.history.add(llm.Message{Role: llm.RoleAssistant, Content: r.Text, Name: p.conv.Name})
	p.recordFallback(ctx, r)
	return r, nil
}

// GenerateResponse appends utterance to the history and returns the
// partner's reply. Provider and quota failures never surface as errors;
// they produce a fallback reply. The only error is ctx's, in which case the
// history is left as it was.
func (p *Partner) GenerateResponse(ctx context.Context, utterance string) (Reply, error) {
	if err := ctx.Err(); err != nil {
		return Reply{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	p.history.add(llm.Message{Role: llm.RoleUser, Content: utterance})

	var r Reply
	if p.offlineLocked() {
		r = Reply{Text: cannedReply(p.conv.Language, p.conv.Scenario, p.canned), Fallback: true, Reason: ReasonMock}
		p.canned++
	} else {
		r = p.completeLocked(ctx, p.history.snapshot())
	}
	if err := ctx.Err(); err != nil {
		p.history.popLast()
		return Reply{}, err
	}

	p.history.add(llm.Message{Role: llm.RoleAssistant, Content: r.Text, Name: p.conv.Name})
	p.recordFallback(ctx, r)
	return r, nil
}

// completeLocked runs one quota-gated completion over msgs. p.mu must be
// held.
func (p *Partner) completeLocked(ctx context.Context, msgs []llm.Message) Reply {
	sys := systemPrompt(p.role, p.conv.Language, p.conv.Documents)
	req := llm.CompletionRequest{
		SystemPrompt: sys,
		Messages:     msgs,
		Temperature:  defaultTemperature,
		MaxTokens:    p.costs.LLMReplyTokens,
	}
	promptTokens := llm.EstimateTokens(msgs) + llm.EstimateTokens([]llm.Message{{Content: sys}})

	var content string
	start := time.Now()
	err := p.gate.Call(ctx, quota.ServiceLLM, p.costs.EstimateLLM(promptTokens), func(ctx context.Context) (float64, error) {
		resp, err := p.llm.Complete(ctx, req)
		if err != nil {
			return 0, err
		}
		if resp == nil || strings.TrimSpace(resp.Content) == "" {
			return 0, errEmptyReply
		}
		content = strings.TrimSpace(resp.Content)
		if resp.FinishReason == llm.FinishLength {
			content = trimToSentence(content)
		}
		return p.costs.LLM(resp.Usage), nil
	})
	p.observe(ctx, start, err)

	if err == nil {
		return Reply{Text: content}
	}
	reason := ReasonError
	if quota.IsExceeded(err) {
		reason = ReasonQuota
	}
	p.log.Warn("partner reply fell back to canned text", "reason", reason, "err", err)
	return Reply{Text: FallbackSentence(p.conv.Language), Fallback: true, Reason: reason}
}

// trimToSentence cuts a reply truncated by the token cap back to its last
// complete sentence so the voice does not stop mid-phrase. A reply is kept
// whole when the cut would drop more than three quarters of it.
func trimToSentence(s string) string {
	i := strings.LastIndexAny(s, ".!?")
	if i < len(s)/4 {
		return s
	}
	return s[:i+1]
}

func (p *Partner) observe(ctx context.Context, start time.Time, err error) {
	if p.metrics == nil || quota.IsExceeded(err) {
		return
	}
	p.metrics.LLMDuration.Record(ctx, time.Since(start).Seconds())
	status := "ok"
	if err != nil {
		status = "error"
		p.metrics.RecordProviderError(ctx, p.providerName, "llm")
	}
	p.metrics.RecordProviderRequest(ctx, p.providerName, "llm", status)
}

func (p *Partner) recordFallback(ctx context.Context, r Reply) {
	if p.metrics != nil && r.Fallback {
		p.metrics.RecordFallback(ctx, r.Reason)
	}
}
