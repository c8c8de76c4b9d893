// Package querygen turns questions into validated read-only queries,
// executes them and synthesizes a structured answer. Generation retries
// with accumulated validator feedback; the whole cycle restarts when the
// synthesized answer does not address the question.
package querygen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/raphaelgruber/nova-go/internal/agent"
	"github.com/raphaelgruber/nova-go/internal/config"
	"github.com/raphaelgruber/nova-go/internal/llm"
	"github.com/raphaelgruber/nova-go/internal/metrics"
	"github.com/raphaelgruber/nova-go/internal/sqlbackend"
)

// Fallback policies applied when every generation attempt was rejected.
const (
	FallbackLast       = "last"
	FallbackLastScoped = "last-scoped"
	FallbackReject     = "reject"
)

// Executor runs a read-only query.
type Executor interface {
	Execute(ctx context.Context, query string) (sqlbackend.Result, error)
}

// Config bounds the retry loops.
type Config struct {
	Attempts int    // generation attempts per cycle
	Cycles   int    // output validation cycles
	Fallback string // last | last-scoped | reject
	Profile  config.Profile
}

// Verdict is a validator's judgement of a query or an answer.
type Verdict struct {
	Decision   string    `json:"decision" validate:"required"`
	Rationale  string    `json:"rationale"`
	Confidence llm.Float `json:"confidence" validate:"gte=0,lte=1"`
}

// OK reports whether the verdict accepts.
func (v Verdict) OK() bool {
	return strings.EqualFold(strings.TrimSpace(v.Decision), "ok")
}

var notOK = Verdict{Decision: "not ok", Rationale: "No usable validation feedback was returned.", Confidence: 0}

// Attempt is one generation attempt inside a cycle.
type Attempt struct {
	N         int
	Query     string
	Malformed bool
	Scoped    bool
	Verdict   Verdict
}

// Cycle is one generate, execute and synthesize pass.
type Cycle struct {
	N        int
	Query    string
	Attempts []Attempt
	Result   sqlbackend.Result
	Answer   string
	Verdict  Verdict
}

type queryReply struct {
	Query string `json:"query" validate:"required"`
}

type answerReply struct {
	Result string          `json:"result" validate:"required"`
	Data   json.RawMessage `json:"data"`
}

// Subsystem answers structured-data questions.
type Subsystem struct {
	model    agent.Model
	exec     Executor
	cfg      Config
	validate *validator.Validate
	metrics  *metrics.Collector
	logger   *slog.Logger
}

// New creates the subsystem. Non-positive bounds default to 3.
func New(model agent.Model, exec Executor, cfg Config, collector *metrics.Collector) *Subsystem {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 3
	}
	if cfg.Cycles <= 0 {
		cfg.Cycles = 3
	}
	if cfg.Fallback == "" {
		cfg.Fallback = FallbackLast
	}
	return &Subsystem{
		model:    model,
		exec:     exec,
		cfg:      cfg,
		validate: validator.New(),
		metrics:  collector,
		logger:   slog.Default().With("component", "querygen"),
	}
}

// Answer runs up to Cycles output cycles and returns the first answer the
// output validator accepts, or TerminalApology. Execution errors and
// content-filter rejections end the loop immediately.
func (s *Subsystem) Answer(ctx context.Context, req agent.Request) (string, error) {
	for n := 1; n <= s.cfg.Cycles; n++ {
		cycle, err := s.RunCycle(ctx, req, n)
		if err != nil {
			if !cycleRetryable(err) {
				return "", err
			}
			s.logger.Warn("query cycle failed", "cycle", n, "error", err)
			s.metrics.RecordQueryCycle(metrics.OutcomeRetry)
			continue
		}
		if cycle.Verdict.OK() {
			s.metrics.RecordQueryCycle(metrics.OutcomeAccepted)
			return cycle.Answer, nil
		}
		s.logger.Info("answer rejected, restarting cycle", "cycle", n, "rationale", cycle.Verdict.Rationale)
		s.metrics.RecordQueryCycle(metrics.OutcomeRetry)
	}
	s.metrics.RecordQueryCycle(metrics.OutcomeApology)
	return TerminalApology, nil
}

func cycleRetryable(err error) bool {
	var execErr *QueryExecutionError
	if errors.As(err, &execErr) {
		return false
	}
	return llm.IsRetryable(err)
}

// RunCycle generates a query, executes it, synthesizes the answer and
// validates it. Each cycle starts with empty feedback.
func (s *Subsystem) RunCycle(ctx context.Context, req agent.Request, n int) (*Cycle, error) {
	cycle := &Cycle{N: n}

	query, attempts, err := s.Generate(ctx, req)
	cycle.Attempts = attempts
	if err != nil {
		return cycle, err
	}
	cycle.Query = query

	start := time.Now()
	res, err := s.exec.Execute(ctx, query)
	if err != nil {
		if errors.Is(err, sqlbackend.ErrTimeout) {
			return cycle, fmt.Errorf("cycle %d: %w", n, err)
		}
		return cycle, &QueryExecutionError{Query: query, Err: err}
	}
	s.metrics.RecordStage("query_execute", time.Since(start))
	cycle.Result = res

	answer, err := s.synthesize(ctx, req, query, res)
	if err != nil {
		return cycle, err
	}
	cycle.Answer = answer

	if res.Empty() && IsAnonymous(req.Identity) {
		cycle.Verdict = Verdict{Decision: "ok", Rationale: "No data is visible to an anonymous user.", Confidence: 1}
		return cycle, nil
	}
	cycle.Verdict, err = s.validateOutput(ctx, req, answer)
	return cycle, err
}

// Generate runs up to Attempts generation attempts, feeding each
// rejection back into the next prompt. It returns the first accepted
// query, or applies the fallback policy when none was accepted.
func (s *Subsystem) Generate(ctx context.Context, req agent.Request) (string, []Attempt, error) {
	var attempts []Attempt
	var feedback []string

	for n := 1; n <= s.cfg.Attempts; n++ {
		raw, err := s.model.GenerateJSON(ctx, s.generationPrompt(), s.generationInput(req, feedback))
		if err != nil {
			if !llm.IsRetryable(err) {
				return "", attempts, fmt.Errorf("generate query: %w", err)
			}
			s.logger.Warn("query generation failed", "attempt", n, "error", err)
			attempts = append(attempts, Attempt{N: n, Malformed: true})
			s.metrics.RecordQueryAttempt(metrics.OutcomeMalformed)
			continue
		}

		var reply queryReply
		if err := s.decode(raw, &reply); err != nil {
			s.logger.Warn("malformed query reply", "attempt", n, "error", err)
			attempts = append(attempts, Attempt{N: n, Malformed: true})
			s.metrics.RecordQueryAttempt(metrics.OutcomeMalformed)
			continue
		}

		a := Attempt{N: n, Query: strings.TrimSpace(reply.Query)}
		ok, reason := CheckScope(a.Query, req.Identity, s.cfg.Profile)
		a.Scoped = ok
		if ok {
			a.Verdict, err = s.validateQuery(ctx, req, a.Query)
			if err != nil {
				return "", attempts, err
			}
		} else {
			a.Verdict = Verdict{Decision: "not ok", Rationale: reason, Confidence: 1}
		}
		attempts = append(attempts, a)

		if a.Verdict.OK() {
			s.metrics.RecordQueryAttempt(metrics.OutcomeAccepted)
			return a.Query, attempts, nil
		}
		s.metrics.RecordQueryAttempt(metrics.OutcomeRejected)
		feedback = append(feedback, fmt.Sprintf("Attempt %d: %s", n, a.Verdict.Rationale))
	}

	query := s.fallback(attempts)
	if query == "" {
		return "", attempts, fmt.Errorf("%w after %d attempts (policy %s)", ErrNoQuery, len(attempts), s.cfg.Fallback)
	}
	s.logger.Info("attempts exhausted, using fallback query", "policy", s.cfg.Fallback)
	return query, attempts, nil
}

func (s *Subsystem) fallback(attempts []Attempt) string {
	var last, lastScoped string
	for _, a := range attempts {
		if a.Query == "" {
			continue
		}
		last = a.Query
		if a.Scoped {
			lastScoped = a.Query
		}
	}
	switch s.cfg.Fallback {
	case FallbackReject:
		return ""
	case FallbackLastScoped:
		return lastScoped
	default:
		return last
	}
}

func (s *Subsystem) decode(raw string, v any) error {
	if err := llm.DecodeJSON(raw, v); err != nil {
		return err
	}
	return s.validate.Struct(v)
}

func (s *Subsystem) generationPrompt() string {
	p := s.cfg.Profile
	return fmt.Sprintf(`Given an input question, create a syntactically correct %s query that helps find the answer.
Only write a single SELECT statement. Never modify data and never create or drop tables.
Never select all columns of a table; only ask for the few columns relevant to the question.
Use only the tables and columns of this schema and pay attention to which column is in which table:
%s

Rules:
- %s

Reply with a JSON object: {"query": "YOUR_QUERY_HERE"}`, p.Dialect, p.Schema, strings.Join(p.QueryRules, "\n- "))
}

func (s *Subsystem) generationInput(req agent.Request, feedback []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Identity filter to apply: %s\n\n", ScopeClause(req.Identity, s.cfg.Profile.IdentityColumn))
	b.WriteString(agent.HistoryBlock(req.Summary, req.Buffer))
	if len(feedback) > 0 {
		b.WriteString("Feedback from previous attempts:\n")
		b.WriteString(strings.Join(feedback, "\n"))
		b.WriteString("\n\n")
	}
	fmt.Fprintf(&b, "Question: %s", req.Question)
	return b.String()
}

func (s *Subsystem) validateQuery(ctx context.Context, req agent.Request, query string) (Verdict, error) {
	p := s.cfg.Profile
	system := fmt.Sprintf(`Review the query written for a user's question against these rules:
- %s

The schema is:
%s

Reply with a JSON object: {"rationale": "one or two sentences", "decision": "ok" or "not ok", "confidence": a number between 0 and 1}`,
		strings.Join(p.QueryRules, "\n- "), p.Schema)
	user := fmt.Sprintf("Question: %s\nIdentity filter: %s\nQuery: %s",
		req.Question, ScopeClause(req.Identity, p.IdentityColumn), query)
	return s.judge(ctx, system, user)
}

func (s *Subsystem) validateOutput(ctx context.Context, req agent.Request, answer string) (Verdict, error) {
	system := `Check whether the answer addresses the user's question.
If it does, decide "ok". If no data is present because the user is not identified, also decide "ok".
Reply with a JSON object: {"rationale": "one or two sentences", "decision": "ok" or "not ok", "confidence": a number between 0 and 1}`
	user := fmt.Sprintf("Question: %s\nAnswer: %s", req.Question, answer)
	return s.judge(ctx, system, user)
}

// judge runs a validator call. Unusable replies count as not ok; only
// non-retryable generation errors are returned.
func (s *Subsystem) judge(ctx context.Context, system, user string) (Verdict, error) {
	raw, err := s.model.GenerateJSON(ctx, system, user)
	if err != nil {
		if !llm.IsRetryable(err) {
			return Verdict{}, fmt.Errorf("validate: %w", err)
		}
		s.logger.Warn("validator call failed", "error", err)
		return notOK, nil
	}
	var v Verdict
	if err := s.decode(raw, &v); err != nil {
		s.logger.Warn("malformed validator reply", "error", err)
		return notOK, nil
	}
	return v, nil
}

// synthesize turns the executed rows into {"result", "data"}. data is
// always the executed rows, in column order.
func (s *Subsystem) synthesize(ctx context.Context, req agent.Request, query string, res sqlbackend.Result) (string, error) {
	rows := EncodeRows(res)
	system := `Answer the user's question based on the query and its result.
Do not list more than three items in the prose.
Reply only with a JSON object: {"result": "your answer as prose", "data": [the complete query result]}`
	user := fmt.Sprintf("Question: %s\nQuery: %s\nResult: %s", req.Question, query, rows)

	raw, err := s.model.GenerateJSON(ctx, system, user)
	if err != nil {
		return "", fmt.Errorf("synthesize answer: %w", err)
	}
	var reply answerReply
	if err := s.decode(raw, &reply); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedAnswer, err)
	}

	result, err := json.Marshal(reply.Result)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedAnswer, err)
	}
	return fmt.Sprintf(`{"result":%s,"data":%s}`, result, rows), nil
}

// EncodeRows renders rows as a JSON array of objects whose keys keep the
// result's column order.
func EncodeRows(res sqlbackend.Result) string {
	var b bytes.Buffer
	b.WriteByte('[')
	for i, row := range res.Rows {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteByte('{')
		for j, col := range res.Columns {
			if j > 0 {
				b.WriteByte(',')
			}
			k, _ := json.Marshal(col)
			v, err := json.Marshal(row[col])
			if err != nil {
				v, _ = json.Marshal(fmt.Sprint(row[col]))
			}
			b.Write(k)
			b.WriteByte(':')
			b.Write(v)
		}
		b.WriteByte('}')
	}
	b.WriteByte(']')
	return b.String()
}
