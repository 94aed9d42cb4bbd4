package runtime

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aretw0/flowbot/pkg/domain"
	"github.com/aretw0/flowbot/pkg/registry"
)

// turn accumulates the effects of one interpreter run.
type turn struct {
	engine   *Engine
	program  *domain.Program
	session  *domain.Session
	now      time.Time
	messages []domain.Message
	entries  []domain.HistoryEntry
	control  *domain.Control
	dispatch *domain.WebserviceCall
}

func (t *turn) outcome() *Outcome {
	return &Outcome{
		Session:  t.session,
		Messages: t.messages,
		Entries:  t.entries,
		Control:  t.control,
		Dispatch: t.dispatch,
	}
}

func (t *turn) record(sender domain.Sender, nodeID string, p domain.EntryPayload) {
	t.entries = append(t.entries, domain.NewEntry(sender, nodeID, t.now, p))
}

// say queues a bot message. Text that interpolates to nothing is not sent and
// a link without text shows its URL.
func (t *turn) say(nodeID string, msg domain.Message) {
	switch m := msg.(type) {
	case domain.TextMessage:
		if strings.TrimSpace(m.Text) == "" {
			t.engine.logger.Debug("Skipping empty message", "node_id", nodeID)
			return
		}
	case domain.URLMessage:
		if strings.TrimSpace(m.Text) == "" {
			m.Text = m.URL
			msg = m
		}
	case domain.SendItemMessage:
		if strings.TrimSpace(m.Title) == "" {
			t.engine.logger.Debug("Skipping untitled item", "node_id", nodeID)
			return
		}
	}
	t.messages = append(t.messages, msg)
	t.record(domain.SenderBot, nodeID, domain.PayloadFor(msg))
}

func (t *turn) finish() {
	t.session.Status = domain.StatusFinished
	t.session.CorrelationKey = ""
}

// answer applies an inbound message to the waiting node and returns the next node id.
func (t *turn) answer(node domain.Node, input string) (string, error) {
	if in, ok := node.Data.(*domain.InputData); ok {
		if err := in.Accept(input); err != nil {
			return "", t.routingError(node, input, err)
		}
		t.session.Variables[in.Variable] = input
	}

	next, err := Route(t.program, node.ID, input, t.now)
	if err != nil {
		return "", t.routingError(node, input, err)
	}
	return next, nil
}

func (t *turn) routingError(node domain.Node, input string, cause error) error {
	prompt, control := t.engine.prompt(node, t.session.Variables)
	return &domain.RoutingError{
		NodeID:  node.ID,
		Input:   input,
		Cause:   cause,
		Prompt:  prompt,
		Control: control,
	}
}

// run walks the program from nodeID until the turn halts.
func (t *turn) run(ctx context.Context, nodeID string) (*Outcome, error) {
	for steps := 0; ; steps++ {
		if steps >= t.engine.maxSteps {
			return nil, &domain.ExecutionError{
				NodeID: nodeID,
				Err:    fmt.Errorf("%w: %d nodes", domain.ErrStepLimit, steps),
			}
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		node, ok := t.program.Node(nodeID)
		if !ok {
			return nil, fmt.Errorf("%w: %q", domain.ErrNodeNotFound, nodeID)
		}
		t.session.CurrentNodeID = node.ID
		t.engine.emitNodeEnter(ctx, t.session, node)

		switch node.Data.Behavior() {
		case domain.BehaviorDecision:
			if tr, ok := node.Data.(*domain.TimeRoutingData); ok && tr.Immediate {
				next, err := Route(t.program, node.ID, "", t.now)
				if err != nil {
					return nil, t.routingError(node, "", err)
				}
				t.engine.emitNodeLeave(ctx, t.session, node)
				nodeID = next
				continue
			}

			prompt, control := t.engine.prompt(node, t.session.Variables)
			for _, m := range prompt {
				t.say(node.ID, m)
			}
			t.control = control
			t.session.Status = domain.StatusWaiting
			return t.outcome(), nil

		case domain.BehaviorSuspend:
			t.suspend(ctx, node)
			return t.outcome(), nil

		default:
			if err := t.execute(ctx, node); err != nil {
				return nil, err
			}
			t.engine.emitNodeLeave(ctx, t.session, node)

			link, ok := t.program.Links[node.ID]
			if !ok {
				t.finish()
				return t.outcome(), nil
			}
			nodeID = link.Target
		}
	}
}

// execute performs the effects of an automatic node.
func (t *turn) execute(ctx context.Context, node domain.Node) error {
	vars := t.session.Variables
	switch d := node.Data.(type) {
	case *domain.StartData:
	case *domain.MessageData:
		t.say(node.ID, domain.TextMessage{Text: t.engine.render(ctx, d.Text, vars)})
	case *domain.ImageData:
		t.say(node.ID, domain.ImageMessage{URL: d.URL})
		if d.Caption != "" {
			t.say(node.ID, domain.TextMessage{Text: t.engine.render(ctx, d.Caption, vars)})
		}
	case *domain.URLData:
		t.say(node.ID, domain.URLMessage{URL: d.URL, Text: t.engine.render(ctx, d.Text, vars)})
	case *domain.SendItemData:
		t.say(node.ID, domain.SendItemMessage{
			Title:    t.engine.render(ctx, d.Title, vars),
			Subtitle: t.engine.render(ctx, d.Subtitle, vars),
			ImageURL: d.ImageURL,
			URL:      d.URL,
		})
	case *domain.SetVariableData:
		vars[d.Name] = t.engine.render(ctx, d.Value, vars)
	case *domain.ActionData:
		return t.act(ctx, node, d)
	default:
		return &domain.ExecutionError{
			NodeID: node.ID,
			Err:    fmt.Errorf("%w: %q is not executable", domain.ErrUnknownNodeType, node.Type),
		}
	}
	return nil
}

func (t *turn) act(ctx context.Context, node domain.Node, d *domain.ActionData) error {
	if t.engine.actions == nil {
		return &domain.ExecutionError{NodeID: node.ID, Err: errors.New("no action registry configured")}
	}

	event := &domain.ActionEvent{
		EventBase: domain.EventBase{Timestamp: t.engine.clock(), Type: domain.EventActionCall, SessionID: t.session.SessionID},
		NodeID:    node.ID,
		Action:    d.Name,
		Args:      d.Args,
	}
	if t.engine.hooks.OnActionCall != nil {
		t.engine.hooks.OnActionCall(ctx, event)
	}

	res, err := t.engine.actions.Execute(ctx, d.Name, registry.Request{
		SessionID: t.session.SessionID,
		NodeID:    node.ID,
		Args:      d.Args,
		Variables: t.session.Variables.Clone(),
	})

	if t.engine.hooks.OnActionReturn != nil {
		ret := *event
		ret.Type = domain.EventActionReturn
		ret.Timestamp = t.engine.clock()
		ret.IsError = err != nil
		t.engine.hooks.OnActionReturn(ctx, &ret)
	}

	if err != nil {
		return &domain.ExecutionError{NodeID: node.ID, Err: fmt.Errorf("action %q: %w", d.Name, err)}
	}

	for k, v := range res.Variables {
		t.session.Variables[k] = v
	}
	for _, text := range res.Messages {
		if text != "" {
			t.say(node.ID, domain.TextMessage{Text: text})
		}
	}
	return nil
}

// suspend parks the session on a webservice node.
func (t *turn) suspend(ctx context.Context, node domain.Node) {
	d, _ := node.Data.(*domain.WebserviceData)
	if d == nil {
		d = &domain.WebserviceData{}
	}

	if d.Text != "" {
		t.say(node.ID, domain.TextMessage{Text: t.engine.render(ctx, d.Text, t.session.Variables)})
	}

	key := t.engine.newKey()
	t.session.Status = domain.StatusSuspended
	t.session.CorrelationKey = key
	t.record(domain.SenderBot, node.ID, domain.WaitingWebservicePayload{CorrelationKey: key, URL: d.URL})
	t.control = &domain.Control{Type: domain.ControlWebservice, Name: key}

	method := d.Method
	if method == "" {
		method = "POST"
	}
	t.dispatch = &domain.WebserviceCall{
		CorrelationKey: key,
		SessionID:      t.session.SessionID,
		ProcessID:      t.session.ProcessID,
		NodeID:         node.ID,
		URL:            d.URL,
		Method:         method,
		Variables:      t.session.Variables.Clone(),
	}
}

// prompt renders the messages and control of a decision node.
func (e *Engine) prompt(node domain.Node, vars domain.Variables) ([]domain.Message, *domain.Control) {
	ctx := context.Background()
	var msgs []domain.Message
	switch d := node.Data.(type) {
	case *domain.MenuData:
		if text := e.render(ctx, d.Text, vars); strings.TrimSpace(text) != "" {
			msgs = append(msgs, domain.TextMessage{Text: text})
		}
		msgs = append(msgs, domain.OptionsMessage{Options: d.Options})
		name := d.Name
		if name == "" {
			name = node.ID
		}
		return msgs, &domain.Control{Type: domain.ControlOptions, Name: name}
	case *domain.InputData:
		if text := e.render(ctx, d.Text, vars); strings.TrimSpace(text) != "" {
			msgs = append(msgs, domain.TextMessage{Text: text})
		}
		return msgs, &domain.Control{Type: d.ControlType(), Name: d.Variable}
	case *domain.TimeRoutingData:
		if text := e.render(ctx, d.Text, vars); strings.TrimSpace(text) != "" {
			msgs = append(msgs, domain.TextMessage{Text: text})
		}
		return msgs, &domain.Control{Type: domain.ControlTimeRouting, Name: node.ID}
	default:
		return nil, nil
	}
}

func (e *Engine) render(ctx context.Context, text string, vars domain.Variables) string {
	if text == "" || e.interpolator == nil {
		return text
	}
	out, err := e.interpolator(ctx, text, vars)
	if err != nil {
		e.logger.Warn("Interpolation failed, sending raw text", "err", err)
		return text
	}
	return out
}
