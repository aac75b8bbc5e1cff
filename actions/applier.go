// Package actions replays structured NodeAction batches emitted by the AI
// planner against the live canvas. It is the single writer path for
// planner-driven graph mutation.
package actions

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/quillflow/quillflow/canvas"
	"github.com/quillflow/quillflow/core"
	"github.com/quillflow/quillflow/registry"
)

// Notifier receives per-action outcomes as a side channel. One bad action
// never aborts the batch; failures are reported here instead of raised.
type Notifier interface {
	ActionApplied(action core.ActionType, nodeName string)
	ActionFailed(action core.ActionType, subject string, err error)
}

// NopNotifier discards all notifications.
type NopNotifier struct{}

func (NopNotifier) ActionApplied(core.ActionType, string)        {}
func (NopNotifier) ActionFailed(core.ActionType, string, error) {}

// Outcome records the result of one action within a batch.
type Outcome struct {
	Action  core.ActionType `json:"action"`
	NodeID  string          `json:"nodeId,omitempty"`
	Subject string          `json:"subject,omitempty"` // node name or edge description
	Skipped bool            `json:"skipped,omitempty"` // connect with unresolved endpoint
	Error   string          `json:"error,omitempty"`
}

// Result aggregates a batch application.
type Result struct {
	Outcomes []Outcome
	// Aliases maps symbolic "new_N" indices to generated node IDs,
	// in add order within this batch.
	Aliases map[string]string
	// GraphChanged is true when any add, update, or delete succeeded.
	// Connect-only batches leave it false; the caller uses it to force the
	// conversation phase to testing.
	GraphChanged bool
}

// Applier replays NodeAction batches against a canvas.
type Applier struct {
	canvas   *canvas.Canvas
	registry *registry.Registry
	notifier Notifier

	now    func() time.Time
	suffix func() string
}

// Option configures an Applier.
type Option func(*Applier)

// WithNotifier sets the outcome side channel.
func WithNotifier(n Notifier) Option {
	return func(a *Applier) {
		if n != nil {
			a.notifier = n
		}
	}
}

// WithClock overrides the timestamp source used for generated node IDs.
func WithClock(now func() time.Time) Option {
	return func(a *Applier) {
		if now != nil {
			a.now = now
		}
	}
}

// WithSuffix overrides the random suffix source used for generated node IDs.
func WithSuffix(fn func() string) Option {
	return func(a *Applier) {
		if fn != nil {
			a.suffix = fn
		}
	}
}

// New creates an Applier bound to a canvas.
func New(c *canvas.Canvas, opts ...Option) *Applier {
	a := &Applier{
		canvas:   c,
		registry: registry.Global(),
		notifier: NopNotifier{},
		now:      time.Now,
		suffix:   randomSuffix,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Apply processes the batch in the given order, never reordering.
// Symbolic "new_N" connect endpoints resolve through an explicit alias map
// collected from prior successful adds in the same batch.
func (a *Applier) Apply(ctx context.Context, batch []core.NodeAction) *Result {
	result := &Result{
		Aliases: make(map[string]string),
	}
	addCount := 0

	for _, action := range batch {
		if ctx.Err() != nil {
			break
		}
		switch action.Action {
		case core.ActionAdd:
			id := a.applyAdd(action, result)
			if id != "" {
				addCount++
				result.Aliases[fmt.Sprintf("new_%d", addCount)] = id
			}
		case core.ActionConnect:
			a.applyConnect(action, result)
		case core.ActionUpdate:
			a.applyUpdate(action, result)
		case core.ActionDelete:
			a.applyDelete(action, result)
		default:
			result.Outcomes = append(result.Outcomes, Outcome{
				Action: action.Action,
				Error:  fmt.Sprintf("unknown action %q", action.Action),
			})
		}
	}
	return result
}

func (a *Applier) applyAdd(action core.NodeAction, result *Result) string {
	id := a.generateNodeID(action.NodeType)

	position := core.Position{}
	if action.Position != nil {
		position = *action.Position
	} else {
		position = scatterPosition(a.canvas.NodeCount())
	}

	config := action.Config
	if config == nil {
		config = a.registry.DefaultConfig(action.NodeType)
	}

	name := action.NodeName
	if name == "" {
		name = string(action.NodeType)
	}

	node := &core.Node{
		ID:       id,
		Type:     action.NodeType,
		Name:     name,
		Position: position,
		Config:   config,
	}
	if err := a.canvas.AddNode(node); err != nil {
		a.notifier.ActionFailed(core.ActionAdd, name, err)
		result.Outcomes = append(result.Outcomes, Outcome{
			Action:  core.ActionAdd,
			Subject: name,
			Error:   err.Error(),
		})
		return ""
	}

	a.notifier.ActionApplied(core.ActionAdd, name)
	result.Outcomes = append(result.Outcomes, Outcome{
		Action:  core.ActionAdd,
		NodeID:  id,
		Subject: name,
	})
	result.GraphChanged = true
	return id
}

// applyConnect resolves symbolic endpoints and creates one edge. An
// endpoint that resolves to nothing skips the connect silently: no edge,
// no error surfaced. Changing this to a hard error would alter how latent
// planner bugs show up, so the skip is deliberate.
func (a *Applier) applyConnect(action core.NodeAction, result *Result) {
	source := a.resolveEndpoint(action.Source, result.Aliases)
	target := a.resolveEndpoint(action.Target, result.Aliases)
	subject := fmt.Sprintf("%s -> %s", action.Source, action.Target)

	if source == "" || target == "" {
		result.Outcomes = append(result.Outcomes, Outcome{
			Action:  core.ActionConnect,
			Subject: subject,
			Skipped: true,
		})
		return
	}

	edge := core.Edge{
		Source:       source,
		Target:       target,
		SourceHandle: action.SourceHandle,
		TargetHandle: action.TargetHandle,
	}
	if err := a.canvas.AddEdge(edge); err != nil {
		result.Outcomes = append(result.Outcomes, Outcome{
			Action:  core.ActionConnect,
			Subject: subject,
			Skipped: true,
		})
		return
	}

	result.Outcomes = append(result.Outcomes, Outcome{
		Action:  core.ActionConnect,
		Subject: subject,
	})
}

func (a *Applier) applyUpdate(action core.NodeAction, result *Result) {
	if err := a.canvas.UpdateNode(action.NodeID, action.Config, action.NodeName); err != nil {
		a.notifier.ActionFailed(core.ActionUpdate, action.NodeID, err)
		result.Outcomes = append(result.Outcomes, Outcome{
			Action:  core.ActionUpdate,
			NodeID:  action.NodeID,
			Subject: action.NodeName,
			Error:   err.Error(),
		})
		return
	}

	a.notifier.ActionApplied(core.ActionUpdate, subjectName(action))
	result.Outcomes = append(result.Outcomes, Outcome{
		Action:  core.ActionUpdate,
		NodeID:  action.NodeID,
		Subject: subjectName(action),
	})
	result.GraphChanged = true
}

func (a *Applier) applyDelete(action core.NodeAction, result *Result) {
	if err := a.canvas.RemoveNode(action.NodeID); err != nil {
		a.notifier.ActionFailed(core.ActionDelete, action.NodeID, err)
		result.Outcomes = append(result.Outcomes, Outcome{
			Action:  core.ActionDelete,
			NodeID:  action.NodeID,
			Subject: action.NodeName,
			Error:   err.Error(),
		})
		return
	}

	a.notifier.ActionApplied(core.ActionDelete, subjectName(action))
	result.Outcomes = append(result.Outcomes, Outcome{
		Action:  core.ActionDelete,
		NodeID:  action.NodeID,
		Subject: subjectName(action),
	})
	result.GraphChanged = true
}

// resolveEndpoint maps a connect endpoint to a concrete node ID. A "new_N"
// endpoint resolves through the batch alias map; anything else is treated
// as a literal existing node ID. Returns "" when nothing resolves.
func (a *Applier) resolveEndpoint(ref string, aliases map[string]string) string {
	if ref == "" {
		return ""
	}
	if strings.HasPrefix(ref, "new_") {
		if _, err := strconv.Atoi(strings.TrimPrefix(ref, "new_")); err != nil {
			return ""
		}
		return aliases[ref]
	}
	if _, ok := a.canvas.NodeByID(ref); !ok {
		return ""
	}
	return ref
}

// generateNodeID builds a "{type}_{timestamp}_{suffix}" identifier.
func (a *Applier) generateNodeID(t core.NodeType) string {
	return fmt.Sprintf("%s_%d_%s",
		strings.ToLower(string(t)),
		a.now().UnixMilli(),
		a.suffix(),
	)
}

// scatterPosition computes a default canvas position from the current node
// count, laying new nodes out in a loose grid.
func scatterPosition(nodeCount int) core.Position {
	const perRow = 4
	return core.Position{
		X: float64(120 + (nodeCount%perRow)*260),
		Y: float64(100 + (nodeCount/perRow)*160),
	}
}

func subjectName(action core.NodeAction) string {
	if action.NodeName != "" {
		return action.NodeName
	}
	return action.NodeID
}

const suffixAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

func randomSuffix() string {
	b := make([]byte, 6)
	for i := range b {
		b[i] = suffixAlphabet[rand.Intn(len(suffixAlphabet))]
	}
	return string(b)
}
